// ChainCore node daemon: wires genesis, storage, the ledger, the PoS
// consensus collaborators, and the JSON-RPC-style API surface into a single
// long-running process.
package main

import (
	"encoding/hex"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"chaincore/internal/api"
	"chaincore/internal/chain"
	"chaincore/internal/consensus"
	"chaincore/internal/crypto"
	"chaincore/internal/genesis"
	"chaincore/internal/storage"
)

var version = "0.1.0"

func main() {
	dataDir := flag.String("datadir", "./data", "Data directory for blockchain storage")
	genesisPath := flag.String("genesis", "", "Path to a genesis config JSON file (defaults to a built-in single-validator devnet genesis)")
	validatorKeyHex := flag.String("validator-key", "", "Hex-encoded 64-byte Ed25519 validator private key; when empty the node runs in follower mode and never proposes")
	rpcAddr := flag.String("rpc-addr", ":8546", "Listen address for the JSON-RPC API")
	blockInterval := flag.Duration("block-interval", 5*time.Second, "Interval between proposed blocks when this node is the proposer")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := log.With().Str("component", "chaincored").Logger()

	var validatorKp *crypto.Keypair
	if *validatorKeyHex != "" {
		raw, err := hex.DecodeString(*validatorKeyHex)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid validator key hex")
		}
		kp, err := crypto.KeypairFromPrivate(raw)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid validator key")
		}
		validatorKp = &kp
	}

	var genCfg *genesis.Config
	if *genesisPath != "" {
		cfg, err := genesis.LoadFromFile(*genesisPath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", *genesisPath).Msg("failed to load genesis config")
		}
		genCfg = cfg
	} else {
		if validatorKp == nil {
			logger.Fatal().Msg("no --genesis file given and no --validator-key to derive a default devnet genesis from")
		}
		genCfg = genesis.Default(crypto.AddressFromPubkey(validatorKp.Public), validatorKp.Public)
	}

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		logger.Fatal().Err(err).Msg("failed to create data directory")
	}
	db, err := storage.OpenLevelDB(*dataDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open storage")
	}
	defer db.Close()
	store := storage.NewChainStore(db)

	ledgerState := genCfg.BuildLedger()
	genesisBlock, err := genCfg.BuildGenesisBlock()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build genesis block")
	}

	head, metaErr := store.GetMetadata()
	if metaErr != nil {
		logger.Info().Msg("no prior chain state found, bootstrapping genesis")
		if err := store.SaveBlock(genesisBlock); err != nil {
			logger.Fatal().Err(err).Msg("failed to persist genesis block")
		}
		if err := store.SaveState(ledgerState.Snapshot()); err != nil {
			logger.Fatal().Err(err).Msg("failed to persist genesis state")
		}
		if err := store.SaveMetadata(storage.Metadata{Height: 0, LatestHash: genesisBlock.Hash.Hex(), GenesisTime: genCfg.GenesisTime}); err != nil {
			logger.Fatal().Err(err).Msg("failed to persist genesis metadata")
		}
	} else {
		logger.Info().Uint64("height", head.Height).Msg("resuming from persisted chain state")
		loaded, err := store.LoadBlock(head.Height)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to load persisted head block")
		}
		genesisBlock = loaded
	}

	selector := consensus.NewSelector(genCfg.MinStake)
	finality := consensus.NewFinalityTracker(genCfg.FinalityConfig())
	slashing := consensus.NewSlashingManager(genCfg.SlashingConfig(), ledgerState)
	driver := chain.NewDriver(genCfg.ChainConfig(), ledgerState, genesisBlock, genCfg.MinStake, store, selector, finality, slashing)

	server := api.NewServer(driver, api.Config{Addr: *rpcAddr})
	if err := server.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start API server")
	}
	logger.Info().Str("addr", *rpcAddr).Msg("API server listening")

	stop := make(chan struct{})
	if validatorKp != nil {
		proposerAddr := crypto.AddressFromPubkey(validatorKp.Public)
		go runProposerLoop(driver, validatorKp, proposerAddr, *blockInterval, stop, logger)
		logger.Info().Str("proposer", proposerAddr).Dur("interval", *blockInterval).Msg("proposer loop started")
	} else {
		logger.Info().Msg("running in follower mode, no validator key configured")
	}

	logger.Info().Str("version", version).Msg("chaincored started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("shutting down")
	close(stop)
	if err := server.Stop(); err != nil {
		logger.Error().Err(err).Msg("error stopping API server")
	}
	logger.Info().Msg("goodbye")
}

// runProposerLoop assembles, signs, and submits a block on every tick of a
// fixed interval. It is not a round-based consensus protocol and does not
// check whether this node is the selected proposer for the height: AddBlock's
// validation (height, prev_hash, registered and active proposer, signatures)
// decides whether the block is accepted; this just decides when to attempt one.
func runProposerLoop(driver *chain.Driver, kp *crypto.Keypair, addr string, interval time.Duration, stop <-chan struct{}, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			block := driver.CreateBlock(addr, kp.Public, time.Now().Unix())
			if err := block.ComputeMerkleRoot(); err != nil {
				logger.Error().Err(err).Msg("failed to compute merkle root")
				continue
			}
			if err := block.Sign(kp.Private); err != nil {
				logger.Error().Err(err).Msg("failed to sign block")
				continue
			}
			if err := block.ComputeHash(); err != nil {
				logger.Error().Err(err).Msg("failed to compute block hash")
				continue
			}
			if err := driver.AddBlock(block); err != nil {
				logger.Warn().Err(err).Uint64("height", block.Height).Msg("block rejected")
				continue
			}
			logger.Info().Uint64("height", block.Height).Int("txs", len(block.Transactions)).Msg("block committed")
		}
	}
}
