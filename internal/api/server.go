// Package api exposes the five §6 collaborator methods the HTTP/JSON public
// API, wallet UI, and faucet consume: get_height, get_balance,
// add_transaction, get_block, get_active_validators. Grounded on the
// teacher's internal/rpc/server.go JSON-RPC envelope and net/http wiring,
// trimmed of the eth-compat, websocket, and mining-pool handlers that
// implement out-of-scope features (see DESIGN.md).
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"chaincore/internal/chain"
	"chaincore/internal/crypto"
	"chaincore/internal/types"
)

// Config holds the HTTP server's listen settings.
type Config struct {
	Addr string
}

// Server is the thin JSON-RPC-style facade over a chain.Driver.
type Server struct {
	config     Config
	driver     *chain.Driver
	httpServer *http.Server
}

// NewServer wires a Server over driver.
func NewServer(driver *chain.Driver, config Config) *Server {
	return &Server{config: config, driver: driver}
}

// Request is a JSON-RPC-style request envelope.
type Request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	ID     any             `json:"id"`
}

// Response is a JSON-RPC-style response envelope.
type Response struct {
	Result any       `json:"result,omitempty"`
	Error  *RPCError `json:"error,omitempty"`
	ID     any       `json:"id"`
}

// RPCError mirrors the teacher's error envelope shape.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Start begins serving on config.Addr in a background goroutine.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRPC)

	s.httpServer = &http.Server{
		Addr:         s.config.Addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go s.httpServer.ListenAndServe()
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Close()
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, req.ID, -32700, "parse error")
		return
	}

	result, err := s.dispatch(req.Method, req.Params)
	if err != nil {
		s.writeError(w, req.ID, -32000, err.Error())
		return
	}
	s.writeResult(w, req.ID, result)
}

func (s *Server) dispatch(method string, params json.RawMessage) (any, error) {
	switch method {
	case "get_height":
		return s.getHeight()
	case "get_balance":
		return s.getBalance(params)
	case "add_transaction":
		return s.addTransaction(params)
	case "get_block":
		return s.getBlock(params)
	case "get_active_validators":
		return s.getActiveValidators()
	default:
		return nil, fmt.Errorf("method not found: %s", method)
	}
}

func (s *Server) getHeight() (any, error) {
	return s.driver.Head().Height, nil
}

type balanceParams struct {
	Address string `json:"address"`
}

type balanceResult struct {
	Balance string `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

func (s *Server) getBalance(raw json.RawMessage) (any, error) {
	var p balanceParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	acc := s.driver.Ledger().GetAccount(p.Address)
	return balanceResult{Balance: acc.Balance.String(), Nonce: acc.Nonce}, nil
}

func (s *Server) addTransaction(raw json.RawMessage) (any, error) {
	var tx types.Transaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, err
	}
	if err := s.driver.AddTransaction(&tx); err != nil {
		return false, err
	}
	return true, nil
}

type blockParams struct {
	Height *uint64 `json:"height,omitempty"`
	Hash   string  `json:"hash,omitempty"`
}

func (s *Server) getBlock(raw json.RawMessage) (any, error) {
	var p blockParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	if p.Hash != "" {
		digest, err := crypto.DigestFromHex(p.Hash)
		if err != nil {
			return nil, fmt.Errorf("invalid hash: %w", err)
		}
		return s.driver.GetBlockByHash(digest)
	}
	if p.Height != nil {
		return s.driver.GetBlockByHeight(*p.Height)
	}
	return s.driver.Head(), nil
}

// getActiveValidators returns every registered validator, sorted by address;
// jailed validators and those below the minimum stake are not filtered out.
func (s *Server) getActiveValidators() (any, error) {
	return s.driver.Ledger().Validators(), nil
}

func (s *Server) writeResult(w http.ResponseWriter, id any, result any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(Response{Result: result, ID: id})
}

func (s *Server) writeError(w http.ResponseWriter, id any, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(Response{Error: &RPCError{Code: code, Message: message}, ID: id})
}
