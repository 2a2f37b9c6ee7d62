package ledger

import (
	"math/big"
	"sort"
	"sync"

	"chaincore/internal/canon"
	"chaincore/internal/chainerr"
	"chaincore/internal/crypto"
	"chaincore/internal/types"
)

// State is the single mutable aggregate owning accounts, validators,
// delegations, and the unbonding queue. No other component mutates it
// directly; the PoS selector, finality tracker, and slashing manager take
// references for reads and request mutations through this public contract.
type State struct {
	cfg Config

	mu           sync.RWMutex
	accounts     map[string]*types.Account
	validators   map[string]*types.ValidatorInfo
	delegations  map[types.DelegationKey]*types.Delegation
	unbonding    []*types.UnbondingEntry
	nextUnbondID uint64
}

// New creates an empty ledger state under cfg.
func New(cfg Config) *State {
	return &State{
		cfg:         cfg,
		accounts:    make(map[string]*types.Account),
		validators:  make(map[string]*types.ValidatorInfo),
		delegations: make(map[types.DelegationKey]*types.Delegation),
		unbonding:   make([]*types.UnbondingEntry, 0),
	}
}

// Clone deep-copies the state for sandboxed block application: the chain
// driver applies a candidate block's transactions against the clone, and
// only swaps it in as canonical on full success.
func (s *State) Clone() *State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := New(s.cfg)
	for addr, acc := range s.accounts {
		out.accounts[addr] = acc.Clone()
	}
	for addr, v := range s.validators {
		out.validators[addr] = v.Clone()
	}
	for k, d := range s.delegations {
		out.delegations[k] = d.Clone()
	}
	out.unbonding = make([]*types.UnbondingEntry, len(s.unbonding))
	for i, u := range s.unbonding {
		out.unbonding[i] = u.Clone()
	}
	out.nextUnbondID = s.nextUnbondID
	return out
}

func (s *State) account(addr string) *types.Account {
	if a, ok := s.accounts[addr]; ok {
		return a
	}
	a := types.NewAccount()
	s.accounts[addr] = a
	return a
}

// pruneIfEmpty removes an address's account entry once it has no
// materializable field left, per the Account lifecycle.
func (s *State) pruneIfEmpty(addr string) {
	if a, ok := s.accounts[addr]; ok && a.IsZero() {
		delete(s.accounts, addr)
	}
}

// SeedAccount credits addr with balance at genesis, bypassing the
// transaction pipeline (there is no sender to debit). Used only by the
// genesis loader before the chain starts producing blocks.
func (s *State) SeedAccount(addr string, balance *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account(addr).Balance = new(big.Int).Set(nonNil(balance))
}

// SeedValidator registers v directly at genesis, bypassing
// CREATE_VALIDATOR (there is no signed transaction at genesis). Used only
// by the genesis loader.
func (s *State) SeedValidator(v types.ValidatorInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := v.Clone()
	if cp.Stake == nil {
		cp.Stake = big.NewInt(0)
	}
	if cp.DelegatedStake == nil {
		cp.DelegatedStake = big.NewInt(0)
	}
	s.validators[v.Address] = cp
}

// GetAccount returns a read-only snapshot of an account (zero value if
// absent). Safe to call concurrently with block application elsewhere via
// the committed-state pointer the chain driver maintains (§5).
func (s *State) GetAccount(addr string) types.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.accounts[addr]; ok {
		return *a.Clone()
	}
	return *types.NewAccount()
}

// GetValidator returns a copy of a validator's info, and whether it exists.
func (s *State) GetValidator(addr string) (types.ValidatorInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.validators[addr]
	if !ok {
		return types.ValidatorInfo{}, false
	}
	return *v.Clone(), true
}

// Validators returns a copy of every registered validator, sorted by
// address for deterministic iteration.
func (s *State) Validators() []types.ValidatorInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	addrs := make([]string, 0, len(s.validators))
	for a := range s.validators {
		addrs = append(addrs, a)
	}
	sort.Strings(addrs)
	out := make([]types.ValidatorInfo, len(addrs))
	for i, a := range addrs {
		out[i] = *s.validators[a].Clone()
	}
	return out
}

// Delegation returns a copy of a delegation, if present.
func (s *State) Delegation(delegator, validator string) (types.Delegation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.delegations[types.DelegationKey{Delegator: delegator, Validator: validator}]
	if !ok {
		return types.Delegation{}, false
	}
	return *d.Clone(), true
}

// UnbondingEntries returns a copy of the current unbonding queue.
func (s *State) UnbondingEntries() []types.UnbondingEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.UnbondingEntry, len(s.unbonding))
	for i, u := range s.unbonding {
		out[i] = *u.Clone()
	}
	return out
}

// ApplyTransaction verifies and applies tx against state, atomically: on any
// error the state is unchanged. Fee is always deducted before dispatch and
// the nonce always increments by exactly one, both unconditionally once
// dispatch succeeds.
func (s *State) ApplyTransaction(tx *types.Transaction, currentHeight uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := tx.VerifySignature()
	if err != nil {
		return chainerr.Wrap(chainerr.Validation, "signature check failed", err)
	}
	if !ok {
		return chainerr.New(chainerr.Validation, "invalid signature").WithAddress(tx.Sender)
	}

	sender := s.account(tx.Sender)
	if tx.Nonce != sender.Nonce {
		return chainerr.New(chainerr.Protocol, "nonce mismatch").WithAddress(tx.Sender)
	}

	fee := nonNil(tx.Fee)
	if sender.Balance.Cmp(fee) < 0 {
		return chainerr.New(chainerr.Protocol, "insufficient balance for fee").WithAddress(tx.Sender)
	}

	// Fee is deducted first, per the handler table. Every handler validates
	// fully before mutating, so if dispatch
	// fails below, the only effect so far is this fee debit — undo it so
	// the whole transaction is atomic: on error, state is unchanged.
	sender.Balance.Sub(sender.Balance, fee)
	if err := s.dispatch(tx, currentHeight); err != nil {
		sender.Balance.Add(sender.Balance, fee)
		return err
	}

	// Nonce increment happens unconditionally on success, always last.
	sender.Nonce++
	s.pruneIfEmpty(tx.Sender)
	return nil
}

func (s *State) dispatch(tx *types.Transaction, currentHeight uint64) error {
	switch tx.Type {
	case types.TxTransfer:
		return s.applyTransfer(tx)
	case types.TxStake:
		return s.applyStake(tx)
	case types.TxUnstake:
		return s.applyUnstake(tx, currentHeight)
	case types.TxDelegate:
		return s.applyDelegate(tx)
	case types.TxUndelegate:
		return s.applyUndelegate(tx, currentHeight)
	case types.TxCreateValidator:
		return s.applyCreateValidator(tx)
	case types.TxEditValidator:
		return s.applyEditValidator(tx)
	case types.TxVote:
		return nil // recording/tallying is the finality tracker's concern
	default:
		return chainerr.New(chainerr.Protocol, "unknown transaction type").WithAddress(tx.Sender)
	}
}

func (s *State) applyTransfer(tx *types.Transaction) error {
	if tx.Recipient == "" || !crypto.ValidAddress(tx.Recipient) {
		return chainerr.New(chainerr.Protocol, "invalid recipient").WithAddress(tx.Recipient)
	}
	amount := nonNil(tx.Amount)
	if amount.Sign() < 0 {
		return chainerr.New(chainerr.Validation, "amount must be non-negative")
	}
	sender := s.account(tx.Sender)
	if sender.Balance.Cmp(amount) < 0 {
		return chainerr.New(chainerr.Protocol, "insufficient balance").WithAddress(tx.Sender)
	}
	sender.Balance.Sub(sender.Balance, amount)
	recipient := s.account(tx.Recipient)
	recipient.Balance.Add(recipient.Balance, amount)
	return nil
}

func (s *State) applyStake(tx *types.Transaction) error {
	amount := nonNil(tx.Amount)
	if amount.Sign() <= 0 {
		return chainerr.New(chainerr.Protocol, "stake amount must be positive")
	}
	if new(big.Int).Mod(amount, s.cfg.StakeUnit).Sign() != 0 {
		return chainerr.New(chainerr.Protocol, "stake amount must be a multiple of the stake unit")
	}
	sender := s.account(tx.Sender)
	if sender.Balance.Cmp(amount) < 0 {
		return chainerr.New(chainerr.Protocol, "insufficient balance").WithAddress(tx.Sender)
	}
	sender.Balance.Sub(sender.Balance, amount)
	sender.Staked.Add(sender.Staked, amount)
	if v, ok := s.validators[tx.Sender]; ok {
		v.Stake.Add(v.Stake, amount)
	}
	return nil
}

func (s *State) applyUnstake(tx *types.Transaction, currentHeight uint64) error {
	amount := nonNil(tx.Amount)
	if amount.Sign() <= 0 {
		return chainerr.New(chainerr.Protocol, "unstake amount must be positive")
	}
	sender := s.account(tx.Sender)
	if sender.Staked.Cmp(amount) < 0 {
		return chainerr.New(chainerr.Protocol, "insufficient stake").WithAddress(tx.Sender)
	}
	sender.Staked.Sub(sender.Staked, amount)
	if v, ok := s.validators[tx.Sender]; ok {
		v.Stake.Sub(v.Stake, amount)
	}
	s.queueUnbonding(tx.Sender, "", amount, currentHeight)
	return nil
}

func (s *State) applyDelegate(tx *types.Transaction) error {
	validatorAddr := tx.Recipient
	v, ok := s.validators[validatorAddr]
	if !ok {
		return chainerr.New(chainerr.Protocol, "unknown validator").WithAddress(validatorAddr)
	}
	amount := nonNil(tx.Amount)
	if amount.Sign() <= 0 {
		return chainerr.New(chainerr.Protocol, "delegate amount must be positive")
	}
	sender := s.account(tx.Sender)
	if sender.Balance.Cmp(amount) < 0 {
		return chainerr.New(chainerr.Protocol, "insufficient balance").WithAddress(tx.Sender)
	}
	sender.Balance.Sub(sender.Balance, amount)

	key := types.DelegationKey{Delegator: tx.Sender, Validator: validatorAddr}
	d, exists := s.delegations[key]
	if !exists {
		d = &types.Delegation{Delegator: tx.Sender, Validator: validatorAddr, Amount: big.NewInt(0)}
		s.delegations[key] = d
	}
	d.Amount.Add(d.Amount, amount)
	v.DelegatedStake.Add(v.DelegatedStake, amount)
	return nil
}

func (s *State) applyUndelegate(tx *types.Transaction, currentHeight uint64) error {
	validatorAddr := tx.Recipient
	v, ok := s.validators[validatorAddr]
	if !ok {
		return chainerr.New(chainerr.Protocol, "unknown validator").WithAddress(validatorAddr)
	}
	amount := nonNil(tx.Amount)
	if amount.Sign() <= 0 {
		return chainerr.New(chainerr.Protocol, "undelegate amount must be positive")
	}
	key := types.DelegationKey{Delegator: tx.Sender, Validator: validatorAddr}
	d, exists := s.delegations[key]
	if !exists || d.Amount.Cmp(amount) < 0 {
		return chainerr.New(chainerr.Protocol, "insufficient delegation").WithAddress(tx.Sender)
	}
	d.Amount.Sub(d.Amount, amount)
	v.DelegatedStake.Sub(v.DelegatedStake, amount)
	if d.Amount.Sign() == 0 {
		delete(s.delegations, key)
	}
	// Symmetric with UNSTAKE: funds enter the unbonding queue rather than
	// returning immediately (resolves the UNDELEGATE open question).
	s.queueUnbonding(tx.Sender, validatorAddr, amount, currentHeight)
	return nil
}

func (s *State) applyCreateValidator(tx *types.Transaction) error {
	if _, exists := s.validators[tx.Sender]; exists {
		return chainerr.New(chainerr.Protocol, "validator already exists").WithAddress(tx.Sender)
	}
	amount := nonNil(tx.Amount)
	if amount.Cmp(s.cfg.MinSelfStake) < 0 {
		return chainerr.New(chainerr.Protocol, "self stake below minimum").WithAddress(tx.Sender)
	}
	commissionBps, err := commissionFromData(tx.Data)
	if err != nil {
		return err
	}
	sender := s.account(tx.Sender)
	if sender.Balance.Cmp(amount) < 0 {
		return chainerr.New(chainerr.Protocol, "insufficient balance").WithAddress(tx.Sender)
	}
	sender.Balance.Sub(sender.Balance, amount)
	sender.Staked.Add(sender.Staked, amount)

	s.validators[tx.Sender] = &types.ValidatorInfo{
		Address:          tx.Sender,
		PublicKey:        tx.SenderPubkey,
		Stake:            new(big.Int).Set(amount),
		DelegatedStake:   big.NewInt(0),
		CommissionRateBps: commissionBps,
		CreatedAt:        tx.Timestamp,
	}
	return nil
}

func (s *State) applyEditValidator(tx *types.Transaction) error {
	v, ok := s.validators[tx.Sender]
	if !ok {
		return chainerr.New(chainerr.Protocol, "unknown validator").WithAddress(tx.Sender)
	}
	if tx.Data != nil {
		if _, present := tx.Data["commission_rate_bps"]; present {
			commissionBps, err := commissionFromData(tx.Data)
			if err != nil {
				return err
			}
			v.CommissionRateBps = commissionBps
		}
	}
	return nil
}

func commissionFromData(data map[string]any) (uint32, error) {
	raw, ok := data["commission_rate_bps"]
	if !ok {
		return 0, nil
	}
	var bps int64
	switch x := raw.(type) {
	case float64:
		bps = int64(x)
	case int:
		bps = int64(x)
	case int64:
		bps = x
	default:
		return 0, chainerr.New(chainerr.Protocol, "invalid commission rate encoding")
	}
	if bps < 0 || bps > 10000 {
		return 0, chainerr.New(chainerr.Protocol, "commission rate must be within [0,1]")
	}
	return uint32(bps), nil
}

func (s *State) queueUnbonding(addr, validator string, amount *big.Int, currentHeight uint64) {
	s.nextUnbondID++
	s.unbonding = append(s.unbonding, &types.UnbondingEntry{
		ID:               s.nextUnbondID,
		Address:          addr,
		Validator:        validator,
		Amount:           new(big.Int).Set(amount),
		CompletionHeight: currentHeight + s.cfg.UnbondBlocks,
	})
}

// ApplyBlockReward credits the proposer with reward. Fees are debited from
// each sender during transaction application; chain.Driver passes the block
// reward plus the block's total fees here, so the proposer collects both.
func (s *State) ApplyBlockReward(proposer string, reward *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := s.account(proposer)
	acc.Balance.Add(acc.Balance, nonNil(reward))
}

// RecordProposal increments addr's total_blocks_proposed counter and
// updates last_block_time. Called by the chain driver once a block from
// addr is sandboxed successfully, so both fields are part of the state the
// block's state_root commits to. A no-op if addr is not a registered
// validator (should not happen: proposer eligibility is checked before this
// point).
func (s *State) RecordProposal(addr string, height uint64, timestamp int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.validators[addr]; ok {
		v.TotalBlocksProposed++
		v.LastBlockTime = timestamp
	}
	return nil
}

// ProcessMatureUnbonding credits every entry whose completion height has
// passed and removes it from the queue, returning the count processed.
// Order is irrelevant: amounts, not identities, are credited.
func (s *State) ProcessMatureUnbonding(currentHeight uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	remaining := s.unbonding[:0]
	count := 0
	for _, u := range s.unbonding {
		if u.Mature(currentHeight) {
			acc := s.account(u.Address)
			acc.Balance.Add(acc.Balance, u.Amount)
			count++
		} else {
			remaining = append(remaining, u)
		}
	}
	s.unbonding = remaining
	return count
}

// JailValidator marks a validator ineligible for selection until `until`.
func (s *State) JailValidator(addr string, until uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.validators[addr]
	if !ok {
		return chainerr.New(chainerr.Protocol, "unknown validator").WithAddress(addr)
	}
	v.Jailed = true
	v.JailedUntil = until
	return nil
}

// UnjailValidator clears a validator's jailed status.
func (s *State) UnjailValidator(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.validators[addr]
	if !ok {
		return chainerr.New(chainerr.Protocol, "unknown validator").WithAddress(addr)
	}
	v.Jailed = false
	v.JailedUntil = 0
	return nil
}

// SlashValidator reduces v's total stake by up to floor(total*fraction):
// self-stake first loses floor(stake*fraction), then each delegation loses
// floor(amount*fraction) in delegator-sorted order until that target is
// reached; slashed funds are burned (removed from supply). Returns the
// amount actually slashed, which rounding can leave below the target.
func (s *State) SlashValidator(addr string, fraction *big.Rat) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.validators[addr]
	if !ok {
		return nil, chainerr.New(chainerr.Protocol, "unknown validator").WithAddress(addr)
	}
	if fraction.Sign() <= 0 || fraction.Cmp(big.NewRat(1, 1)) > 0 {
		return nil, chainerr.New(chainerr.Validation, "slash fraction must be in (0,1]")
	}

	total := v.TotalStake()
	targetFloat := new(big.Rat).SetInt(total)
	targetFloat.Mul(targetFloat, fraction)
	target := new(big.Int).Quo(targetFloat.Num(), targetFloat.Denom()) // floor for non-negative values

	selfShare := new(big.Rat).SetInt(v.Stake)
	selfShare.Mul(selfShare, fraction)
	selfSlash := new(big.Int).Quo(selfShare.Num(), selfShare.Denom())
	if selfSlash.Cmp(target) > 0 {
		selfSlash = new(big.Int).Set(target)
	}
	v.Stake.Sub(v.Stake, selfSlash)
	remaining := new(big.Int).Sub(target, selfSlash)

	if remaining.Sign() > 0 {
		keys := make([]types.DelegationKey, 0)
		for k := range s.delegations {
			if k.Validator == addr {
				keys = append(keys, k)
			}
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i].Delegator < keys[j].Delegator })

		for _, k := range keys {
			if remaining.Sign() <= 0 {
				break
			}
			d := s.delegations[k]
			delShare := new(big.Rat).SetInt(d.Amount)
			delShare.Mul(delShare, fraction)
			delSlash := new(big.Int).Quo(delShare.Num(), delShare.Denom())
			if delSlash.Cmp(remaining) > 0 {
				delSlash = new(big.Int).Set(remaining)
			}
			if delSlash.Cmp(d.Amount) > 0 {
				delSlash = new(big.Int).Set(d.Amount)
			}
			d.Amount.Sub(d.Amount, delSlash)
			v.DelegatedStake.Sub(v.DelegatedStake, delSlash)
			remaining.Sub(remaining, delSlash)
			if d.Amount.Sign() == 0 {
				delete(s.delegations, k)
			}
		}
	}

	slashed := new(big.Int).Sub(target, remaining)
	return slashed, nil
}

// Snapshot is the deterministic, sorted-order view of every table, hashed
// to produce StateRoot.
type Snapshot struct {
	Accounts    []AccountEntry            `json:"accounts"`
	Validators  []types.ValidatorInfo     `json:"validators"`
	Delegations []types.Delegation        `json:"delegations"`
	Unbonding   []types.UnbondingEntry    `json:"unbonding"`
}

// AccountEntry pairs an address with its account for deterministic, sorted
// snapshot output (accounts alone have no natural Address field).
type AccountEntry struct {
	Address string        `json:"address"`
	Account types.Account `json:"account"`
}

// Snapshot enumerates accounts, validators, delegations, and unbonding
// entries in sorted order.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	addrs := make([]string, 0, len(s.accounts))
	for a := range s.accounts {
		addrs = append(addrs, a)
	}
	sort.Strings(addrs)
	accounts := make([]AccountEntry, len(addrs))
	for i, a := range addrs {
		accounts[i] = AccountEntry{Address: a, Account: *s.accounts[a].Clone()}
	}

	vAddrs := make([]string, 0, len(s.validators))
	for a := range s.validators {
		vAddrs = append(vAddrs, a)
	}
	sort.Strings(vAddrs)
	validators := make([]types.ValidatorInfo, len(vAddrs))
	for i, a := range vAddrs {
		validators[i] = *s.validators[a].Clone()
	}

	dKeys := make([]types.DelegationKey, 0, len(s.delegations))
	for k := range s.delegations {
		dKeys = append(dKeys, k)
	}
	sort.Slice(dKeys, func(i, j int) bool {
		if dKeys[i].Delegator != dKeys[j].Delegator {
			return dKeys[i].Delegator < dKeys[j].Delegator
		}
		return dKeys[i].Validator < dKeys[j].Validator
	})
	delegations := make([]types.Delegation, len(dKeys))
	for i, k := range dKeys {
		delegations[i] = *s.delegations[k].Clone()
	}

	unbonding := make([]types.UnbondingEntry, len(s.unbonding))
	sortedUnbonding := make([]*types.UnbondingEntry, len(s.unbonding))
	copy(sortedUnbonding, s.unbonding)
	sort.Slice(sortedUnbonding, func(i, j int) bool { return sortedUnbonding[i].ID < sortedUnbonding[j].ID })
	for i, u := range sortedUnbonding {
		unbonding[i] = *u.Clone()
	}

	return Snapshot{Accounts: accounts, Validators: validators, Delegations: delegations, Unbonding: unbonding}
}

// Canon implements canon.Canonicalizer so Snapshot hashes deterministically
// regardless of Go struct/JSON field ordering.
func (sn Snapshot) Canon() (canon.Value, error) {
	accounts := make(canon.Seq, len(sn.Accounts))
	for i, a := range sn.Accounts {
		accounts[i] = canon.Map{
			"address": a.Address,
			"balance": a.Account.Balance,
			"nonce":   a.Account.Nonce,
			"staked":  a.Account.Staked,
		}
	}
	validators := make(canon.Seq, len(sn.Validators))
	for i, v := range sn.Validators {
		validators[i] = canon.Map{
			"address":             v.Address,
			"public_key":          v.PublicKey.Bytes(),
			"stake":               v.Stake,
			"delegated_stake":     v.DelegatedStake,
			"commission_rate_bps": int64(v.CommissionRateBps),
			"jailed":              v.Jailed,
			"jailed_until":        v.JailedUntil,
			"total_blocks_proposed": v.TotalBlocksProposed,
			"last_block_time":       v.LastBlockTime,
		}
	}
	delegations := make(canon.Seq, len(sn.Delegations))
	for i, d := range sn.Delegations {
		delegations[i] = canon.Map{
			"delegator": d.Delegator,
			"validator": d.Validator,
			"amount":    d.Amount,
		}
	}
	unbonding := make(canon.Seq, len(sn.Unbonding))
	for i, u := range sn.Unbonding {
		unbonding[i] = canon.Map{
			"address":           u.Address,
			"validator":         u.Validator,
			"amount":            u.Amount,
			"completion_height": u.CompletionHeight,
		}
	}
	return canon.Map{
		"accounts":    accounts,
		"validators":  validators,
		"delegations": delegations,
		"unbonding":   unbonding,
	}, nil
}

// StateRoot returns hash(snapshot()).
func (s *State) StateRoot() (crypto.Digest, error) {
	return crypto.HashObject(s.Snapshot())
}

func nonNil(n *big.Int) *big.Int {
	if n == nil {
		return big.NewInt(0)
	}
	return n
}
