package chain

import (
	"sync"

	"chaincore/internal/crypto"
	"chaincore/internal/types"
)

// Mempool is a mutex-protected FIFO of pending signed transactions with
// duplicate suppression by txid, grounded on the teacher's TxPool add/
// dup-detection discipline but simplified from its gas-price priority heap
// to the strict FIFO order §4.8/§5 mandate.
type Mempool struct {
	mu      sync.Mutex
	order   []crypto.Digest
	pending map[crypto.Digest]*types.Transaction
}

// NewMempool creates an empty mempool.
func NewMempool() *Mempool {
	return &Mempool{pending: make(map[crypto.Digest]*types.Transaction)}
}

// Add appends tx to the tail of the queue. A transaction already present
// (by txid) is silently dropped, per §4.8's add_transaction contract.
func (m *Mempool) Add(tx *types.Transaction) error {
	id, err := tx.TxID()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.pending[id]; exists {
		return nil
	}
	m.pending[id] = tx
	m.order = append(m.order, id)
	return nil
}

// Drain removes and returns up to n transactions from the head of the
// queue, in FIFO order.
func (m *Mempool) Drain(n int) []*types.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > len(m.order) {
		n = len(m.order)
	}
	out := make([]*types.Transaction, n)
	for i := 0; i < n; i++ {
		id := m.order[i]
		out[i] = m.pending[id]
		delete(m.pending, id)
	}
	m.order = m.order[n:]
	return out
}

// Len returns the number of pending transactions.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

// Remove drops a single transaction by id, e.g. when it is found invalid
// during block assembly after having passed admission.
func (m *Mempool) Remove(id crypto.Digest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.pending[id]; !exists {
		return
	}
	delete(m.pending, id)
	for i, o := range m.order {
		if o == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}
