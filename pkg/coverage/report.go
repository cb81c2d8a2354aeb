package coverage

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Report accumulates evaluations keyed by transaction coverage hash. An
// evaluation for a known hash is only merged once.
type Report struct {
	mu     sync.RWMutex
	evals  map[common.Hash]Evaluation
	order  []common.Hash
	merged Evaluation
}

// NewReport creates an empty report.
func NewReport() *Report {
	return &Report{
		evals:  make(map[common.Hash]Evaluation),
		merged: make(Evaluation),
	}
}

// Add records the evaluation of one transaction. It returns false when the
// hash was already present.
func (r *Report) Add(hash common.Hash, eval Evaluation) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.evals[hash]; ok {
		return false
	}
	eval = eval.Clone()
	r.evals[hash] = eval
	r.order = append(r.order, hash)
	r.merged = Merge(r.merged, eval)
	return true
}

// Has reports whether the hash is known.
func (r *Report) Has(hash common.Hash) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.evals[hash]
	return ok
}

// Evaluation returns a copy of the evaluation stored for hash.
func (r *Report) Evaluation(hash common.Hash) (Evaluation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	eval, ok := r.evals[hash]
	if !ok {
		return nil, false
	}
	return eval.Clone(), true
}

// Merged returns the union of every evaluation.
func (r *Report) Merged() Evaluation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.merged.Clone()
}

// Len returns the number of transactions in the report.
func (r *Report) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.order)
}

// Hashes returns the transaction hashes in insertion order.
func (r *Report) Hashes() []common.Hash {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]common.Hash, len(r.order))
	copy(out, r.order)
	return out
}

// BranchTransactions returns the transactions that took (jumped) and skipped
// (fell) a branch.
func (r *Report) BranchTransactions(contract, path string, id int) (jumped, fell []common.Hash) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, hash := range r.order {
		h, ok := r.evals[hash].Lookup(contract, path)
		if !ok {
			continue
		}
		if h.True.Contains(id) {
			jumped = append(jumped, hash)
		}
		if h.False.Contains(id) {
			fell = append(fell, hash)
		}
	}
	return jumped, fell
}
