package trace

import (
	"context"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/stable-net/evmcov/pkg/coverage"
	"github.com/stable-net/evmcov/pkg/snapshot"
)

var _ snapshot.Observer = (*History)(nil)

// History is the ordered list of transactions seen in a session.
type History struct {
	mu  sync.RWMutex
	txs []*Transaction
}

// NewHistory creates an empty history.
func NewHistory() *History {
	return &History{}
}

// Add appends a transaction.
func (h *History) Add(tx *Transaction) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.txs = append(h.txs, tx)
}

// Transactions returns a snapshot of the history.
func (h *History) Transactions() []*Transaction {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]*Transaction(nil), h.txs...)
}

// Len returns the number of transactions.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.txs)
}

// Clear drops every transaction.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.txs = nil
}

// OnRevert drops transactions mined above height.
func (h *History) OnRevert(height uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	kept := h.txs[:0]
	for _, tx := range h.txs {
		if tx.BlockNumber <= height {
			kept = append(kept, tx)
		}
	}
	for i := len(kept); i < len(h.txs); i++ {
		h.txs[i] = nil
	}
	h.txs = kept
}

// ConsumeAll evaluates txs with up to workers concurrent trace fetches and
// adds every evaluation to report. Transactions already in report, or
// sharing a coverage hash with an earlier one in txs, are skipped.
func ConsumeAll(ctx context.Context, report *coverage.Report, txs []*Transaction, workers int) error {
	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	seen := mapset.NewThreadUnsafeSet[common.Hash]()
	for _, tx := range txs {
		tx := tx
		hash := tx.CoverageHash()
		if report.Has(hash) || !seen.Add(hash) {
			continue
		}
		g.Go(func() error {
			eval, err := tx.Evaluation(ctx)
			if err != nil {
				return err
			}
			report.Add(hash, eval)
			return nil
		})
	}
	return g.Wait()
}
