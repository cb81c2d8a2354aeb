package coverage

import (
	"sort"

	"github.com/stable-net/evmcov/pkg/pcmap"
)

// Totals counts measurable and covered units of code.
type Totals struct {
	Statements    int `json:"statements"`
	StatementHits int `json:"statementHits"`
	Branches      int `json:"branches"`
	TrueHits      int `json:"trueHits"`
	FalseHits     int `json:"falseHits"`
}

// Percentage is (statement hits + true hits + false hits) / (statements +
// 2 * branches). Code with nothing to measure scores 1.
func (t Totals) Percentage() float64 {
	total := t.Statements + 2*t.Branches
	if total == 0 {
		return 1
	}
	return float64(t.StatementHits+t.TrueHits+t.FalseHits) / float64(total)
}

func (t *Totals) add(other Totals) {
	t.Statements += other.Statements
	t.StatementHits += other.StatementHits
	t.Branches += other.Branches
	t.TrueHits += other.TrueHits
	t.FalseHits += other.FalseHits
}

// FunctionTotals counts coverage per function of one contract. hits maps
// source paths to the contract's hits in that path.
func FunctionTotals(result *pcmap.Result, hits map[string]*Hits) map[string]Totals {
	out := make(map[string]Totals)
	for path, fns := range result.Statements {
		h := hits[path]
		for fn, stmts := range fns {
			t := out[fn]
			t.Statements += len(stmts)
			if h != nil {
				for id := range stmts {
					if h.Statements.Contains(id) {
						t.StatementHits++
					}
				}
			}
			out[fn] = t
		}
	}
	for path, fns := range result.Branches {
		h := hits[path]
		for fn, branches := range fns {
			t := out[fn]
			t.Branches += len(branches)
			if h != nil {
				for id := range branches {
					if h.True.Contains(id) {
						t.TrueHits++
					}
					if h.False.Contains(id) {
						t.FalseHits++
					}
				}
			}
			out[fn] = t
		}
	}
	return out
}

// ContractTotals sums FunctionTotals over every function.
func ContractTotals(result *pcmap.Result, hits map[string]*Hits) Totals {
	var total Totals
	for _, t := range FunctionTotals(result, hits) {
		total.add(t)
	}
	return total
}

// Row is one line of a coverage table.
type Row struct {
	Name   string
	Totals Totals
}

// Rows returns per-function rows sorted by name, followed by the contract
// total.
func Rows(contract string, result *pcmap.Result, hits map[string]*Hits) []Row {
	fns := FunctionTotals(result, hits)
	rows := make([]Row, 0, len(fns)+1)
	var total Totals
	for name, t := range fns {
		rows = append(rows, Row{Name: name, Totals: t})
		total.add(t)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })
	return append(rows, Row{Name: contract, Totals: total})
}
