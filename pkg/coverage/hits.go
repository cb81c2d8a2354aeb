// Package coverage aggregates statement and branch hits across transactions.
package coverage

import (
	"encoding/json"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
)

// Hits holds the statement and branch ids covered in one source file. True
// holds branches whose JUMPI was taken, False those that fell through.
type Hits struct {
	Statements mapset.Set[int]
	True       mapset.Set[int]
	False      mapset.Set[int]
}

// NewHits returns empty hit sets.
func NewHits() *Hits {
	return &Hits{
		Statements: mapset.NewThreadUnsafeSet[int](),
		True:       mapset.NewThreadUnsafeSet[int](),
		False:      mapset.NewThreadUnsafeSet[int](),
	}
}

// Clone returns a deep copy.
func (h *Hits) Clone() *Hits {
	return &Hits{
		Statements: h.Statements.Clone(),
		True:       h.True.Clone(),
		False:      h.False.Clone(),
	}
}

// Union adds every hit of other to h.
func (h *Hits) Union(other *Hits) {
	h.Statements = h.Statements.Union(other.Statements)
	h.True = h.True.Union(other.True)
	h.False = h.False.Union(other.False)
}

// Equal reports whether both hold the same hits.
func (h *Hits) Equal(other *Hits) bool {
	return h.Statements.Equal(other.Statements) && h.True.Equal(other.True) && h.False.Equal(other.False)
}

// Empty reports whether nothing was hit.
func (h *Hits) Empty() bool {
	return h.Statements.Cardinality() == 0 && h.True.Cardinality() == 0 && h.False.Cardinality() == 0
}

type hitsJSON struct {
	Statements []int `json:"statements"`
	True       []int `json:"true"`
	False      []int `json:"false"`
}

// MarshalJSON encodes the sets as sorted lists.
func (h *Hits) MarshalJSON() ([]byte, error) {
	return json.Marshal(hitsJSON{
		Statements: sorted(h.Statements),
		True:       sorted(h.True),
		False:      sorted(h.False),
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (h *Hits) UnmarshalJSON(data []byte) error {
	var raw hitsJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	h.Statements = mapset.NewThreadUnsafeSet[int](raw.Statements...)
	h.True = mapset.NewThreadUnsafeSet[int](raw.True...)
	h.False = mapset.NewThreadUnsafeSet[int](raw.False...)
	return nil
}

func sorted(s mapset.Set[int]) []int {
	out := s.ToSlice()
	sort.Ints(out)
	return out
}

// Evaluation maps contract name -> source path -> hits.
type Evaluation map[string]map[string]*Hits

// Hits returns the hits of one contract and path, creating them if needed.
func (e Evaluation) Hits(contract, path string) *Hits {
	paths, ok := e[contract]
	if !ok {
		paths = make(map[string]*Hits)
		e[contract] = paths
	}
	h, ok := paths[path]
	if !ok {
		h = NewHits()
		paths[path] = h
	}
	return h
}

// Lookup returns the hits of one contract and path.
func (e Evaluation) Lookup(contract, path string) (*Hits, bool) {
	h, ok := e[contract][path]
	return h, ok
}

// Contracts returns the sorted contract names of the evaluation.
func (e Evaluation) Contracts() []string {
	out := make([]string, 0, len(e))
	for name := range e {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy.
func (e Evaluation) Clone() Evaluation {
	out := make(Evaluation, len(e))
	for contract, paths := range e {
		cp := make(map[string]*Hits, len(paths))
		for path, h := range paths {
			cp[path] = h.Clone()
		}
		out[contract] = cp
	}
	return out
}

// Equal reports whether both evaluations hold the same hits. Empty hit sets
// count as absent.
func (e Evaluation) Equal(other Evaluation) bool {
	return e.subsetOf(other) && other.subsetOf(e)
}

func (e Evaluation) subsetOf(other Evaluation) bool {
	for contract, paths := range e {
		for path, h := range paths {
			o, ok := other.Lookup(contract, path)
			if !ok {
				if h.Empty() {
					continue
				}
				return false
			}
			if !h.Equal(o) {
				return false
			}
		}
	}
	return true
}

// Merge unions evaluations into a new one. It is commutative, associative
// and idempotent.
func Merge(evals ...Evaluation) Evaluation {
	out := make(Evaluation)
	for _, e := range evals {
		for contract, paths := range e {
			for path, h := range paths {
				out.Hits(contract, path).Union(h)
			}
		}
	}
	return out
}
