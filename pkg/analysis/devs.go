package analysis

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/ethdb"
)

var devPrefix = []byte("dev-")

// devRegistry maps (unit, pc) to a dev comment. The pc index only answers
// when every unit agrees on the message at that pc.
type devRegistry struct {
	units     map[string]map[int]string
	pcs       map[int]string
	ambiguous map[int]struct{}
}

func newDevRegistry() *devRegistry {
	return &devRegistry{
		units:     make(map[string]map[int]string),
		pcs:       make(map[int]string),
		ambiguous: make(map[int]struct{}),
	}
}

func (r *devRegistry) set(unit string, comments map[int]string) {
	if len(comments) == 0 {
		delete(r.units, unit)
	} else {
		r.units[unit] = comments
	}
	r.reindex()
}

func (r *devRegistry) reindex() {
	r.pcs = make(map[int]string)
	r.ambiguous = make(map[int]struct{})
	for _, comments := range r.units {
		for pc, msg := range comments {
			if _, ok := r.ambiguous[pc]; ok {
				continue
			}
			if prev, ok := r.pcs[pc]; ok && prev != msg {
				delete(r.pcs, pc)
				r.ambiguous[pc] = struct{}{}
				continue
			}
			r.pcs[pc] = msg
		}
	}
}

func (r *devRegistry) byPC(pc int) (string, bool) {
	msg, ok := r.pcs[pc]
	return msg, ok
}

func (r *devRegistry) byUnit(unit string, pc int) (string, bool) {
	msg, ok := r.units[unit][pc]
	return msg, ok
}

// SaveDevComments writes the dev comment table, one entry per contract.
func (s *Session) SaveDevComments(db ethdb.KeyValueWriter) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for unit, comments := range s.devs.units {
		data, err := json.Marshal(comments)
		if err != nil {
			return err
		}
		if err := db.Put(append(append([]byte{}, devPrefix...), unit...), data); err != nil {
			return fmt.Errorf("save dev comments of %s: %w", unit, err)
		}
	}
	return nil
}

// LoadDevComments merges a dev comment table written by SaveDevComments.
// Contracts registered in this session keep their own comments.
func (s *Session) LoadDevComments(db ethdb.Iteratee) error {
	loaded := make(map[string]map[int]string)
	it := db.NewIterator(devPrefix, nil)
	for it.Next() {
		unit := string(it.Key()[len(devPrefix):])
		var comments map[int]string
		if err := json.Unmarshal(it.Value(), &comments); err != nil {
			it.Release()
			return fmt.Errorf("load dev comments of %s: %w", unit, err)
		}
		loaded[unit] = comments
	}
	it.Release()
	if err := it.Error(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for unit, comments := range loaded {
		if _, ok := s.contracts[unit]; ok {
			continue
		}
		s.devs.units[unit] = comments
	}
	s.devs.reindex()
	s.log.Debug("Loaded dev comments", "contracts", len(loaded))
	return nil
}
