package coverage

import (
	"encoding/json"
	"errors"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/log"
)

var evalPrefix = []byte("cov-")

// ErrCorruptEntry is returned for cache entries that fail to decode.
var ErrCorruptEntry = errors.New("corrupt coverage cache entry")

// Store persists evaluations keyed by transaction coverage hash, so
// unchanged transactions need not be traced again.
type Store struct {
	db  ethdb.KeyValueStore
	own bool
	log log.Logger
}

// NewStore wraps an existing key-value store.
func NewStore(db ethdb.KeyValueStore) *Store {
	return &Store{db: db, log: log.New("pkg", "coverage")}
}

// OpenStore opens a leveldb store in dir, or an in-memory store when dir is
// empty.
func OpenStore(dir string) (*Store, error) {
	if dir == "" {
		s := NewStore(memorydb.New())
		s.own = true
		return s, nil
	}
	db, err := leveldb.New(dir, 16, 16, "evmcov/coverage", false)
	if err != nil {
		return nil, fmt.Errorf("open coverage cache: %w", err)
	}
	s := NewStore(db)
	s.own = true
	return s, nil
}

// Close closes the underlying database when the store opened it.
func (s *Store) Close() error {
	if !s.own {
		return nil
	}
	return s.db.Close()
}

func evalKey(hash common.Hash) []byte {
	return append(append([]byte{}, evalPrefix...), hash.Bytes()...)
}

// Save stores the evaluation of one transaction.
func (s *Store) Save(hash common.Hash, eval Evaluation) error {
	data, err := json.Marshal(eval)
	if err != nil {
		return err
	}
	return s.db.Put(evalKey(hash), data)
}

// Get loads the evaluation of one transaction.
func (s *Store) Get(hash common.Hash) (Evaluation, bool, error) {
	key := evalKey(hash)
	ok, err := s.db.Has(key)
	if err != nil || !ok {
		return nil, false, err
	}
	data, err := s.db.Get(key)
	if err != nil {
		return nil, false, err
	}
	var eval Evaluation
	if err := json.Unmarshal(data, &eval); err != nil {
		return nil, false, fmt.Errorf("%w: %x: %v", ErrCorruptEntry, hash, err)
	}
	return eval, true, nil
}

// Load returns every stored evaluation that touches none of the changed
// contracts. Entries touching a changed contract are deleted.
func (s *Store) Load(changed mapset.Set[string]) (map[common.Hash]Evaluation, error) {
	out := make(map[common.Hash]Evaluation)
	var stale [][]byte

	it := s.db.NewIterator(evalPrefix, nil)
	for it.Next() {
		key := it.Key()
		var eval Evaluation
		if err := json.Unmarshal(it.Value(), &eval); err != nil {
			s.log.Warn("Dropping corrupt coverage entry", "key", common.Bytes2Hex(key), "err", err)
			stale = append(stale, common.CopyBytes(key))
			continue
		}
		if touches(eval, changed) {
			stale = append(stale, common.CopyBytes(key))
			continue
		}
		out[common.BytesToHash(key[len(evalPrefix):])] = eval
	}
	it.Release()
	if err := it.Error(); err != nil {
		return nil, err
	}

	for _, key := range stale {
		if err := s.db.Delete(key); err != nil {
			return nil, err
		}
	}
	s.log.Debug("Loaded coverage cache", "entries", len(out), "dropped", len(stale))
	return out, nil
}

func touches(eval Evaluation, changed mapset.Set[string]) bool {
	if changed == nil {
		return false
	}
	for contract := range eval {
		if changed.Contains(contract) {
			return true
		}
	}
	return false
}
