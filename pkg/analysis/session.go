// Package analysis owns the compiled contracts, deployments and dev comment
// registry shared by trace consumption and revert resolution.
package analysis

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/stable-net/evmcov/pkg/pcmap"
	"github.com/stable-net/evmcov/pkg/source"
)

// UnknownContract names frames whose code is not registered.
const UnknownContract = "<UnknownContract>"

// DefaultCacheSize is the number of instruction maps kept when no size is
// configured.
const DefaultCacheSize = 128

// Common errors.
var (
	ErrUnknownContract = errors.New("unknown contract")
	ErrNilUnit         = errors.New("nil compilation unit")
)

// Session holds every registered contract. It is safe for concurrent use.
type Session struct {
	mu        sync.RWMutex
	contracts map[string]*Contract
	deployed  map[common.Address]*Contract
	maps      *lru.Cache[common.Hash, *pcmap.Result]
	devs      *devRegistry

	log log.Logger
}

// NewSession creates a session caching up to cacheSize instruction maps.
func NewSession(cacheSize int) *Session {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	maps, _ := lru.New[common.Hash, *pcmap.Result](cacheSize)
	return &Session{
		contracts: make(map[string]*Contract),
		deployed:  make(map[common.Address]*Contract),
		maps:      maps,
		devs:      newDevRegistry(),
		log:       log.New("pkg", "analysis"),
	}
}

// Register builds the instruction map of unit and records its dev comments.
// Maps are cached by the hash of the name, runtime bytecode and source map.
// Registering a name again replaces the previous unit.
func (s *Session) Register(unit *pcmap.Unit, sources pcmap.Sources) (*Contract, error) {
	if unit == nil {
		return nil, ErrNilUnit
	}
	result, err := pcmap.Build(unit, sources)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", unit.Name, err)
	}
	c := &Contract{
		Unit:    unit,
		Sources: sources,
		key:     crypto.Keccak256Hash([]byte(unit.Name), unit.RuntimeBytecode, []byte(unit.SourceMap)),
		session: s,
	}
	comments := collectDevComments(result, sources)

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(unit.RuntimeBytecode) > 0 {
		s.maps.Add(c.key, result)
	} else {
		c.fallback = result
	}
	s.contracts[unit.Name] = c
	s.devs.set(unit.Name, comments)
	s.log.Debug("Registered contract", "name", unit.Name, "instructions", result.Instructions.Len(),
		"statements", result.StatementCount(), "branches", result.BranchCount(), "devComments", len(comments))
	return c, nil
}

// Contract returns a registered contract by name.
func (s *Session) Contract(name string) (*Contract, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contracts[name]
	return c, ok
}

// Contracts returns the registered contract names in sorted order.
func (s *Session) Contracts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.contracts))
	for name := range s.contracts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Deploy records that the named contract lives at addr.
func (s *Session) Deploy(addr common.Address, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownContract, name)
	}
	s.deployed[addr] = c
	return nil
}

// ContractAt returns the contract deployed at addr.
func (s *Session) ContractAt(addr common.Address) (*Contract, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.deployed[addr]
	return c, ok
}

// DevComment returns the dev comment at pc when exactly one message is known
// for that pc across every registered contract.
func (s *Session) DevComment(pc int) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.devs.byPC(pc)
}

// DevCommentFor returns the dev comment at pc of the named contract.
func (s *Session) DevCommentFor(name string, pc int) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.devs.byUnit(name, pc)
}

// resultFor returns the cached instruction map of c, rebuilding it when it
// was evicted.
func (s *Session) resultFor(c *Contract) (*pcmap.Result, error) {
	if len(c.Unit.RuntimeBytecode) == 0 {
		return c.fallback, nil
	}
	if result, ok := s.maps.Get(c.key); ok {
		return result, nil
	}
	result, err := pcmap.Build(c.Unit, c.Sources)
	if err != nil {
		return nil, err
	}
	s.maps.Add(c.key, result)
	s.log.Debug("Rebuilt evicted instruction map", "name", c.Unit.Name)
	return result, nil
}

// collectDevComments gathers the dev comment of every revert site: the
// inferred one, else a "// dev:" comment on the site's source line.
func collectDevComments(result *pcmap.Result, sources pcmap.Sources) map[int]string {
	out := make(map[int]string)
	for _, ins := range result.Instructions.All() {
		if ins.Op != "REVERT" && ins.Op != "INVALID" && !ins.JumpRevert {
			continue
		}
		if ins.Dev != "" {
			out[ins.PC] = ins.Dev
			continue
		}
		if !ins.HasSpan {
			continue
		}
		src, ok := sources[ins.SourceID]
		if !ok {
			continue
		}
		if msg, ok := source.DevComment(src.Text, ins.Span); ok {
			out[ins.PC] = msg
		}
	}
	return out
}
