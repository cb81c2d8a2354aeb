package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/stable-net/evmcov/pkg/analysis"
	"github.com/stable-net/evmcov/pkg/artifact"
	"github.com/stable-net/evmcov/pkg/config"
	"github.com/stable-net/evmcov/pkg/provider"
	"github.com/stable-net/evmcov/pkg/trace"
)

var (
	SolcOutputFlag = &cli.StringFlag{
		Name:     "solc-output",
		Usage:    "solc standard JSON output file",
		Required: true,
	}
	SolcInputFlag = &cli.StringFlag{
		Name:  "solc-input",
		Usage: "solc standard JSON input file holding the source texts",
	}
	BasePathFlag = &cli.StringFlag{
		Name:  "base-path",
		Usage: "directory source paths are read from when the input holds no content",
		Value: ".",
	}
	CompilerVersionFlag = &cli.StringFlag{
		Name:  "solc-version",
		Usage: "compiler version of the output",
	}
	DeployFlag = &cli.StringSliceFlag{
		Name:  "deploy",
		Usage: "deployed contract as Name=0xaddress",
	}
	CreationFlag = &cli.StringSliceFlag{
		Name:  "creation",
		Usage: "hash of a contract creation transaction to match against the artifacts",
	}
)

var workspaceFlags = []cli.Flag{
	SolcOutputFlag,
	SolcInputFlag,
	BasePathFlag,
	CompilerVersionFlag,
	DeployFlag,
	CreationFlag,
}

// workspace is a session of compiled contracts bound to a node.
type workspace struct {
	cfg      *config.Config
	session  *analysis.Session
	provider *provider.Provider
}

func openWorkspace(ctx *cli.Context) (*workspace, error) {
	cfg := configFrom(ctx)
	session, err := loadSession(ctx, cfg)
	if err != nil {
		return nil, err
	}
	client, err := provider.Dial(ctx.Context, cfg.RPCURL)
	if err != nil {
		return nil, err
	}
	w := &workspace{cfg: cfg, session: session, provider: provider.NewProvider(client, cfg.RPCTimeout)}

	for _, arg := range ctx.StringSlice(DeployFlag.Name) {
		name, addr, ok := strings.Cut(arg, "=")
		if !ok || !common.IsHexAddress(addr) {
			w.Close()
			return nil, fmt.Errorf("invalid deployment %q, want Name=0xaddress", arg)
		}
		if err := session.Deploy(common.HexToAddress(addr), name); err != nil {
			w.Close()
			return nil, err
		}
	}
	for _, hash := range ctx.StringSlice(CreationFlag.Name) {
		r, err := w.receipt(ctx.Context, hash)
		if err != nil {
			w.Close()
			return nil, err
		}
		if !w.matchCreation(r) {
			log.Warn("Creation matches no contract", "hash", r.Hash)
		}
	}
	return w, nil
}

func (w *workspace) Close() {
	w.provider.Close()
}

func (w *workspace) receipt(ctx context.Context, hash string) (*trace.Receipt, error) {
	b, err := parseHash(hash)
	if err != nil {
		return nil, err
	}
	return w.provider.TransactionReceipt(ctx, b)
}

// transaction fetches the receipt of hash and binds it to the session.
func (w *workspace) transaction(ctx context.Context, hash string) (*trace.Transaction, error) {
	r, err := w.receipt(ctx, hash)
	if err != nil {
		return nil, err
	}
	w.matchCreation(r)
	return trace.NewTransaction(w.session, w.provider, *r), nil
}

// matchCreation records the contract created by r when its init code starts
// with the deploy bytecode of a registered contract.
func (w *workspace) matchCreation(r *trace.Receipt) bool {
	if r.To != nil || r.ContractAddress == (common.Address{}) || r.Failed() {
		return false
	}
	var best *analysis.Contract
	for _, name := range w.session.Contracts() {
		c, _ := w.session.Contract(name)
		code := c.Unit.DeployBytecode
		if len(code) == 0 || !bytes.HasPrefix(r.Input, code) {
			continue
		}
		if best == nil || len(code) > len(best.Unit.DeployBytecode) {
			best = c
		}
	}
	if best == nil {
		return false
	}
	log.Debug("Matched contract creation", "contract", best.Name(), "address", r.ContractAddress)
	return w.session.Deploy(r.ContractAddress, best.Name()) == nil
}

func parseHash(s string) (common.Hash, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s) != 2*common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid transaction hash %q", s)
	}
	return common.HexToHash(s), nil
}

// loadSession reads the compiler output named by the flags and registers
// every unit in a new session.
func loadSession(ctx *cli.Context, cfg *config.Config) (*analysis.Session, error) {
	output, err := os.ReadFile(ctx.String(SolcOutputFlag.Name))
	if err != nil {
		return nil, fmt.Errorf("read compiler output: %w", err)
	}
	paths, err := sourcePaths(output)
	if err != nil {
		return nil, err
	}
	texts, err := readTexts(ctx.String(SolcInputFlag.Name), ctx.String(BasePathFlag.Name), paths)
	if err != nil {
		return nil, err
	}
	units, sources, err := artifact.ParseStandardOutput(output, texts, ctx.String(CompilerVersionFlag.Name))
	if err != nil {
		return nil, err
	}

	session := analysis.NewSession(cfg.MapCacheSize)
	for _, unit := range units {
		if _, err := session.Register(unit, sources); err != nil {
			return nil, err
		}
	}
	log.Info("Loaded contracts", "units", len(units), "sources", len(sources))
	return session, nil
}

func sourcePaths(output []byte) ([]string, error) {
	var out struct {
		Sources map[string]json.RawMessage `json:"sources"`
	}
	if err := json.Unmarshal(output, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", artifact.ErrInvalidOutput, err)
	}
	paths := make([]string, 0, len(out.Sources))
	for path := range out.Sources {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths, nil
}

// readTexts returns the text of every path, taken from the standard JSON
// input when it carries the content and read below base otherwise.
func readTexts(inputPath, base string, paths []string) (map[string]string, error) {
	var input struct {
		Sources map[string]struct {
			Content *string `json:"content"`
		} `json:"sources"`
	}
	if inputPath != "" {
		data, err := os.ReadFile(inputPath)
		if err != nil {
			return nil, fmt.Errorf("read compiler input: %w", err)
		}
		if err := json.Unmarshal(data, &input); err != nil {
			return nil, fmt.Errorf("parse compiler input: %w", err)
		}
	}

	texts := make(map[string]string, len(paths))
	for _, path := range paths {
		if s, ok := input.Sources[path]; ok && s.Content != nil {
			texts[path] = *s.Content
			continue
		}
		data, err := os.ReadFile(filepath.Join(base, filepath.FromSlash(path)))
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", artifact.ErrMissingText, path)
		}
		if err != nil {
			return nil, err
		}
		texts[path] = string(data)
	}
	return texts, nil
}
