package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/stable-net/evmcov/pkg/coverage"
	"github.com/stable-net/evmcov/pkg/trace"
)

var (
	ChangedFlag = &cli.StringSliceFlag{
		Name:  "changed",
		Usage: "contracts recompiled since the cached evaluations were stored",
	}
	HighlightsFlag = &cli.StringFlag{
		Name:  "highlights",
		Usage: "write source highlights as JSON to this file",
	}
)

var reportCommand = &cli.Command{
	Action:    report,
	Name:      "report",
	Usage:     "evaluates coverage of the given transactions",
	ArgsUsage: "<txhash> [<txhash>...]",
	Flags:     append([]cli.Flag{ChangedFlag, HighlightsFlag}, workspaceFlags...),
}

func report(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return fmt.Errorf("at least one transaction hash required")
	}
	w, err := openWorkspace(ctx)
	if err != nil {
		return err
	}
	defer w.Close()

	txs := make([]*trace.Transaction, 0, ctx.NArg())
	for _, hash := range ctx.Args().Slice() {
		tx, err := w.transaction(ctx.Context, hash)
		if err != nil {
			return err
		}
		txs = append(txs, tx)
	}
	sort.SliceStable(txs, func(i, j int) bool {
		if txs[i].BlockNumber != txs[j].BlockNumber {
			return txs[i].BlockNumber < txs[j].BlockNumber
		}
		return txs[i].Index < txs[j].Index
	})

	store, err := coverage.OpenStore(w.cfg.CoverageDB)
	if err != nil {
		return err
	}
	defer store.Close()

	cached, err := store.Load(mapset.NewSet[string](ctx.StringSlice(ChangedFlag.Name)...))
	if err != nil {
		return err
	}
	rep := coverage.NewReport()
	for hash, eval := range cached {
		rep.Add(hash, eval)
	}
	if err := trace.ConsumeAll(ctx.Context, rep, txs, w.cfg.Workers); err != nil {
		return err
	}
	for _, hash := range rep.Hashes() {
		if _, ok := cached[hash]; ok {
			continue
		}
		eval, _ := rep.Evaluation(hash)
		if err := store.Save(hash, eval); err != nil {
			return err
		}
	}
	log.Info("Evaluated coverage", "transactions", len(txs), "cached", len(cached), "evaluations", rep.Len())

	merged := rep.Merged()
	var highlights []coverage.Highlight
	for _, name := range w.session.Contracts() {
		c, _ := w.session.Contract(name)
		if w.cfg.Excluded(c.Unit.Path) || len(c.Unit.RuntimeBytecode) == 0 {
			continue
		}
		result, err := c.Map()
		if err != nil {
			return err
		}
		if result.StatementCount() == 0 && result.BranchCount() == 0 {
			continue
		}
		hits := merged[name]
		fmt.Fprintf(os.Stdout, "\n%s\n", name)
		coverage.RenderTable(os.Stdout, coverage.Rows(name, result, hits))

		if ctx.IsSet(HighlightsFlag.Name) {
			for _, h := range coverage.Highlights(result, hits, c.Texts()) {
				if !w.cfg.Excluded(h.Path) {
					highlights = append(highlights, h)
				}
			}
		}
	}

	if path := ctx.String(HighlightsFlag.Name); path != "" {
		data, err := json.MarshalIndent(highlights, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("write highlights: %w", err)
		}
	}
	return nil
}
