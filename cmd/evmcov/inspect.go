package main

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/stable-net/evmcov/pkg/revert"
	"github.com/stable-net/evmcov/pkg/trace"
)

var TracebackFlag = &cli.BoolFlag{
	Name:  "traceback",
	Usage: "also print the source of every call leading to the revert",
}

var callTraceCommand = &cli.Command{
	Action:    callTrace,
	Name:      "calltrace",
	Usage:     "prints the call tree of a transaction",
	ArgsUsage: "<txhash>",
	Flags:     workspaceFlags,
}

var revertCommand = &cli.Command{
	Action:    revertReason,
	Name:      "revert",
	Usage:     "resolves the revert reason of a failed transaction",
	ArgsUsage: "<txhash>",
	Flags:     append([]cli.Flag{TracebackFlag}, workspaceFlags...),
}

func singleTransaction(ctx *cli.Context) (*workspace, *trace.Transaction, error) {
	if ctx.NArg() != 1 {
		return nil, nil, errors.New("exactly one transaction hash required")
	}
	w, err := openWorkspace(ctx)
	if err != nil {
		return nil, nil, err
	}
	tx, err := w.transaction(ctx.Context, ctx.Args().First())
	if err != nil {
		w.Close()
		return nil, nil, err
	}
	return w, tx, nil
}

func callTrace(ctx *cli.Context) error {
	w, tx, err := singleTransaction(ctx)
	if err != nil {
		return err
	}
	defer w.Close()

	out, err := trace.CallTrace(ctx.Context, tx)
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func revertReason(ctx *cli.Context) error {
	w, tx, err := singleTransaction(ctx)
	if err != nil {
		return err
	}
	defer w.Close()

	return printReason(ctx, revert.NewResolver(w.session, w.cfg.SourcePadding), tx, w.cfg.SourcePadding)
}

func printReason(ctx *cli.Context, resolver *revert.Resolver, tx *trace.Transaction, pad int) error {
	reason, err := resolver.Resolve(ctx.Context, tx)
	if errors.Is(err, revert.ErrNotReverted) {
		fmt.Printf("Transaction %s did not revert\n", tx.Hash.Hex())
		return nil
	}
	if err != nil {
		return err
	}

	msg := reason.Message
	if msg == "" {
		msg = "<no reason>"
	}
	fmt.Printf("Revert reason: %s (from %s)\n", msg, reason.Method)
	if reason.Source != "" {
		fmt.Println(reason.Source)
	}
	if ctx.Bool(TracebackFlag.Name) {
		out, err := trace.Traceback(ctx.Context, tx, pad)
		if err != nil {
			return err
		}
		if out != "" {
			fmt.Println(out)
		}
	}
	return nil
}
