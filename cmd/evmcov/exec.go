package main

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/core/vm/runtime"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/stable-net/evmcov/pkg/revert"
	"github.com/stable-net/evmcov/pkg/trace"
	"github.com/stable-net/evmcov/pkg/tracing"
)

var (
	ContractFlag = &cli.StringFlag{
		Name:     "contract",
		Usage:    "name of the contract whose runtime bytecode is executed",
		Required: true,
	}
	CalldataFlag = &cli.StringFlag{
		Name:  "calldata",
		Usage: "hex encoded call data",
	}
	GasFlag = &cli.Uint64Flag{
		Name:  "gas",
		Usage: "gas limit of the call",
		Value: 10_000_000,
	}
)

// runtime.Execute installs the code at this address.
var execAddress = common.BytesToAddress([]byte("contract"))

var execCommand = &cli.Command{
	Action: execute,
	Name:   "exec",
	Usage:  "runs a contract in an in-memory EVM and prints its call trace and revert reason",
	Flags: []cli.Flag{
		ContractFlag,
		CalldataFlag,
		GasFlag,
		TracebackFlag,
		SolcOutputFlag,
		SolcInputFlag,
		BasePathFlag,
		CompilerVersionFlag,
	},
}

func execute(ctx *cli.Context) error {
	cfg := configFrom(ctx)
	session, err := loadSession(ctx, cfg)
	if err != nil {
		return err
	}
	name := ctx.String(ContractFlag.Name)
	c, ok := session.Contract(name)
	if !ok {
		return fmt.Errorf("unknown contract %s", name)
	}
	if err := session.Deploy(execAddress, name); err != nil {
		return err
	}
	var input []byte
	if data := ctx.String(CalldataFlag.Name); data != "" {
		if input, err = hexutil.Decode(data); err != nil {
			return fmt.Errorf("invalid calldata: %w", err)
		}
	}

	hash := crypto.Keccak256Hash(c.Unit.RuntimeBytecode, input)
	logger := tracing.NewStepLogger(hash, nil)
	_, _, execErr := runtime.Execute(c.Unit.RuntimeBytecode, input, &runtime.Config{
		GasLimit:  ctx.Uint64(GasFlag.Name),
		EVMConfig: vm.Config{Tracer: logger},
	})
	_, gasUsed, _ := logger.Output()
	log.Debug("Executed contract", "contract", name, "steps", len(logger.Steps()), "gas", gasUsed, "err", execErr)

	to := execAddress
	receipt := trace.Receipt{
		Hash:     hash,
		To:       &to,
		Input:    input,
		Status:   1,
		GasUsed:  gasUsed,
		RevertPC: -1,
	}
	if execErr != nil {
		receipt.Status = 0
	}
	tx := trace.NewTransaction(session, logger, receipt)

	out, err := trace.CallTrace(ctx.Context, tx)
	if err != nil {
		return err
	}
	fmt.Println(out)
	if execErr != nil && !errors.Is(execErr, vm.ErrExecutionReverted) {
		fmt.Printf("Execution error: %v\n", execErr)
	}
	return printReason(ctx, revert.NewResolver(session, cfg.SourcePadding), tx, cfg.SourcePadding)
}
