package pcmaptest

import (
	"github.com/stable-net/evmcov/pkg/solast/solasttest"
	"github.com/stable-net/evmcov/pkg/sourcemap"
)

// BranchText is a single if/else function.
const BranchText = `pragma solidity ^0.8.0;

contract Branch {
    uint public total;

    function choose(uint a) public {
        if (a > 1) {
            total = a;
        } else {
            total = 0;
        }
    }
}
`

// Branch op indexes.
const (
	BranchCondition = 3  // GT, arms the branch
	BranchJumpI     = 6  // JUMPI of the if
	BranchElse      = 12 // JUMPDEST of the else body
	BranchEnd       = 16 // JUMPDEST after the if
)

// BranchJumped and BranchFell are the op indexes executed when the if
// condition is false (the JUMPI is taken) and true (it falls through).
var (
	BranchJumped = []int{0, 1, 2, 3, 4, 5, 6, 12, 13, 14, 15, 16, 17}
	BranchFell   = []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 16, 17}
)

// Branch compiles BranchText. The assignments in the if bodies are
// statements 0 and 1 and branch 2 is the condition a > 1. The if holds
// statements and is not one itself.
func Branch() *Fixture {
	b := solasttest.New(BranchText, 0)
	s := map[string]sourcemap.Span{
		"contract": b.Between("contract Branch", 0, "}", 3),
		"fn":       b.Between("function choose", 0, "}", 2),
		"body":     b.Between("{", 1, "}", 2),
		"if":       b.Between("if (a > 1)", 0, "}", 1),
		"true":     b.Between("{", 2, "}", 0),
		"false":    b.Between("{", 3, "}", 1),
		"cond":     b.Span("a > 1", 0),
		"t1":       b.Span("total = a;", 0),
		"t0":       b.Span("total = 0;", 0),
		"state":    b.Span("uint public total;", 0),
	}

	total := func(stmt sourcemap.Span) solasttest.Node {
		return b.Ident("total", b.Within(stmt, "total"), "uint256")
	}
	ifStmt := b.Node("IfStatement", s["if"], solasttest.Node{
		"condition": b.Binary(">", s["cond"], "bool",
			b.Ident("a", b.Within(s["cond"], "a"), "uint256"),
			b.Literal(b.Within(s["cond"], "1"), "int_const 1")),
		"trueBody": b.Block(s["true"],
			b.Statement(s["t1"], b.Assign("=", b.Within(s["t1"], "total = a"), total(s["t1"]),
				b.Ident("a", b.Within(b.Within(s["t1"], "= a"), "a"), "uint256")))),
		"falseBody": b.Block(s["false"],
			b.Statement(s["t0"], b.Assign("=", b.Within(s["t0"], "total = 0"), total(s["t0"]),
				b.Literal(b.Within(s["t0"], "0"), "int_const 0")))),
	})
	ast := b.Unit("contracts/Branch.sol",
		b.Node("PragmaDirective", b.Span("pragma solidity ^0.8.0;", 0), nil),
		b.Contract("Branch", s["contract"],
			b.Node("VariableDeclaration", s["state"], solasttest.Node{"name": "total", "stateVariable": true}),
			b.Function("choose", "function", s["fn"], b.Block(s["body"], ifStmt)),
		),
	)

	ops := []Op{
		At(s["fn"], "JUMPDEST"),
		At(s["cond"], "PUSH1", "0x01"),
		At(s["cond"], "DUP2"),
		At(s["cond"], "GT"),
		At(s["if"], "ISZERO"),
		At(s["if"], "PUSH1", "0x10"),
		At(s["if"], "JUMPI"),
		At(s["t1"], "DUP1"),
		At(s["t1"], "PUSH1", "0x00"),
		At(s["t1"], "SSTORE"),
		At(s["if"], "PUSH1", "0x16"),
		At(s["if"], "JUMP"),
		At(s["t0"], "JUMPDEST"),
		At(s["t0"], "PUSH1", "0x00"),
		At(s["t0"], "PUSH1", "0x00"),
		At(s["t0"], "SSTORE"),
		At(s["fn"], "JUMPDEST"),
		At(s["fn"], "STOP"),
	}
	return newFixture(b, "contracts/Branch.sol", "Branch", "0.8.19+commit.7dd6d404", ast, s, ops)
}

// TesterText exercises compound conditions, require calls with and without a
// message, a dev comment and the dispatcher fallback.
const TesterText = `pragma solidity ^0.8.0;

contract Tester {
    uint public total;

    function check(uint a, bool b) public returns (uint) {
        if (a > 1 && b) {
            total = a;
        } else {
            total = a / 2;
        }
        require(a != 3, "three");
        require(a != 4); // dev: not four
        return total;
    }
}
`

// Tester op indexes.
const (
	TesterGuardCallValue = 3  // CALLVALUE of the non-payable guard
	TesterGuardRevert    = 10 // REVERT of the non-payable guard
	TesterFallbackDest   = 21 // JUMPDEST of the dispatcher fallback
	TesterFallbackRevert = 24 // REVERT of the dispatcher fallback
	TesterEntry          = 25 // JUMPDEST of check
	TesterAndJumpI       = 32 // JUMPI closing a > 1
	TesterIfJumpI        = 38 // JUMPI closing b
	TesterDiv            = 47 // DIV of a / 2
	TesterMessageJumpI   = 56 // JUMPI closing a != 3
	TesterMessageRevert  = 59 // REVERT of require(a != 3, "three")
	TesterRequireJumpI   = 65 // JUMPI to the fallback for require(a != 4)
	TesterReturn         = 66 // JUMPDEST of the return statement
	TesterTail           = 71 // INVALID past the end of the source map
)

// Tester paths through check. Each starts in the dispatcher.
var (
	// a = 2, b = true
	TesterPass = []int{
		0, 1, 2, 3, 4, 5, 6, 7, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20,
		25, 26, 27, 28, 29, 30, 31, 32, 33, 34, 35, 36, 37, 38, 39, 40, 41, 42, 43,
		50, 51, 52, 53, 54, 55, 56, 60, 61, 62, 63, 64, 65, 66, 67, 68, 69, 70,
	}
	// a = 3, b = false
	TesterMessage = []int{
		0, 1, 2, 3, 4, 5, 6, 7, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20,
		25, 26, 27, 28, 29, 30, 31, 32, 33, 34, 35, 36, 37, 38, 44, 45, 46, 47, 48, 49,
		50, 51, 52, 53, 54, 55, 56, 57, 58, 59,
	}
	// a = 4, b = false
	TesterRequire = []int{
		0, 1, 2, 3, 4, 5, 6, 7, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20,
		25, 26, 27, 28, 29, 30, 31, 32, 33, 34, 35, 36, 37, 38, 44, 45, 46, 47, 48, 49,
		50, 51, 52, 53, 54, 55, 56, 60, 61, 62, 63, 64, 65, 21, 22, 23, 24,
	}
	// value sent to the non-payable function
	TesterPayable = []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
)

// Tester compiles TesterText. Statements 0 to 4 are, in order, both
// assignments, both require statements and the return. Branches 5 to 8 are
// a > 1, b, a != 3 and a != 4.
func Tester() *Fixture {
	b := solasttest.New(TesterText, 1)
	s := map[string]sourcemap.Span{
		"contract": b.Between("contract Tester", 0, "}", 3),
		"fn":       b.Between("function check", 0, "}", 2),
		"body":     b.Between("{", 1, "}", 2),
		"if":       b.Between("if (a > 1 && b)", 0, "}", 1),
		"true":     b.Between("{", 2, "}", 0),
		"false":    b.Between("{", 3, "}", 1),
		"and":      b.Span("a > 1 && b", 0),
		"c1":       b.Span("a > 1", 0),
		"t1":       b.Span("total = a;", 0),
		"t2":       b.Span("total = a / 2;", 0),
		"div":      b.Span("a / 2", 0),
		"r3stmt":   b.Span(`require(a != 3, "three");`, 0),
		"call3":    b.Span(`require(a != 3, "three")`, 0),
		"r3":       b.Span("a != 3", 0),
		"msg":      b.Span(`"three"`, 0),
		"r4stmt":   b.Span("require(a != 4);", 0),
		"call4":    b.Span("require(a != 4)", 0),
		"r4":       b.Span("a != 4", 0),
		"ret":      b.Span("return total;", 0),
		"state":    b.Span("uint public total;", 0),
	}
	s["b"] = b.Within(s["and"], "b")

	ident := func(name string, within sourcemap.Span, typ string) solasttest.Node {
		return b.Ident(name, b.Within(within, name), typ)
	}
	notEqual := func(span sourcemap.Span, value string) solasttest.Node {
		return b.Binary("!=", span, "bool", ident("a", span, "uint256"),
			b.Literal(b.Within(span, value), "int_const "+value))
	}

	ifStmt := b.Node("IfStatement", s["if"], solasttest.Node{
		"condition": b.Binary("&&", s["and"], "bool",
			b.Binary(">", s["c1"], "bool", ident("a", s["c1"], "uint256"),
				b.Literal(b.Within(s["c1"], "1"), "int_const 1")),
			b.Ident("b", s["b"], "bool")),
		"trueBody": b.Block(s["true"],
			b.Statement(s["t1"], b.Assign("=", b.Within(s["t1"], "total = a"), ident("total", s["t1"], "uint256"),
				b.Ident("a", b.Within(b.Within(s["t1"], "= a"), "a"), "uint256")))),
		"falseBody": b.Block(s["false"],
			b.Statement(s["t2"], b.Assign("=", b.Within(s["t2"], "total = a / 2"), ident("total", s["t2"], "uint256"),
				b.Binary("/", s["div"], "uint256", ident("a", s["div"], "uint256"),
					b.Literal(b.Within(s["div"], "2"), "int_const 2"))))),
	})
	body := b.Block(s["body"],
		ifStmt,
		b.Statement(s["r3stmt"], b.Call("require", s["call3"], notEqual(s["r3"], "3"),
			b.Literal(s["msg"], `literal_string "three"`))),
		b.Statement(s["r4stmt"], b.Call("require", s["call4"], notEqual(s["r4"], "4"))),
		b.Node("Return", s["ret"], solasttest.Node{"expression": ident("total", s["ret"], "uint256")}),
	)
	ast := b.Unit("contracts/Tester.sol",
		b.Node("PragmaDirective", b.Span("pragma solidity ^0.8.0;", 0), nil),
		b.Contract("Tester", s["contract"],
			b.Node("VariableDeclaration", s["state"], solasttest.Node{"name": "total", "stateVariable": true}),
			b.Function("check", "function", s["fn"], body),
		),
	)

	ops := []Op{
		// dispatcher and non-payable guard
		Unmapped("PUSH1", "0x80"),
		Unmapped("PUSH1", "0x40"),
		Unmapped("MSTORE"),
		At(s["fn"], "CALLVALUE"),
		At(s["fn"], "DUP1"),
		At(s["fn"], "ISZERO"),
		At(s["fn"], "PUSH1", "0x0f"),
		At(s["fn"], "JUMPI"),
		Unmapped("PUSH1", "0x00"),
		Unmapped("DUP1"),
		Unmapped("REVERT"),
		Unmapped("JUMPDEST"),
		Unmapped("PUSH1", "0x04"),
		Unmapped("CALLDATASIZE"),
		Unmapped("LT"),
		Unmapped("PUSH1", "0x1d"),
		Unmapped("JUMPI"),
		Unmapped("PUSH1", "0x00"),
		Unmapped("CALLDATALOAD"),
		Unmapped("PUSH1", "0x22"),
		Unmapped("JUMP"),
		Unmapped("JUMPDEST"),
		Unmapped("PUSH1", "0x00"),
		Unmapped("DUP1"),
		Unmapped("REVERT"),

		// check
		At(s["fn"], "JUMPDEST"),
		At(s["c1"], "PUSH1", "0x01"),
		At(s["c1"], "DUP2"),
		At(s["c1"], "GT"),
		At(s["and"], "DUP1"),
		At(s["and"], "ISZERO"),
		At(s["and"], "PUSH1", "0x2e"),
		At(s["and"], "JUMPI"),
		At(s["and"], "POP"),
		At(s["b"], "DUP2"),
		At(s["and"], "JUMPDEST"),
		At(s["if"], "ISZERO"),
		At(s["if"], "PUSH1", "0x3a"),
		At(s["if"], "JUMPI"),
		At(s["t1"], "DUP2"),
		At(s["t1"], "PUSH1", "0x00"),
		At(s["t1"], "SSTORE"),
		At(s["if"], "PUSH1", "0x42"),
		At(s["if"], "JUMP"),
		At(s["t2"], "JUMPDEST"),
		At(s["div"], "PUSH1", "0x02"),
		At(s["div"], "DUP3"),
		At(s["div"], "DIV"),
		At(s["t2"], "PUSH1", "0x00"),
		At(s["t2"], "SSTORE"),
		At(s["r3"], "JUMPDEST"),
		At(s["r3"], "PUSH1", "0x03"),
		At(s["r3"], "DUP3"),
		At(s["r3"], "EQ"),
		At(s["r3"], "ISZERO"),
		At(s["call3"], "PUSH1", "0x4f"),
		At(s["call3"], "JUMPI"),
		At(s["call3"], "PUSH1", "0x00"),
		At(s["call3"], "DUP1"),
		At(s["call3"], "REVERT"),
		At(s["r4"], "JUMPDEST"),
		At(s["r4"], "PUSH1", "0x04"),
		At(s["r4"], "DUP3"),
		At(s["r4"], "EQ"),
		At(s["r4"], "PUSH1", "0x1d"),
		At(s["r4"], "JUMPI"),
		At(s["ret"], "JUMPDEST"),
		At(s["ret"], "PUSH1", "0x00"),
		At(s["ret"], "SLOAD"),
		{Op: "SWAP1", Span: s["fn"], Jump: sourcemap.JumpOutOf},
		At(s["fn"], "JUMP"),
		Unmapped("INVALID"),
	}
	return newFixture(b, "contracts/Tester.sol", "Tester", "0.8.19+commit.7dd6d404", ast, s, ops)
}

// ArithText holds one checked site of each kind the compiler guards.
const ArithText = `pragma solidity ^0.8.0;

contract Arith {
    uint[] public list;

    function run(uint a, uint b) public returns (uint c) {
        c = list[a];
        c = a % b;
        c = a - b;
        c -= b;
        c += a;
        c = a * b;
    }
}
`

// Arith op indexes, each an INVALID mapped to its expression.
const (
	ArithIndex     = 2
	ArithMod       = 3
	ArithSub       = 4
	ArithSubAssign = 5
	ArithAddAssign = 6
	ArithMul       = 7
)

// Arith compiles ArithText.
func Arith() *Fixture {
	b := solasttest.New(ArithText, 2)
	s := map[string]sourcemap.Span{
		"contract":  b.Between("contract Arith", 0, "}", 1),
		"fn":        b.Between("function run", 0, "}", 0),
		"body":      b.Between("{", 1, "}", 0),
		"state":     b.Span("uint[] public list;", 0),
		"index":     b.Span("list[a]", 0),
		"mod":       b.Span("a % b", 0),
		"sub":       b.Span("a - b", 0),
		"subAssign": b.Span("c -= b", 0),
		"addAssign": b.Span("c += a", 0),
		"mul":       b.Span("a * b", 0),
	}

	ident := func(name string, within sourcemap.Span, typ string) solasttest.Node {
		return b.Ident(name, b.Within(within, name), typ)
	}
	binary := func(op, key string) solasttest.Node {
		span := s[key]
		return b.Binary(op, span, "uint256", ident("a", span, "uint256"), ident("b", span, "uint256"))
	}
	// assign wraps value in the statement c = <value>;
	assign := func(value sourcemap.Span, right solasttest.Node) solasttest.Node {
		stmt := b.Span("c = "+b.Text[value.Start:value.Stop]+";", 0)
		return b.Statement(stmt, b.Assign("=", b.Within(stmt, "c = "+b.Text[value.Start:value.Stop]),
			ident("c", stmt, "uint256"), right))
	}
	compound := func(op, key, operand string) solasttest.Node {
		span := s[key]
		return b.Statement(b.Span(b.Text[span.Start:span.Stop]+";", 0), b.Assign(op, span,
			ident("c", span, "uint256"), ident(operand, b.Within(span, op+" "+operand), "uint256")))
	}

	index := b.Node("IndexAccess", s["index"], solasttest.Node{
		"baseExpression":   ident("list", s["index"], "uint256[] storage ref"),
		"indexExpression":  ident("a", s["index"], "uint256"),
		"typeDescriptions": solasttest.Node{"typeString": "uint256"},
	})
	body := b.Block(s["body"],
		assign(s["index"], index),
		assign(s["mod"], binary("%", "mod")),
		assign(s["sub"], binary("-", "sub")),
		compound("-=", "subAssign", "b"),
		compound("+=", "addAssign", "a"),
		assign(s["mul"], binary("*", "mul")),
	)
	ast := b.Unit("contracts/Arith.sol",
		b.Node("PragmaDirective", b.Span("pragma solidity ^0.8.0;", 0), nil),
		b.Contract("Arith", s["contract"],
			b.Node("VariableDeclaration", s["state"], solasttest.Node{"name": "list", "stateVariable": true}),
			b.Function("run", "function", s["fn"], body),
		),
	)

	ops := []Op{
		Unmapped("PUSH1", "0x80"),
		At(s["fn"], "JUMPDEST"),
		At(s["index"], "INVALID"),
		At(s["mod"], "INVALID"),
		At(s["sub"], "INVALID"),
		At(s["subAssign"], "INVALID"),
		At(s["addAssign"], "INVALID"),
		At(s["mul"], "INVALID"),
		At(s["fn"], "STOP"),
	}
	return newFixture(b, "contracts/Arith.sol", "Arith", "0.8.19+commit.7dd6d404", ast, s, ops)
}
