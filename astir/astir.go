// Package astir defines the AST node types the Block Simulator / AST
// Builder constructs out of a fragment's recovered CFG (spec.md §3, "AST
// nodes"): a statement-or-expression tagged variant set, not a fixed
// grammar — the printer is the only out-of-scope consumer that cares about
// concrete syntax.
package astir

import (
	"github.com/chazu/vmdecomp/cfgnode"
	"github.com/chazu/vmdecomp/ir"
)

// Expr is any expression node. Kind names the concrete variant for
// printers, warnings, and debug dumps, the same role cfgnode.Node.Kind
// plays for control-flow nodes.
type Expr interface {
	Kind() string
	exprNode()
}

// Stmt is any statement node.
type Stmt interface {
	Kind() string
	stmtNode()
}

// IntConst is an integer literal of the width its source Push instruction
// carried (Int16, Int32, or Int64) — kept distinct per width rather than
// widened to one Go int type, since the printer reproduces the literal's
// original suffix/representation.
type IntConst struct {
	Width ir.DataType // TypeInt16, TypeInt32, or TypeInt64
	Value int64
}

func (*IntConst) Kind() string { return "int_const" }
func (*IntConst) exprNode()    {}

// DoubleConst is a floating-point literal.
type DoubleConst struct {
	Value float64
}

func (*DoubleConst) Kind() string { return "double_const" }
func (*DoubleConst) exprNode()    {}

// StringConst is a string-table literal.
type StringConst struct {
	Value string
}

func (*StringConst) Kind() string { return "string_const" }
func (*StringConst) exprNode()    {}

// BoolConst is a boolean literal, produced when Convert coerces an Int16
// 0/1 payload to bool (spec.md §4.3, "Convert").
type BoolConst struct {
	Value bool
}

func (*BoolConst) Kind() string { return "bool_const" }
func (*BoolConst) exprNode()    {}

// InstanceConst names a fixed VM instance selector (Self, Other, Global,
// ...) used as a value in its own right rather than as a variable's
// left-operand (e.g. passed as a call argument).
type InstanceConst struct {
	Instance ir.InstanceType
}

func (*InstanceConst) Kind() string { return "instance_const" }
func (*InstanceConst) exprNode()    {}

// Variable is a reference to a local, global, builtin, or instance
// variable slot, with the left-operand instance it's resolved against, how
// that left operand is interpreted (Normal, Array, StackTop), and, for
// array-typed references, the index expressions (spec.md §4.3, "array
// indexing": one index for the 1D modern scheme, two for the legacy
// flattened scheme).
type Variable struct {
	Name       string
	Instance   ir.InstanceType
	Left       Expr // resolved StackTop left-operand expression, or nil
	RefVarType ir.ReferenceVarType
	Indices    []Expr
}

func (*Variable) Kind() string { return "variable" }
func (*Variable) exprNode()    {}

// Binary is a binary operator application. Inst carries the operator and
// operand typing the simulator read off the originating instruction
// (arithmetic/bitwise opcode, or Compare with its ComparisonKind).
type Binary struct {
	Left, Right Expr
	Inst        *ir.Instruction
}

func (*Binary) Kind() string { return "binary" }
func (*Binary) exprNode()    {}

// Unary is a unary operator application (Not, Negate).
type Unary struct {
	Operand Expr
	Inst    *ir.Instruction
}

func (*Unary) Kind() string { return "unary" }
func (*Unary) exprNode()    {}

// Call is a function invocation, with the resolved callee and its
// evaluated argument expressions in call order.
type Call struct {
	Function *ir.Function
	Args     []Expr
}

func (*Call) Kind() string { return "call" }
func (*Call) exprNode()    {}

// FuncRef is a bare function reference pushed as a value (spec.md §4.3,
// "Push ... function-ref"), e.g. passed to a higher-order builtin rather
// than called directly.
type FuncRef struct {
	Function *ir.Function
}

func (*FuncRef) Kind() string { return "func_ref" }
func (*FuncRef) exprNode()    {}

// NewObject is the new-object intrinsic call the simulator recognizes by
// callee name (spec.md §4.3, "Call ... new-object intrinsic detection").
type NewObject struct {
	Class *ir.Function
	Args  []Expr
}

func (*NewObject) Kind() string { return "new_object" }
func (*NewObject) exprNode()    {}

// ShortCircuit is the recovered value of a cfgnode.ShortCircuit composite:
// its chain of condition expressions plus the logic that combines them.
type ShortCircuit struct {
	Logic      cfgnode.LogicKind
	Conditions []Expr
}

func (*ShortCircuit) Kind() string { return "short_circuit" }
func (*ShortCircuit) exprNode()    {}

// Assign is a variable assignment, built from a Pop instruction that
// resolves to a left-hand side rather than a pop-swap (spec.md §4.3,
// "Pop").
type Assign struct {
	Target *Variable
	Value  Expr
}

func (*Assign) Kind() string { return "assign" }
func (*Assign) stmtNode()    {}

// Return is a `return <value>` statement.
type Return struct {
	Value Expr
}

func (*Return) Kind() string { return "return" }
func (*Return) stmtNode()    {}

// Exit is a bare `exit` statement (no value).
type Exit struct{}

func (*Exit) Kind() string { return "exit" }
func (*Exit) stmtNode()    {}

// Block is a statement list, the statement-level analogue of
// cfgnode.Fragment/Composite.
type Block struct {
	Stmts []Stmt
}

func (*Block) Kind() string { return "block" }
func (*Block) stmtNode()    {}

// If is a recovered conditional, with an optional else branch (spec.md
// §4.2.3).
type If struct {
	Cond Expr
	Then *Block
	Else *Block // nil when the composite has no else arm
}

func (*If) Kind() string { return "if" }
func (*If) stmtNode()    {}

// While is a recovered pre-tested loop.
type While struct {
	Cond Expr
	Body *Block
}

func (*While) Kind() string { return "while" }
func (*While) stmtNode()    {}

// DoUntil is a recovered post-tested loop (body runs at least once).
type DoUntil struct {
	Body *Block
	Cond Expr
}

func (*DoUntil) Kind() string { return "do_until" }
func (*DoUntil) stmtNode()    {}

// Repeat is a recovered counted loop, with the count expression taken from
// the guard block the compiler emits ahead of the loop body.
type Repeat struct {
	Count Expr
	Body  *Block
}

func (*Repeat) Kind() string { return "repeat" }
func (*Repeat) stmtNode()    {}

// With is a recovered instance-iteration loop (PushWithContext /
// PopWithContext).
type With struct {
	Target Expr
	Body   *Block
}

func (*With) Kind() string { return "with" }
func (*With) stmtNode()    {}

// SwitchCase is one arm of a recovered Switch: either a value match or,
// when Value is nil, the default arm.
type SwitchCase struct {
	Value *int32
	Body  *Block
}

// Switch is a recovered switch cascade (spec.md §4.2.3).
type Switch struct {
	Subject Expr
	Cases   []SwitchCase
}

func (*Switch) Kind() string { return "switch" }
func (*Switch) stmtNode()    {}

// Break is a recovered loop/switch break.
type Break struct{}

func (*Break) Kind() string { return "break" }
func (*Break) stmtNode()    {}

// Continue is a recovered loop continue.
type Continue struct{}

func (*Continue) Kind() string { return "continue" }
func (*Continue) stmtNode()    {}

// Try is a recovered try/catch/finally region. Catch is nil when the
// try-hook block encoded no catch address.
type Try struct {
	TryBody     *Block
	Catch       *Block
	FinallyBody *Block
}

func (*Try) Kind() string { return "try" }
func (*Try) stmtNode()    {}

// ExprStmt wraps an expression used as a statement (a function call whose
// result is discarded — spec.md §4.3, "bare-expression statements").
type ExprStmt struct {
	Expr Expr
}

func (*ExprStmt) Kind() string { return "expr_stmt" }
func (*ExprStmt) stmtNode()    {}
