// Package ast defines the Luma abstract syntax tree as a closed set of
// node types dispatched by ordinary Go type switches, replacing the
// virtual-dispatch class hierarchy and Visitor pattern of
// original_source/tools/compiler/Parser.h and visitors/Visitor.h.
package ast

import "fmt"

// BinOp identifies a binary expression's operator.
type BinOp int

const (
	Add BinOp = iota
	Sub
	Mul
	Div
	Mod
	Eq
	Neq
	Gt
	Lt
	Geq
	Leq
	Lor
	Land
)

var binOpNames = map[BinOp]string{
	Add: "ADD", Sub: "SUB", Mul: "MUL", Div: "DIV", Mod: "MOD",
	Eq: "EQUALS", Neq: "NEQUALS", Gt: "GREATER", Lt: "LESS",
	Geq: "GEQUALS", Leq: "LEQUALS", Lor: "LOR", Land: "LAND",
}

func (b BinOp) String() string {
	if s, ok := binOpNames[b]; ok {
		return s
	}
	return "UNKNOWN"
}

// Expr is any expression node. The set of implementations is closed:
// BinaryExpr, Assignment, CallExpr, NumberExpr, VarExpr.
type Expr interface {
	exprNode()
}

// Stmt is any statement node. The set of implementations is closed:
// ExprStatement, IfElse, LoopStmt, BlockStmt, VarDeclaration.
type Stmt interface {
	stmtNode()
}

// BinaryExpr is `lhs op rhs`.
type BinaryExpr struct {
	Op  BinOp
	LHS Expr
	RHS Expr
}

// Assignment is `id = expr`.
type Assignment struct {
	Name string
	Expr Expr
}

// CallExpr is a call to a bare function or, when Namespace is
// non-empty, to a namespaced extension function: `namespace.id(args)`.
type CallExpr struct {
	Namespace string
	Name      string
	Args      []Expr
}

// NumberExpr is an integer literal.
type NumberExpr struct {
	Value int32
}

// VarExpr is a bare identifier used as a value.
type VarExpr struct {
	Name string
}

func (*BinaryExpr) exprNode() {}
func (*Assignment) exprNode() {}
func (*CallExpr) exprNode()   {}
func (*NumberExpr) exprNode() {}
func (*VarExpr) exprNode()    {}

// ExprStatement is an expression evaluated for its side effect.
type ExprStatement struct {
	Expr Expr
}

// IfElse is `if (cond) then [else else_]`. Else is nil when absent.
type IfElse struct {
	Cond Expr
	Then Stmt
	Else Stmt
}

// LoopStmt is an unconditional `loop body`, exited only by the body
// halting the program (Luma has no break/continue).
type LoopStmt struct {
	Body Stmt
}

// BlockStmt is a `{ ... }` sequence of statements sharing one scope.
type BlockStmt struct {
	Stmts []Stmt
}

// VarDeclaration is `let id [= expr];`. Expr is nil when the
// declaration has no initializer.
type VarDeclaration struct {
	Name string
	Expr Expr
}

func (*ExprStatement) stmtNode()  {}
func (*IfElse) stmtNode()         {}
func (*LoopStmt) stmtNode()       {}
func (*BlockStmt) stmtNode()      {}
func (*VarDeclaration) stmtNode() {}

// Program is a full translation unit: the `require`d extension names
// followed by the top-level statement sequence.
type Program struct {
	Requires []string
	Stmts    []Stmt
}

// String renders an expression tree for diagnostics and tests, in the
// spirit of the source AST's to_string methods but without the
// indentation bookkeeping those carried per-node.
func (e *BinaryExpr) String() string {
	return fmt.Sprintf("BinaryExpr(%s, %v, %v)", e.Op, e.LHS, e.RHS)
}

func (e *Assignment) String() string {
	return fmt.Sprintf("Assignment(%s, %v)", e.Name, e.Expr)
}

func (e *CallExpr) String() string {
	if e.Namespace != "" {
		return fmt.Sprintf("CallExpr(%s.%s, %v)", e.Namespace, e.Name, e.Args)
	}
	return fmt.Sprintf("CallExpr(%s, %v)", e.Name, e.Args)
}

func (e *NumberExpr) String() string { return fmt.Sprintf("NumberExpr(%d)", e.Value) }
func (e *VarExpr) String() string    { return fmt.Sprintf("VarExpr(%s)", e.Name) }
