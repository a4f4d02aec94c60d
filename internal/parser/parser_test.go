package parser_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumavm/luma/internal/ast"
	"github.com/lumavm/luma/internal/parser"
)

func TestParseRequireAndVarDecl(t *testing.T) {
	prog, err := parser.Parse("require neopixel; let x = 3;")
	require.NoError(t, err)

	require.Equal(t, []string{"neopixel"}, prog.Requires)
	require.Len(t, prog.Stmts, 1)

	decl, ok := prog.Stmts[0].(*ast.VarDeclaration)
	require.True(t, ok)
	assert.Equal(t, "x", decl.Name)

	num, ok := decl.Expr.(*ast.NumberExpr)
	require.True(t, ok)
	assert.EqualValues(t, 3, num.Value)
}

func TestParseAssignmentIsRightAssociative(t *testing.T) {
	prog, err := parser.Parse("let x; let y; x = y = 5;")
	require.NoError(t, err)
	require.Len(t, prog.Stmts, 3)

	es, ok := prog.Stmts[2].(*ast.ExprStatement)
	require.True(t, ok)

	outer, ok := es.Expr.(*ast.Assignment)
	require.True(t, ok)
	assert.Equal(t, "x", outer.Name)

	inner, ok := outer.Expr.(*ast.Assignment)
	require.True(t, ok)
	assert.Equal(t, "y", inner.Name)
}

func TestParsePrecedenceChain(t *testing.T) {
	// 1 + 2 * 3 should parse as 1 + (2 * 3)
	prog, err := parser.Parse("let x = 1 + 2 * 3;")
	require.NoError(t, err)

	decl := prog.Stmts[0].(*ast.VarDeclaration)
	add, ok := decl.Expr.(*ast.BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, ast.Add, add.Op)

	_, lhsIsNum := add.LHS.(*ast.NumberExpr)
	assert.True(t, lhsIsNum)

	mul, ok := add.RHS.(*ast.BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, ast.Mul, mul.Op)
}

func TestParseUnaryMinusLowersToSubtraction(t *testing.T) {
	prog, err := parser.Parse("let x = -5;")
	require.NoError(t, err)

	decl := prog.Stmts[0].(*ast.VarDeclaration)
	sub, ok := decl.Expr.(*ast.BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, ast.Sub, sub.Op)

	lhs, ok := sub.LHS.(*ast.NumberExpr)
	require.True(t, ok)
	assert.EqualValues(t, 0, lhs.Value)
}

func TestParseNamespacedCall(t *testing.T) {
	prog, err := parser.Parse("require neopixel; neopixel.fill_rgb(255, 0, 0);")
	require.NoError(t, err)

	es := prog.Stmts[0].(*ast.ExprStatement)
	call, ok := es.Expr.(*ast.CallExpr)
	require.True(t, ok)
	assert.Equal(t, "neopixel", call.Namespace)
	assert.Equal(t, "fill_rgb", call.Name)
	require.Len(t, call.Args, 3)
}

func TestParseBareCallIsVarExprWithoutParens(t *testing.T) {
	prog, err := parser.Parse("let x; x;")
	require.NoError(t, err)

	es := prog.Stmts[1].(*ast.ExprStatement)
	v, ok := es.Expr.(*ast.VarExpr)
	require.True(t, ok)
	assert.Equal(t, "x", v.Name)
}

func TestParseIfElse(t *testing.T) {
	prog, err := parser.Parse("if (1) { let x; } else { let y; }")
	require.NoError(t, err)

	ifElse, ok := prog.Stmts[0].(*ast.IfElse)
	require.True(t, ok)
	require.NotNil(t, ifElse.Else)

	_, thenIsBlock := ifElse.Then.(*ast.BlockStmt)
	assert.True(t, thenIsBlock)
	_, elseIsBlock := ifElse.Else.(*ast.BlockStmt)
	assert.True(t, elseIsBlock)
}

func TestParseLoop(t *testing.T) {
	prog, err := parser.Parse("loop { delay(10); }")
	require.NoError(t, err)

	loop, ok := prog.Stmts[0].(*ast.LoopStmt)
	require.True(t, ok)
	_, ok = loop.Body.(*ast.BlockStmt)
	assert.True(t, ok)
}

func TestParseMissingSemicolonIsError(t *testing.T) {
	_, err := parser.Parse("let x = 1")
	require.Error(t, err)

	var perr *parser.Error
	require.ErrorAs(t, err, &perr)
}

func TestParseMalformedNumber(t *testing.T) {
	// An integer literal too large for int32 is a malformed number.
	_, err := parser.Parse("let x = 99999999999999;")
	require.Error(t, err)
}
