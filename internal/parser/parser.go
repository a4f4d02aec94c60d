// Package parser implements Luma's recursive-descent parser, grounded
// on original_source/tools/compiler/Parser.h/.cpp, producing the
// internal/ast sum-type tree directly instead of a pointer-rich class
// hierarchy built through a visitor.
package parser

import (
	"fmt"
	"strconv"

	"github.com/lumavm/luma/internal/ast"
	"github.com/lumavm/luma/internal/token"
)

// Error is a fatal parse failure naming the offending position.
type Error struct {
	Line int
	Col  int
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Line, e.Col, e.Msg)
}

// Parser consumes a pre-scanned token stream and builds a Program.
type Parser struct {
	toks  []token.Token
	index int
}

// New returns a Parser over toks, which must end with an EOF token.
func New(toks []token.Token) *Parser {
	return &Parser{toks: toks}
}

// Parse tokenizes and parses src in one step.
func Parse(src string) (*ast.Program, error) {
	toks, err := token.TokenizeAll(src)
	if err != nil {
		return nil, err
	}
	return New(toks).ParseProgram()
}

func (p *Parser) peek(offset int) token.Token {
	i := p.index + offset
	if i >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[i]
}

func (p *Parser) next() token.Token {
	t := p.peek(0)
	if p.index < len(p.toks)-1 {
		p.index++
	}
	return t
}

func (p *Parser) check(typ token.Type) bool {
	return p.peek(0).Type == typ
}

func (p *Parser) accept(typ token.Type) (token.Token, bool) {
	if p.check(typ) {
		return p.next(), true
	}
	return token.Token{}, false
}

func (p *Parser) expect(typ token.Type) (token.Token, error) {
	if tok, ok := p.accept(typ); ok {
		return tok, nil
	}
	got := p.peek(0)
	return token.Token{}, &Error{Line: got.Line, Col: got.Col,
		Msg: fmt.Sprintf("expected %s, got %s", typ, got.Type)}
}

// ParseProgram parses a full translation unit: `require` declarations
// followed by the top-level statement sequence.
func (p *Parser) ParseProgram() (*ast.Program, error) {
	var reqs []string
	for p.check(token.Require) {
		p.next()
		id, err := p.expect(token.Identifier)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.Semicolon); err != nil {
			return nil, err
		}
		reqs = append(reqs, id.Value)
	}

	var stmts []ast.Stmt
	for !p.check(token.EOF) {
		s, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
	}

	return &ast.Program{Requires: reqs, Stmts: stmts}, nil
}

func (p *Parser) parseStatement() (ast.Stmt, error) {
	switch {
	case p.check(token.If):
		return p.parseIfElse()
	case p.check(token.Loop):
		return p.parseLoop()
	case p.check(token.LBrace):
		return p.parseBlock()
	case p.check(token.Let):
		return p.parseVarDecl()
	}

	expr, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.Semicolon); err != nil {
		return nil, err
	}
	return &ast.ExprStatement{Expr: expr}, nil
}

func (p *Parser) parseIfElse() (ast.Stmt, error) {
	p.next() // 'if'
	if _, err := p.expect(token.LParen); err != nil {
		return nil, err
	}
	cond, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.RParen); err != nil {
		return nil, err
	}
	then, err := p.parseStatement()
	if err != nil {
		return nil, err
	}

	var elseStmt ast.Stmt
	if _, ok := p.accept(token.Else); ok {
		elseStmt, err = p.parseStatement()
		if err != nil {
			return nil, err
		}
	}

	return &ast.IfElse{Cond: cond, Then: then, Else: elseStmt}, nil
}

func (p *Parser) parseLoop() (ast.Stmt, error) {
	p.next() // 'loop'
	body, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	return &ast.LoopStmt{Body: body}, nil
}

func (p *Parser) parseBlock() (ast.Stmt, error) {
	if _, err := p.expect(token.LBrace); err != nil {
		return nil, err
	}
	var stmts []ast.Stmt
	for !p.check(token.RBrace) && !p.check(token.EOF) {
		s, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
	}
	if _, err := p.expect(token.RBrace); err != nil {
		return nil, err
	}
	return &ast.BlockStmt{Stmts: stmts}, nil
}

func (p *Parser) parseVarDecl() (ast.Stmt, error) {
	p.next() // 'let'
	id, err := p.expect(token.Identifier)
	if err != nil {
		return nil, err
	}

	var init ast.Expr
	if _, ok := p.accept(token.Assign); ok {
		init, err = p.parseExpression()
		if err != nil {
			return nil, err
		}
	}

	if _, err := p.expect(token.Semicolon); err != nil {
		return nil, err
	}
	return &ast.VarDeclaration{Name: id.Value, Expr: init}, nil
}

func (p *Parser) parseExpression() (ast.Expr, error) {
	return p.parseAssignment()
}

func (p *Parser) parseAssignment() (ast.Expr, error) {
	if p.check(token.Identifier) && p.peek(1).Type == token.Assign {
		id := p.next()
		p.next() // '='
		rhs, err := p.parseAssignment()
		if err != nil {
			return nil, err
		}
		return &ast.Assignment{Name: id.Value, Expr: rhs}, nil
	}
	return p.parseLogicOr()
}

func (p *Parser) parseLogicOr() (ast.Expr, error) {
	lhs, err := p.parseLogicAnd()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.accept(token.Or); ok {
			rhs, err := p.parseLogicAnd()
			if err != nil {
				return nil, err
			}
			lhs = &ast.BinaryExpr{Op: ast.Lor, LHS: lhs, RHS: rhs}
			continue
		}
		return lhs, nil
	}
}

func (p *Parser) parseLogicAnd() (ast.Expr, error) {
	lhs, err := p.parseEquality()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.accept(token.And); ok {
			rhs, err := p.parseEquality()
			if err != nil {
				return nil, err
			}
			lhs = &ast.BinaryExpr{Op: ast.Land, LHS: lhs, RHS: rhs}
			continue
		}
		return lhs, nil
	}
}

func (p *Parser) parseEquality() (ast.Expr, error) {
	lhs, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for {
		var op ast.BinOp
		switch {
		case p.check(token.Equals):
			op = ast.Eq
		case p.check(token.Nequals):
			op = ast.Neq
		default:
			return lhs, nil
		}
		p.next()
		rhs, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		lhs = &ast.BinaryExpr{Op: op, LHS: lhs, RHS: rhs}
	}
}

func (p *Parser) parseComparison() (ast.Expr, error) {
	lhs, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for {
		var op ast.BinOp
		switch {
		case p.check(token.Less):
			op = ast.Lt
		case p.check(token.Lequals):
			op = ast.Leq
		case p.check(token.Greater):
			op = ast.Gt
		case p.check(token.Gequals):
			op = ast.Geq
		default:
			return lhs, nil
		}
		p.next()
		rhs, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		lhs = &ast.BinaryExpr{Op: op, LHS: lhs, RHS: rhs}
	}
}

func (p *Parser) parseAdditive() (ast.Expr, error) {
	lhs, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		var op ast.BinOp
		switch {
		case p.check(token.Plus):
			op = ast.Add
		case p.check(token.Minus):
			op = ast.Sub
		default:
			return lhs, nil
		}
		p.next()
		rhs, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		lhs = &ast.BinaryExpr{Op: op, LHS: lhs, RHS: rhs}
	}
}

func (p *Parser) parseMultiplicative() (ast.Expr, error) {
	lhs, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		var op ast.BinOp
		switch {
		case p.check(token.Mul):
			op = ast.Mul
		case p.check(token.Div):
			op = ast.Div
		case p.check(token.Mod):
			op = ast.Mod
		default:
			return lhs, nil
		}
		p.next()
		rhs, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		lhs = &ast.BinaryExpr{Op: op, LHS: lhs, RHS: rhs}
	}
}

// parseUnary lowers `-expr` to `0 - expr` per the spec's precedence
// chain, rather than adding a dedicated unary-minus node.
func (p *Parser) parseUnary() (ast.Expr, error) {
	if _, ok := p.accept(token.Minus); ok {
		rhs, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &ast.BinaryExpr{Op: ast.Sub, LHS: &ast.NumberExpr{Value: 0}, RHS: rhs}, nil
	}
	return p.parseCall()
}

// parseCall handles bare and namespaced calls (`id(args)`,
// `namespace.id(args)`) and falls through to a variable reference when
// no call follows the identifier. The source parser's CallExpr carried
// a namesp field its parseCall never actually populated; this resolves
// that gap by consuming a DOT when present.
func (p *Parser) parseCall() (ast.Expr, error) {
	if !p.check(token.Identifier) {
		return p.parsePrimary()
	}

	first := p.next()

	namespace := ""
	name := first.Value
	if _, ok := p.accept(token.Dot); ok {
		id, err := p.expect(token.Identifier)
		if err != nil {
			return nil, err
		}
		namespace = first.Value
		name = id.Value
	}

	if !p.check(token.LParen) {
		if namespace != "" {
			got := p.peek(0)
			return nil, &Error{Line: got.Line, Col: got.Col, Msg: "expected '(' after namespaced identifier"}
		}
		return &ast.VarExpr{Name: name}, nil
	}

	p.next() // '('
	var args []ast.Expr
	if !p.check(token.RParen) {
		for {
			arg, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if _, ok := p.accept(token.Comma); !ok {
				break
			}
		}
	}
	if _, err := p.expect(token.RParen); err != nil {
		return nil, err
	}

	return &ast.CallExpr{Namespace: namespace, Name: name, Args: args}, nil
}

func (p *Parser) parsePrimary() (ast.Expr, error) {
	if tok, ok := p.accept(token.Number); ok {
		n, err := strconv.ParseInt(tok.Value, 10, 32)
		if err != nil {
			return nil, &Error{Line: tok.Line, Col: tok.Col, Msg: fmt.Sprintf("malformed number %q", tok.Value)}
		}
		return &ast.NumberExpr{Value: int32(n)}, nil
	}

	if tok, ok := p.accept(token.Identifier); ok {
		return &ast.VarExpr{Name: tok.Value}, nil
	}

	if _, ok := p.accept(token.LParen); ok {
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.RParen); err != nil {
			return nil, err
		}
		return expr, nil
	}

	got := p.peek(0)
	return nil, &Error{Line: got.Line, Col: got.Col, Msg: fmt.Sprintf("unexpected token %s", got.Type)}
}
