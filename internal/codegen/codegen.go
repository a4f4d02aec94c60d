// Package codegen implements the Luma tree-walking code generator,
// grounded on
// original_source/tools/compiler/visitors/CodegenVisitor.cpp/.h. The
// visitor dispatch of the source is replaced by ordinary type switches
// over the internal/ast sum type.
package codegen

import (
	"fmt"

	"github.com/lumavm/luma/internal/ast"
	"github.com/lumavm/luma/internal/extreg"
	"github.com/lumavm/luma/internal/lbc"
	"github.com/lumavm/luma/internal/opcode"
	"github.com/lumavm/luma/internal/parser"
)

// Generator lowers a Program into an LBC container. It is not safe for
// reuse across programs; construct a fresh one per compilation.
type Generator struct {
	code []byte

	usedRegs [8]bool

	varMap      map[string]byte
	nextVarLoc  byte
	varLocStack []byte

	extReg *extreg.Registry
}

// NewGenerator returns a Generator that resolves `require`d names and
// namespaced calls against reg.
func NewGenerator(reg *extreg.Registry) *Generator {
	return &Generator{
		varMap: make(map[string]byte),
		extReg: reg,
	}
}

// Compile tokenizes, parses, and lowers src in one step, the shape the
// compiler driver uses directly.
func Compile(src string, reg *extreg.Registry) (*lbc.Container, error) {
	prog, err := parser.Parse(src)
	if err != nil {
		return nil, err
	}
	return NewGenerator(reg).Generate(prog)
}

// Generate lowers a parsed Program to a container: it resolves every
// `require`d extension name to its id, then emits code for the
// top-level statement sequence.
func (g *Generator) Generate(prog *ast.Program) (*lbc.Container, error) {
	var extensions []lbc.ExtensionEntry
	for _, name := range prog.Requires {
		ext, ok := g.extReg.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("codegen: unknown extension %q", name)
		}
		extensions = append(extensions, lbc.ExtensionEntry{ID: ext.ID})
	}

	for _, s := range prog.Stmts {
		if err := g.lowerStmt(s); err != nil {
			return nil, err
		}
	}

	return &lbc.Container{
		Entry:     0,
		Extension: extensions,
		Code:      g.code,
	}, nil
}

func (g *Generator) allocReg() (byte, error) {
	for i := byte(0); i < 8; i++ {
		if !g.usedRegs[i] {
			g.usedRegs[i] = true
			return i, nil
		}
	}
	return 0, fmt.Errorf("codegen: out of registers")
}

func (g *Generator) freeReg(r byte) {
	g.usedRegs[r] = false
}

// reserve marks register idx used without going through the
// lowest-free search, for the call convention's fixed R0 result slot.
// It reports false when the register was already in use, so the
// caller knows to spill it first.
func (g *Generator) reserve(idx byte) bool {
	if g.usedRegs[idx] {
		return false
	}
	g.usedRegs[idx] = true
	return true
}

func (g *Generator) emitU8(b byte)    { g.code = append(g.code, b) }
func (g *Generator) emitDstSrc(dst, src byte) {
	g.emitU8(opcode.DstSrc(dst, src))
}

func (g *Generator) emitU16(v uint16) {
	g.code = append(g.code, byte(v), byte(v>>8))
}

func (g *Generator) emitI32(v int32) {
	u := uint32(v)
	g.code = append(g.code, byte(u), byte(u>>8), byte(u>>16), byte(u>>24))
}

// emitU16Placeholder reserves two zero bytes for a forward jump target
// and returns their offset, for patchU16 to fill in once the jump's
// destination is known.
func (g *Generator) emitU16Placeholder() int {
	pos := len(g.code)
	g.emitU16(0)
	return pos
}

func (g *Generator) patchU16(pos int, v uint16) {
	g.code[pos] = byte(v)
	g.code[pos+1] = byte(v >> 8)
}

func (g *Generator) lowerStmt(s ast.Stmt) error {
	switch st := s.(type) {
	case *ast.ExprStatement:
		r, err := g.lowerExpr(st.Expr)
		if err != nil {
			return err
		}
		g.freeReg(r)
		return nil

	case *ast.IfElse:
		return g.lowerIfElse(st)

	case *ast.LoopStmt:
		return g.lowerLoop(st)

	case *ast.BlockStmt:
		return g.lowerBlock(st)

	case *ast.VarDeclaration:
		return g.lowerVarDecl(st)
	}
	return fmt.Errorf("codegen: unhandled statement %T", s)
}

func (g *Generator) lowerIfElse(st *ast.IfElse) error {
	condReg, err := g.lowerExpr(st.Cond)
	if err != nil {
		return err
	}

	g.emitU8(byte(opcode.Jza))
	g.emitU8(condReg)
	jzaPos := g.emitU16Placeholder()
	g.freeReg(condReg)

	if err := g.lowerStmt(st.Then); err != nil {
		return err
	}

	if st.Else != nil {
		g.emitU8(byte(opcode.Jmpa))
		jmpPos := g.emitU16Placeholder()

		g.patchU16(jzaPos, uint16(len(g.code)))

		if err := g.lowerStmt(st.Else); err != nil {
			return err
		}
		g.patchU16(jmpPos, uint16(len(g.code)))
		return nil
	}

	g.patchU16(jzaPos, uint16(len(g.code)))
	return nil
}

func (g *Generator) lowerLoop(st *ast.LoopStmt) error {
	start := uint16(len(g.code))
	if err := g.lowerStmt(st.Body); err != nil {
		return err
	}
	g.emitU8(byte(opcode.Jmpa))
	g.emitU16(start)
	return nil
}

func (g *Generator) lowerBlock(st *ast.BlockStmt) error {
	g.varLocStack = append(g.varLocStack, g.nextVarLoc)
	for _, s := range st.Stmts {
		if err := g.lowerStmt(s); err != nil {
			return err
		}
	}
	g.nextVarLoc = g.varLocStack[len(g.varLocStack)-1]
	g.varLocStack = g.varLocStack[:len(g.varLocStack)-1]
	return nil
}

func (g *Generator) lowerVarDecl(st *ast.VarDeclaration) error {
	addr := g.nextVarLoc
	g.varMap[st.Name] = addr
	g.nextVarLoc++

	var reg byte
	var err error
	if st.Expr != nil {
		reg, err = g.lowerExpr(st.Expr)
	} else {
		reg, err = g.allocReg()
	}
	if err != nil {
		return err
	}

	g.emitU8(byte(opcode.Store))
	g.emitU8(addr)
	g.emitU8(reg)
	g.freeReg(reg)
	return nil
}

func (g *Generator) lowerExpr(e ast.Expr) (byte, error) {
	switch ex := e.(type) {
	case *ast.NumberExpr:
		r, err := g.allocReg()
		if err != nil {
			return 0, err
		}
		g.emitU8(byte(opcode.Movi))
		g.emitU8(r)
		g.emitI32(ex.Value)
		return r, nil

	case *ast.VarExpr:
		addr, ok := g.varMap[ex.Name]
		if !ok {
			return 0, fmt.Errorf("codegen: undeclared variable %q", ex.Name)
		}
		r, err := g.allocReg()
		if err != nil {
			return 0, err
		}
		g.emitU8(byte(opcode.Load))
		g.emitU8(r)
		g.emitU8(addr)
		return r, nil

	case *ast.Assignment:
		addr, ok := g.varMap[ex.Name]
		if !ok {
			return 0, fmt.Errorf("codegen: assignment to undeclared variable %q", ex.Name)
		}
		r, err := g.lowerExpr(ex.Expr)
		if err != nil {
			return 0, err
		}
		g.emitU8(byte(opcode.Store))
		g.emitU8(addr)
		g.emitU8(r)
		return r, nil

	case *ast.BinaryExpr:
		return g.lowerBinary(ex)

	case *ast.CallExpr:
		return g.lowerCall(ex)
	}
	return 0, fmt.Errorf("codegen: unhandled expression %T", e)
}

func (g *Generator) lowerBinary(e *ast.BinaryExpr) (byte, error) {
	rLhs, err := g.lowerExpr(e.LHS)
	if err != nil {
		return 0, err
	}
	rRhs, err := g.lowerExpr(e.RHS)
	if err != nil {
		return 0, err
	}
	op, err := binOpcode(e.Op)
	if err != nil {
		return 0, err
	}
	g.emitU8(byte(op))
	g.emitDstSrc(rLhs, rRhs)
	g.freeReg(rRhs)
	return rLhs, nil
}

func binOpcode(b ast.BinOp) (opcode.Op, error) {
	switch b {
	case ast.Add:
		return opcode.Add, nil
	case ast.Sub:
		return opcode.Sub, nil
	case ast.Mul:
		return opcode.Mul, nil
	case ast.Div:
		return opcode.Div, nil
	case ast.Mod:
		return opcode.Mod, nil
	case ast.Eq:
		return opcode.Eq, nil
	case ast.Neq:
		return opcode.Neq, nil
	case ast.Gt:
		return opcode.Gt, nil
	case ast.Lt:
		return opcode.Lt, nil
	case ast.Geq:
		return opcode.Geq, nil
	case ast.Leq:
		return opcode.Leq, nil
	case ast.Lor:
		return opcode.Or, nil
	case ast.Land:
		return opcode.And, nil
	}
	return 0, fmt.Errorf("codegen: unhandled binary operator %v", b)
}

// lowerCall lowers both namespaced extension calls and the `delay`
// intrinsic, following the source generator's argument-passing
// convention: each argument gets its own register, the first four
// move into R0..R3, and any beyond that push in reverse order so the
// callee (or, for EXT, the extension dispatch convention) pops them forward.
func (g *Generator) lowerCall(e *ast.CallExpr) (byte, error) {
	var argRegs []byte
	if len(e.Args) > 0 {
		for _, a := range e.Args {
			r, err := g.lowerExpr(a)
			if err != nil {
				return 0, err
			}
			argRegs = append(argRegs, r)
		}
		for _, r := range argRegs {
			g.freeReg(r)
		}
		for i := 0; i < len(argRegs) && i < 4; i++ {
			if argRegs[i] != byte(i) {
				g.emitU8(byte(opcode.Mov))
				g.emitDstSrc(byte(i), argRegs[i])
			}
		}
		for i := len(argRegs) - 1; i >= 4; i-- {
			g.emitU8(byte(opcode.Push))
			g.emitU8(argRegs[i])
		}
	}

	if e.Namespace != "" {
		extID, fn, err := g.extReg.Resolve(e.Namespace, e.Name)
		if err != nil {
			return 0, fmt.Errorf("codegen: %w", err)
		}
		if fn.ReturnsValue && !g.reserve(0) {
			g.emitU8(byte(opcode.Push))
			g.emitU8(0)
		}
		g.emitU8(byte(opcode.Ext))
		g.emitU8(extID)
		g.emitU8(fn.SubOp)
		return 0, nil
	}

	if e.Name == "delay" {
		g.emitU8(byte(opcode.Delay))
		g.emitU8(0)
		return 0, nil
	}

	return 0, fmt.Errorf("codegen: unknown bare call %q", e.Name)
}
