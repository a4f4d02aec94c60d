package vm

import (
	"context"
	"time"

	"github.com/lumavm/luma/internal/opcode"
)

// Fault aborts execution with err, for use by extension handlers that
// need to signal a failure back into the VM (per the handler contract
// a handler "may set the VM error field to abort
// execution").
func (v *VM) Fault(err error) {
	v.fault(err)
}

// Step executes at most one instruction. If a DELAY is in flight it
// instead checks elapsed wall time against the armed amount and clears
// the delay once it has passed, without fetching an instruction in the
// same call. Step is a no-op once the VM has halted.
func (v *VM) Step() {
	if v.Halted {
		return
	}
	if v.Delay.Active {
		if time.Since(v.Delay.StartedAt) >= time.Duration(v.Delay.AmountMS)*time.Millisecond {
			v.Delay.Active = false
		}
		return
	}

	opByte, ok := v.fetchU8()
	if !ok {
		return
	}
	op := opcode.Op(opByte)
	if v.Trace != nil {
		v.Trace(v.PC-1, opByte)
	}

	switch op {
	case opcode.Noop:

	case opcode.Movi:
		dst, ok := v.fetchReg()
		if !ok {
			return
		}
		imm, ok := v.fetchI32()
		if !ok {
			return
		}
		v.Regs[dst] = imm

	case opcode.Mov:
		dst, src, ok := v.fetchDstSrc()
		if !ok {
			return
		}
		v.Regs[dst] = v.Regs[src]

	case opcode.Load:
		dst, ok := v.fetchReg()
		if !ok {
			return
		}
		addr, ok := v.fetchU8()
		if !ok {
			return
		}
		v.Regs[dst] = v.Mem[addr]

	case opcode.Store:
		addr, ok := v.fetchU8()
		if !ok {
			return
		}
		src, ok := v.fetchReg()
		if !ok {
			return
		}
		v.Mem[addr] = v.Regs[src]

	case opcode.Push:
		src, ok := v.fetchReg()
		if !ok {
			return
		}
		v.push(v.Regs[src])

	case opcode.Pop:
		dst, ok := v.fetchReg()
		if !ok {
			return
		}
		w, ok := v.pop()
		if !ok {
			return
		}
		v.Regs[dst] = w

	case opcode.Ldc:
		dst, ok := v.fetchReg()
		if !ok {
			return
		}
		idx, ok := v.fetchU8()
		if !ok {
			return
		}
		if int(idx) >= len(v.Consts) {
			v.fault(ErrBadOpcode)
			return
		}
		v.Regs[dst] = v.Consts[idx]

	case opcode.Add, opcode.Sub, opcode.Mul, opcode.Div, opcode.Mod,
		opcode.Max, opcode.Min, opcode.And, opcode.Or, opcode.Xor:
		dst, src, ok := v.fetchDstSrc()
		if !ok {
			return
		}
		v.execArith(op, dst, src)

	case opcode.Abs:
		dst, ok := v.fetchReg()
		if !ok {
			return
		}
		if v.Regs[dst] < 0 {
			v.Regs[dst] = -v.Regs[dst]
		}

	case opcode.Not:
		dst, ok := v.fetchReg()
		if !ok {
			return
		}
		v.Regs[dst] = ^v.Regs[dst]

	case opcode.Eq, opcode.Neq, opcode.Geq, opcode.Leq, opcode.Gt, opcode.Lt:
		dst, src, ok := v.fetchDstSrc()
		if !ok {
			return
		}
		v.execCompare(op, dst, src)

	case opcode.Jmpa:
		target, ok := v.fetchU16()
		if !ok {
			return
		}
		if !v.checkTarget(target) {
			return
		}
		v.PC = target

	case opcode.Jmpr:
		rel, ok := v.fetchI8()
		if !ok {
			return
		}
		target := v.relTarget(v.PC, rel)
		if !v.checkTarget(target) {
			return
		}
		v.PC = target

	case opcode.Jza, opcode.Jnza:
		cond, ok := v.fetchReg()
		if !ok {
			return
		}
		target, ok := v.fetchU16()
		if !ok {
			return
		}
		taken := v.Regs[cond] == 0
		if op == opcode.Jnza {
			taken = !taken
		}
		if taken {
			if !v.checkTarget(target) {
				return
			}
			v.PC = target
		}

	case opcode.Jzr, opcode.Jnzr:
		cond, ok := v.fetchReg()
		if !ok {
			return
		}
		rel, ok := v.fetchI8()
		if !ok {
			return
		}
		taken := v.Regs[cond] == 0
		if op == opcode.Jnzr {
			taken = !taken
		}
		if taken {
			target := v.relTarget(v.PC, rel)
			if !v.checkTarget(target) {
				return
			}
			v.PC = target
		}

	case opcode.Calla:
		target, ok := v.fetchU16()
		if !ok {
			return
		}
		if !v.checkTarget(target) {
			return
		}
		if !v.push(Word(v.PC)) {
			return
		}
		v.PC = target

	case opcode.Callr:
		rel, ok := v.fetchI8()
		if !ok {
			return
		}
		target := v.relTarget(v.PC, rel)
		if !v.checkTarget(target) {
			return
		}
		if !v.push(Word(v.PC)) {
			return
		}
		v.PC = target

	case opcode.Ret:
		w, ok := v.pop()
		if !ok {
			return
		}
		v.PC = uint16(w)

	case opcode.Ext:
		extID, ok := v.fetchU8()
		if !ok {
			return
		}
		subop, ok := v.fetchU8()
		if !ok {
			return
		}
		v.dispatchExt(extID, subop)

	case opcode.DSrgb:
		v.dispatchExt(opcode.NeopixelExtID, opcode.NeopixelSetRGB)
	case opcode.DFrgb:
		v.dispatchExt(opcode.NeopixelExtID, opcode.NeopixelFillRGB)
	case opcode.DShow:
		v.dispatchExt(opcode.NeopixelExtID, opcode.NeopixelShow)
	case opcode.DClr:
		v.dispatchExt(opcode.NeopixelExtID, opcode.NeopixelClear)
	case opcode.DNled:
		v.dispatchExt(opcode.NeopixelExtID, opcode.NeopixelNumLEDs)

	case opcode.Delay:
		reg, ok := v.fetchReg()
		if !ok {
			return
		}
		ms := v.Regs[reg]
		if ms > 0 {
			v.Delay = DelayState{Active: true, AmountMS: ms, StartedAt: time.Now()}
		}

	case opcode.Halt:
		v.Halted = true

	default:
		v.fault(ErrBadOpcode)
	}
}

// Run steps the VM until it halts or ctx is cancelled, sleeping briefly
// while a DELAY is in flight so a host driving Run on its own goroutine
// doesn't busy-spin. It returns the VM's terminal error, which is nil
// for a clean HALT.
func (v *VM) Run(ctx context.Context) error {
	for !v.Halted {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		v.Step()
		if v.Delay.Active {
			time.Sleep(time.Millisecond)
		}
	}
	return v.Err
}

func (v *VM) execArith(op opcode.Op, dst, src byte) {
	a, b := v.Regs[dst], v.Regs[src]
	switch op {
	case opcode.Add:
		v.Regs[dst] = a + b
	case opcode.Sub:
		v.Regs[dst] = a - b
	case opcode.Mul:
		v.Regs[dst] = a * b
	case opcode.Div:
		if b == 0 {
			v.fault(ErrDivByZero)
			return
		}
		v.Regs[dst] = a / b
	case opcode.Mod:
		if b == 0 {
			v.fault(ErrDivByZero)
			return
		}
		v.Regs[dst] = a % b
	case opcode.Max:
		if a >= b {
			v.Regs[dst] = a
		} else {
			v.Regs[dst] = b
		}
	case opcode.Min:
		if a <= b {
			v.Regs[dst] = a
		} else {
			v.Regs[dst] = b
		}
	case opcode.And:
		v.Regs[dst] = a & b
	case opcode.Or:
		v.Regs[dst] = a | b
	case opcode.Xor:
		v.Regs[dst] = a ^ b
	}
}

func (v *VM) execCompare(op opcode.Op, dst, src byte) {
	a, b := v.Regs[dst], v.Regs[src]
	var result bool
	switch op {
	case opcode.Eq:
		result = a == b
	case opcode.Neq:
		result = a != b
	case opcode.Geq:
		result = a >= b
	case opcode.Leq:
		result = a <= b
	case opcode.Gt:
		result = a > b
	case opcode.Lt:
		result = a < b
	}
	if result {
		v.Regs[dst] = 1
	} else {
		v.Regs[dst] = 0
	}
}

func (v *VM) dispatchExt(extID, subop byte) {
	h := v.extTable[extID]
	if h == nil {
		v.fault(ErrUnknownExtension)
		return
	}
	h(v, subop)
}

// relTarget computes a relative jump's absolute destination. The
// default keeps the page-local behavior:
// only the low byte of PC is offset by rel, the high byte is
// preserved. When the container's signed-relative-jumps flag is set,
// rel is instead applied across the full 16-bit PC.
func (v *VM) relTarget(pc uint16, rel int8) uint16 {
	if v.SignedRelativeJumps() {
		return uint16(int32(pc) + int32(rel))
	}
	low := byte(pc)
	newLow := byte(int32(low) + int32(rel))
	return uint16(pc&0xFF00) | uint16(newLow)
}

func (v *VM) checkTarget(target uint16) bool {
	if int(target) >= len(v.Code) {
		v.fault(ErrBadOpcode)
		return false
	}
	return true
}

func (v *VM) fetchU8() (byte, bool) {
	if int(v.PC) >= len(v.Code) {
		v.fault(ErrBadOpcode)
		return 0, false
	}
	b := v.Code[v.PC]
	v.PC++
	return b, true
}

func (v *VM) fetchReg() (byte, bool) {
	b, ok := v.fetchU8()
	if !ok {
		return 0, false
	}
	if b >= NumRegisters {
		v.fault(ErrBadOpcode)
		return 0, false
	}
	return b, true
}

func (v *VM) fetchDstSrc() (dst, src byte, ok bool) {
	b, ok := v.fetchU8()
	if !ok {
		return 0, 0, false
	}
	dst, src = opcode.SplitDstSrc(b)
	if dst >= NumRegisters || src >= NumRegisters {
		v.fault(ErrBadOpcode)
		return 0, 0, false
	}
	return dst, src, true
}

func (v *VM) fetchI8() (int8, bool) {
	b, ok := v.fetchU8()
	if !ok {
		return 0, false
	}
	return int8(b), true
}

func (v *VM) fetchU16() (uint16, bool) {
	if int(v.PC)+2 > len(v.Code) {
		v.fault(ErrBadOpcode)
		return 0, false
	}
	lo, hi := v.Code[v.PC], v.Code[v.PC+1]
	v.PC += 2
	return uint16(lo) | uint16(hi)<<8, true
}

func (v *VM) fetchI32() (Word, bool) {
	if int(v.PC)+4 > len(v.Code) {
		v.fault(ErrBadOpcode)
		return 0, false
	}
	b0, b1, b2, b3 := v.Code[v.PC], v.Code[v.PC+1], v.Code[v.PC+2], v.Code[v.PC+3]
	v.PC += 4
	u := uint32(b0) | uint32(b1)<<8 | uint32(b2)<<16 | uint32(b3)<<24
	return Word(int32(u)), true
}
