// Package vm implements the Luma bytecode interpreter: a fixed-resource
// fetch/decode/execute loop over an 8-register file, a 256-word global
// memory, a 256-entry word stack, and a pluggable 256-entry extension
// dispatch table.
package vm

import (
	"errors"
	"time"

	"github.com/lumavm/luma/internal/lbc"
)

// Word is the sole runtime value type: a 32-bit signed integer.
type Word = int32

const (
	NumRegisters = 8
	MemWords     = 256
	StackWords   = 256
	NumExtIDs    = 256
)

// Error codes. Each is fatal: detecting
// one sets Err and Halted atomically before the step returns.
var (
	ErrBadOpcode        = errors.New("bad opcode")
	ErrStackUnderflow   = errors.New("stack underflow")
	ErrStackOverflow    = errors.New("stack overflow")
	ErrDivByZero        = errors.New("division by zero")
	ErrUnknownExtension = errors.New("unknown extension")
	ErrLoadFail         = errors.New("container rejected by loader")
)

// ExtHandler is the contract an extension implementation satisfies: it
// receives the VM handle and the dispatched sub-op, reads its
// arguments from R0..R3 (and the stack beyond that), and may write a
// single result to R0.
type ExtHandler func(vm *VM, subop byte)

// DelayState tracks a single in-flight non-blocking DELAY: a duration
// and the wall-clock instant it started, so repeated Step calls can
// check elapsed time without blocking the caller.
type DelayState struct {
	Active    bool
	AmountMS  Word
	StartedAt time.Time
}

// VM is one interpreter instance. All fields are exclusively owned by
// this instance; no state is shared across VMs.
type VM struct {
	Regs [NumRegisters]Word
	Mem  [MemWords]Word

	Stack [StackWords]Word
	SP    uint8

	Code  []byte
	PC    uint16
	Flags byte

	Consts []int32

	Halted bool
	Err    error

	Delay DelayState

	extTable [NumExtIDs]ExtHandler

	// Trace, if non-nil, receives a line per executed instruction.
	// Entirely optional and unused by the VM itself beyond the call.
	Trace func(pc uint16, op byte)
}

// New returns an empty, unloaded VM.
func New() *VM {
	return &VM{}
}

// Load resets all VM state and installs the code, constants, and
// extension bindings from a decoded container. handlers maps an
// extension id to the host-supplied implementation; any id the
// container requires but handlers doesn't cover is left unregistered
// and will fault with ErrUnknownExtension the first time it's
// dispatched, rather than at load time, matching the fixed 256-entry
// table in the source VM.
func (v *VM) Load(c *lbc.Container, handlers map[byte]ExtHandler) error {
	if c == nil {
		return ErrLoadFail
	}
	if int(c.Entry) > len(c.Code) {
		return ErrLoadFail
	}

	*v = VM{}
	v.Code = c.Code
	v.Consts = c.Constants
	v.Flags = c.Flags
	v.PC = c.Entry
	v.SP = 0
	v.Halted = false
	v.Err = nil

	for _, ext := range c.Extension {
		if h, ok := handlers[ext.ID]; ok {
			v.extTable[ext.ID] = h
		}
	}

	return nil
}

// SignedRelativeJumps reports whether the loaded container selected
// full-16-bit relative jump arithmetic.
func (v *VM) SignedRelativeJumps() bool {
	return v.Flags&lbc.FlagSignedRelativeJumps != 0
}

func (v *VM) fault(err error) {
	v.Err = err
	v.Halted = true
}

// push writes w onto the stack, failing with ErrStackOverflow per the
// sp-would-reach-the-last-slot rule: push increments sp
// then writes at sp.
func (v *VM) push(w Word) bool {
	if v.SP == StackWords-1 {
		v.fault(ErrStackOverflow)
		return false
	}
	v.SP++
	v.Stack[v.SP] = w
	return true
}

// pop reads and removes the top stack word, failing with
// ErrStackUnderflow when the stack is empty: pop reads at sp then
// decrements.
func (v *VM) pop() (Word, bool) {
	if v.SP == 0 {
		v.fault(ErrStackUnderflow)
		return 0, false
	}
	w := v.Stack[v.SP]
	v.SP--
	return w, true
}
