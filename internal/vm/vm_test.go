package vm_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumavm/luma/internal/lbc"
	"github.com/lumavm/luma/internal/opcode"
	"github.com/lumavm/luma/internal/vm"
)

func u16le(v uint16) []byte { return []byte{byte(v), byte(v >> 8)} }

func i32le(v int32) []byte {
	u := uint32(v)
	return []byte{byte(u), byte(u >> 8), byte(u >> 16), byte(u >> 24)}
}

func loadCode(t *testing.T, code []byte) *vm.VM {
	t.Helper()
	v := vm.New()
	err := v.Load(&lbc.Container{Code: code}, nil)
	require.NoError(t, err)
	return v
}

func runToHalt(t *testing.T, v *vm.VM) {
	t.Helper()
	err := v.Run(context.Background())
	require.NoError(t, err)
}

// Scenario 1: MOVI R0 7; MOVI R1 5; SUB R0, R1; HALT -> R0=2.
func TestScenarioSub(t *testing.T) {
	var code []byte
	code = append(code, byte(opcode.Movi), 0)
	code = append(code, i32le(7)...)
	code = append(code, byte(opcode.Movi), 1)
	code = append(code, i32le(5)...)
	code = append(code, byte(opcode.Sub), opcode.DstSrc(0, 1))
	code = append(code, byte(opcode.Halt))

	v := loadCode(t, code)
	runToHalt(t, v)

	assert.True(t, v.Halted)
	assert.NoError(t, v.Err)
	assert.EqualValues(t, 2, v.Regs[0])
}

// Scenario 2: MOVI R0 -8; ABS R0; HALT -> R0=8.
func TestScenarioAbs(t *testing.T) {
	var code []byte
	code = append(code, byte(opcode.Movi), 0)
	code = append(code, i32le(-8)...)
	code = append(code, byte(opcode.Abs), 0)
	code = append(code, byte(opcode.Halt))

	v := loadCode(t, code)
	runToHalt(t, v)

	assert.True(t, v.Halted)
	assert.EqualValues(t, 8, v.Regs[0])
}

// Scenario 3: MOVI R0 10; MOVI R1 0; DIV R0, R1 -> halted, err=DIV_BY_ZERO,
// R0 unchanged (=10).
func TestScenarioDivByZero(t *testing.T) {
	var code []byte
	code = append(code, byte(opcode.Movi), 0)
	code = append(code, i32le(10)...)
	code = append(code, byte(opcode.Movi), 1)
	code = append(code, i32le(0)...)
	code = append(code, byte(opcode.Div), opcode.DstSrc(0, 1))

	v := loadCode(t, code)
	err := v.Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, vm.ErrDivByZero)
	assert.True(t, v.Halted)
	assert.EqualValues(t, 10, v.Regs[0])
}

// Scenario 4: CALLA L; HALT; L: MOVI R0 42; RET -> R0=42, halted at the
// post-CALL HALT.
func TestScenarioCallRet(t *testing.T) {
	const callLen = 3 // opcode + abs16
	const haltLen = 1
	L := uint16(callLen + haltLen)

	var code []byte
	code = append(code, byte(opcode.Calla))
	code = append(code, u16le(L)...)
	code = append(code, byte(opcode.Halt))
	code = append(code, byte(opcode.Movi), 0)
	code = append(code, i32le(42)...)
	code = append(code, byte(opcode.Ret))

	v := loadCode(t, code)
	runToHalt(t, v)

	assert.True(t, v.Halted)
	assert.NoError(t, v.Err)
	assert.EqualValues(t, 42, v.Regs[0])
	assert.EqualValues(t, callLen+haltLen, v.PC)
}

func TestBadRegisterHaltsWithoutMutation(t *testing.T) {
	code := []byte{byte(opcode.Movi), 9, 0, 0, 0, 0} // register index 9 is out of range
	v := loadCode(t, code)
	before := v.Regs

	v.Step()

	assert.True(t, v.Halted)
	assert.ErrorIs(t, v.Err, vm.ErrBadOpcode)
	assert.Equal(t, before, v.Regs)
}

func TestComparisonYieldsOnlyZeroOrOne(t *testing.T) {
	var code []byte
	code = append(code, byte(opcode.Movi), 0)
	code = append(code, i32le(3)...)
	code = append(code, byte(opcode.Movi), 1)
	code = append(code, i32le(3)...)
	code = append(code, byte(opcode.Eq), opcode.DstSrc(0, 1))
	code = append(code, byte(opcode.Halt))

	v := loadCode(t, code)
	runToHalt(t, v)
	assert.EqualValues(t, 1, v.Regs[0])
}

func TestPushPopIsIdentityAndNetZeroOnSP(t *testing.T) {
	var code []byte
	code = append(code, byte(opcode.Movi), 0)
	code = append(code, i32le(99)...)
	code = append(code, byte(opcode.Push), 0)
	code = append(code, byte(opcode.Movi), 0)
	code = append(code, i32le(0)...)
	code = append(code, byte(opcode.Pop), 0)
	code = append(code, byte(opcode.Halt))

	v := loadCode(t, code)
	startSP := v.SP
	runToHalt(t, v)

	assert.EqualValues(t, 99, v.Regs[0])
	assert.Equal(t, startSP, v.SP)
}

func TestStackUnderflowOnEmptyPop(t *testing.T) {
	code := []byte{byte(opcode.Pop), 0}
	v := loadCode(t, code)
	v.Step()

	assert.True(t, v.Halted)
	assert.ErrorIs(t, v.Err, vm.ErrStackUnderflow)
}

func TestUnknownExtensionFaults(t *testing.T) {
	code := []byte{byte(opcode.Ext), 0x7F, 0x00}
	v := loadCode(t, code)
	v.Step()

	assert.True(t, v.Halted)
	assert.ErrorIs(t, v.Err, vm.ErrUnknownExtension)
}

func TestJumpTargetOutOfRangeIsBadOpcode(t *testing.T) {
	code := []byte{byte(opcode.Jmpa), 0xFF, 0xFF}
	v := loadCode(t, code)
	v.Step()

	assert.True(t, v.Halted)
	assert.ErrorIs(t, v.Err, vm.ErrBadOpcode)
}

// Relative jumps stay within a 256-byte page by default: an offset
// that would carry into the next page under ordinary arithmetic
// instead wraps the low byte and stays in the current page.
func TestPageLocalRelativeJump(t *testing.T) {
	code := make([]byte, 250)
	for i := range code {
		code[i] = byte(opcode.Noop)
	}
	code[248] = byte(opcode.Jmpr)
	code[249] = byte(int8(10)) // PC after fetch = 250; 250+10 wraps to 4

	v := vm.New()
	require.NoError(t, v.Load(&lbc.Container{Code: code}, nil))

	for i := 0; i < 248; i++ {
		v.Step()
	}
	require.False(t, v.Halted)
	require.EqualValues(t, 248, v.PC)

	v.Step()
	assert.False(t, v.Halted)
	assert.EqualValues(t, 4, v.PC)
}

func TestDelayBlocksStepUntilElapsed(t *testing.T) {
	var code []byte
	code = append(code, byte(opcode.Movi), 0)
	code = append(code, i32le(20)...)
	code = append(code, byte(opcode.Delay), 0)
	code = append(code, byte(opcode.Halt))

	v := loadCode(t, code)

	v.Step() // MOVI
	v.Step() // DELAY arms
	require.True(t, v.Delay.Active)

	v.Step() // still waiting
	assert.False(t, v.Halted)

	time.Sleep(25 * time.Millisecond)
	v.Step() // clears delay, does not execute HALT yet
	assert.False(t, v.Delay.Active)
	assert.False(t, v.Halted)

	v.Step() // now executes HALT
	assert.True(t, v.Halted)
}

func TestRunRespectsContextCancellation(t *testing.T) {
	// An infinite loop: JMPA 0.
	code := []byte{byte(opcode.Jmpa), 0, 0}
	v := loadCode(t, code)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := v.Run(ctx)
	require.Error(t, err)
	assert.False(t, v.Halted)
}
