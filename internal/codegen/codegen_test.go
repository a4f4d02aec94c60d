package codegen_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumavm/luma/internal/codegen"
	"github.com/lumavm/luma/internal/extreg"
	"github.com/lumavm/luma/internal/opcode"
)

func i32le(v int32) []byte {
	u := uint32(v)
	return []byte{byte(u), byte(u >> 8), byte(u >> 16), byte(u >> 24)}
}

// Scenario 6: `let x = 3; x = x + 4;` compiles to: allocate slot 0,
// MOVI r,3; STORE 0,r; LOAD a,0; MOVI b,4; ADD a,b; STORE 0,a.
func TestScenarioVarDeclAndAssignment(t *testing.T) {
	c, err := codegen.Compile("let x = 3; x = x + 4;", extreg.Standard())
	require.NoError(t, err)

	var want []byte
	want = append(want, byte(opcode.Movi), 0)
	want = append(want, i32le(3)...)
	want = append(want, byte(opcode.Store), 0, 0)
	want = append(want, byte(opcode.Load), 0, 0)
	want = append(want, byte(opcode.Movi), 1)
	want = append(want, i32le(4)...)
	want = append(want, byte(opcode.Add), opcode.DstSrc(0, 1))
	want = append(want, byte(opcode.Store), 0, 0)

	assert.Equal(t, want, c.Code)
}

// Scenario 5: `require neopixel; loop { neopixel.fill_rgb(255,0,0);
// neopixel.show(); delay(500); }` compiles to a container whose code
// section begins with the argument-loading and EXT dispatch sequence.
func TestScenarioRequireAndLoopWithExtensionCalls(t *testing.T) {
	src := "require neopixel; loop { neopixel.fill_rgb(255,0,0); neopixel.show(); delay(500); }"
	c, err := codegen.Compile(src, extreg.Standard())
	require.NoError(t, err)

	require.Len(t, c.Extension, 1)
	assert.Equal(t, byte(0x01), c.Extension[0].ID)

	var want []byte
	want = append(want, byte(opcode.Movi), 0)
	want = append(want, i32le(255)...)
	want = append(want, byte(opcode.Movi), 1)
	want = append(want, i32le(0)...)
	want = append(want, byte(opcode.Movi), 2)
	want = append(want, i32le(0)...)
	want = append(want, byte(opcode.Ext), 0x01, 0x01) // fill_rgb
	want = append(want, byte(opcode.Ext), 0x01, 0x02) // show
	want = append(want, byte(opcode.Movi), 0)
	want = append(want, i32le(500)...)
	want = append(want, byte(opcode.Delay), 0)
	want = append(want, byte(opcode.Jmpa), 0, 0) // loop back to start

	assert.Equal(t, want, c.Code)
}

func TestCodegenIsDeterministic(t *testing.T) {
	src := "let x = 1; if (x) { x = x + 1; } else { x = x - 1; }"
	a, err := codegen.Compile(src, extreg.Standard())
	require.NoError(t, err)
	b, err := codegen.Compile(src, extreg.Standard())
	require.NoError(t, err)
	assert.Equal(t, a.Code, b.Code)
}

func TestUnknownRequireIsCompileError(t *testing.T) {
	_, err := codegen.Compile("require speaker; speaker.beep();", extreg.Standard())
	require.Error(t, err)
}

func TestUnknownBareCallIsCompileError(t *testing.T) {
	_, err := codegen.Compile("foo();", extreg.Standard())
	require.Error(t, err)
}

func TestAssignmentToUndeclaredVarIsCompileError(t *testing.T) {
	_, err := codegen.Compile("x = 1;", extreg.Standard())
	require.Error(t, err)
}
