// Package vmext provides host-side implementations of the extensions
// named in the standard extension registry (internal/extreg): neopixel
// and microphone. Neither talks to real hardware; they are in-memory
// stand-ins suitable for the VM host, tests, and local development,
// mirroring how the source firmware's simulators stood in for the
// addressable-LED strip and the onboard mic.
package vmext

import (
	"fmt"
	"log"

	"github.com/lumavm/luma/internal/opcode"
	"github.com/lumavm/luma/internal/vm"
)

// Neopixel simulates a strip of addressable RGB LEDs. Show logs the
// current frame instead of driving a real strip.
type Neopixel struct {
	Pixels [][3]byte
	Logger *log.Logger
}

// NewNeopixel returns a simulated strip of numLEDs pixels, all off.
// A nil logger falls back to the standard logger.
func NewNeopixel(numLEDs int, logger *log.Logger) *Neopixel {
	if logger == nil {
		logger = log.Default()
	}
	return &Neopixel{
		Pixels: make([][3]byte, numLEDs),
		Logger: logger,
	}
}

// Handler adapts the strip to the vm.ExtHandler contract, dispatching
// on the neopixel sub-ops from internal/opcode.
func (n *Neopixel) Handler() vm.ExtHandler {
	return func(v *vm.VM, subop byte) {
		switch subop {
		case opcode.NeopixelSetRGB:
			idx := v.Regs[0]
			if idx < 0 || int(idx) >= len(n.Pixels) {
				v.Fault(vm.ErrUnknownExtension)
				return
			}
			n.Pixels[idx] = [3]byte{byte(v.Regs[1]), byte(v.Regs[2]), byte(v.Regs[3])}

		case opcode.NeopixelFillRGB:
			c := [3]byte{byte(v.Regs[0]), byte(v.Regs[1]), byte(v.Regs[2])}
			for i := range n.Pixels {
				n.Pixels[i] = c
			}

		case opcode.NeopixelShow:
			n.Logger.Printf("neopixel show: %v", n.Pixels)

		case opcode.NeopixelClear:
			for i := range n.Pixels {
				n.Pixels[i] = [3]byte{}
			}

		case opcode.NeopixelNumLEDs:
			v.Regs[0] = vm.Word(len(n.Pixels))

		default:
			v.Fault(vm.ErrUnknownExtension)
		}
	}
}

// MicrophoneExtID is the extension id the standard registry assigns to
// the microphone extension.
const MicrophoneExtID byte = 0x02

const microphoneRead byte = 0x00

// Microphone simulates a single-channel audio level sensor. Sample is
// called once per `read()` call; the zero value always reads silence.
type Microphone struct {
	Sample func() int32
}

// NewMicrophone returns a microphone whose reads come from sample. A
// nil sample function always reads zero.
func NewMicrophone(sample func() int32) *Microphone {
	if sample == nil {
		sample = func() int32 { return 0 }
	}
	return &Microphone{Sample: sample}
}

// Handler adapts the microphone to the vm.ExtHandler contract.
func (m *Microphone) Handler() vm.ExtHandler {
	return func(v *vm.VM, subop byte) {
		if subop != microphoneRead {
			v.Fault(vm.ErrUnknownExtension)
			return
		}
		if m.Sample == nil {
			v.Regs[0] = 0
			return
		}
		v.Regs[0] = vm.Word(m.Sample())
	}
}

// Handlers builds the id-keyed handler map VM.Load expects, wiring in
// whichever of n and m are non-nil. A program that requires an
// extension with no corresponding handler here will fault with
// ErrUnknownExtension the first time it's dispatched.
func Handlers(n *Neopixel, m *Microphone) map[byte]vm.ExtHandler {
	h := make(map[byte]vm.ExtHandler)
	if n != nil {
		h[opcode.NeopixelExtID] = n.Handler()
	}
	if m != nil {
		h[MicrophoneExtID] = m.Handler()
	}
	return h
}

// String returns a short diagnostic description naming the strip
// length; it does not include the pixel colours.
func (n *Neopixel) String() string {
	return fmt.Sprintf("neopixel(%d leds)", len(n.Pixels))
}
