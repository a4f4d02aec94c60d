// Command lumavm loads and runs an LBC bytecode container.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/lumavm/luma/internal/config"
	"github.com/lumavm/luma/internal/lbc"
	"github.com/lumavm/luma/internal/vm"
	"github.com/lumavm/luma/internal/vmext"
)

func main() {
	var trace bool
	var timeoutMS int
	var numLEDs int

	root := &cobra.Command{
		Use:           "lumavm <program.lbc>",
		Short:         "Run a Luma bytecode container",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], trace, timeoutMS, numLEDs)
		},
	}

	root.Flags().BoolVar(&trace, "trace", false, "log one line per executed instruction")
	root.Flags().IntVar(&timeoutMS, "timeout-ms", 0, "cancel execution after this many milliseconds (0 = use config default; no limit if that is also 0)")
	root.Flags().IntVar(&numLEDs, "leds", 0, "size of the simulated neopixel strip (0 = use config default)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "lumavm:", err)
		os.Exit(1)
	}
}

func run(path string, trace bool, timeoutMS, numLEDs int) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if numLEDs <= 0 {
		numLEDs = cfg.VM.NumLEDs
	}
	if timeoutMS <= 0 {
		timeoutMS = cfg.VM.StepTimeoutMS
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	container, err := lbc.Decode(data)
	if err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}

	neopixel := vmext.NewNeopixel(numLEDs, log.Default())
	microphone := vmext.NewMicrophone(nil)
	handlers := vmext.Handlers(neopixel, microphone)

	machine := vm.New()
	if err := machine.Load(container, handlers); err != nil {
		return fmt.Errorf("loading container: %w", err)
	}

	if trace || cfg.VM.TraceInstructions {
		machine.Trace = func(pc uint16, op byte) {
			log.Printf("pc=%04x op=%02x", pc, op)
		}
	}

	ctx := context.Background()
	var cancel context.CancelFunc
	if timeoutMS > 0 {
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutMS)*time.Millisecond)
		defer cancel()
	}

	// Allocation happens up front during load; disable GC for the
	// duration of the tight fetch/decode/execute loop.
	gcPercent := 100
	if v, ok := os.LookupEnv("GOGC"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			gcPercent = n
		}
	}
	debug.SetGCPercent(-1)
	runErr := machine.Run(ctx)
	debug.SetGCPercent(gcPercent)

	if runErr != nil {
		return fmt.Errorf("vm: %w", runErr)
	}
	if machine.Err != nil {
		return fmt.Errorf("vm: %w", machine.Err)
	}
	return nil
}
