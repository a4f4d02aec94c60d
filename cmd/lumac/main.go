// Command lumac compiles a Luma source file into an LBC container.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lumavm/luma/internal/codegen"
	"github.com/lumavm/luma/internal/config"
	"github.com/lumavm/luma/internal/extreg"
	"github.com/lumavm/luma/internal/lbc"
)

func main() {
	var signedRelJumps bool

	root := &cobra.Command{
		Use:           "lumac <input.luma> <output.lbc>",
		Short:         "Compile a Luma source file to an LBC bytecode container",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return compile(args[0], args[1], signedRelJumps)
		},
	}

	root.Flags().BoolVar(&signedRelJumps, "signed-relative-jumps", false,
		"emit containers with the full-16-bit relative jump flag set")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "lumac:", err)
		os.Exit(1)
	}
}

func compile(inPath, outPath string, signedRelJumps bool) error {
	src, err := os.ReadFile(inPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", inPath, err)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if signedRelJumps {
		cfg.Compiler.SignedRelativeJumps = true
	}

	container, err := codegen.Compile(string(src), extreg.Standard())
	if err != nil {
		return err
	}
	if cfg.Compiler.SignedRelativeJumps {
		container.Flags |= lbc.FlagSignedRelativeJumps
	}

	out, err := lbc.Encode(container)
	if err != nil {
		return fmt.Errorf("encoding container: %w", err)
	}

	if err := os.WriteFile(outPath, out, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", outPath, err)
	}
	return nil
}
