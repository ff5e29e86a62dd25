package main

import (
	"fmt"
	"io"
	"os"

	"github.com/raymyers/sierra2casm/pkg/compiler"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var version = "0.1.0"

var (
	dumpText      bool
	dumpDebugInfo bool
	maxBytecode   int
	gasCheck      bool
	verbose       bool
)

func main() {
	os.Exit(run())
}

func run() int {
	rootCmd := newRootCmd(os.Stdout, os.Stderr)
	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	log := logrus.New()
	log.SetOutput(errOut)

	rootCmd := &cobra.Command{
		Use:     "sierra2casm <bundle.yaml>",
		Short:   "Compile a Sierra program bundle to CASM",
		Version: version,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				log.SetLevel(logrus.DebugLevel)
			}
			return compileBundle(args[0], out, log)
		},
	}

	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	rootCmd.Flags().BoolVar(&dumpText, "dump-text", false, "Print the compiled program as CASM text")
	rootCmd.Flags().BoolVar(&dumpDebugInfo, "dump-debug-info", false, "Print per-statement debug info")
	rootCmd.Flags().IntVar(&maxBytecode, "max-bytecode-size", 0, "Override the bundle's max bytecode size (0 keeps the bundle's value)")
	rootCmd.Flags().BoolVar(&gasCheck, "gas-usage-check", false, "Force gas usage checking on regardless of the bundle's config")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	return rootCmd
}

func compileBundle(path string, out io.Writer, log *logrus.Logger) error {
	log.WithField("path", path).Debug("reading bundle")
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading bundle: %w", err)
	}

	var b bundle
	if err := yaml.Unmarshal(raw, &b); err != nil {
		return fmt.Errorf("parsing bundle: %w", err)
	}

	program, err := b.toProgram()
	if err != nil {
		return fmt.Errorf("building program: %w", err)
	}
	reg, err := b.toRegistry()
	if err != nil {
		return fmt.Errorf("building registry: %w", err)
	}
	md := b.toMetadata()
	typeSizes := b.toTypeSizes()
	entry := b.toEntryAnnotations()
	emitters := b.buildEmitters(reg)
	cfg := b.toConfig()
	if maxBytecode > 0 {
		cfg.MaxBytecodeSize = maxBytecode
	}
	if gasCheck {
		cfg.GasUsageCheck = true
	}

	log.WithFields(logrus.Fields{
		"statements": len(program.Statements),
		"funcs":      len(program.Funcs),
	}).Info("compiling")

	result, err := compiler.Compile(program, reg, typeSizes, md, entry, emitters, cfg)
	if err != nil {
		log.WithError(err).Error("compilation failed")
		return err
	}

	log.WithField("instructions", len(result.Instructions)).Info("compiled")

	if dumpText {
		if err := result.Text(out); err != nil {
			return fmt.Errorf("rendering text: %w", err)
		}
	}
	if dumpDebugInfo {
		for _, s := range result.DebugInfo.Statements {
			fmt.Fprintf(out, "offset=%d instruction_idx=%d kind=%T\n", s.CodeOffset, s.InstructionIdx, s.Kind)
		}
	}
	return nil
}
