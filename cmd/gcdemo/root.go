package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose   bool
	allocKind string
	trace     bool
)

var rootCmd = &cobra.Command{
	Use:   "gcdemo",
	Short: "Walk through reference-counted handle scenarios",
	Long: `gcdemo runs the handle lifecycle scenarios against a chosen allocator
and prints every registry after each step.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().
		StringVar(&allocKind, "alloc", "heap", "Allocator: heap, slab or mmap")
	rootCmd.PersistentFlags().
		BoolVar(&trace, "trace", false, "Record allocation call sites and report leaks")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newLogger writes to w, at debug level when --verbose is set.
func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
