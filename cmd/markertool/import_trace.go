package main

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/OCAP2/markers/internal/codec"
	"github.com/OCAP2/markers/internal/parser"
)

func newImportTraceCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-trace [flags] trace.json",
		Short: "Convert a Trace Event Format file into a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runImportTrace(cmd, args[0])
		},
	}
	cmd.Flags().StringP("output", "o", "", "output profile file (.json, .msgpack, optionally .gz)")
	cmd.Flags().String("product", "", "product name recorded in the profile meta")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func (a *app) runImportTrace(cmd *cobra.Command, path string) error {
	output, _ := cmd.Flags().GetString("output")
	product, _ := cmd.Flags().GetString("product")

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open trace: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	a.profileName = profileName(path)
	prof, err := parser.NewParser(a.logger).ParseTrace(r)
	if err != nil {
		return err
	}
	if product != "" {
		prof.Meta.Product = product
	}

	if err := codec.WriteFile(output, prof); err != nil {
		return fmt.Errorf("writing profile: %w", err)
	}

	rows := 0
	for _, t := range prof.Threads {
		rows += t.Markers.Len()
	}
	a.logger.Info("Trace imported", "path", output, "threads", len(prof.Threads), "rows", rows)
	fmt.Fprintf(a.out, "imported %d threads, %d rows into %s\n", len(prof.Threads), rows, output)
	return nil
}
