package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/OCAP2/markers/internal/codec"
	"github.com/OCAP2/markers/internal/profile"
	"github.com/OCAP2/markers/pkg/core"
)

func newDeriveCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "derive [flags] profile.json",
		Short: "Derive logical markers from a profile",
		Long:  `Derive pairs start and end rows of every thread into logical markers and prints a per-thread summary`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runDerive(cmd, args[0])
		},
	}
	cmd.Flags().StringP("output", "o", "", "write the derived markers to this file (.json, .msgpack, optionally .gz)")
	cmd.Flags().Bool("list", false, "list every derived marker")
	return cmd
}

func (a *app) runDerive(cmd *cobra.Command, path string) error {
	output, _ := cmd.Flags().GetString("output")
	list, _ := cmd.Flags().GetBool("list")

	prof, infos, err := a.loadAndDerive(cmd, path)
	if err != nil {
		return err
	}

	printSummary(a.out, prof, infos)
	if list {
		printMarkers(a.out, prof, infos)
	}

	if output == "" {
		return nil
	}
	doc, err := codec.NewDerivedDocument(prof, infos)
	if err != nil {
		return err
	}
	if err := codec.WriteDerivedFile(output, doc); err != nil {
		return fmt.Errorf("writing derived markers: %w", err)
	}
	a.logger.Info("Derived markers written", "path", output)
	return nil
}

// loadAndDerive reads a profile file and derives every thread.
func (a *app) loadAndDerive(cmd *cobra.Command, path string) (*profile.Profile, []*core.DerivedMarkerInfo, error) {
	prof, err := codec.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	a.profileName = profileName(path)
	a.logger.Info("Profile loaded", "path", path, "threads", len(prof.Threads))

	p, err := a.pipeline()
	if err != nil {
		return nil, nil, err
	}
	return p.DeriveAll(cmd.Context(), prof)
}

// profileName strips directory and known extensions from a profile path.
func profileName(path string) string {
	name := filepath.Base(path)
	name = strings.TrimSuffix(name, ".gz")
	return strings.TrimSuffix(name, filepath.Ext(name))
}
