package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/OCAP2/markers/internal/api"
	"github.com/OCAP2/markers/internal/config"
	"github.com/OCAP2/markers/internal/logging"
	"github.com/OCAP2/markers/internal/profile"
	"github.com/OCAP2/markers/internal/storage"
)

func newStoreCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store [flags] profile.json",
		Short: "Derive a profile and save it to the configured storage backends",
		Long: `Store derives every thread and hands the results to the backends named by storage.type
(memory, sqlite, postgres, parquet, influx, websocket; comma-separated for several).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runStore(cmd, args[0])
		},
	}
	cmd.Flags().String("type", "", "override storage.type")
	cmd.Flags().Bool("upload", false, "upload exported files to api.serverUrl")
	return cmd
}

func (a *app) runStore(cmd *cobra.Command, path string) error {
	typ, _ := cmd.Flags().GetString("type")
	upload, _ := cmd.Flags().GetBool("upload")

	prof, infos, err := a.loadAndDerive(cmd, path)
	if err != nil {
		return err
	}

	cfg := config.GetStorageConfig()
	if typ != "" {
		cfg.Type = typ
	}
	backend, err := storage.NewBackend(cfg, storage.Deps{
		ProfileName: a.profileName,
		Product:     prof.Meta.Product,
		Logger:      a.logger,
		ZLogger:     a.zlog,
	})
	if err != nil {
		return err
	}
	if err := backend.Init(); err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}

	// gctx is canceled once Wait returns, so queued saves get ctx instead
	ctx := cmd.Context()
	g, gctx := errgroup.WithContext(ctx)
	jobs := config.GetInt("jobs")
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}
	g.SetLimit(jobs)
	for _, r := range profile.Results(prof, infos) {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			a.logger.DebugContext(logging.ContextWith(ctx, slog.Int("thread", r.Index)), "Saving thread", "name", r.Thread.Name)
			if err := backend.SaveThread(ctx, r); err != nil {
				return fmt.Errorf("saving thread %d (%s): %w", r.Index, r.Thread.Name, err)
			}
			return nil
		})
	}
	saveErr := g.Wait()

	// Close flushes exports, so it runs even after a failed save.
	if err := errors.Join(saveErr, backend.Close()); err != nil {
		return err
	}
	a.logger.Info("Profile stored", "storage", cfg.Type, "threads", len(prof.Threads))
	fmt.Fprintf(a.out, "stored %d threads in %s\n", len(prof.Threads), okColor.Sprint(cfg.Type))

	ups := storage.Uploadables(backend)
	for _, u := range ups {
		if p := u.GetExportedFilePath(); p != "" {
			fmt.Fprintf(a.out, "exported %s\n", p)
		}
	}
	if !upload {
		return nil
	}
	return a.upload(ctx, ups)
}

func (a *app) upload(ctx context.Context, ups []storage.Uploadable) error {
	if len(ups) == 0 {
		a.logger.Warn("No backend produced an upload file")
		return nil
	}
	client := api.New(config.GetString("api.serverUrl"), config.GetString("api.apiKey"))
	if err := client.Healthcheck(ctx); err != nil {
		return fmt.Errorf("viewer server unreachable: %w", err)
	}
	for _, u := range ups {
		path := u.GetExportedFilePath()
		if path == "" {
			continue
		}
		if err := client.Upload(ctx, path, u.GetExportMetadata()); err != nil {
			return fmt.Errorf("uploading %s: %w", path, err)
		}
		a.logger.Info("Uploaded export", "path", path)
		fmt.Fprintf(a.out, "uploaded %s\n", path)
	}
	return nil
}
