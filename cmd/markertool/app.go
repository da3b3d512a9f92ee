package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/OCAP2/markers/internal/config"
	"github.com/OCAP2/markers/internal/logging"
	otelprov "github.com/OCAP2/markers/internal/otel"
	"github.com/OCAP2/markers/internal/profile"
)

const programName = "markertool"

// app is the state shared by all subcommands of one invocation.
type app struct {
	out io.Writer

	logs    *logging.SlogManager
	logger  *slog.Logger
	zlog    zerolog.Logger
	otel    *otelprov.Provider
	logFile *os.File

	// current profile name, attached to every log record
	profileName string
}

func newApp(out io.Writer) *app {
	return &app{
		out:    out,
		logs:   logging.NewSlogManager(),
		logger: slog.Default(),
		zlog:   zerolog.Nop(),
	}
}

// setup loads the config and builds the loggers and the OTel provider.
func (a *app) setup(cmd *cobra.Command) error {
	flags := cmd.Root().PersistentFlags()
	configDir, _ := flags.GetString("config-dir")

	if err := config.Load(configDir); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
	}
	for key, flag := range map[string]string{"logLevel": "log-level", "logsDir": "logs-dir", "jobs": "jobs"} {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return fmt.Errorf("binding --%s: %w", flag, err)
		}
	}

	switch c, _ := flags.GetString("color"); c {
	case "on":
		color.NoColor = false
	case "off":
		color.NoColor = true
	}

	level := config.GetString("logLevel")
	var logWriter io.Writer
	if dir := config.GetString("logsDir"); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating logs dir: %w", err)
		}
		f, err := os.OpenFile(logging.LogFilePath(dir, programName, time.Now()), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		a.logFile = f
		logWriter = f
	}

	stats, _ := flags.GetBool("stats")
	otelCfg := config.GetOTelConfig()
	prov, err := otelprov.New(otelprov.Config{
		Enabled:        otelCfg.Enabled,
		ServiceName:    otelCfg.ServiceName,
		BatchTimeout:   otelCfg.BatchTimeout,
		LogWriter:      logWriter,
		Endpoint:       otelCfg.Endpoint,
		Insecure:       otelCfg.Insecure,
		CollectMetrics: stats,
	})
	if err != nil {
		return fmt.Errorf("setting up OTel: %w", err)
	}
	a.otel = prov

	var extra []slog.Handler
	if gl := config.GetGraylogConfig(); gl.Enabled {
		h, err := logging.NewGELFHandler(gl.Address, programName, slogLevel(level))
		if err != nil {
			return err
		}
		extra = append(extra, h)
	}

	var file io.Writer
	if a.logFile != nil {
		file = a.logFile
	}
	a.logs.Setup(file, level, prov.LoggerProvider(), extra...)
	a.logs.SetContext(func() []slog.Attr {
		if a.profileName == "" {
			return nil
		}
		return []slog.Attr{slog.String("profile", a.profileName)}
	})
	a.logger = a.logs.Logger()

	zw := io.Writer(os.Stderr)
	if a.logFile != nil {
		zw = a.logFile
	}
	zlevel, err := zerolog.ParseLevel(level)
	if err != nil {
		zlevel = zerolog.InfoLevel
	}
	a.zlog = zerolog.New(zw).Level(zlevel).With().Timestamp().Str("program", programName).Logger()

	return nil
}

// teardown prints collected metrics and flushes every sink.
func (a *app) teardown(cmd *cobra.Command) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if a.otel != nil {
		if stats, err := a.otel.Stats(ctx); err != nil {
			errs = append(errs, err)
		} else if len(stats) > 0 {
			printStats(a.out, stats)
		}
		errs = append(errs, a.logs.Flush(ctx), a.otel.Shutdown(ctx))
	}
	if a.logFile != nil {
		errs = append(errs, a.logFile.Close())
		a.logFile = nil
	}
	return errors.Join(errs...)
}

func (a *app) pipeline() (*profile.Pipeline, error) {
	return profile.NewPipeline(a.logger, config.GetInt("jobs"))
}

func slogLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
