package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// console is where records go when no log file is configured. Tests swap it.
var console io.Writer = os.Stdout

// SlogManager owns the process logger: one text sink (log file or console),
// the OTel bridge when a provider is given, and any extra handlers such as
// Graylog.
type SlogManager struct {
	base   slog.Handler
	logger *slog.Logger
	otel   *sdklog.LoggerProvider
}

func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

// parseLevel accepts slog level names in any case ("debug", "WARN", "info+2").
// Anything else is Info.
func parseLevel(level string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// utcTime renders record times as RFC 3339 in UTC.
func utcTime(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.TimeKey {
		return a
	}
	if t, ok := a.Value.Any().(time.Time); ok {
		a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
	}
	return a
}

// Setup (re)builds the logger. Records go to file, or to the console when
// file is nil. provider may be nil.
func (m *SlogManager) Setup(file io.Writer, level string, provider *sdklog.LoggerProvider, extra ...slog.Handler) {
	out := file
	if out == nil {
		out = console
	}
	sinks := []slog.Handler{
		slog.NewTextHandler(out, &slog.HandlerOptions{Level: parseLevel(level), ReplaceAttr: utcTime}),
	}
	if provider != nil {
		sinks = append(sinks, otelslog.NewHandler("markers", otelslog.WithLoggerProvider(provider)))
	}
	sinks = append(sinks, extra...)

	m.otel = provider
	m.base = NewMultiHandler(sinks...)
	m.logger = slog.New(m.base)
	m.logger.Info("Logging initialized", "level", level, "sinks", len(sinks))
}

// SetContext attaches attributes computed per record, e.g. the profile
// currently being processed. It has no effect before Setup.
func (m *SlogManager) SetContext(provider ContextProvider) {
	if m.base != nil {
		m.logger = slog.New(NewContextHandler(m.base, provider))
	}
}

// Logger returns the configured logger, or slog.Default before Setup.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger != nil {
		return m.logger
	}
	return slog.Default()
}

// Flush pushes buffered OTel log records to their exporter.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.otel == nil {
		return nil
	}
	return m.otel.ForceFlush(ctx)
}
