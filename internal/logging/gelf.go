package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/Graylog2/go-gelf/gelf"
)

// gelfWriter is the part of *gelf.Writer the handler needs.
type gelfWriter interface {
	WriteMessage(m *gelf.Message) error
}

// GELFHandler ships log records to Graylog as GELF messages.
type GELFHandler struct {
	w        gelfWriter
	level    slog.Leveler
	host     string
	facility string
	attrs    []slog.Attr
	prefix   string // dotted group path applied to later attrs
}

// NewGELFHandler dials addr over UDP. facility names the sending program.
func NewGELFHandler(addr, facility string, level slog.Leveler) (*GELFHandler, error) {
	w, err := gelf.NewWriter(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to create GELF writer: %w", err)
	}
	return newGELFHandler(w, facility, level), nil
}

func newGELFHandler(w gelfWriter, facility string, level slog.Leveler) *GELFHandler {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	if level == nil {
		level = slog.LevelInfo
	}
	return &GELFHandler{w: w, level: level, host: host, facility: facility}
}

// Enabled reports whether records at level are shipped.
func (h *GELFHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle converts r into a GELF message. Attributes become "_"-prefixed
// additional fields.
func (h *GELFHandler) Handle(_ context.Context, r slog.Record) error {
	extra := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		addExtra(extra, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		addExtra(extra, h.prefix, a)
		return true
	})

	msg := &gelf.Message{
		Version:  "1.1",
		Host:     h.host,
		Short:    r.Message,
		TimeUnix: float64(r.Time.UnixNano()) / 1e9,
		Level:    syslogLevel(r.Level),
		Facility: h.facility,
		Extra:    extra,
	}
	return h.w.WriteMessage(msg)
}

// WithAttrs returns a handler that adds attrs to every message.
func (h *GELFHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	c.attrs = append(c.attrs, h.attrs...)
	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		c.attrs = append(c.attrs, a)
	}
	return &c
}

// WithGroup returns a handler that nests later attrs under name.
func (h *GELFHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.prefix = h.prefix + name + "."
	return &c
}

func addExtra(extra map[string]any, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p = prefix + a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			addExtra(extra, p, ga)
		}
		return
	}
	key := "_" + strings.ReplaceAll(prefix+a.Key, " ", "_")
	switch a.Value.Kind() {
	case slog.KindInt64, slog.KindUint64, slog.KindFloat64:
		extra[key] = a.Value.Any()
	default:
		extra[key] = a.Value.String()
	}
}

// syslogLevel maps slog levels onto the syslog severities GELF uses.
func syslogLevel(l slog.Level) int32 {
	switch {
	case l >= slog.LevelError:
		return 3
	case l >= slog.LevelWarn:
		return 4
	case l >= slog.LevelInfo:
		return 6
	default:
		return 7
	}
}
