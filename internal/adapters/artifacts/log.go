package artifacts

import (
	"context"
	"errors"
	"log/slog"
)

// LogHandler returns a handler that passes every record to base and, while a
// run is active, also writes it as text to the run's logs.txt. Levels follow base.
func (s *DirSink) LogHandler(base slog.Handler) slog.Handler {
	return &runLogHandler{
		base: base,
		file: slog.NewTextHandler(runLogWriter{s}, &slog.HandlerOptions{Level: slog.LevelDebug}),
	}
}

type runLogHandler struct {
	base slog.Handler
	file slog.Handler
}

func (h *runLogHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.base.Enabled(ctx, l)
}

func (h *runLogHandler) Handle(ctx context.Context, r slog.Record) error {
	return errors.Join(h.base.Handle(ctx, r.Clone()), h.file.Handle(ctx, r))
}

func (h *runLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &runLogHandler{base: h.base.WithAttrs(attrs), file: h.file.WithAttrs(attrs)}
}

func (h *runLogHandler) WithGroup(name string) slog.Handler {
	return &runLogHandler{base: h.base.WithGroup(name), file: h.file.WithGroup(name)}
}

// runLogWriter drops output when no run is active.
type runLogWriter struct {
	s *DirSink
}

func (w runLogWriter) Write(p []byte) (int, error) {
	w.s.logMu.Lock()
	defer w.s.logMu.Unlock()
	if w.s.logFile == nil {
		return len(p), nil
	}
	return w.s.logFile.Write(p)
}
