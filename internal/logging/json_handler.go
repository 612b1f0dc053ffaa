package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"omzet/internal/services"
)

// newJSONHandler writes one object per line in the shape `omzet logs` filters
// on: "ts" in UTC with nanoseconds so records line up with ledger timestamps,
// lowercase levels, and classified errors expanded to {message, kind}.
func newJSONHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       lvl,
		AddSource:   addSource,
		ReplaceAttr: replaceJSONAttr,
	})
}

func replaceJSONAttr(groups []string, attr slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return attr
	}
	switch attr.Key {
	case slog.TimeKey:
		if attr.Value.Kind() == slog.KindTime {
			return slog.String("ts", attr.Value.Time().UTC().Format(time.RFC3339Nano))
		}
		attr.Key = "ts"
	case slog.LevelKey:
		attr.Value = slog.StringValue(strings.ToLower(attr.Value.String()))
	case slog.SourceKey:
		if src, ok := attr.Value.Any().(*slog.Source); ok && src != nil {
			attr.Value = slog.StringValue(fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
		}
	case "error":
		if err, ok := attr.Value.Any().(error); ok && classified(err) {
			attr.Value = slog.GroupValue(
				slog.String("message", err.Error()),
				slog.String("kind", services.Kind(err)),
			)
		}
	}
	return attr
}

// classified reports whether err carries one of the services markers.
func classified(err error) bool {
	return services.Kind(err) != "transient" || errors.Is(err, services.ErrTransient)
}
