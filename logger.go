package bluebonnet

import (
	"context"
	"log/slog"
)

// nopLogger is the package-wide default logger: it discards everything.
// Components accept a real logger through their WithLogger-style options.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
