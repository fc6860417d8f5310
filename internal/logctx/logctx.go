// Package logctx threads a single process-wide logrus logger through a
// context.Context, mirroring the log.G(ctx) accessor pattern the teacher
// repo uses (there sourced from kraftkit.sh/log, reimplemented here directly
// over logrus since kraftkit itself isn't carried forward).
package logctx

import (
	"context"

	"github.com/sirupsen/logrus"
)

type ctxKey struct{}

// WithLogger attaches logger to ctx, returning the derived context.
func WithLogger(ctx context.Context, logger *logrus.Entry) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// G returns the logger attached to ctx, or a standalone default logger if
// none was attached.
func G(ctx context.Context) *logrus.Entry {
	if l, ok := ctx.Value(ctxKey{}).(*logrus.Entry); ok && l != nil {
		return l
	}
	return logrus.NewEntry(logrus.StandardLogger())
}
