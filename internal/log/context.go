package log

import (
	"context"

	"github.com/sirupsen/logrus"
)

type loggerKey struct{}

var fallback = logrus.NewEntry(logrus.StandardLogger())

// WithLogger returns a new context derived from ctx that carries entry.
func WithLogger(ctx context.Context, entry *logrus.Entry) context.Context {
	return context.WithValue(ctx, loggerKey{}, entry.WithContext(ctx))
}

// G returns the [logrus.Entry] attached to ctx by [WithLogger], or a
// fallback entry bound to the standard logger and ctx if none was
// attached. Every scheduler-core log call goes through G(ctx) so that
// request-scoped fields (group id, vsmp id, cell id, ...) set once at
// the top of an operation are carried through every log line it emits.
func G(ctx context.Context) *logrus.Entry {
	if e, ok := ctx.Value(loggerKey{}).(*logrus.Entry); ok {
		return e
	}
	return fallback.WithContext(ctx)
}

// L is G(context.Background()).
func L() *logrus.Entry {
	return G(context.Background())
}
