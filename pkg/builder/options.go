package builder

import (
	"log/slog"

	"github.com/google/uuid"
)

// Option configures a GraphBuilder.
type Option func(*GraphBuilder)

// WithLogger sets the logger. Records carry "graph" and "session"
// attributes. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(b *GraphBuilder) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithSessionID sets the id used to correlate log records of one build
// session. By default a random id is generated.
func WithSessionID(id uuid.UUID) Option {
	return func(b *GraphBuilder) {
		b.session = id
	}
}
