package ports

import "context"

// HealthChecker reports on one backing dependency.
type HealthChecker interface {
	// Ping returns nil when the dependency answers.
	Ping(ctx context.Context) error
	// Name is the dependency label used in the health payload ("postgresql", "redis").
	Name() string
}
