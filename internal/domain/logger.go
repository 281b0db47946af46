package domain

import (
	"context"
)

// Logger is the structured logger used throughout the service.
// Every method takes the request context so adapters can attach request ids,
// account ids and the hashed session reference stored in it.
// Fields are alternating key-value pairs.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...any)
	Info(ctx context.Context, msg string, fields ...any)
	Warn(ctx context.Context, msg string, fields ...any)
	Error(ctx context.Context, msg string, fields ...any)
	Fatal(ctx context.Context, msg string, fields ...any) // exits the process

	// With creates a child logger with the provided structured context fields.
	With(fields ...any) Logger
}
