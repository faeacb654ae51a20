// Package logging provides a minimal logging facade for the boundary host.
//
// This package defines a Logger interface that wraps a subset of the standard
// library's log/slog functionality. The interface is intentionally small to
// allow embedding applications to provide custom implementations for testing,
// redaction, or integration with existing logging systems.
//
// # Logger Interface
//
//	type Logger interface {
//	    Debug(ctx context.Context, msg string, args ...any)
//	    Info(ctx context.Context, msg string, args ...any)
//	    Warn(ctx context.Context, msg string, args ...any)
//	    Error(ctx context.Context, msg string, args ...any)
//	    With(args ...any) Logger
//	}
//
// # Default Implementation
//
//	// Use default logger (slog.Default())
//	logger := logging.New(nil)
//
//	// Use custom slog.Logger
//	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})
//	customLogger := logging.New(slog.New(handler))
//
// # Recent Lines
//
// Foreign callers usually cannot see the host process's stderr. A Ring wraps
// any slog.Handler and keeps the last N formatted lines, which the host serves
// through the cbffi_recent_log export:
//
//	ring := logging.NewRing(512)
//	logger := logging.New(slog.New(ring.Wrap(slog.NewTextHandler(os.Stderr, nil))))
//	lines := ring.Recent(20)
//
// # Redaction Support
//
//	logger.Info(ctx, "key imported", logging.Redacted("secret"))
//	// Logs: secret="[redacted]"
//
// # Security Considerations
//
//   - Never log private keys or raw payloads that may contain secrets
//   - Use logging.Redacted() to mark sensitive attributes
//   - The recent-line ring is readable by any caller of the boundary
package logging
