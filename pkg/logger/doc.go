// Package logger builds *slog.Logger values that enrich every record with
// attributes pulled from the logging call's context.
//
// # Extractors
//
// A ContextExtractor turns a context into one attribute. Extractors run on
// every *Context logging call, so values tied to the current request are
// always fresh:
//
//	log := logger.New(
//		logger.FromValue(tenantKey{}, "tenant"),
//		logger.Static(slog.String("service", "billing")),
//	)
//	log.InfoContext(ctx, "invoice sent")
//
// Extractors that return false add nothing. ContextHandler applies them to
// any slog.Handler:
//
//	h := logger.NewContextHandler(slog.NewTextHandler(os.Stderr, nil), extractors...)
//
// # Configuration
//
// NewWithConfig picks the output, level and format:
//
//	log := logger.NewWithConfig(logger.Config{Level: "debug", Format: "text"})
//
// # Sentry
//
// NewWithSentry also forwards records to Sentry when a DSN is configured.
// Error records become issues; records at MinLevel and above are kept as
// Sentry logs. Without a DSN the logger only writes locally.
//
//	log := logger.NewWithSentry(logger.SentryConfig{
//		DSN:      dsn,
//		MinLevel: slog.LevelWarn,
//	})
//	defer logger.Flush(2 * time.Second)
package logger
