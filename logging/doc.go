// Package logging provides the minimal Logger interface consumed by every
// pipeline package and its slog-backed implementation.
//
//   - Logger interface for dependency injection
//   - PipelineLogger with request/component context, stack capture and step,
//     model call and loop helpers
//   - NoOpLogger for silent operation (tests, library defaults)
//
// Usage:
//
//	logger := logging.NewLogger(&logging.Config{Level: logging.LogLevelInfo, Format: "json", Output: os.Stderr})
//	eng := engine.New(deps, func(o *engine.Options) { o.Logger = logger.WithComponent("engine") })
//
// Arguments after the message are slog key/value pairs.
package logging
