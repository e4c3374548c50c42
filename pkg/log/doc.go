// Package log provides structured protocol logging for daqlink.
//
// This package defines the Logger interface and Event types for capturing
// protocol-level events at multiple layers (transport, markup, mirror, store).
// It is separate from operational logging (slog): protocol capture provides
// a complete machine-readable trace of the frames exchanged with a device
// and of the rows moved through the shared store.
//
// # Basic Usage
//
//	// For development: log to console via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("/var/log/daqlink/client.dlog")
//
//	// Both: use MultiLogger
//	cfg.ProtocolLogger = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Event Types
//
//   - Transport: raw frame bytes (FrameEvent)
//   - Markup: decoded documents (MessageEvent)
//   - Mirror/transport: connection state changes (StateChangeEvent)
//   - Store: polled and written rows (RowEvent)
//
// Errors at any layer have a dedicated event type.
//
// # File Format
//
// Log files are a stream of CBOR-encoded events (.dlog). The daqlink-log
// tool provides viewing and summary statistics.
package log
