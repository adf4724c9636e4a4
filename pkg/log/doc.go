// Package log provides protocol capture for the UPnP stack.
//
// This package defines the Logger interface and Event types for recording
// what goes over the wire: SSDP datagrams, HTTP requests and responses on
// the miniserver, GENA subscriptions and notifications, SOAP actions. It is
// separate from operational logging (slog). Capture gives a complete,
// machine-readable trace that can be replayed with the upnp-log tool.
//
// # Basic Usage
//
// Components take a ProtocolLogger in their config:
//
//	// Development: print events through slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// Production: append to a capture file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("/var/log/upnp/device.ulog")
//
//	// Both
//	cfg.ProtocolLogger = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Event Types
//
// Each event carries exactly one payload:
//   - Datagram: raw UDP bytes (SSDP over HTTPU)
//   - Message: a parsed HTTP start line and headers
//   - StateChange: subscription, advertisement, or server lifecycle
//   - Error: a failure at any layer
//
// # File Format
//
// Capture files are a stream of CBOR-encoded events with integer keys,
// conventionally named *.ulog.
package log
