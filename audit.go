package taskauth

import (
	"io"

	internalaudit "github.com/MrEthical07/taskauth/internal/audit"
	"go.uber.org/zap"
)

// AuditEvent is one authentication or security event.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events. Emit must not block for long; the engine
// calls it from a single delivery goroutine.
type AuditSink = internalaudit.Sink

// AuditSinkFunc adapts a function to [AuditSink].
type AuditSinkFunc = internalaudit.SinkFunc

// NoOpSink discards every event.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink buffers events on a channel.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// MultiSink fans out to several sinks.
type MultiSink = internalaudit.MultiSink

// NewChannelSink returns a [ChannelSink] with the given buffer.
func NewChannelSink(buffer int) *ChannelSink { return internalaudit.NewChannelSink(buffer) }

// NewJSONWriterSink returns a [JSONWriterSink] writing to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink { return internalaudit.NewJSONWriterSink(w) }

// NewZapSink returns a sink that logs events through logger.
func NewZapSink(logger *zap.Logger) AuditSink { return internalaudit.NewZapSink(logger) }
