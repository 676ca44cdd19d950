// Package audit carries authentication and security events to a sink without
// blocking request paths.
//
// The [Dispatcher] buffers events and delivers them from one goroutine;
// DropIfFull trades completeness for latency. Sinks: [NoOpSink], [ChannelSink],
// [JSONWriterSink], [ZapSink] and [MultiSink].
package audit
