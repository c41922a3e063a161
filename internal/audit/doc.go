// Package audit relays authentication events to a sink off the request path.
//
// [Dispatcher] buffers events and delivers them from one goroutine. With
// DropIfFull it never blocks a login; dropped events are counted instead.
// Sinks: [NoOpSink], [ChannelSink], [JSONWriterSink] and [ZapSink].
//
// The package does not decide which events to emit.
package audit
