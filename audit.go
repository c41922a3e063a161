package authgate

import (
	"io"

	"github.com/neurocheck/authgate/internal/audit"
	"go.uber.org/zap"
)

// AuditEvent is one security-relevant authentication outcome.
type AuditEvent = audit.Event

// AuditSink receives audit events from the dispatcher goroutine. Emit must
// be safe for concurrent use when the sink is shared between engines.
type AuditSink = audit.Sink

// NewZapAuditSink logs events through logger under the "audit" name.
func NewZapAuditSink(logger *zap.Logger) AuditSink {
	return audit.NewZapSink(logger)
}

// NewJSONAuditSink writes one JSON object per line to w.
func NewJSONAuditSink(w io.Writer) AuditSink {
	return audit.NewJSONWriterSink(w)
}

// NewChannelAuditSink buffers events in a channel, mostly for tests.
func NewChannelAuditSink(buffer int) *audit.ChannelSink {
	return audit.NewChannelSink(buffer)
}
