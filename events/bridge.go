package events

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// NATSBridge mirrors every event published on a Bus onto a NATS subject
// per project, for cross-process observers. It is optional: the
// in-process Bus is fully functional without it.
type NATSBridge struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
	sub    <-chan Event
	done   chan struct{}
}

// NewNATSBridge mirrors events from ch (typically Bus.Subscribe("")) onto
// subjects "<prefix>.<projectID>".
func NewNATSBridge(conn *nats.Conn, prefix string, ch <-chan Event, logger *slog.Logger) *NATSBridge {
	if logger == nil {
		logger = slog.Default()
	}
	br := &NATSBridge{conn: conn, prefix: prefix, logger: logger, sub: ch, done: make(chan struct{})}
	go br.run()
	return br
}

func (b *NATSBridge) run() {
	for {
		select {
		case e, ok := <-b.sub:
			if !ok {
				return
			}
			subject := fmt.Sprintf("%s.%s", b.prefix, e.ProjectID)
			data, err := json.Marshal(e)
			if err != nil {
				b.logger.Warn("failed to marshal event for NATS bridge", slog.String("error", err.Error()))
				continue
			}
			if err := b.conn.Publish(subject, data); err != nil {
				b.logger.Warn("failed to publish event to NATS", slog.String("subject", subject), slog.String("error", err.Error()))
			}
		case <-b.done:
			return
		}
	}
}

// Close stops the bridge goroutine.
func (b *NATSBridge) Close() {
	close(b.done)
}
