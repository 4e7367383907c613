package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/afganisis/AI-MONITORING-AGENT/pkg/logging"
	"github.com/afganisis/AI-MONITORING-AGENT/pkg/types"
)

// SubjectPrefix is the root of all event subjects. An event of type
// fix_success is published to "agent.events.fix_success".
const SubjectPrefix = "agent.events"

// NATSSink publishes agent events to a NATS server as JSON.
// Publish failures are logged and swallowed: event delivery is best effort
// and must never interfere with remediation.
type NATSSink struct {
	conn     *nats.Conn
	ownsConn bool
	logger   *logging.Logger
}

// NewNATSSink connects to the NATS server at url and returns a sink.
func NewNATSSink(url string) (*NATSSink, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return &NATSSink{
		conn:     nc,
		ownsConn: true,
		logger:   logging.ComponentLogger("events-nats"),
	}, nil
}

// NewNATSSinkWithConn wraps an existing connection. The caller retains
// ownership of the connection; Close on the sink does not close it.
func NewNATSSinkWithConn(nc *nats.Conn) *NATSSink {
	return &NATSSink{
		conn:   nc,
		logger: logging.ComponentLogger("events-nats"),
	}
}

// Publish serializes the event and publishes it to agent.events.<type>.
func (s *NATSSink) Publish(event *types.AgentEvent) {
	if event == nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Errorf("Failed to marshal %s event: %v", event.Type, err)
		return
	}

	subject := fmt.Sprintf("%s.%s", SubjectPrefix, event.Type)
	if err := s.conn.Publish(subject, data); err != nil {
		s.logger.Warnf("Failed to publish %s event: %v", event.Type, err)
	}
}

// Close closes the underlying connection when the sink created it.
func (s *NATSSink) Close() {
	if s.ownsConn && s.conn != nil && !s.conn.IsClosed() {
		s.conn.Close()
	}
}
