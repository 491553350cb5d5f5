// Package events publishes workflow transitions to NATS for external
// collaborators (dashboards, domain validators, CI).
//
// Publishing is fire-and-forget: a manager operation never fails because
// an event could not be delivered. A nil Publisher is valid and publishes
// nothing, so callers need no configuration checks.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/specgate/internal/state"
)

// DefaultSubjectPrefix is the root of every published subject.
const DefaultSubjectPrefix = "specgate"

// PhaseEvent announces a workflow phase transition.
type PhaseEvent struct {
	WorkflowID string      `json:"workflowId"`
	From       state.Phase `json:"from"`
	To         state.Phase `json:"to"`
	Version    int64       `json:"version"`
	Timestamp  time.Time   `json:"ts"`
}

// BacklogEvent announces a backlog status change.
type BacklogEvent struct {
	WorkflowID    string              `json:"workflowId"`
	BacklogStatus state.BacklogStatus `json:"backlogStatus"`
	Override      bool                `json:"override"`
	Version       int64               `json:"version"`
	Timestamp     time.Time           `json:"ts"`
}

// Publisher sends workflow events over a NATS connection.
type Publisher struct {
	conn   *nats.Conn
	prefix string
	logger *zap.Logger
}

// Connect dials the NATS server and returns a publisher. The connection
// retries in the background so a broker restart does not break the
// manager.
func Connect(url, prefix string, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}

	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}

	logger.Info("connected to NATS", zap.String("url", url))
	return &Publisher{conn: nc, prefix: prefix, logger: logger}, nil
}

// PublishPhase announces a phase transition on
// <prefix>.workflow.<id>.phase. Safe on a nil publisher.
func (p *Publisher) PublishPhase(ev PhaseEvent) {
	if p == nil {
		return
	}
	p.publish(fmt.Sprintf("%s.workflow.%s.phase", p.prefix, ev.WorkflowID), ev)
}

// PublishBacklog announces a backlog change on
// <prefix>.workflow.<id>.backlog. Safe on a nil publisher.
func (p *Publisher) PublishBacklog(ev BacklogEvent) {
	if p == nil {
		return
	}
	p.publish(fmt.Sprintf("%s.workflow.%s.backlog", p.prefix, ev.WorkflowID), ev)
}

func (p *Publisher) publish(subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Warn("marshal event", zap.String("subject", subject), zap.Error(err))
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Warn("publish event", zap.String("subject", subject), zap.Error(err))
		return
	}
	p.logger.Debug("published event", zap.String("subject", subject))
}

// Close drains the connection. Safe on a nil publisher.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.conn.Close()
}
