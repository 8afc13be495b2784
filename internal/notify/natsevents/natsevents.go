// Package natsevents fans workflow progress events out to NATS subjects of
// the form <prefix>.<workflow id>.<stage>.
package natsevents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/warden/internal/workflow"
)

// DefaultSubject is the subject prefix used when none is configured.
const DefaultSubject = "warden.workflow"

type publisher interface {
	Publish(subject string, data []byte) error
}

// Message is the wire form of one progress event.
type Message struct {
	WorkflowID string         `json:"workflow_id"`
	Event      workflow.Event `json:"event"`
}

// Publisher publishes progress events. Publish errors are logged and
// never reach the workflow.
type Publisher struct {
	pub    publisher
	conn   *nats.Conn
	prefix string
	logger log.Logger
}

// Connect dials url and returns a publisher rooted at prefix.
func Connect(url, prefix string, logger log.Logger) (*Publisher, error) {
	if logger == nil {
		logger = log.Nop()
	}
	nc, err := nats.Connect(url,
		nats.Name("warden"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn(context.Background(), "nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info(context.Background(), "nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("natsevents: connect %s: %w", url, err)
	}
	p := newPublisher(nc, prefix, logger)
	p.conn = nc
	return p, nil
}

func newPublisher(pub publisher, prefix string, logger log.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultSubject
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Publisher{pub: pub, prefix: strings.TrimSuffix(prefix, "."), logger: logger}
}

// Subject returns the subject an event for workflowID is published on.
func (p *Publisher) Subject(workflowID string, stage workflow.Stage) string {
	return p.prefix + "." + workflowID + "." + string(stage)
}

// Progress has the workflow.ProgressFunc signature.
func (p *Publisher) Progress(workflowID string, ev workflow.Event) {
	data, err := json.Marshal(Message{WorkflowID: workflowID, Event: ev})
	if err != nil {
		p.logger.Error(context.Background(), err, "encode progress event", "workflow_id", workflowID, "stage", ev.Stage)
		return
	}
	if err := p.pub.Publish(p.Subject(workflowID, ev.Stage), data); err != nil {
		p.logger.Warn(context.Background(), "publish progress event failed", "workflow_id", workflowID, "stage", ev.Stage, "err", err)
	}
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}
