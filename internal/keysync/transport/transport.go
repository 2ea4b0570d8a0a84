package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/zenvinnovations/keysync/internal/keysync/types"
)

// DefaultAckToken is the literal payload devices expect as the reply to a
// request, and echo back after receiving any message.
const DefaultAckToken = "ACK"

const (
	defaultSubjectPrefix  = "keysync.device"
	defaultReconnectWait  = 5 * time.Second
	defaultPublishTimeout = 5 * time.Second
	handleTimeout         = 10 * time.Second
)

// Broker is the minimal pub/sub surface the transport needs.  *nats.Conn
// satisfies it through natsBroker; tests supply fakes.
type Broker interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler func(subject string, data []byte)) error
	Flush(timeout time.Duration) error
	Close()
}

// DeviceHandler services a device pull request for one access point.
type DeviceHandler interface {
	HandleDeviceSync(ctx context.Context, accessPointID string, req types.DeviceRequest) error
}

type Config struct {
	URL            string        // broker URL, e.g. nats://127.0.0.1:4222
	SubjectPrefix  string        // per-access-point subjects are <prefix>.<id>
	AckToken       string        // defaults to DefaultAckToken
	ReconnectWait  time.Duration // fixed delay between reconnect attempts
	PublishTimeout time.Duration // bound on publish flush
}

func (c *Config) fillDefaults() {
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = defaultSubjectPrefix
	}
	if c.AckToken == "" {
		c.AckToken = DefaultAckToken
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = defaultReconnectWait
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = defaultPublishTimeout
	}
}

// Transport is the sole holder of the broker connection.  It publishes
// compiled snapshots on per-access-point subjects and consumes device
// messages from the wildcard subscription, suppressing the ack-token echo
// loop.  Reconnection is delegated to the NATS client: fixed wait,
// unlimited retries, and the process never exits on connection failure.
type Transport struct {
	cfg     Config
	broker  Broker
	handler DeviceHandler
	logger  *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg Config, logger *log.Logger) *Transport {
	cfg.fillDefaults()
	return &Transport{cfg: cfg, logger: logger}
}

// NewWithBroker wires an existing broker; used by tests.
func NewWithBroker(cfg Config, broker Broker, logger *log.Logger) *Transport {
	cfg.fillDefaults()
	return &Transport{cfg: cfg, broker: broker, logger: logger}
}

// Connect dials the broker.  RetryOnFailedConnect makes the initial dial
// succeed immediately and reconnect in the background, so a server can come
// up before its broker.
func (t *Transport) Connect() error {
	if t.broker != nil {
		return nil
	}
	conn, err := nats.Connect(t.cfg.URL,
		nats.Name("keysync-transport"),
		nats.RetryOnFailedConnect(true),
		nats.ReconnectWait(t.cfg.ReconnectWait),
		nats.MaxReconnects(-1),
		nats.NoEcho(),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			t.logger.Printf("broker disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			t.logger.Printf("broker reconnected: %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	t.broker = &natsBroker{conn: conn}
	return nil
}

// Start subscribes to the wildcard device subject and begins servicing
// inbound messages with the given handler.
func (t *Transport) Start(ctx context.Context, handler DeviceHandler) error {
	if t.broker == nil {
		return errors.New("transport not connected")
	}
	t.handler = handler
	t.ctx, t.cancel = context.WithCancel(ctx)

	subject := t.cfg.SubjectPrefix + ".*"
	if err := t.broker.Subscribe(subject, t.onMessage); err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	t.logger.Printf("transport subscribed to %s", subject)
	return nil
}

// Close stops message handling and closes the broker connection.
func (t *Transport) Close() {
	if t.cancel != nil {
		t.cancel()
	}
	if t.broker != nil {
		t.broker.Close()
	}
}

// PublishSnapshot serializes the snapshot and publishes it on the access
// point's subject.  Delivery is best-effort: the caller's dirty flag is the
// source of truth, so failures are returned, not retried here.
func (t *Transport) PublishSnapshot(_ context.Context, accessPointID string, snap types.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	subject := t.subjectFor(accessPointID)
	if err := t.broker.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	if err := t.broker.Flush(t.cfg.PublishTimeout); err != nil {
		return fmt.Errorf("flush %s: %w", subject, err)
	}
	return nil
}

func (t *Transport) subjectFor(accessPointID string) string {
	return t.cfg.SubjectPrefix + "." + accessPointID
}

// onMessage handles one inbound device message.
//
// Loop avoidance: devices echo the last message they received back on the
// same subject.  Inbound ack tokens are discarded, and only an explicit
// sync request triggers a republish — an echoed snapshot is acknowledged
// without recompiling, otherwise each publish would trigger the next.
func (t *Transport) onMessage(subject string, data []byte) {
	apID := strings.TrimPrefix(subject, t.cfg.SubjectPrefix+".")
	if apID == subject || apID == "" || strings.Contains(apID, ".") {
		t.logger.Printf("transport: message on unexpected subject %q", subject)
		return
	}

	if string(data) == t.cfg.AckToken {
		return
	}

	var req types.DeviceRequest
	if err := json.Unmarshal(data, &req); err != nil {
		t.logger.Printf("transport: malformed message on %s: %v", subject, err)
		return
	}

	if req.IsSync() {
		ctx, cancel := context.WithTimeout(t.ctx, handleTimeout)
		defer cancel()
		if err := t.handler.HandleDeviceSync(ctx, apID, req); err != nil {
			t.logger.Printf("transport: device sync %s: %v", apID, err)
		}
	}

	// Acknowledge any well-formed device message to stop retransmission.
	if err := t.broker.Publish(subject, []byte(t.cfg.AckToken)); err != nil {
		t.logger.Printf("transport: ack %s: %v", subject, err)
	}
}

type natsBroker struct {
	conn *nats.Conn
}

func (b *natsBroker) Publish(subject string, data []byte) error {
	return b.conn.Publish(subject, data)
}

func (b *natsBroker) Subscribe(subject string, handler func(subject string, data []byte)) error {
	_, err := b.conn.Subscribe(subject, func(m *nats.Msg) {
		handler(m.Subject, m.Data)
	})
	return err
}

func (b *natsBroker) Flush(timeout time.Duration) error {
	return b.conn.FlushTimeout(timeout)
}

func (b *natsBroker) Close() {
	b.conn.Close()
}
