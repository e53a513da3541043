package bus

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Handler processes one delivered message. Exactly one of ack or nack should
// be called; nack asks the broker to redeliver up to the consumer's
// max-deliver limit.
type Handler func(payload []byte, attrs map[string]string, ack func(), nack func())

// QueueOptions configures a durable work-queue consumer. All members of the
// same Group share the subscription; each message is delivered to one of
// them at a time.
type QueueOptions struct {
	Group      string
	AckWait    time.Duration
	MaxDeliver int
	MaxPending int
}

type Client struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

func NewClient(bus *Bus) (*Client, error) {
	return NewClientFromURL(bus.ClientURL())
}

func NewClientFromURL(url string, opts ...nats.Option) (*Client, error) {
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	return &Client{conn: conn, js: js}, nil
}

// EnsureStream creates the backing stream if it does not exist yet. Safe to
// call from every process at startup.
func (c *Client) EnsureStream(name string, subjects []string, maxAge time.Duration) error {
	_, err := c.js.StreamInfo(name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %s: %w", name, err)
	}

	_, err = c.js.AddStream(&nats.StreamConfig{
		Name:      name,
		Subjects:  subjects,
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    maxAge,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", name, err)
	}
	return nil
}

// Publish sends a message and waits for the broker's acknowledgment. The
// returned id is the stream sequence assigned to the message.
func (c *Client) Publish(topic string, payload []byte, attrs map[string]string) (string, error) {
	msg := nats.NewMsg(topic)
	msg.Data = payload
	for k, v := range attrs {
		msg.Header.Set(k, v)
	}

	ack, err := c.js.PublishMsg(msg)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	return fmt.Sprintf("%s/%d", ack.Stream, ack.Sequence), nil
}

// Subscribe attaches a per-instance consumer that sees every new message on
// topic. Used by the response aggregator, where each process tracks its own
// waiters.
func (c *Client) Subscribe(topic string, handler Handler) (func(), error) {
	sub, err := c.js.Subscribe(topic, func(m *nats.Msg) {
		handler(m.Data, headerAttrs(m.Header),
			func() { _ = m.Ack() },
			func() { _ = m.Nak() })
	}, nats.DeliverNew(), nats.ManualAck())
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

// QueueSubscribe attaches a durable work-queue consumer. Messages left
// unacknowledged past AckWait, or nacked, are redelivered up to MaxDeliver
// attempts; MaxPending bounds in-flight deliveries across the group.
func (c *Client) QueueSubscribe(topic string, opts QueueOptions, handler Handler) (func(), error) {
	if opts.Group == "" {
		return nil, fmt.Errorf("queue subscribe %s: empty group", topic)
	}

	subOpts := []nats.SubOpt{nats.ManualAck(), nats.DeliverAll()}
	if opts.AckWait > 0 {
		subOpts = append(subOpts, nats.AckWait(opts.AckWait))
	}
	if opts.MaxDeliver > 0 {
		subOpts = append(subOpts, nats.MaxDeliver(opts.MaxDeliver))
	}
	if opts.MaxPending > 0 {
		subOpts = append(subOpts, nats.MaxAckPending(opts.MaxPending))
	}

	sub, err := c.js.QueueSubscribe(topic, opts.Group, func(m *nats.Msg) {
		handler(m.Data, headerAttrs(m.Header),
			func() { _ = m.Ack() },
			func() { _ = m.Nak() })
	}, subOpts...)
	if err != nil {
		return nil, fmt.Errorf("queue subscribe %s: %w", topic, err)
	}
	return func() { _ = sub.Drain() }, nil
}

// Request performs a core NATS request/reply, used for the command channel
// between CLIs and a running gateway.
func (c *Client) Request(topic string, data []byte, timeout time.Duration) (*nats.Msg, error) {
	return c.conn.Request(topic, data, timeout)
}

// Respond registers a core NATS handler for request/reply traffic.
func (c *Client) Respond(topic string, handler func(msg *nats.Msg)) (func(), error) {
	sub, err := c.conn.Subscribe(topic, handler)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

func (c *Client) Flush() error {
	return c.conn.Flush()
}

func (c *Client) Close() {
	c.conn.Close()
}

func headerAttrs(h nats.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	attrs := make(map[string]string, len(h))
	for k := range h {
		attrs[k] = h.Get(k)
	}
	return attrs
}
