package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	// DefaultBuffer is the number of events held while the broker is slow
	// or unreachable.
	DefaultBuffer = 256

	dialTimeout    = 5 * time.Second
	publishTimeout = 5 * time.Second
	redialAfter    = 5 * time.Second
	drainTimeout   = 3 * time.Second
)

// ErrPublisherFull is returned when the event buffer has no room left.
var ErrPublisherFull = errors.New("security event buffer full")

// Publisher sends security events to RabbitMQ.  Publish only enqueues; a
// single worker started with Run owns one long-lived connection and
// channel and redials after the broker goes away.
type Publisher struct {
	url    string
	events chan SecurityEvent
	log    *zap.SugaredLogger

	dialTimeout time.Duration
	redialAfter time.Duration

	// owned by the Run goroutine
	conn    *amqp.Connection
	ch      *amqp.Channel
	retryAt time.Time
}

func NewPublisher(url string, buffer int, log *zap.SugaredLogger) *Publisher {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Publisher{
		url:         url,
		events:      make(chan SecurityEvent, buffer),
		log:         log,
		dialTimeout: dialTimeout,
		redialAfter: redialAfter,
	}
}

// Publish queues ev for delivery without waiting on the broker.  It fails
// with ErrPublisherFull when the buffer is full and with ctx's error when
// ctx is already done.
func (p *Publisher) Publish(ctx context.Context, ev SecurityEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case p.events <- ev:
		return nil
	default:
		return ErrPublisherFull
	}
}

// Run delivers queued events until ctx is cancelled, then makes one
// bounded attempt to flush what is still buffered and closes the
// connection.
func (p *Publisher) Run(ctx context.Context) {
	defer p.closeConn()
	for {
		select {
		case ev := <-p.events:
			p.deliver(ev)
		case <-ctx.Done():
			p.drain()
			return
		}
	}
}

func (p *Publisher) drain() {
	deadline := time.Now().Add(drainTimeout)
	for time.Now().Before(deadline) {
		select {
		case ev := <-p.events:
			p.deliver(ev)
		default:
			return
		}
	}
	if n := len(p.events); n > 0 {
		p.log.Warnw("security events dropped on shutdown", "count", n)
	}
}

func (p *Publisher) deliver(ev SecurityEvent) {
	ch, err := p.channel()
	if err != nil {
		p.log.Warnw("security event dropped", "event", ev.Event, "err", err)
		return
	}

	body, err := json.Marshal(ev)
	if err != nil {
		p.log.Warnw("security event dropped", "event", ev.Event, "err", fmt.Errorf("marshal event: %w", err))
		return
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         ev.Event,
		Body:         body,
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := ch.PublishWithContext(ctx,
		"",            // default exchange
		SecurityQueue, // routing key = queue name
		false,         // mandatory
		false,         // immediate
		pub,
	); err != nil {
		p.log.Warnw("security event dropped", "event", ev.Event, "err", fmt.Errorf("amqp publish: %w", err))
		p.closeConn()
	}
}

// channel returns the open channel, dialling when there is none.  After a
// failed dial it refuses to redial until redialAfter has passed so a dead
// broker costs one timeout per interval rather than one per event.
func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() && p.conn != nil && !p.conn.IsClosed() {
		return p.ch, nil
	}
	p.closeConn()
	if now := time.Now(); now.Before(p.retryAt) {
		return nil, fmt.Errorf("broker unavailable, next dial in %s", p.retryAt.Sub(now).Round(time.Millisecond))
	}

	conn, err := dial(p.url, p.dialTimeout)
	if err != nil {
		p.retryAt = time.Now().Add(p.redialAfter)
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		p.retryAt = time.Now().Add(p.redialAfter)
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := declare(ch); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		p.retryAt = time.Now().Add(p.redialAfter)
		return nil, err
	}
	p.conn, p.ch = conn, ch
	p.log.Infow("security publisher connected", "queue", SecurityQueue)
	return ch, nil
}

func (p *Publisher) closeConn() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// dial connects to the broker with a bounded TCP and handshake timeout.
func dial(url string, timeout time.Duration) (*amqp.Connection, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Dial:      amqp.DefaultDial(timeout),
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
	})
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	return conn, nil
}

// declare makes sure the durable queue exists.
func declare(ch *amqp.Channel) error {
	if _, err := ch.QueueDeclare(
		SecurityQueue, // name
		true,          // durable
		false,         // autoDelete
		false,         // exclusive
		false,         // noWait
		nil,           // args
	); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	return nil
}

// NopPublisher drops every event.  It is used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, SecurityEvent) error { return nil }
