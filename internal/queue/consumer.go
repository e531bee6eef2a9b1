package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/evento/internal/mail"
)

// Sender delivers one mail. mail.SMTPSender and mail.LogSender qualify.
type Sender interface {
	Send(ctx context.Context, m mail.Message) error
}

// Recorder writes the delivery audit row. service.AuditLog qualifies.
type Recorder interface {
	Record(ctx context.Context, registrationID *uint64, recipient, subject string, outcome error)
}

// Consumer drains the ticket delivery queue. Every job gets exactly one
// send attempt; the outcome goes to the Recorder and the message is acked
// either way. Only undecodable bodies are rejected.
type Consumer struct {
	URL      string
	Queue    string
	Sender   Sender
	Recorder Recorder
	Log      *slog.Logger
	Timeout  time.Duration
	Prefetch int
}

var errDeliveriesClosed = errors.New("deliveries channel closed")

// Run connects, consumes and reconnects with exponential backoff until
// ctx is cancelled. It returns ctx.Err().
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.DialConfig(c.URL, amqp.Config{Dial: dialer(ctx)})
		if err != nil {
			c.Log.WarnContext(ctx, "delivery consumer: dial failed", "err", err, "retry_in", backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.Log.WarnContext(ctx, "delivery consumer: loop ended, reconnecting", "err", err)
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	prefetch := c.Prefetch
	if prefetch <= 0 {
		prefetch = 50
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		c.Log.WarnContext(ctx, "delivery consumer: set QoS failed", "err", err)
	}
	if _, err := declare(ch, c.queue()); err != nil {
		return err
	}
	msgs, err := ch.ConsumeWithContext(ctx, c.queue(), "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	c.Log.InfoContext(ctx, "delivery consumer: listening", "queue", c.queue())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errDeliveriesClosed
			}
			if err := c.Handle(ctx, d.Body); err != nil {
				c.Log.ErrorContext(ctx, "delivery consumer: rejecting message", "err", err)
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// Handle processes one message body. It returns an error only when the
// body cannot be decoded; send failures are audited, not returned.
func (c *Consumer) Handle(ctx context.Context, body []byte) error {
	var job TicketDeliveryJob
	if err := json.Unmarshal(body, &job); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	m := job.Message
	if m.To == "" {
		c.Recorder.Record(ctx, m.RegistrationID, "", m.Subject, mail.ErrNoRecipient)
		c.Log.WarnContext(ctx, "ticket job without recipient", "registration_id", m.RegistrationID)
		return nil
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	err := c.Sender.Send(sendCtx, m)
	cancel()
	c.Recorder.Record(ctx, m.RegistrationID, m.To, m.Subject, err)
	if err == nil {
		c.Log.InfoContext(ctx, "ticket delivered", "registration_id", m.RegistrationID, "to", m.To,
			"queued_for", time.Since(job.EnqueuedAt).Round(time.Millisecond))
	}
	return nil
}

func (c *Consumer) queue() string {
	if c.Queue == "" {
		return DefaultQueue
	}
	return c.Queue
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
