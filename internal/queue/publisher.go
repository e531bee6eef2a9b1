package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/evento/internal/mail"
)

// Publisher hands ticket mails to the broker instead of sending them
// inline. It dials per publish: admissions are rare enough that a pooled
// channel is not worth the reconnect bookkeeping.
type Publisher struct {
	URL   string
	Queue string
	Now   func() time.Time
}

func NewPublisher(url, queue string) *Publisher {
	if queue == "" {
		queue = DefaultQueue
	}
	return &Publisher{URL: url, Queue: queue, Now: time.Now}
}

// Send publishes m as a persistent message. A nil error means the broker
// accepted the job, not that the mail reached the recipient.
func (p *Publisher) Send(ctx context.Context, m mail.Message) error {
	body, err := json.Marshal(TicketDeliveryJob{Message: m, EnqueuedAt: p.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	conn, err := amqp.DialConfig(p.URL, amqp.Config{Dial: dialer(ctx)})
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := declare(ch, p.Queue); err != nil {
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    p.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", p.Queue, false, false, pub); err != nil {
		return fmt.Errorf("rabbitmq publish: %w", err)
	}
	return nil
}

func declare(ch *amqp.Channel, queue string) (amqp.Queue, error) {
	q, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return q, fmt.Errorf("queue declare %s: %w", queue, err)
	}
	return q, nil
}
