// Package queue moves ticket deliveries through RabbitMQ. The API server
// publishes one job per admission; cmd/mailer consumes the queue, talks to
// the SMTP relay and writes the delivery audit row.
package queue

import (
	"time"

	"github.com/iliyamo/evento/internal/mail"
)

// DefaultQueue is used when MAIL_QUEUE is empty.
const DefaultQueue = "ticket.delivery"

// TicketDeliveryJob is the message body. It carries the fully rendered
// mail so the consumer never needs database access to send it.
type TicketDeliveryJob struct {
	Message    mail.Message `json:"message"`
	EnqueuedAt time.Time    `json:"enqueued_at"`
}
