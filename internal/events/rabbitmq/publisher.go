package rabbitmq

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher sends invalidation events.
type Publisher struct {
	ch       *amqp.Channel
	exchange string
}

// NewPublisher opens a channel on conn and declares the exchange.
func NewPublisher(conn *amqp.Connection, exchange string) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open channel")
	}
	if err := declareExchange(ch, exchange); err != nil {
		_ = ch.Close()
		return nil, errors.Wrapf(err, "declare exchange %q", exchange)
	}
	return &Publisher{ch: ch, exchange: exchange}, nil
}

// Publish sends e to the exchange.
func (p *Publisher) Publish(ctx context.Context, e Event) error {
	err := p.ch.PublishWithContext(ctx,
		p.exchange,
		e.RoutingKey(),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Timestamp:   time.Now(),
			Body:        EncodeBody(e),
		},
	)
	if err != nil {
		return errors.Wrapf(err, "publish %s", e.RoutingKey())
	}
	return nil
}

// Close closes the publisher channel.
func (p *Publisher) Close() error {
	return p.ch.Close()
}
