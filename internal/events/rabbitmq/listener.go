package rabbitmq

import (
	"context"

	"github.com/go-faster/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Config configures the AMQP side of invalidation events.
type Config struct {
	URL      string
	Exchange string
	// Queue names a durable queue. Empty means a server-named exclusive
	// queue, so every replica receives every event.
	Queue string
}

func declareExchange(ch *amqp.Channel, exchange string) error {
	return ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
}

// Listener consumes invalidation events and applies them to a cache.
type Listener struct {
	ch    *amqp.Channel
	queue string
	inv   Invalidator
	lg    *zap.Logger
}

// NewListener opens a channel on conn and binds a queue to every shipping
// routing key of the exchange.
func NewListener(conn *amqp.Connection, cfg Config, inv Invalidator, lg *zap.Logger) (*Listener, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open channel")
	}
	if err := declareExchange(ch, cfg.Exchange); err != nil {
		_ = ch.Close()
		return nil, errors.Wrapf(err, "declare exchange %q", cfg.Exchange)
	}

	durable := cfg.Queue != ""
	q, err := ch.QueueDeclare(
		cfg.Queue,
		durable,
		!durable, // delete when unused
		!durable, // exclusive
		false,    // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, errors.Wrapf(err, "declare queue %q", cfg.Queue)
	}
	if err := ch.QueueBind(q.Name, RoutingPrefix+".#", cfg.Exchange, false, nil); err != nil {
		_ = ch.Close()
		return nil, errors.Wrapf(err, "bind queue %q", q.Name)
	}

	return &Listener{ch: ch, queue: q.Name, inv: inv, lg: lg}, nil
}

// Run consumes until ctx is done or the channel closes.
func (l *Listener) Run(ctx context.Context) error {
	msgs, err := l.ch.Consume(
		l.queue,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return errors.Wrap(err, "consume")
	}
	l.lg.Info("Listening for cache invalidation events", zap.String("queue", l.queue))

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			l.handle(ctx, msg)
		}
	}
}

func (l *Listener) handle(ctx context.Context, msg amqp.Delivery) {
	lg := l.lg.With(zap.String("routing_key", msg.RoutingKey))

	ev, err := DecodeEvent(msg.RoutingKey, msg.Body)
	if err != nil {
		lg.Warn("Dropping malformed event", zap.Error(err))
		_ = msg.Nack(false, false)
		return
	}
	if err := Apply(ctx, l.inv, ev); err != nil {
		lg.Error("Apply event", zap.Error(err))
		_ = msg.Nack(false, false)
		return
	}

	lg.Debug("Cache invalidated", zap.String("id", ev.ID))
	if err := msg.Ack(false); err != nil {
		lg.Warn("Ack event", zap.Error(err))
	}
}

// Close closes the consumer channel.
func (l *Listener) Close() error {
	return l.ch.Close()
}
