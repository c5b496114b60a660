package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"flowline/internal/broker"
	"flowline/internal/logging"
)

// Channel is the slice of *amqp.Channel the router depends on. Tests
// substitute an in-memory implementation.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Handler processes one decoded message body. Returning nil acks the
// message; a Permanent (or malformed) error acks and drops it; any other
// error leaves it for redelivery.
type Handler func(ctx context.Context, body []byte) error

// Subscription binds a queue to one or more routing patterns on a topic
// exchange and routes deliveries to the handler registered for their
// routing key. Patterns come from configuration, so a queue covering
// several routing keys binds each of them rather than assuming they
// share a wildcard.
type Subscription struct {
	Exchange string
	Patterns []string
	Queue    string
	Handlers map[string]Handler
}

// Router wires subscriptions into the broker manager and publishes events.
type Router struct {
	manager *broker.Manager
	logger  *slog.Logger
}

// New constructs a router on top of a broker connection manager.
func New(manager *broker.Manager, logger *slog.Logger) *Router {
	return &Router{
		manager: manager,
		logger:  logging.NewComponentLogger(logger, "router"),
	}
}

// Subscribe registers the subscription with the connection manager so its
// topology is declared now and re-declared after every reconnect.
func (r *Router) Subscribe(ctx context.Context, sub Subscription) error {
	if len(sub.Handlers) == 0 {
		return fmt.Errorf("subscription for queue %q has no handlers", sub.Queue)
	}
	if len(sub.Patterns) == 0 {
		return fmt.Errorf("subscription for queue %q has no binding patterns", sub.Queue)
	}
	return r.manager.Register(ctx, func(ctx context.Context, ch *amqp.Channel) error {
		return r.Establish(ctx, ch, sub)
	})
}

// Establish declares the topology for one subscription on the given
// channel and starts its consumer loop. Exchanges are topic type and
// non-durable to match the current deployment.
func (r *Router) Establish(ctx context.Context, ch Channel, sub Subscription) error {
	if err := ch.ExchangeDeclare(sub.Exchange, "topic", false, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %q: %w", sub.Exchange, err)
	}

	queue, err := ch.QueueDeclare(sub.Queue, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %q: %w", sub.Queue, err)
	}
	for _, pattern := range sub.Patterns {
		if err := ch.QueueBind(queue.Name, pattern, sub.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %q to %q with %q: %w", queue.Name, sub.Exchange, pattern, err)
		}
	}

	deliveries, err := ch.Consume(queue.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume queue %q: %w", queue.Name, err)
	}

	r.logger.Info("subscription established",
		logging.String("exchange", sub.Exchange),
		logging.String("patterns", strings.Join(sub.Patterns, ",")),
		logging.String("queue", queue.Name))

	go r.consumeLoop(ctx, sub, deliveries)
	return nil
}

// consumeLoop handles deliveries strictly one at a time per queue. The
// loop ends when the channel closes; the next reconnect starts a new one.
func (r *Router) consumeLoop(ctx context.Context, sub Subscription, deliveries <-chan amqp.Delivery) {
	for delivery := range deliveries {
		r.dispatch(ctx, sub, delivery)
	}
	r.logger.Debug("consumer loop ended", logging.String("queue", sub.Queue))
}

func (r *Router) dispatch(ctx context.Context, sub Subscription, delivery amqp.Delivery) {
	handler, ok := sub.Handlers[delivery.RoutingKey]
	if !ok {
		r.logger.Debug("unrecognized routing key, dropping",
			logging.String("queue", sub.Queue),
			logging.String("routingKey", delivery.RoutingKey))
		r.ack(delivery)
		return
	}

	err := invoke(ctx, handler, delivery.Body)
	switch {
	case err == nil:
		r.ack(delivery)
	case IsPermanent(err):
		r.logger.Error("dropping message after permanent failure",
			logging.String("queue", sub.Queue),
			logging.String("routingKey", delivery.RoutingKey),
			logging.Error(err))
		r.ack(delivery)
	default:
		r.logger.Warn("requeueing message after transient failure",
			logging.String("queue", sub.Queue),
			logging.String("routingKey", delivery.RoutingKey),
			logging.Error(err))
		if nackErr := delivery.Nack(false, true); nackErr != nil {
			r.logger.Warn("nack failed", logging.Error(nackErr))
		}
	}
}

func (r *Router) ack(delivery amqp.Delivery) {
	if err := delivery.Ack(false); err != nil {
		r.logger.Warn("ack failed", logging.Error(err))
	}
}

// invoke shields the consumer loop from handler panics. A panicking
// handler is a bug, not a transient condition, so the message is dropped
// rather than redelivered into the same panic.
func invoke(ctx context.Context, handler Handler, body []byte) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = Permanent(fmt.Errorf("handler panic: %v", rec))
		}
	}()
	return handler(ctx, body)
}

// Publish routes a serialized payload through a topic exchange. Publish
// failures surface to the caller; they are never silently swallowed.
func (r *Router) Publish(ctx context.Context, exchange, routingKey string, body []byte, messageID string) error {
	ch, err := r.manager.Channel()
	if err != nil {
		return err
	}
	return PublishTo(ctx, ch, exchange, routingKey, body, messageID)
}

// PublishTo publishes on an explicit channel.
func PublishTo(ctx context.Context, ch Channel, exchange, routingKey string, body []byte, messageID string) error {
	if err := ch.ExchangeDeclare(exchange, "topic", false, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %q: %w", exchange, err)
	}
	msg := amqp.Publishing{
		ContentType: "application/json",
		MessageId:   messageID,
		Timestamp:   time.Now().UTC(),
		Body:        body,
	}
	if err := ch.PublishWithContext(ctx, exchange, routingKey, false, false, msg); err != nil {
		return fmt.Errorf("publish %q to %q: %w", routingKey, exchange, err)
	}
	return nil
}
