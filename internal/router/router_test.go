package router_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"flowline/internal/events"
	"flowline/internal/logging"
	"flowline/internal/router"
)

type fakeChannel struct {
	mu        sync.Mutex
	exchanges map[string]string
	queues    map[string]bool
	bindings  map[string][]string
	published []amqp.Publishing
	keys      []string

	deliveries chan amqp.Delivery
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		exchanges:  make(map[string]string),
		queues:     make(map[string]bool),
		bindings:   make(map[string][]string),
		deliveries: make(chan amqp.Delivery, 16),
	}
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchanges[name] = kind
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues[name] = true
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bindings[name] = append(f.bindings[name], key)
	return nil
}

func (f *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	return f.deliveries, nil
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, msg)
	f.keys = append(f.keys, key)
	return nil
}

type ackRecorder struct {
	mu       sync.Mutex
	acked    int
	requeued int
	done     chan struct{}
}

func newAckRecorder() *ackRecorder {
	return &ackRecorder{done: make(chan struct{}, 16)}
}

func (a *ackRecorder) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	a.acked++
	a.mu.Unlock()
	a.done <- struct{}{}
	return nil
}

func (a *ackRecorder) Nack(tag uint64, multiple bool, requeue bool) error {
	a.mu.Lock()
	if requeue {
		a.requeued++
	}
	a.mu.Unlock()
	a.done <- struct{}{}
	return nil
}

func (a *ackRecorder) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *ackRecorder) counts() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acked, a.requeued
}

func waitSettled(t *testing.T, recorder *ackRecorder) {
	t.Helper()
	select {
	case <-recorder.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery to settle")
	}
}

func deliver(ch *fakeChannel, recorder *ackRecorder, routingKey string, body []byte) {
	ch.deliveries <- amqp.Delivery{
		Acknowledger: recorder,
		RoutingKey:   routingKey,
		Body:         body,
	}
}

func establish(t *testing.T, ch *fakeChannel, sub router.Subscription) {
	t.Helper()
	r := router.New(nil, logging.NewNop())
	if err := r.Establish(context.Background(), ch, sub); err != nil {
		t.Fatalf("Establish failed: %v", err)
	}
}

func TestEstablishDeclaresTopology(t *testing.T) {
	ch := newFakeChannel()
	establish(t, ch, router.Subscription{
		Exchange: "pipelines",
		Patterns: []string{"pipeline.execution.success"},
		Queue:    "storage.execution",
		Handlers: map[string]router.Handler{
			"pipeline.execution.success": func(ctx context.Context, body []byte) error { return nil },
		},
	})

	if kind := ch.exchanges["pipelines"]; kind != "topic" {
		t.Fatalf("expected topic exchange, got %q", kind)
	}
	if !ch.queues["storage.execution"] {
		t.Fatal("expected queue to be declared")
	}
	bound := ch.bindings["storage.execution"]
	if len(bound) != 1 || bound[0] != "pipeline.execution.success" {
		t.Fatalf("unexpected binding patterns %v", bound)
	}
}

func TestEstablishBindsEveryPattern(t *testing.T) {
	ch := newFakeChannel()
	establish(t, ch, router.Subscription{
		Exchange: "pipelines",
		Patterns: []string{"pipeline.config.created", "pipeline.config.deleted"},
		Queue:    "storage.config",
		Handlers: map[string]router.Handler{
			"pipeline.config.created": func(ctx context.Context, body []byte) error { return nil },
			"pipeline.config.deleted": func(ctx context.Context, body []byte) error { return nil },
		},
	})

	bound := ch.bindings["storage.config"]
	if len(bound) != 2 {
		t.Fatalf("expected two bindings, got %v", bound)
	}
	if bound[0] != "pipeline.config.created" || bound[1] != "pipeline.config.deleted" {
		t.Fatalf("unexpected binding patterns %v", bound)
	}
}

func TestDispatchAcksHandledMessage(t *testing.T) {
	ch := newFakeChannel()
	recorder := newAckRecorder()

	var handled [][]byte
	var mu sync.Mutex
	establish(t, ch, router.Subscription{
		Exchange: "pipelines",
		Patterns: []string{"key"},
		Queue:    "q",
		Handlers: map[string]router.Handler{
			"key": func(ctx context.Context, body []byte) error {
				mu.Lock()
				handled = append(handled, body)
				mu.Unlock()
				return nil
			},
		},
	})

	deliver(ch, recorder, "key", []byte(`{"ok":true}`))
	waitSettled(t, recorder)

	acked, requeued := recorder.counts()
	if acked != 1 || requeued != 0 {
		t.Fatalf("expected 1 ack 0 requeues, got %d/%d", acked, requeued)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(handled) != 1 {
		t.Fatalf("expected handler to run once, ran %d times", len(handled))
	}
}

func TestDispatchRequeuesTransientFailure(t *testing.T) {
	ch := newFakeChannel()
	recorder := newAckRecorder()

	establish(t, ch, router.Subscription{
		Exchange: "pipelines",
		Patterns: []string{"key"},
		Queue:    "q",
		Handlers: map[string]router.Handler{
			"key": func(ctx context.Context, body []byte) error {
				return errors.New("store unavailable")
			},
		},
	})

	deliver(ch, recorder, "key", []byte(`{}`))
	waitSettled(t, recorder)

	acked, requeued := recorder.counts()
	if acked != 0 || requeued != 1 {
		t.Fatalf("expected transient failure to requeue, got acks=%d requeues=%d", acked, requeued)
	}
}

func TestDispatchDropsPermanentFailure(t *testing.T) {
	ch := newFakeChannel()
	recorder := newAckRecorder()

	establish(t, ch, router.Subscription{
		Exchange: "pipelines",
		Patterns: []string{"key"},
		Queue:    "q",
		Handlers: map[string]router.Handler{
			"key": func(ctx context.Context, body []byte) error {
				_, err := events.DecodeExecution(body)
				return err
			},
		},
	})

	deliver(ch, recorder, "key", []byte("not json"))
	waitSettled(t, recorder)

	acked, requeued := recorder.counts()
	if acked != 1 || requeued != 0 {
		t.Fatalf("expected malformed payload to be acked and dropped, got acks=%d requeues=%d", acked, requeued)
	}
}

func TestDispatchDropsUnrecognizedRoutingKey(t *testing.T) {
	ch := newFakeChannel()
	recorder := newAckRecorder()

	establish(t, ch, router.Subscription{
		Exchange: "pipelines",
		Patterns: []string{"pipeline.config.*"},
		Queue:    "q",
		Handlers: map[string]router.Handler{
			"pipeline.config.created": func(ctx context.Context, body []byte) error {
				t.Fatal("handler must not run for unrecognized key")
				return nil
			},
		},
	})

	deliver(ch, recorder, "pipeline.config.renamed", []byte(`{}`))
	waitSettled(t, recorder)

	acked, requeued := recorder.counts()
	if acked != 1 || requeued != 0 {
		t.Fatalf("expected unrecognized key to be acked and dropped, got acks=%d requeues=%d", acked, requeued)
	}
}

func TestDispatchSurvivesHandlerPanic(t *testing.T) {
	ch := newFakeChannel()
	recorder := newAckRecorder()

	establish(t, ch, router.Subscription{
		Exchange: "pipelines",
		Patterns: []string{"key"},
		Queue:    "q",
		Handlers: map[string]router.Handler{
			"key": func(ctx context.Context, body []byte) error {
				panic("handler bug")
			},
		},
	})

	deliver(ch, recorder, "key", []byte(`{}`))
	waitSettled(t, recorder)

	// A second, healthy delivery must still be processed.
	deliver(ch, recorder, "key", []byte(`{}`))
	waitSettled(t, recorder)

	acked, _ := recorder.counts()
	if acked != 2 {
		t.Fatalf("expected consumer loop to survive the panic, got %d acks", acked)
	}
}

func TestPublishToSetsWireMetadata(t *testing.T) {
	ch := newFakeChannel()

	body := []byte(`{"pipelineId":1}`)
	err := router.PublishTo(context.Background(), ch, "pipelines", "pipeline.execution.success", body, "event-123")
	if err != nil {
		t.Fatalf("PublishTo failed: %v", err)
	}

	if len(ch.published) != 1 {
		t.Fatalf("expected one publish, got %d", len(ch.published))
	}
	msg := ch.published[0]
	if msg.ContentType != "application/json" {
		t.Errorf("unexpected content type %q", msg.ContentType)
	}
	if msg.MessageId != "event-123" {
		t.Errorf("unexpected message id %q", msg.MessageId)
	}
	if ch.keys[0] != "pipeline.execution.success" {
		t.Errorf("unexpected routing key %q", ch.keys[0])
	}
	if ch.exchanges["pipelines"] != "topic" {
		t.Error("expected publish to declare the topic exchange")
	}
}

func TestPermanentWrapping(t *testing.T) {
	if router.IsPermanent(errors.New("transient")) {
		t.Error("plain errors must not be permanent")
	}
	if !router.IsPermanent(router.Permanent(errors.New("bad payload"))) {
		t.Error("wrapped errors must be permanent")
	}
	if !router.IsPermanent(events.ErrMalformed) {
		t.Error("malformed payload errors must be permanent")
	}
	if router.Permanent(nil) != nil {
		t.Error("Permanent(nil) must be nil")
	}
}
