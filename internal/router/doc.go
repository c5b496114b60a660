// Package router is a topic publish/subscribe layer over an AMQP
// channel. It declares exchange and queue topology per subscription,
// delivers messages to the handler registered for their routing key, and
// owns the acknowledgment policy: handled messages are acked, permanent
// failures are acked and dropped, transient failures are requeued.
package router
