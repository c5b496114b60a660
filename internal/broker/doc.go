// Package broker owns the lifecycle of the AMQP connection shared by the
// consumers and publishers in this process. It retries the initial dial a
// fixed number of times with a fixed interval, watches for connection
// loss, and re-dials with the same policy. Registered setup functions are
// re-applied after every successful (re)connect so exchange and queue
// topology survives broker restarts with empty state.
package broker
