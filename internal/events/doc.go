// Package events publishes and consumes certificate mint events.
//
// A MintEvent is emitted after every transaction-sending tool call that
// succeeds. Queue implementations exist for an in-process channel, a Redis
// list (LPUSH/BRPOP) and a RabbitMQ queue; they share the JSON encoding in
// this package so producers and consumers on different hosts agree on the
// payload.
package events
