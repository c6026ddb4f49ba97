// Package event provides the change signals that connect perch components.
//
// A Signal is a wake-up, not a message queue. Emit never blocks: a subscriber
// whose buffer is full misses the value. Consumers must treat a received value
// as "something changed" and re-read authoritative state (the widget registry,
// the latest config snapshot, the latest monitor snapshot) instead of trusting
// the payload to be complete or ordered.
package event
