// Package events provides the in-memory event broker the controller
// publishes lifecycle events through: task starts and outcomes, queue
// admissions, report imports, schedule firings and feed syncs.
// Delivery is non-blocking; a subscriber that falls behind misses
// events rather than stalling the publisher, so the broker is a
// monitoring surface, not a source of record. The store is the source
// of record.
package events
