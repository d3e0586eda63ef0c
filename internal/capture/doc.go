// Package capture records a session from a packet source. Packets are handed
// from the source callback to a single writer goroutine through a bounded
// queue, so the callback never blocks and samples keep arrival order.
package capture
