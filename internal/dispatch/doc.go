// Package dispatch serialises beacon events into the callback runtime.
//
// The Dispatcher owns the lifecycle of an ExecutionContext: it is created
// lazily on the first Enqueue, fed exactly one item at a time in global FIFO
// order, and destroyed as soon as the queue is empty. An Enqueue that races
// with teardown is never lost; it lands in a fresh instance with a fresh
// context.
//
// Failures are absorbed and never retried. A context that cannot be created
// drops every item waiting on it, and a failed delivery drops that item. Both
// are reported through the drop handler.
package dispatch
