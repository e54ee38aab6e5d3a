// Package fragment holds the receiving fragment's view of its exchanges.
//
// IncomingBuffers owns one collector per exchange and routes each arriving
// batch by the sending major fragment id. Readiness is the counter the
// collectors share: it starts at the number of exchanges and the fragment is
// runnable when it reaches zero. Context carries the fragment's first
// failure.
package fragment
