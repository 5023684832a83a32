// Package server provides the TCP transport the RPC engine runs over: a
// listening server for inbound connections and Dial for outbound ones.
//
// Messages are framed with RFC 5531 Section 11 record marking: each fragment
// carries a 4-byte header whose high bit marks the last fragment and whose
// lower 31 bits carry the fragment length. Every connection owns one reply
// queue and a single inbound-dispatch goroutine; decoded CALL frames go to
// the application Dispatcher, decoded REPLY frames fulfil the queue.
package server
