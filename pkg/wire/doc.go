// Package wire defines the message format exchanged with device control
// servers over the stream transport.
//
// Every message is a markup document rooted at <system> holding one or
// more category sections (<config>, <status>, <structure>, <error> or
// <command>), terminated on the stream by a single Delimiter byte. The
// delimiter never appears inside a message.
//
// # Paths
//
// Nested elements are addressed by colon-joined paths whose segments
// carry an optional index taken from the element's index attribute:
//
//	dpm(0):board(2):gain
//
// Decode flattens an inbound document into ordered updates keyed by such
// paths. The Encode functions build outbound documents from a path and a
// value.
package wire
