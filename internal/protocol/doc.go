// Package protocol defines the duplex-channel message types exchanged
// with recording clients: JSON frames discriminated by a type field, with
// inbound parsing and required-field validation plus constructors for
// every outbound frame.
package protocol
