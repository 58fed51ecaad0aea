package core

// Frame is one encoded event ready for the wire.
type Frame []byte

// EventSink is a subscriber's outbound transport.
// Owned by the adapter; the adapter must Close() it.
type EventSink interface {
	ID() string
	TrySend(Frame) error
	Close()
}
