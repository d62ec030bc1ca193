package model

// PacketSource yields captured packets in capture order.
// Next returns io.EOF once the source is exhausted.
type PacketSource interface {
	Next() (*RawPacket, error)
}

// Encoder turns a session's packets into the bytes of one artifact.
type Encoder interface {
	// Name is the canonical format name, e.g. "tile".
	Name() string
	// Extension is the artifact file extension without the dot.
	Extension() string
	Encode(packets []*RawPacket) ([]byte, error)
}

// ArtifactSink persists an encoded artifact under the given file name and
// returns the location it was written to.
type ArtifactSink interface {
	Write(name string, data []byte) (string, error)
}

// SessionObserver is told about every artifact after it has been persisted.
type SessionObserver interface {
	Observe(rec SessionRecord) error
	Close() error
}

// Notifier defines a generic interface for sending notifications.
type Notifier interface {
	Send(subject, body string) error
}
