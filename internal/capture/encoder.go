package capture

import "time"

// EncoderState mirrors the state of an encode facility.
type EncoderState int

const (
	EncoderInactive EncoderState = iota
	EncoderRecording
	EncoderPaused
)

func (s EncoderState) String() string {
	switch s {
	case EncoderRecording:
		return "recording"
	case EncoderPaused:
		return "paused"
	default:
		return "inactive"
	}
}

// EncoderOptions are handed to the facility when an encoder is created.
type EncoderOptions struct {
	Format   Format
	MimeType string
	Bitrate  int
	FPS      int
	Width    int
	Height   int
}

// Reactions are registered with an encoder at creation. Encoders deliver
// them from their own goroutines and must never invoke them from inside
// Start, Stop, Pause, or Resume.
type Reactions struct {
	// OnData receives one encoded segment. Ownership passes to the receiver.
	OnData func(segment []byte)
	// OnStop fires once after the encoder has flushed its final segment.
	OnStop func()
	// OnError reports a facility failure.
	OnError func(err error)
}

// Encoder is one encode-and-mux run bound to a stream.
type Encoder interface {
	// Start begins encoding, delivering a segment every flush interval.
	Start(flush time.Duration) error
	// Stop requests the end of encoding. OnStop follows asynchronously.
	Stop() error
	Pause() error
	Resume() error
	State() EncoderState
}

// EncoderFactory is the host's encode facility.
type EncoderFactory interface {
	NewEncoder(stream Stream, opts EncoderOptions, r Reactions) (Encoder, error)
}

// EncoderFactoryFunc adapts a function to EncoderFactory.
type EncoderFactoryFunc func(stream Stream, opts EncoderOptions, r Reactions) (Encoder, error)

func (f EncoderFactoryFunc) NewEncoder(stream Stream, opts EncoderOptions, r Reactions) (Encoder, error) {
	return f(stream, opts, r)
}
