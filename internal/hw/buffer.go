package hw

// Flags carried by a buffer.
type Flags uint32

// Buffer flags.
const (
	FlagEOS Flags = 1 << iota
	FlagFrameEnd
	FlagCodecSideInfo
	FlagTransmissionFailed
)

// Buffer is one frame's worth of data plus metadata.
type Buffer struct {
	Data   []byte
	Length int
	Flags  Flags
	Seq    uint64

	release func(*Buffer)
}

// NewBuffer allocates a buffer of size bytes that returns itself to its origin
// through release.
func NewBuffer(size int, release func(*Buffer)) *Buffer {
	return &Buffer{
		Data:    make([]byte, size),
		release: release,
	}
}

// Payload returns the valid bytes of the buffer.
func (b *Buffer) Payload() []byte {
	if b.Length > len(b.Data) {
		return b.Data
	}
	return b.Data[:b.Length]
}

// Reset clears payload metadata before the buffer is reused.
func (b *Buffer) Reset() {
	b.Length = 0
	b.Flags = 0
}

// Release returns the buffer to the pool it came from.
func (b *Buffer) Release() {
	b.Reset()
	if b.release != nil {
		b.release(b)
	}
}
