package audio

// Reframer regroups a stream of samples into fixed-size frames. Codecs such as
// Opus only accept whole frames, while resampling yields slightly uneven
// block sizes.
//
// Not safe for concurrent use.
type Reframer struct {
	size    int
	pending []int16
}

// NewReframer returns a Reframer emitting frames of exactly size samples.
func NewReframer(size int) *Reframer {
	return &Reframer{size: size, pending: make([]int16, 0, size*2)}
}

// Write appends pcm and calls emit once for every complete frame now
// available. The frame passed to emit is only valid during the call.
func (f *Reframer) Write(pcm []int16, emit func(frame []int16) error) error {
	f.pending = append(f.pending, pcm...)
	consumed := 0
	defer func() {
		f.pending = f.pending[:copy(f.pending, f.pending[consumed:])]
	}()
	for len(f.pending)-consumed >= f.size {
		frame := f.pending[consumed : consumed+f.size]
		consumed += f.size
		if err := emit(frame); err != nil {
			return err
		}
	}
	return nil
}

// Buffered returns how many samples are waiting for a complete frame.
func (f *Reframer) Buffered() int {
	return len(f.pending)
}

// Reset discards any buffered samples.
func (f *Reframer) Reset() {
	f.pending = f.pending[:0]
}
