package realtime

// Ring is a fixed-capacity sample buffer. Appends past capacity shift the
// oldest samples out, so it always holds the most recent audio.
type Ring struct {
	buf    []float32
	start  int
	length int
}

// NewRing allocates a ring holding capacity samples.
func NewRing(capacity int) *Ring {
	return &Ring{buf: make([]float32, capacity)}
}

// Append adds samples, evicting the oldest on overflow. Inputs larger than
// the whole ring keep only their tail.
func (r *Ring) Append(samples []float32) {
	if len(samples) >= len(r.buf) {
		copy(r.buf, samples[len(samples)-len(r.buf):])
		r.start = 0
		r.length = len(r.buf)
		return
	}
	for _, s := range samples {
		idx := (r.start + r.length) % len(r.buf)
		r.buf[idx] = s
		if r.length < len(r.buf) {
			r.length++
		} else {
			r.start = (r.start + 1) % len(r.buf)
		}
	}
}

// Len returns the number of buffered samples.
func (r *Ring) Len() int { return r.length }

// Take returns the buffered samples in order and empties the ring.
func (r *Ring) Take() []float32 {
	out := make([]float32, r.length)
	for i := 0; i < r.length; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	r.start = 0
	r.length = 0
	return out
}

// Reset empties the ring without copying.
func (r *Ring) Reset() {
	r.start = 0
	r.length = 0
}
