package bitstream

// Writer appends bits MSB-first to a growing byte slice.
type Writer struct {
	data   []byte
	bitPos int
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// PutBit appends a single bit.
func (w *Writer) PutBit(v bool) {
	if w.bitPos%8 == 0 {
		w.data = append(w.data, 0)
	}
	if v {
		w.data[w.bitPos/8] |= 1 << uint(7-(w.bitPos%8))
	}
	w.bitPos++
}

// PutBits appends the low n bits of v, most significant first.
func (w *Writer) PutBits(n int, v uint32) {
	for i := n - 1; i >= 0; i-- {
		w.PutBit((v>>uint(i))&1 == 1)
	}
}

// PutUE appends v as an unsigned Exp-Golomb code.
func (w *Writer) PutUE(v uint32) {
	code := uint64(v) + 1
	n := 0
	for c := code; c > 1; c >>= 1 {
		n++
	}
	w.PutBits(n, 0)
	for i := n; i >= 0; i-- {
		w.PutBit((code>>uint(i))&1 == 1)
	}
}

// PutSE appends v as a signed Exp-Golomb code.
func (w *Writer) PutSE(v int32) {
	if v <= 0 {
		w.PutUE(uint32(-int64(v) * 2))
		return
	}
	w.PutUE(uint32(int64(v)*2 - 1))
}

// PutBytes appends whole bytes.
func (w *Writer) PutBytes(b []byte) {
	for _, v := range b {
		w.PutBits(8, uint32(v))
	}
}

// Len returns the number of bits written.
func (w *Writer) Len() int { return w.bitPos }

// Bytes returns the written bits, zero-padded to a byte boundary.
func (w *Writer) Bytes() []byte {
	return w.data
}

// TrailingBits appends rbsp_trailing_bits: a one bit then zero padding.
func (w *Writer) TrailingBits() {
	w.PutBit(true)
	for w.bitPos%8 != 0 {
		w.PutBit(false)
	}
}
