package bitstream

import (
	"errors"
	"fmt"
)

// MaxBits is the widest field a single ReadBits call returns.
const MaxBits = 31

var (
	// ErrEndOfStream is returned when fewer bits remain than were requested.
	ErrEndOfStream = errors.New("bitstream: end of stream")
	// ErrInvalidParameter is returned for a bit width outside [1, MaxBits]
	// or a negative skip.
	ErrInvalidParameter = errors.New("bitstream: invalid parameter")
	// ErrInvalidTypeCast is returned when a decoded value does not fit the
	// requested output type.
	ErrInvalidTypeCast = errors.New("bitstream: invalid type cast")
)

// Reader reads bits MSB-first from an immutable byte slice.
type Reader struct {
	data   []byte
	bitPos int
}

// NewReader returns a Reader positioned at the first bit of data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Pos returns the number of bits consumed so far.
func (r *Reader) Pos() int { return r.bitPos }

// BitsLeft returns the number of unread bits.
func (r *Reader) BitsLeft() int {
	total := len(r.data) * 8
	if r.bitPos > total {
		return 0
	}
	return total - r.bitPos
}

func (r *Reader) readBit() (uint32, error) {
	if r.bitPos >= len(r.data)*8 {
		return 0, ErrEndOfStream
	}
	byteIdx := r.bitPos / 8
	bitIdx := 7 - (r.bitPos % 8)
	r.bitPos++
	return uint32(r.data[byteIdx]>>uint(bitIdx)) & 1, nil
}

// ReadBits returns the next n bits as an unsigned value, for n in
// [1, MaxBits]. A failed read does not advance the cursor.
func (r *Reader) ReadBits(n int) (uint32, error) {
	if n < 1 || n > MaxBits {
		return 0, fmt.Errorf("%w: read of %d bits", ErrInvalidParameter, n)
	}
	if n > r.BitsLeft() {
		return 0, ErrEndOfStream
	}
	var val uint32
	for i := 0; i < n; i++ {
		b, _ := r.readBit()
		val = (val << 1) | b
	}
	return val, nil
}

// ReadFlag reads a single bit.
func (r *Reader) ReadFlag() (bool, error) {
	b, err := r.readBit()
	return b == 1, err
}

// Skip advances the cursor by n bits.
func (r *Reader) Skip(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: skip of %d bits", ErrInvalidParameter, n)
	}
	if n > r.BitsLeft() {
		return ErrEndOfStream
	}
	r.bitPos += n
	return nil
}

// ReadUE decodes an unsigned Exp-Golomb code: k leading zero bits, a one
// bit, then a k-bit suffix, giving 2^k - 1 + suffix.
func (r *Reader) ReadUE() (uint32, error) {
	zeros := 0
	for {
		b, err := r.readBit()
		if err != nil {
			return 0, err
		}
		if b == 1 {
			break
		}
		zeros++
		if zeros > MaxBits {
			return 0, fmt.Errorf("%w: exp-golomb prefix of %d zeros", ErrInvalidTypeCast, zeros)
		}
	}
	if zeros == 0 {
		return 0, nil
	}
	suffix, err := r.ReadBits(zeros)
	if err != nil {
		return 0, err
	}
	return (1 << zeros) - 1 + suffix, nil
}

// ReadSE decodes a signed Exp-Golomb code. Code numbers map as
// 0, 1, 2, 3, 4 -> 0, 1, -1, 2, -2.
func (r *Reader) ReadSE() (int32, error) {
	code, err := r.ReadUE()
	if err != nil {
		return 0, err
	}
	if code%2 == 0 {
		return -int32(code / 2), nil
	}
	if code/2 >= 1<<31-1 {
		return 0, fmt.Errorf("%w: code %d overflows se(v)", ErrInvalidTypeCast, code)
	}
	return int32(code/2) + 1, nil
}

// Unsigned is the set of output types accepted by [Read] and [ReadUEAs].
type Unsigned interface {
	~uint8 | ~uint16 | ~uint32
}

// Read reads n bits into T, failing with ErrInvalidTypeCast when the value
// does not fit. n follows the same range as ReadBits.
func Read[T Unsigned](r *Reader, n int) (T, error) {
	v, err := r.ReadBits(n)
	if err != nil {
		return 0, err
	}
	return narrow[T](v)
}

// ReadUEAs decodes an unsigned Exp-Golomb code into T.
func ReadUEAs[T Unsigned](r *Reader) (T, error) {
	v, err := r.ReadUE()
	if err != nil {
		return 0, err
	}
	return narrow[T](v)
}

func narrow[T Unsigned](v uint32) (T, error) {
	if uint64(v) > uint64(^T(0)) {
		return 0, fmt.Errorf("%w: %d overflows %d-byte field", ErrInvalidTypeCast, v, sizeOf[T]())
	}
	return T(v), nil
}

func sizeOf[T Unsigned]() int {
	switch uint64(^T(0)) {
	case 0xFF:
		return 1
	case 0xFFFF:
		return 2
	default:
		return 4
	}
}
