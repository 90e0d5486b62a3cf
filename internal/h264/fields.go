package h264

import "github.com/zsiec/whipfan/internal/bitstream"

// fieldReader wraps a bit reader with a sticky error so parameter-set parsing
// reads as a flat sequence of syntax elements. The first failure is kept,
// tagged with the element name, and every later read returns zero.
type fieldReader struct {
	r   *bitstream.Reader
	err error
}

func (f *fieldReader) fail(field string, err error) {
	if f.err == nil {
		f.err = &ParseError{Field: field, Err: err}
	}
}

func (f *fieldReader) bits(field string, n int) uint32 {
	if f.err != nil {
		return 0
	}
	v, err := f.r.ReadBits(n)
	if err != nil {
		f.fail(field, err)
	}
	return v
}

func (f *fieldReader) u8(field string, n int) uint8 {
	if f.err != nil {
		return 0
	}
	v, err := bitstream.Read[uint8](f.r, n)
	if err != nil {
		f.fail(field, err)
	}
	return v
}

func (f *fieldReader) flag(field string) bool {
	return f.bits(field, 1) == 1
}

func (f *fieldReader) ue(field string) uint32 {
	if f.err != nil {
		return 0
	}
	v, err := f.r.ReadUE()
	if err != nil {
		f.fail(field, err)
	}
	return v
}

// ueMax reads a ue(v) and fails with ErrOutOfRange above limit.
func (f *fieldReader) ueMax(field string, limit uint32) uint32 {
	v := f.ue(field)
	if f.err == nil && v > limit {
		f.fail(field, ErrOutOfRange)
		return 0
	}
	return v
}

func (f *fieldReader) se(field string) int32 {
	if f.err != nil {
		return 0
	}
	v, err := f.r.ReadSE()
	if err != nil {
		f.fail(field, err)
	}
	return v
}
