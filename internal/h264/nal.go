package h264

import (
	"fmt"

	"github.com/zsiec/whipfan/internal/bitstream"
)

// H.264 NAL unit type constants as defined in ITU-T H.264 Table 7-1 and
// RFC 6184 section 5.2.
const (
	NALTypeSlice      = 1
	NALTypeDPA        = 2
	NALTypeDPB        = 3
	NALTypeDPC        = 4
	NALTypeIDR        = 5
	NALTypeSEI        = 6
	NALTypeSPS        = 7
	NALTypePPS        = 8
	NALTypeAUD        = 9
	NALTypeEndOfSeq   = 10
	NALTypeEndOfStrm  = 11
	NALTypeFillerData = 12
	NALTypeSTAPA      = 24
	NALTypeSTAPB      = 25
	NALTypeMTAP16     = 26
	NALTypeMTAP24     = 27
	NALTypeFUA        = 28
	NALTypeFUB        = 29
)

// NALType extracts nal_unit_type from a NAL header byte.
func NALType(header byte) byte {
	return header & 0x1F
}

// NALUnit is a parsed NAL unit header plus the RBSP that follows it.
type NALUnit struct {
	RefIDC uint8
	Type   uint8

	data []byte
	rbsp []byte
}

// ParseNALUnit reads the one-byte header of data. The forbidden_zero_bit is
// read and discarded. The payload after the header has emulation-prevention
// bytes removed for field parsing; data itself is retained unchanged.
func ParseNALUnit(data []byte) (*NALUnit, error) {
	if len(data) == 0 {
		return nil, ErrEmptyNAL
	}
	r := bitstream.NewReader(data[:1])
	if _, err := r.ReadBits(1); err != nil {
		return nil, &ParseError{Field: "forbidden_zero_bit", Err: err}
	}
	refIDC, err := bitstream.Read[uint8](r, 2)
	if err != nil {
		return nil, &ParseError{Field: "nal_ref_idc", Err: err}
	}
	typ, err := bitstream.Read[uint8](r, 5)
	if err != nil {
		return nil, &ParseError{Field: "nal_unit_type", Err: err}
	}
	return &NALUnit{
		RefIDC: refIDC,
		Type:   typ,
		data:   data,
		rbsp:   removeEmulationPrevention(data[1:]),
	}, nil
}

// Bytes returns the NAL unit exactly as it was parsed, header included.
func (n *NALUnit) Bytes() []byte { return n.data }

// Reader returns a fresh bit reader positioned at the first RBSP bit after
// the header.
func (n *NALUnit) Reader() *bitstream.Reader {
	return bitstream.NewReader(n.rbsp)
}

func (n *NALUnit) String() string {
	return fmt.Sprintf("nal(type=%d ref_idc=%d len=%d)", n.Type, n.RefIDC, len(n.data))
}

// IsKeyframe reports whether the NAL type is an IDR slice.
func IsKeyframe(nalType byte) bool {
	return nalType == NALTypeIDR
}

// IsParameterSet reports whether the NAL type is SPS or PPS.
func IsParameterSet(nalType byte) bool {
	return nalType == NALTypeSPS || nalType == NALTypePPS
}

func removeEmulationPrevention(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if i+2 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 3 &&
			(i+3 >= len(data) || data[i+3] <= 3) {
			out = append(out, 0, 0)
			i += 2
		} else {
			out = append(out, data[i])
		}
	}
	return out
}
