package h264

import (
	"bytes"
	"errors"
	"testing"

	"github.com/Eyevinn/mp4ff/avc"
	"github.com/zsiec/whipfan/internal/bitstream"
)

func TestParseSPSDimensions(t *testing.T) {
	t.Parallel()
	data := buildSPS(baseline720p())

	sps, err := ParseSPS(data)
	if err != nil {
		t.Fatalf("ParseSPS: %v", err)
	}
	if sps.Width() != 1280 {
		t.Errorf("Width: got %d, want 1280", sps.Width())
	}
	if sps.Height() != 720 {
		t.Errorf("Height: got %d, want 720", sps.Height())
	}
	if sps.ProfileIDC != 66 || sps.ConstraintFlags != 0xC0 || sps.LevelIDC != 31 {
		t.Errorf("profile/constraints/level: got %d/%#x/%d", sps.ProfileIDC, sps.ConstraintFlags, sps.LevelIDC)
	}
	if !sps.FrameMbsOnly {
		t.Error("FrameMbsOnly: got false, want true")
	}
	if !bytes.Equal(sps.Payload, data) {
		t.Error("Payload is not the original NAL unit")
	}
	if got := sps.CodecString(); got != "avc1.42C01F" {
		t.Errorf("CodecString: got %q, want %q", got, "avc1.42C01F")
	}
}

func TestParseSPSPicOrderCntTypes(t *testing.T) {
	t.Parallel()
	for _, pocType := range []uint32{0, 1, 2} {
		f := baseline720p()
		f.pocType = pocType
		sps, err := ParseSPS(buildSPS(f))
		if err != nil {
			t.Fatalf("poc type %d: %v", pocType, err)
		}
		if sps.PicOrderCntType != pocType {
			t.Errorf("PicOrderCntType: got %d, want %d", sps.PicOrderCntType, pocType)
		}
		if sps.Width() != 1280 || sps.Height() != 720 {
			t.Errorf("poc type %d: got %dx%d, want 1280x720", pocType, sps.Width(), sps.Height())
		}
		if pocType == 1 {
			if sps.OffsetForNonRefPic != -1 || sps.OffsetForTopToBottomField != 3 {
				t.Errorf("offsets: got %d, %d, want -1, 3", sps.OffsetForNonRefPic, sps.OffsetForTopToBottomField)
			}
			want := []int32{5, -7}
			if len(sps.OffsetForRefFrame) != 2 || sps.OffsetForRefFrame[0] != want[0] || sps.OffsetForRefFrame[1] != want[1] {
				t.Errorf("OffsetForRefFrame: got %v, want %v", sps.OffsetForRefFrame, want)
			}
		}
	}
}

func TestParseSPSCroppingAndFields(t *testing.T) {
	t.Parallel()
	f := spsFields{
		profile:              100,
		level:                40,
		widthMbsMinus1:       119,
		heightMapUnitsMinus1: 67,
		crop:                 &[4]uint32{0, 0, 0, 4},
	}
	sps, err := ParseSPS(buildSPS(f))
	if err != nil {
		t.Fatalf("ParseSPS: %v", err)
	}
	if sps.Width() != 1920 || sps.Height() != 1088 {
		t.Errorf("coded size: got %dx%d, want 1920x1088", sps.Width(), sps.Height())
	}
	if sps.DisplayWidth() != 1920 || sps.DisplayHeight() != 1080 {
		t.Errorf("display size: got %dx%d, want 1920x1080", sps.DisplayWidth(), sps.DisplayHeight())
	}

	f = baseline720p()
	f.heightMapUnitsMinus1 = 17
	f.fieldCoded = true
	sps, err = ParseSPS(buildSPS(f))
	if err != nil {
		t.Fatalf("ParseSPS interlaced: %v", err)
	}
	if sps.Height() != 288 {
		t.Errorf("Height: got %d, want 288", sps.Height())
	}
	if sps.DisplayHeight() != 576 {
		t.Errorf("DisplayHeight: got %d, want 576", sps.DisplayHeight())
	}
}

func TestParseSPSMatchesMP4FF(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		f    spsFields
	}{
		{"baseline 720p", baseline720p()},
		{"high 1080p cropped", spsFields{profile: 100, level: 40, widthMbsMinus1: 119, heightMapUnitsMinus1: 67, crop: &[4]uint32{0, 0, 0, 4}}},
		{"main poc type 1", spsFields{profile: 77, level: 30, pocType: 1, widthMbsMinus1: 39, heightMapUnitsMinus1: 29}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			data := buildSPS(tt.f)
			ref, err := avc.ParseSPSNALUnit(data, false)
			if err != nil {
				t.Fatalf("mp4ff ParseSPSNALUnit: %v", err)
			}
			sps, err := ParseSPS(data)
			if err != nil {
				t.Fatalf("ParseSPS: %v", err)
			}
			if uint64(sps.DisplayWidth()) != uint64(ref.Width) || uint64(sps.DisplayHeight()) != uint64(ref.Height) {
				t.Errorf("size: got %dx%d, want %dx%d", sps.DisplayWidth(), sps.DisplayHeight(), ref.Width, ref.Height)
			}
			if uint64(sps.ProfileIDC) != uint64(ref.Profile) || uint64(sps.LevelIDC) != uint64(ref.Level) {
				t.Errorf("profile/level: got %d/%d, want %d/%d", sps.ProfileIDC, sps.LevelIDC, ref.Profile, ref.Level)
			}
		})
	}
}

func TestParseSPSWrongType(t *testing.T) {
	t.Parallel()
	_, err := ParseSPS(buildPPS(nil))
	if !errors.Is(err, ErrNALTypeMismatch) {
		t.Errorf("ParseSPS(PPS): got %v, want ErrNALTypeMismatch", err)
	}
}

func TestParseSPSTruncated(t *testing.T) {
	t.Parallel()
	data := buildSPS(baseline720p())

	_, err := ParseSPS(data[:4])
	if !errors.Is(err, bitstream.ErrEndOfStream) {
		t.Fatalf("ParseSPS(truncated): got %v, want ErrEndOfStream", err)
	}
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("error %T is not a *ParseError", err)
	}
	if pe.Field == "" {
		t.Error("ParseError.Field is empty")
	}

	// Every prefix must fail or parse cleanly; none may panic.
	for n := 0; n < len(data); n++ {
		_, _ = ParseSPS(data[:n])
	}
}

func TestParseSPSOutOfRange(t *testing.T) {
	t.Parallel()
	w := bitstream.NewWriter()
	w.PutBits(24, 0x42C01F)
	w.PutUE(32) // seq_parameter_set_id above 31
	w.TrailingBits()

	_, err := ParseSPS(withHeader(0x67, w.Bytes()))
	if !errors.Is(err, ErrOutOfRange) {
		t.Errorf("ParseSPS: got %v, want ErrOutOfRange", err)
	}
}

func TestNALUnitHeader(t *testing.T) {
	t.Parallel()
	n, err := ParseNALUnit([]byte{0x65, 0x88, 0x80})
	if err != nil {
		t.Fatalf("ParseNALUnit: %v", err)
	}
	if n.Type != NALTypeIDR || n.RefIDC != 3 {
		t.Errorf("header: got type %d ref_idc %d, want 5 and 3", n.Type, n.RefIDC)
	}
	if !bytes.Equal(n.Bytes(), []byte{0x65, 0x88, 0x80}) {
		t.Errorf("Bytes: got %x", n.Bytes())
	}
	if _, err := ParseNALUnit(nil); !errors.Is(err, ErrEmptyNAL) {
		t.Errorf("ParseNALUnit(nil): got %v, want ErrEmptyNAL", err)
	}
}

func TestRemoveEmulationPrevention(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, want []byte
	}{
		{[]byte{0x00, 0x00, 0x03, 0x01}, []byte{0x00, 0x00, 0x01}},
		{[]byte{0x00, 0x00, 0x03}, []byte{0x00, 0x00}},
		{[]byte{0x00, 0x00, 0x03, 0x04}, []byte{0x00, 0x00, 0x03, 0x04}},
		{[]byte{0x12, 0x34}, []byte{0x12, 0x34}},
	}
	for _, tt := range tests {
		if got := removeEmulationPrevention(tt.in); !bytes.Equal(got, tt.want) {
			t.Errorf("removeEmulationPrevention(%x): got %x, want %x", tt.in, got, tt.want)
		}
	}
}
