package h264

import "fmt"

// SPS is a parsed Sequence Parameter Set. VUI parameters are not parsed;
// only their presence is recorded.
type SPS struct {
	// Payload is the complete NAL unit, header included, as received.
	Payload []byte

	ProfileIDC      uint8
	ConstraintFlags uint8
	LevelIDC        uint8

	SeqParameterSetID    uint32
	ChromaFormatIDC      uint32
	SeparateColourPlane  bool
	BitDepthLumaMinus8   uint32
	BitDepthChromaMinus8 uint32
	ScalingMatrixPresent bool

	Log2MaxFrameNumMinus4       uint32
	PicOrderCntType             uint32
	Log2MaxPicOrderCntLSBMinus4 uint32
	DeltaPicOrderAlwaysZero     bool
	OffsetForNonRefPic          int32
	OffsetForTopToBottomField   int32
	OffsetForRefFrame           []int32

	NumRefFrames              uint32
	GapsInFrameNumAllowed     bool
	PicWidthInMbsMinus1       uint32
	PicHeightInMapUnitsMinus1 uint32
	FrameMbsOnly              bool
	MbAdaptiveFrameField      bool
	Direct8x8Inference        bool
	FrameCropping             bool
	CropLeft, CropRight       uint32
	CropTop, CropBottom       uint32
	VUIParametersPresent      bool
}

// highProfiles carry chroma_format_idc, bit depths and scaling lists.
var highProfiles = map[uint8]bool{
	100: true, 110: true, 122: true, 244: true, 44: true, 83: true,
	86: true, 118: true, 128: true, 138: true, 139: true, 134: true,
}

// ParseSPS parses data, a complete SPS NAL unit without start code.
func ParseSPS(data []byte) (*SPS, error) {
	nalu, err := ParseNALUnit(data)
	if err != nil {
		return nil, err
	}
	return SPSFromNAL(nalu)
}

// SPSFromNAL parses an SPS from an already split NAL unit.
func SPSFromNAL(nalu *NALUnit) (*SPS, error) {
	if nalu.Type != NALTypeSPS {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrNALTypeMismatch, nalu.Type, NALTypeSPS)
	}

	f := &fieldReader{r: nalu.Reader()}
	s := &SPS{Payload: nalu.Bytes(), ChromaFormatIDC: 1}

	s.ProfileIDC = f.u8("profile_idc", 8)
	s.ConstraintFlags = f.u8("constraint_flags", 8)
	s.LevelIDC = f.u8("level_idc", 8)
	s.SeqParameterSetID = f.ueMax("seq_parameter_set_id", 31)

	if highProfiles[s.ProfileIDC] {
		s.ChromaFormatIDC = f.ueMax("chroma_format_idc", 3)
		if s.ChromaFormatIDC == 3 {
			s.SeparateColourPlane = f.flag("separate_colour_plane_flag")
		}
		s.BitDepthLumaMinus8 = f.ueMax("bit_depth_luma_minus8", 6)
		s.BitDepthChromaMinus8 = f.ueMax("bit_depth_chroma_minus8", 6)
		f.flag("qpprime_y_zero_transform_bypass_flag")
		s.ScalingMatrixPresent = f.flag("seq_scaling_matrix_present_flag")
		if s.ScalingMatrixPresent {
			limit := 8
			if s.ChromaFormatIDC == 3 {
				limit = 12
			}
			for i := 0; i < limit && f.err == nil; i++ {
				if !f.flag("seq_scaling_list_present_flag") {
					continue
				}
				size := 16
				if i >= 6 {
					size = 64
				}
				skipScalingList(f, size)
			}
		}
	}

	s.Log2MaxFrameNumMinus4 = f.ueMax("log2_max_frame_num_minus4", 12)
	s.PicOrderCntType = f.ueMax("pic_order_cnt_type", 2)
	switch s.PicOrderCntType {
	case 0:
		s.Log2MaxPicOrderCntLSBMinus4 = f.ueMax("log2_max_pic_order_cnt_lsb_minus4", 12)
	case 1:
		s.DeltaPicOrderAlwaysZero = f.flag("delta_pic_order_always_zero_flag")
		s.OffsetForNonRefPic = f.se("offset_for_non_ref_pic")
		s.OffsetForTopToBottomField = f.se("offset_for_top_to_bottom_field")
		n := f.ueMax("num_ref_frames_in_pic_order_cnt_cycle", 255)
		for i := uint32(0); i < n && f.err == nil; i++ {
			s.OffsetForRefFrame = append(s.OffsetForRefFrame, f.se("offset_for_ref_frame"))
		}
	}

	s.NumRefFrames = f.ue("max_num_ref_frames")
	s.GapsInFrameNumAllowed = f.flag("gaps_in_frame_num_value_allowed_flag")
	s.PicWidthInMbsMinus1 = f.ue("pic_width_in_mbs_minus1")
	s.PicHeightInMapUnitsMinus1 = f.ue("pic_height_in_map_units_minus1")
	s.FrameMbsOnly = f.flag("frame_mbs_only_flag")
	if !s.FrameMbsOnly {
		s.MbAdaptiveFrameField = f.flag("mb_adaptive_frame_field_flag")
	}
	s.Direct8x8Inference = f.flag("direct_8x8_inference_flag")
	s.FrameCropping = f.flag("frame_cropping_flag")
	if s.FrameCropping {
		s.CropLeft = f.ue("frame_crop_left_offset")
		s.CropRight = f.ue("frame_crop_right_offset")
		s.CropTop = f.ue("frame_crop_top_offset")
		s.CropBottom = f.ue("frame_crop_bottom_offset")
	}
	s.VUIParametersPresent = f.flag("vui_parameters_present_flag")

	if f.err != nil {
		return nil, f.err
	}
	return s, nil
}

func skipScalingList(f *fieldReader, size int) {
	lastScale := int32(8)
	nextScale := int32(8)
	for j := 0; j < size && f.err == nil; j++ {
		if nextScale != 0 {
			delta := f.se("delta_scale")
			nextScale = (lastScale + delta + 256) % 256
		}
		if nextScale != 0 {
			lastScale = nextScale
		}
	}
}

// Width returns the coded width in pixels, (pic_width_in_mbs_minus1+1)*16.
func (s *SPS) Width() uint32 {
	return (s.PicWidthInMbsMinus1 + 1) * 16
}

// Height returns the coded height in pixels,
// (pic_height_in_map_units_minus1+1)*16. Field coding and cropping are not
// applied; see DisplayHeight.
func (s *SPS) Height() uint32 {
	return (s.PicHeightInMapUnitsMinus1 + 1) * 16
}

func (s *SPS) cropUnits() (x, y uint32) {
	chromaArrayType := s.ChromaFormatIDC
	if s.SeparateColourPlane {
		chromaArrayType = 0
	}
	subWidthC, subHeightC := uint32(2), uint32(2)
	switch chromaArrayType {
	case 0, 3:
		subWidthC, subHeightC = 1, 1
	case 2:
		subWidthC, subHeightC = 2, 1
	}
	return subWidthC, subHeightC * s.fieldFactor()
}

func (s *SPS) fieldFactor() uint32 {
	if s.FrameMbsOnly {
		return 1
	}
	return 2
}

// DisplayWidth returns the width after frame cropping.
func (s *SPS) DisplayWidth() uint32 {
	x, _ := s.cropUnits()
	crop := x * (s.CropLeft + s.CropRight)
	if crop >= s.Width() {
		return s.Width()
	}
	return s.Width() - crop
}

// DisplayHeight returns the frame height with field coding and cropping
// applied.
func (s *SPS) DisplayHeight() uint32 {
	_, y := s.cropUnits()
	h := s.Height() * s.fieldFactor()
	crop := y * (s.CropTop + s.CropBottom)
	if crop >= h {
		return h
	}
	return h - crop
}

// CodecString returns the RFC 6381 codec parameter (e.g. "avc1.42E01F").
func (s *SPS) CodecString() string {
	return fmt.Sprintf("avc1.%02X%02X%02X", s.ProfileIDC, s.ConstraintFlags, s.LevelIDC)
}
