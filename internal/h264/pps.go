package h264

import (
	"fmt"
	"math/bits"

	"github.com/zsiec/whipfan/internal/bitstream"
)

// PPS is a parsed Picture Parameter Set. The optional High-profile trailer
// (transform_8x8_mode_flag and later) is not parsed.
type PPS struct {
	// Payload is the complete NAL unit, header included, as received.
	Payload []byte

	PicParameterSetID                 uint32
	SeqParameterSetID                 uint32
	EntropyCodingMode                 bool
	BottomFieldPicOrderInFramePresent bool
	NumSliceGroupsMinus1              uint32

	SliceGroupMapType          uint32
	RunLengthMinus1            []uint32
	TopLeft                    []uint32
	BottomRight                []uint32
	SliceGroupChangeDirection  bool
	SliceGroupChangeRateMinus1 uint32
	PicSizeInMapUnitsMinus1    uint32
	SliceGroupID               []uint32

	NumRefIdxL0DefaultActiveMinus1 uint32
	NumRefIdxL1DefaultActiveMinus1 uint32
	WeightedPred                   bool
	WeightedBipredIDC              uint8
	PicInitQPMinus26               int32
	PicInitQSMinus26               int32
	ChromaQPIndexOffset            int32
	DeblockingFilterControlPresent bool
	ConstrainedIntraPred           bool
	RedundantPicCntPresent         bool
}

// ParsePPS parses data, a complete PPS NAL unit without start code.
func ParsePPS(data []byte) (*PPS, error) {
	nalu, err := ParseNALUnit(data)
	if err != nil {
		return nil, err
	}
	return PPSFromNAL(nalu)
}

// PPSFromNAL parses a PPS from an already split NAL unit.
func PPSFromNAL(nalu *NALUnit) (*PPS, error) {
	if nalu.Type != NALTypePPS {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrNALTypeMismatch, nalu.Type, NALTypePPS)
	}

	f := &fieldReader{r: nalu.Reader()}
	p := &PPS{Payload: nalu.Bytes()}

	p.PicParameterSetID = f.ueMax("pic_parameter_set_id", 255)
	p.SeqParameterSetID = f.ueMax("seq_parameter_set_id", 31)
	p.EntropyCodingMode = f.flag("entropy_coding_mode_flag")
	p.BottomFieldPicOrderInFramePresent = f.flag("bottom_field_pic_order_in_frame_present_flag")
	p.NumSliceGroupsMinus1 = f.ueMax("num_slice_groups_minus1", 7)

	if p.NumSliceGroupsMinus1 > 0 {
		parseSliceGroups(f, p)
	}

	p.NumRefIdxL0DefaultActiveMinus1 = f.ueMax("num_ref_idx_l0_default_active_minus1", 31)
	p.NumRefIdxL1DefaultActiveMinus1 = f.ueMax("num_ref_idx_l1_default_active_minus1", 31)
	p.WeightedPred = f.flag("weighted_pred_flag")
	p.WeightedBipredIDC = f.u8("weighted_bipred_idc", 2)
	p.PicInitQPMinus26 = f.se("pic_init_qp_minus26")
	p.PicInitQSMinus26 = f.se("pic_init_qs_minus26")
	p.ChromaQPIndexOffset = f.se("chroma_qp_index_offset")
	p.DeblockingFilterControlPresent = f.flag("deblocking_filter_control_present_flag")
	p.ConstrainedIntraPred = f.flag("constrained_intra_pred_flag")
	p.RedundantPicCntPresent = f.flag("redundant_pic_cnt_present_flag")

	if f.err != nil {
		return nil, f.err
	}
	return p, nil
}

func parseSliceGroups(f *fieldReader, p *PPS) {
	p.SliceGroupMapType = f.ueMax("slice_group_map_type", 6)
	switch p.SliceGroupMapType {
	case 0:
		for i := uint32(0); i <= p.NumSliceGroupsMinus1 && f.err == nil; i++ {
			p.RunLengthMinus1 = append(p.RunLengthMinus1, f.ue("run_length_minus1"))
		}
	case 2:
		for i := uint32(0); i < p.NumSliceGroupsMinus1 && f.err == nil; i++ {
			p.TopLeft = append(p.TopLeft, f.ue("top_left"))
			p.BottomRight = append(p.BottomRight, f.ue("bottom_right"))
		}
	case 3, 4, 5:
		p.SliceGroupChangeDirection = f.flag("slice_group_change_direction_flag")
		p.SliceGroupChangeRateMinus1 = f.ue("slice_group_change_rate_minus1")
	case 6:
		p.PicSizeInMapUnitsMinus1 = f.ue("pic_size_in_map_units_minus1")
		if f.err != nil {
			return
		}
		// slice_group_id is Ceil(Log2(num_slice_groups_minus1+1)) bits wide.
		width := bits.Len32(p.NumSliceGroupsMinus1)
		count := uint64(p.PicSizeInMapUnitsMinus1) + 1
		if count*uint64(width) > uint64(f.r.BitsLeft()) {
			f.fail("slice_group_id", bitstream.ErrEndOfStream)
			return
		}
		p.SliceGroupID = make([]uint32, 0, count)
		for i := uint64(0); i < count && f.err == nil; i++ {
			p.SliceGroupID = append(p.SliceGroupID, f.bits("slice_group_id", width))
		}
	}
}
