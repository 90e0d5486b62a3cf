package h264

import "github.com/zsiec/whipfan/internal/bitstream"

type spsFields struct {
	profile, constraints, level uint8
	pocType                     uint32
	widthMbsMinus1              uint32
	heightMapUnitsMinus1        uint32
	fieldCoded                  bool
	crop                        *[4]uint32 // left, right, top, bottom
}

func baseline720p() spsFields {
	return spsFields{
		profile:              66,
		constraints:          0xC0,
		level:                31,
		widthMbsMinus1:       79,
		heightMapUnitsMinus1: 44,
	}
}

func buildSPS(f spsFields) []byte {
	w := bitstream.NewWriter()
	w.PutBits(8, uint32(f.profile))
	w.PutBits(8, uint32(f.constraints))
	w.PutBits(8, uint32(f.level))
	w.PutUE(0) // seq_parameter_set_id
	if highProfiles[f.profile] {
		w.PutUE(1)      // chroma_format_idc 4:2:0
		w.PutUE(0)      // bit_depth_luma_minus8
		w.PutUE(0)      // bit_depth_chroma_minus8
		w.PutBit(false) // qpprime_y_zero_transform_bypass_flag
		w.PutBit(false) // seq_scaling_matrix_present_flag
	}
	w.PutUE(0) // log2_max_frame_num_minus4
	w.PutUE(f.pocType)
	switch f.pocType {
	case 0:
		w.PutUE(2)
	case 1:
		w.PutBit(false)
		w.PutSE(-1)
		w.PutSE(3)
		w.PutUE(2)
		w.PutSE(5)
		w.PutSE(-7)
	}
	w.PutUE(1)      // max_num_ref_frames
	w.PutBit(false) // gaps_in_frame_num_value_allowed_flag
	w.PutUE(f.widthMbsMinus1)
	w.PutUE(f.heightMapUnitsMinus1)
	w.PutBit(!f.fieldCoded)
	if f.fieldCoded {
		w.PutBit(false)
	}
	w.PutBit(true) // direct_8x8_inference_flag
	w.PutBit(f.crop != nil)
	if f.crop != nil {
		for _, v := range f.crop {
			w.PutUE(v)
		}
	}
	w.PutBit(false) // vui_parameters_present_flag
	w.TrailingBits()
	return withHeader(0x67, w.Bytes())
}

func buildPPS(sliceGroups func(w *bitstream.Writer)) []byte {
	w := bitstream.NewWriter()
	w.PutUE(0)      // pic_parameter_set_id
	w.PutUE(0)      // seq_parameter_set_id
	w.PutBit(false) // entropy_coding_mode_flag
	w.PutBit(false) // bottom_field_pic_order_in_frame_present_flag
	if sliceGroups == nil {
		w.PutUE(0)
	} else {
		sliceGroups(w)
	}
	w.PutUE(0)      // num_ref_idx_l0_default_active_minus1
	w.PutUE(0)      // num_ref_idx_l1_default_active_minus1
	w.PutBit(false) // weighted_pred_flag
	w.PutBits(2, 0) // weighted_bipred_idc
	w.PutSE(-3)     // pic_init_qp_minus26
	w.PutSE(0)      // pic_init_qs_minus26
	w.PutSE(2)      // chroma_qp_index_offset
	w.PutBit(true)  // deblocking_filter_control_present_flag
	w.PutBit(false) // constrained_intra_pred_flag
	w.PutBit(false) // redundant_pic_cnt_present_flag
	w.TrailingBits()
	return withHeader(0x68, w.Bytes())
}

// withHeader prepends the NAL header and inserts emulation-prevention bytes.
func withHeader(header byte, rbsp []byte) []byte {
	out := []byte{header}
	zeros := 0
	for _, b := range rbsp {
		if zeros >= 2 && b <= 3 {
			out = append(out, 3)
			zeros = 0
		}
		out = append(out, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}
