// Package h264test builds H.264 bitstream fixtures for tests.
package h264test

import "github.com/zsiec/whipfan/internal/bitstream"

// SPS returns a Constrained Baseline level 3.1 SPS NAL unit for a
// progressive picture of the given macroblock dimensions.
func SPS(widthMbsMinus1, heightMapUnitsMinus1 uint32) []byte {
	w := bitstream.NewWriter()
	w.PutBits(8, 0x67)
	w.PutBits(8, 66)
	w.PutBits(8, 0xC0)
	w.PutBits(8, 31)
	w.PutUE(0)      // seq_parameter_set_id
	w.PutUE(0)      // log2_max_frame_num_minus4
	w.PutUE(2)      // pic_order_cnt_type
	w.PutUE(1)      // max_num_ref_frames
	w.PutBit(false) // gaps_in_frame_num_value_allowed_flag
	w.PutUE(widthMbsMinus1)
	w.PutUE(heightMapUnitsMinus1)
	w.PutBit(true)  // frame_mbs_only_flag
	w.PutBit(true)  // direct_8x8_inference_flag
	w.PutBit(false) // frame_cropping_flag
	w.PutBit(false) // vui_parameters_present_flag
	w.TrailingBits()
	return escape(w.Bytes())
}

// SPS720p returns a 1280x720 SPS.
func SPS720p() []byte { return SPS(79, 44) }

// PPS returns a minimal CAVLC PPS NAL unit with the given qp offset.
func PPS(picInitQPMinus26 int32) []byte {
	w := bitstream.NewWriter()
	w.PutBits(8, 0x68)
	w.PutUE(0)      // pic_parameter_set_id
	w.PutUE(0)      // seq_parameter_set_id
	w.PutBits(2, 0) // entropy_coding_mode_flag, bottom_field_pic_order_in_frame_present_flag
	w.PutUE(0)      // num_slice_groups_minus1
	w.PutUE(0)      // num_ref_idx_l0_default_active_minus1
	w.PutUE(0)      // num_ref_idx_l1_default_active_minus1
	w.PutBits(3, 0) // weighted_pred_flag, weighted_bipred_idc
	w.PutSE(picInitQPMinus26)
	w.PutSE(0)      // pic_init_qs_minus26
	w.PutSE(0)      // chroma_qp_index_offset
	w.PutBits(3, 4) // deblocking_filter_control_present_flag, constrained_intra_pred_flag, redundant_pic_cnt_present_flag
	w.TrailingBits()
	return escape(w.Bytes())
}

// NAL returns a NAL unit of the given type and total size with a
// deterministic, start-code-free body.
func NAL(nalType byte, size int) []byte {
	if size < 1 {
		size = 1
	}
	b := make([]byte, size)
	b[0] = 0x60 | nalType&0x1F
	for i := 1; i < size; i++ {
		b[i] = byte(i%250) + 1
	}
	return b
}

// escape inserts emulation-prevention bytes after the header byte.
func escape(nal []byte) []byte {
	out := []byte{nal[0]}
	zeros := 0
	for _, b := range nal[1:] {
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
