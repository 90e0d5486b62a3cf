package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/zsiec/whipfan/internal/h264"
)

var errNoParameterSets = errors.New("no SPS/PPS pair found")

func newProbeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "probe <file.h264>",
		Short: "Print the parameter sets of an Annex B H.264 file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return probe(cmd.OutOrStdout(), data)
		},
	}
}

func probe(w io.Writer, data []byte) error {
	var sps, pps []byte
	counts := make(map[byte]int)
	for _, nalu := range h264.SplitAnnexB(data) {
		if len(nalu) == 0 {
			continue
		}
		t := h264.NALType(nalu[0])
		counts[t]++
		switch {
		case t == h264.NALTypeSPS && sps == nil:
			sps = nalu
		case t == h264.NALTypePPS && pps == nil:
			pps = nalu
		}
	}

	types := make([]int, 0, len(counts))
	for t := range counts {
		types = append(types, int(t))
	}
	sort.Ints(types)
	fmt.Fprintln(w, "NAL units:")
	for _, t := range types {
		fmt.Fprintf(w, "\ttype %d: %d\n", t, counts[byte(t)])
	}

	if sps == nil || pps == nil {
		return errNoParameterSets
	}
	cfg, err := h264.NewConfig(sps, pps)
	if err != nil {
		return err
	}
	s, p := cfg.SPS(), cfg.PPS()

	fmt.Fprintln(w, "SPS:")
	fmt.Fprintf(w, "\tprofile_idc: %d\n", s.ProfileIDC)
	fmt.Fprintf(w, "\tconstraint_flags: 0x%02x\n", s.ConstraintFlags)
	fmt.Fprintf(w, "\tlevel_idc: %d\n", s.LevelIDC)
	fmt.Fprintf(w, "\tseq_parameter_set_id: %d\n", s.SeqParameterSetID)
	fmt.Fprintf(w, "\tchroma_format_idc: %d\n", s.ChromaFormatIDC)
	fmt.Fprintf(w, "\tpic_order_cnt_type: %d\n", s.PicOrderCntType)
	fmt.Fprintf(w, "\tnum_ref_frames: %d\n", s.NumRefFrames)
	fmt.Fprintf(w, "\tframe_mbs_only: %v\n", s.FrameMbsOnly)
	fmt.Fprintf(w, "\tframe_cropping: %v\n", s.FrameCropping)
	fmt.Fprintf(w, "\tvui_parameters_present: %v\n", s.VUIParametersPresent)

	fmt.Fprintln(w, "PPS:")
	fmt.Fprintf(w, "\tpic_parameter_set_id: %d\n", p.PicParameterSetID)
	fmt.Fprintf(w, "\tseq_parameter_set_id: %d\n", p.SeqParameterSetID)
	fmt.Fprintf(w, "\tentropy_coding_mode: %v\n", p.EntropyCodingMode)
	fmt.Fprintf(w, "\tnum_slice_groups_minus1: %d\n", p.NumSliceGroupsMinus1)
	fmt.Fprintf(w, "\tpic_init_qp_minus26: %d\n", p.PicInitQPMinus26)
	fmt.Fprintf(w, "\tdeblocking_filter_control_present: %v\n", p.DeblockingFilterControlPresent)

	fmt.Fprintf(w, "dimensions: %dx%d (display %dx%d)\n", cfg.Width(), cfg.Height(), s.DisplayWidth(), s.DisplayHeight())
	fmt.Fprintf(w, "codec: %s\n", cfg.CodecString())
	fmt.Fprintf(w, "profile-level-id: %s\n", cfg.ProfileLevelID())
	fmt.Fprintf(w, "avcC: %s\n", hex.EncodeToString(cfg.Extradata()))
	return nil
}
