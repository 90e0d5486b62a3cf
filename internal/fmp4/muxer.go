package fmp4

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/Eyevinn/mp4ff/mp4"

	"github.com/zsiec/whipfan/internal/h264"
)

// Track IDs in the init segment. The audio track exists only when the
// Muxer was given an Opus track with AddOpus.
const (
	VideoTrackID = 1
	AudioTrackID = 2
)

// OpusTimescale is the sample clock of the Opus track.
const OpusTimescale = 48000

var ErrNoSamples = errors.New("fmp4: no samples")

// Muxer encodes an H.264 video track and an optional Opus audio track.
type Muxer struct {
	cfg       *h264.Config
	timescale uint32
	channels  uint16
	seq       uint32
}

// NewMuxer returns a Muxer for the parameter sets in cfg. Video sample
// times are in timescale ticks per second.
func NewMuxer(cfg *h264.Config, timescale uint32) *Muxer {
	return &Muxer{cfg: cfg, timescale: timescale}
}

// AddOpus adds an Opus track with the given channel count. It must be
// called before the init segment is written.
func (m *Muxer) AddOpus(channels uint16) {
	m.channels = channels
}

// HasAudio reports whether the Muxer carries an Opus track.
func (m *Muxer) HasAudio() bool { return m.channels > 0 }

// WriteInit writes the ftyp and moov boxes.
func (m *Muxer) WriteInit(w io.Writer) error {
	initSeg := mp4.CreateEmptyInit()
	video := initSeg.AddEmptyTrack(m.timescale, "video", "und")
	sps := [][]byte{m.cfg.SPS().Payload}
	pps := [][]byte{m.cfg.PPS().Payload}
	if err := video.SetAVCDescriptor("avc1", sps, pps, true); err != nil {
		return fmt.Errorf("fmp4: avc descriptor: %w", err)
	}
	if m.HasAudio() {
		audio := initSeg.AddEmptyTrack(OpusTimescale, "audio", "und")
		dops := &mp4.DopsBox{
			OutputChannelCount: byte(m.channels),
			InputSampleRate:    OpusTimescale,
		}
		audio.Mdia.Minf.Stbl.Stsd.AddChild(mp4.CreateAudioSampleEntryBox("Opus", m.channels, 16, OpusTimescale, dops))
	}
	return initSeg.Encode(w)
}

// Init returns the encoded init segment.
func (m *Muxer) Init() ([]byte, error) {
	var buf bytes.Buffer
	if err := m.WriteInit(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (m *Muxer) fragment(video, audio []Sample) (*mp4.Fragment, error) {
	if !m.HasAudio() {
		audio = nil
	}
	var ids []uint32
	if len(video) > 0 {
		ids = append(ids, VideoTrackID)
	}
	if len(audio) > 0 {
		ids = append(ids, AudioTrackID)
	}
	if len(ids) == 0 {
		return nil, ErrNoSamples
	}
	m.seq++
	frag, err := mp4.CreateMultiTrackFragment(m.seq, ids)
	if err != nil {
		return nil, fmt.Errorf("fmp4: create fragment: %w", err)
	}
	if err := addSamples(frag, VideoTrackID, video); err != nil {
		return nil, err
	}
	if err := addSamples(frag, AudioTrackID, audio); err != nil {
		return nil, err
	}
	return frag, nil
}

func addSamples(frag *mp4.Fragment, trackID uint32, samples []Sample) error {
	for _, s := range samples {
		flags := mp4.NonSyncSampleFlags
		if s.Keyframe {
			flags = mp4.SyncSampleFlags
		}
		err := frag.AddFullSampleToTrack(mp4.FullSample{
			Sample: mp4.Sample{
				Flags: flags,
				Dur:   s.Duration,
				Size:  uint32(len(s.Data)),
			},
			DecodeTime: s.DecodeTime,
			Data:       s.Data,
		}, trackID)
		if err != nil {
			return fmt.Errorf("fmp4: track %d: %w", trackID, err)
		}
	}
	return nil
}

// WriteFragment writes the video and audio samples as one moof/mdat pair.
// Either slice may be empty but not both. Fragments carry increasing
// sequence numbers.
func (m *Muxer) WriteFragment(w io.Writer, video, audio []Sample) error {
	frag, err := m.fragment(video, audio)
	if err != nil {
		return err
	}
	return frag.Encode(w)
}

// Segment returns the samples as a standalone media segment (styp, moof,
// mdat).
func (m *Muxer) Segment(video, audio []Sample) ([]byte, error) {
	frag, err := m.fragment(video, audio)
	if err != nil {
		return nil, err
	}
	seg := mp4.NewMediaSegment()
	seg.AddFragment(frag)
	var buf bytes.Buffer
	if err := seg.Encode(&buf); err != nil {
		return nil, fmt.Errorf("fmp4: encode segment: %w", err)
	}
	return buf.Bytes(), nil
}
