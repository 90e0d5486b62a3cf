package hls

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/grafov/m3u8"

	"github.com/zsiec/whipfan/internal/codec"
	"github.com/zsiec/whipfan/internal/egress"
	"github.com/zsiec/whipfan/internal/fmp4"
	"github.com/zsiec/whipfan/internal/media"
)

const (
	DefaultTargetDuration = time.Second
	DefaultWindow         = 6
	// DefaultBandwidth is advertised in the master playlist. It matches the
	// bitrate requested from publishers.
	DefaultBandwidth = 3_000_000

	MasterPlaylist = "index.m3u8"
	MediaPlaylist  = "video.m3u8"
	InitSegment    = "init.mp4"
)

var (
	ErrNoVideo      = errors.New("hls: stream has no H.264 video")
	ErrFileNotFound = errors.New("hls: file not found")
)

type Options struct {
	TargetDuration time.Duration
	Window         int
	CodecTimeout   time.Duration
	Log            *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.TargetDuration <= 0 {
		o.TargetDuration = DefaultTargetDuration
	}
	if o.Window <= 0 {
		o.Window = DefaultWindow
	}
	if o.Log == nil {
		o.Log = slog.Default()
	}
	return o
}

// Packager is an egress.Handler that cuts the first H.264 source of a
// stream into fMP4 segments, muxing the first Opus source alongside it. A
// segment ends at the first keyframe after the target duration.
type Packager struct {
	opts Options
	log  *slog.Logger

	video     int
	timescale uint32
	muxer     *fmp4.Muxer
	builder   *fmp4.Builder
	pending   []fmp4.Sample
	pendTicks uint64

	audio        int
	audioBuilder *fmp4.AudioBuilder
	audioPending []fmp4.Sample

	mu       sync.RWMutex
	init     []byte
	master   []byte
	media    []byte
	playlist *m3u8.MediaPlaylist
	segments map[string][]byte
	order    []string
	seq      int
}

func NewPackager(opts Options) *Packager {
	opts = opts.withDefaults()
	return &Packager{
		opts:     opts,
		log:      opts.Log.With("component", "hls"),
		video:    -1,
		audio:    -1,
		segments: make(map[string][]byte),
	}
}

func (p *Packager) Init(sources []egress.SourceInfo) error {
	var (
		h264c codec.H264
		opus  codec.Opus
	)
	for _, s := range sources {
		switch c := s.Codec.(type) {
		case codec.H264:
			if p.video < 0 {
				h264c = c
				p.video = s.Index
			}
		case codec.Opus:
			if p.audio < 0 {
				opus = c
				p.audio = s.Index
			}
		}
	}
	if p.video < 0 {
		return ErrNoVideo
	}

	p.timescale = h264c.ClockRate()
	p.muxer = fmp4.NewMuxer(h264c.Config, p.timescale)
	p.builder = fmp4.NewBuilder()
	codecs := h264c.Config.CodecString()
	if p.audio >= 0 {
		p.muxer.AddOpus(opus.Channels())
		p.audioBuilder = fmp4.NewAudioBuilder()
		codecs += "," + opus.String()
	}
	initSeg, err := p.muxer.Init()
	if err != nil {
		return err
	}

	playlist, err := m3u8.NewMediaPlaylist(uint(p.opts.Window), uint(p.opts.Window))
	if err != nil {
		return fmt.Errorf("hls: %w", err)
	}
	playlist.TargetDuration = p.opts.TargetDuration.Seconds()
	playlist.SetDefaultMap(InitSegment, 0, 0)

	master := m3u8.NewMasterPlaylist()
	master.Append(MediaPlaylist, playlist, m3u8.VariantParams{
		Bandwidth:  DefaultBandwidth,
		Codecs:     codecs,
		Resolution: fmt.Sprintf("%dx%d", h264c.Config.Width(), h264c.Config.Height()),
	})

	p.mu.Lock()
	p.init = initSeg
	p.playlist = playlist
	p.master = bytes.Clone(master.Encode().Bytes())
	p.encodeMedia()
	p.mu.Unlock()
	return nil
}

func (p *Packager) Unit(index int, _ codec.Codec, u media.Unit) error {
	if index == p.audio {
		p.audioPending = append(p.audioPending, p.audioBuilder.Push(u)...)
		return nil
	}
	if index != p.video {
		return nil
	}
	gop := p.builder.Push(u)
	if gop == nil {
		return nil
	}
	p.pending = append(p.pending, gop...)
	for _, s := range gop {
		p.pendTicks += uint64(s.Duration)
	}
	if time.Duration(p.pendTicks)*time.Second/time.Duration(p.timescale) >= p.opts.TargetDuration {
		return p.cut()
	}
	return nil
}

func (p *Packager) cut() error {
	if len(p.pending) == 0 {
		return nil
	}
	data, err := p.muxer.Segment(p.pending, p.audioPending)
	if err != nil {
		return err
	}
	dur := float64(p.pendTicks) / float64(p.timescale)
	p.pending, p.pendTicks = nil, 0
	p.audioPending = nil

	p.mu.Lock()
	defer p.mu.Unlock()
	name := fmt.Sprintf("seg%d.m4s", p.seq)
	p.seq++
	if len(p.order) == p.opts.Window {
		delete(p.segments, p.order[0])
		p.order = p.order[1:]
	}
	p.segments[name] = data
	p.order = append(p.order, name)
	p.playlist.Slide(name, dur, "")
	p.encodeMedia()
	p.log.Debug("segment ready", "segment", name, "duration", dur)
	return nil
}

// encodeMedia refreshes the served media playlist. p.mu must be held.
func (p *Packager) encodeMedia() {
	p.playlist.ResetCache()
	p.media = bytes.Clone(p.playlist.Encode().Bytes())
}

// Close emits the final segment and ends the media playlist.
func (p *Packager) Close() error {
	if gop := p.builder.Flush(); gop != nil {
		p.pending = append(p.pending, gop...)
		for _, s := range gop {
			p.pendTicks += uint64(s.Duration)
		}
	}
	if p.audioBuilder != nil {
		p.audioPending = append(p.audioPending, p.audioBuilder.Flush()...)
	}
	err := p.cut()
	p.mu.Lock()
	p.playlist.Close()
	p.encodeMedia()
	p.mu.Unlock()
	return err
}

// File returns the content and MIME type of a served file.
func (p *Packager) File(name string) ([]byte, string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.init == nil {
		return nil, "", ErrFileNotFound
	}
	switch name {
	case MasterPlaylist:
		return p.master, "application/vnd.apple.mpegurl", nil
	case MediaPlaylist:
		return p.media, "application/vnd.apple.mpegurl", nil
	case InitSegment:
		return p.init, "video/mp4", nil
	}
	if data, ok := p.segments[name]; ok {
		return data, "video/iso.segment", nil
	}
	return nil, "", ErrFileNotFound
}
