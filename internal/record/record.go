// Package record writes live streams to fragmented MP4 files.
package record

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zsiec/whipfan/internal/codec"
	"github.com/zsiec/whipfan/internal/egress"
	"github.com/zsiec/whipfan/internal/fmp4"
	"github.com/zsiec/whipfan/internal/hub"
	"github.com/zsiec/whipfan/internal/media"
)

var (
	// ErrNoVideo is returned when a stream has no H.264 source to record.
	ErrNoVideo = errors.New("record: stream has no H.264 video")
	// ErrInvalidPath is returned when a recording would be written outside
	// its directory.
	ErrInvalidPath = errors.New("record: invalid recording path")
)

// Path returns the output file for a recording session. The file name must
// be a single path element so the result stays inside dir.
func Path(dir, stream, session string) (string, error) {
	name := fmt.Sprintf("%s-%s.mp4", stream, session)
	if strings.ContainsAny(name, `/\`) || name != filepath.Base(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	path := filepath.Join(dir, name)
	rel, err := filepath.Rel(filepath.Clean(dir), path)
	if err != nil || rel != name {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	return path, nil
}

// Recorder is an egress.Handler that writes the first H.264 source and the
// first Opus source of a stream to a fragmented MP4 file, one fragment per
// GOP. Audio received during a GOP is written in the same fragment.
type Recorder struct {
	path string
	log  *slog.Logger

	file    *os.File
	w       *bufio.Writer
	muxer   *fmp4.Muxer
	builder *fmp4.Builder
	video   int

	audio        int
	audioBuilder *fmp4.AudioBuilder
	audioPending []fmp4.Sample

	fragments int
}

func NewRecorder(path string, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{
		path:  path,
		log:   log.With("component", "record", "path", path),
		video: -1,
		audio: -1,
	}
}

func (r *Recorder) Path() string { return r.path }

func (r *Recorder) Init(sources []egress.SourceInfo) error {
	var opus codec.Opus
	for _, s := range sources {
		switch c := s.Codec.(type) {
		case codec.H264:
			if r.video < 0 {
				r.video = s.Index
				r.muxer = fmp4.NewMuxer(c.Config, c.ClockRate())
			}
		case codec.Opus:
			if r.audio < 0 {
				r.audio = s.Index
				opus = c
			}
		}
	}
	if r.video < 0 {
		return ErrNoVideo
	}
	if r.audio >= 0 {
		r.muxer.AddOpus(opus.Channels())
		r.audioBuilder = fmp4.NewAudioBuilder()
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("record: %w", err)
	}
	f, err := os.Create(r.path)
	if err != nil {
		return fmt.Errorf("record: %w", err)
	}
	r.file = f
	r.w = bufio.NewWriter(f)
	r.builder = fmp4.NewBuilder()
	if err := r.muxer.WriteInit(r.w); err != nil {
		f.Close()
		return err
	}
	r.log.Info("recording started", "audio", r.audio >= 0)
	return nil
}

func (r *Recorder) Unit(index int, _ codec.Codec, u media.Unit) error {
	switch index {
	case r.video:
		if gop := r.builder.Push(u); gop != nil {
			return r.writeFragment(gop)
		}
	case r.audio:
		r.audioPending = append(r.audioPending, r.audioBuilder.Push(u)...)
	}
	return nil
}

// writeFragment writes gop together with the audio received so far.
func (r *Recorder) writeFragment(gop []fmp4.Sample) error {
	audio := r.audioPending
	r.audioPending = nil
	if err := r.muxer.WriteFragment(r.w, gop, audio); err != nil {
		return fmt.Errorf("record: write fragment: %w", err)
	}
	r.fragments++
	return nil
}

// Close writes the pending samples and closes the file.
func (r *Recorder) Close() error {
	var errs []error
	gop := r.builder.Flush()
	if r.audioBuilder != nil {
		r.audioPending = append(r.audioPending, r.audioBuilder.Flush()...)
	}
	if len(gop) > 0 || len(r.audioPending) > 0 {
		errs = append(errs, r.writeFragment(gop))
	}
	errs = append(errs, r.w.Flush(), r.file.Close())
	r.log.Info("recording finished", "fragments", r.fragments)
	return errors.Join(errs...)
}

type Options struct {
	Dir          string
	CodecTimeout time.Duration
	Log          *slog.Logger
}

// Start records st under sessions and returns the session identifier and
// the output path. No session is started when the stream identifier would
// place the file outside opts.Dir.
func Start(ctx context.Context, sessions *egress.Sessions, st *hub.Stream, opts Options) (id, path string, err error) {
	if _, err := Path(opts.Dir, st.ID(), ""); err != nil {
		return "", "", err
	}
	id = sessions.Start(ctx, "record", st.ID(), func(ctx context.Context, id string) error {
		path, err := Path(opts.Dir, st.ID(), id)
		if err != nil {
			return err
		}
		return egress.NewSession(egress.Config{
			Stream:       st,
			Handler:      NewRecorder(path, opts.Log),
			CodecTimeout: opts.CodecTimeout,
			Log:          opts.Log,
		}).Run(ctx)
	})
	path, err = Path(opts.Dir, st.ID(), id)
	return id, path, err
}
