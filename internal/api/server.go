// Package api serves the HTTP interface: WHIP ingest, WHEP playback,
// recording and HLS session control, and stream listing.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"

	"github.com/zsiec/whipfan/internal/certs"
	"github.com/zsiec/whipfan/internal/codec"
	"github.com/zsiec/whipfan/internal/egress"
	"github.com/zsiec/whipfan/internal/hls"
	"github.com/zsiec/whipfan/internal/hub"
	"github.com/zsiec/whipfan/internal/ingest"
	"github.com/zsiec/whipfan/internal/record"
	"github.com/zsiec/whipfan/internal/rtc"
	"github.com/zsiec/whipfan/internal/whep"
	"github.com/zsiec/whipfan/internal/whip"
)

// maxOfferSize bounds the SDP offer read from a request body.
const maxOfferSize = 64 << 10

const shutdownTimeout = 5 * time.Second

const (
	kindWHIP   = "whip"
	kindWHEP   = "whep"
	kindRecord = "record"
	kindHLS    = "hls"
)

type Config struct {
	Addr  string
	Cert  *certs.Cert
	HTTP3 bool
	// AllowedOrigins lists CORS origins; "*" allows any.
	AllowedOrigins []string

	Hub      *hub.Hub
	Sessions *egress.Sessions
	WHIP     *whip.Server
	WHEP     *whep.Server
	HLS      *hls.Registry

	HLSOptions    hls.Options
	RecordOptions record.Options
	Log           *slog.Logger
}

// StreamInfo is the JSON summary of a published stream returned by
// /api/streams.
type StreamInfo struct {
	ID        string              `json:"id"`
	StartedAt time.Time           `json:"startedAt"`
	Sources   []SourceInfo        `json:"sources"`
	Ingest    []ingest.TrackStats `json:"ingest,omitempty"`
}

type SourceInfo struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	MimeType  string `json:"mimeType"`
	ClockRate uint32 `json:"clockRate,omitempty"`
	Codec     string `json:"codec,omitempty"`
	Width     uint32 `json:"width,omitempty"`
	Height    uint32 `json:"height,omitempty"`
	Tracks    int    `json:"tracks"`
}

type certResponse struct {
	Fingerprint string    `json:"fingerprint"`
	NotAfter    time.Time `json:"notAfter"`
	SelfSigned  bool      `json:"selfSigned"`
}

// Server is the HTTPS (and optionally HTTP/3) API server. Sessions it
// starts live until they end on their own, are deleted through the API,
// or the context given to NewServer is cancelled.
type Server struct {
	ctx    context.Context
	config Config
	log    *slog.Logger
	h3     *http3.Server
}

func NewServer(ctx context.Context, config Config) (*Server, error) {
	if config.Hub == nil || config.Sessions == nil {
		return nil, errors.New("api: Hub and Sessions are required")
	}
	if config.WHIP == nil || config.WHEP == nil || config.HLS == nil {
		return nil, errors.New("api: WHIP, WHEP and HLS are required")
	}
	log := config.Log
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		ctx:    ctx,
		config: config,
		log:    log.With("component", "api"),
	}
	if config.HTTP3 && config.Cert != nil {
		s.h3 = &http3.Server{
			Addr:      config.Addr,
			TLSConfig: http3.ConfigureTLSConfig(config.Cert.TLSConfig()),
			QUICConfig: &quic.Config{
				MaxIdleTimeout: 30 * time.Second,
			},
		}
	}
	return s, nil
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/whip", s.handleWHIP)
	mux.HandleFunc("DELETE /v1/whip/{id}", s.handleStop(kindWHIP))
	mux.HandleFunc("POST /v1/whep", s.handleWHEP)
	mux.HandleFunc("DELETE /v1/whep/{id}", s.handleStop(kindWHEP))
	mux.HandleFunc("POST /v1/record", s.handleRecord)
	mux.HandleFunc("DELETE /v1/record/{id}", s.handleStop(kindRecord))
	mux.HandleFunc("POST /v1/hls", s.handleHLS)
	mux.HandleFunc("DELETE /v1/hls/{id}", s.handleStop(kindHLS))
	mux.HandleFunc("OPTIONS /v1/", s.handleOptions)
	mux.HandleFunc("GET /hls/{id}/{file}", s.handleHLSFile)

	mux.HandleFunc("GET /api/streams", s.handleListStreams)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/cert", s.handleCert)
}

// Handler returns the API handler with CORS applied and, when HTTP/3 is
// enabled, an Alt-Svc header advertising it.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	var h http.Handler = s.corsMiddleware(mux)
	if s.h3 != nil {
		h = s.altSvcMiddleware(h)
	}
	return h
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case slices.Contains(s.config.AllowedOrigins, "*"):
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(s.config.AllowedOrigins, origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Expose-Headers", "Location")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) altSvcMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ProtoMajor < 3 {
			if err := s.h3.SetQUICHeaders(w.Header()); err != nil {
				s.log.Debug("setting Alt-Svc", "error", err)
			}
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// statusOf maps a session error to its HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, rtc.ErrUnsupportedOffer),
		errors.Is(err, whip.ErrMissingStream),
		errors.Is(err, whip.ErrInvalidStream),
		errors.Is(err, record.ErrInvalidPath):
		return http.StatusBadRequest
	case errors.Is(err, egress.ErrStreamNotFound),
		errors.Is(err, egress.ErrSessionNotFound),
		errors.Is(err, egress.ErrNoSources),
		errors.Is(err, hls.ErrFileNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// bearerToken returns the token of an "Authorization: Bearer" header.
// The token names the stream.
func bearerToken(r *http.Request) string {
	const prefix = "bearer "
	h := r.Header.Get("Authorization")
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

func readOffer(w http.ResponseWriter, r *http.Request) (string, bool) {
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/sdp") {
		writeError(w, http.StatusUnsupportedMediaType, "content type must be application/sdp")
		return "", false
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxOfferSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "empty offer")
		return "", false
	}
	return string(body), true
}

func writeAnswer(w http.ResponseWriter, location, answer string) {
	w.Header().Set("Content-Type", "application/sdp")
	w.Header().Set("Location", location)
	w.WriteHeader(http.StatusCreated)
	_, _ = io.WriteString(w, answer)
}

func (s *Server) handleWHIP(w http.ResponseWriter, r *http.Request) {
	offer, ok := readOffer(w, r)
	if !ok {
		return
	}
	streamID := bearerToken(r)
	id, answer, err := s.config.WHIP.Publish(s.ctx, streamID, offer)
	if err != nil {
		s.log.Warn("whip publish failed", "stream", streamID, "error", err)
		writeError(w, statusOf(err), err.Error())
		return
	}
	writeAnswer(w, "/v1/whip/"+id, answer)
}

func (s *Server) handleWHEP(w http.ResponseWriter, r *http.Request) {
	offer, ok := readOffer(w, r)
	if !ok {
		return
	}
	streamID := bearerToken(r)
	id, answer, err := s.config.WHEP.Play(s.ctx, streamID, offer)
	if err != nil {
		s.log.Warn("whep play failed", "stream", streamID, "error", err)
		writeError(w, statusOf(err), err.Error())
		return
	}
	writeAnswer(w, "/v1/whep/"+id, answer)
}

// stream resolves the bearer token of r to a published Stream.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) (*hub.Stream, bool) {
	streamID := bearerToken(r)
	if streamID == "" {
		writeError(w, http.StatusBadRequest, "missing bearer token")
		return nil, false
	}
	st, ok := s.config.Hub.GetStream(streamID)
	if !ok {
		writeError(w, http.StatusNotFound, egress.ErrStreamNotFound.Error())
		return nil, false
	}
	return st, true
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	st, ok := s.stream(w, r)
	if !ok {
		return
	}
	id, path, err := record.Start(s.ctx, s.config.Sessions, st, s.config.RecordOptions)
	if err != nil {
		s.log.Warn("record start failed", "stream", st.ID(), "error", err)
		writeError(w, statusOf(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id, "path": path})
}

func (s *Server) handleHLS(w http.ResponseWriter, r *http.Request) {
	st, ok := s.stream(w, r)
	if !ok {
		return
	}
	id := hls.Start(s.ctx, s.config.Sessions, s.config.HLS, st, s.config.HLSOptions)
	writeJSON(w, http.StatusOK, map[string]string{
		"session_id": id,
		"playlist":   fmt.Sprintf("/hls/%s/%s", id, hls.MasterPlaylist),
	})
}

// handleStop ends a session of the given kind. Identifiers of other kinds
// are reported as not found.
func (s *Server) handleStop(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		found := slices.ContainsFunc(s.config.Sessions.List(), func(si egress.SessionInfo) bool {
			return si.ID == id && si.Kind == kind
		})
		if !found {
			writeError(w, http.StatusNotFound, egress.ErrSessionNotFound.Error())
			return
		}
		if err := s.config.Sessions.Stop(id); err != nil {
			writeError(w, statusOf(err), err.Error())
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) handleOptions(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Methods", "POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHLSFile(w http.ResponseWriter, r *http.Request) {
	p, ok := s.config.HLS.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, egress.ErrSessionNotFound.Error())
		return
	}
	data, contentType, err := p.File(r.PathValue("file"))
	if err != nil {
		writeError(w, statusOf(err), err.Error())
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(data)
}

func (s *Server) handleListStreams(w http.ResponseWriter, _ *http.Request) {
	streams := s.config.Hub.List()
	resp := make([]StreamInfo, 0, len(streams))
	for _, st := range streams {
		info := StreamInfo{
			ID:        st.ID(),
			StartedAt: st.StartedAt(),
			Sources:   make([]SourceInfo, 0),
		}
		for _, src := range st.Sources() {
			info.Sources = append(info.Sources, sourceInfo(src))
		}
		if stats, ok := s.config.WHIP.Stats(st.ID()); ok {
			info.Ingest = stats
		}
		resp = append(resp, info)
	}
	slices.SortFunc(resp, func(a, b StreamInfo) int { return strings.Compare(a.ID, b.ID) })
	writeJSON(w, http.StatusOK, resp)
}

func sourceInfo(src *hub.Source) SourceInfo {
	info := SourceInfo{
		ID:       src.ID(),
		Kind:     src.Kind().String(),
		MimeType: src.MimeType(),
		Tracks:   len(src.Tracks()),
	}
	c := src.Codec()
	if c == nil {
		return info
	}
	info.ClockRate = c.ClockRate()
	info.Codec = c.String()
	if v, ok := c.(codec.H264); ok && v.Config != nil {
		info.Width = v.Config.Width()
		info.Height = v.Config.Height()
	}
	return info
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.config.Sessions.List())
}

func (s *Server) handleCert(w http.ResponseWriter, _ *http.Request) {
	if s.config.Cert == nil {
		writeError(w, http.StatusNotFound, "no certificate")
		return
	}
	writeJSON(w, http.StatusOK, certResponse{
		Fingerprint: s.config.Cert.FingerprintHex(),
		NotAfter:    s.config.Cert.NotAfter,
		SelfSigned:  s.config.Cert.SelfSigned,
	})
}

// Start serves HTTPS, and HTTP/3 when enabled, on the configured address
// until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if s.config.Cert == nil {
		return errors.New("api: Cert is required to serve")
	}
	handler := s.Handler()
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           handler,
		TLSConfig:         s.config.Cert.TLSConfig(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 2)
	go func() {
		s.log.Info("HTTPS API server listening", "addr", s.config.Addr)
		if err := srv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("https server: %w", err)
			return
		}
		errc <- nil
	}()
	running := 1
	if s.h3 != nil {
		s.h3.Handler = handler
		running++
		go func() {
			s.log.Info("HTTP/3 API server listening", "addr", s.config.Addr)
			if err := s.h3.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) && ctx.Err() == nil {
				errc <- fmt.Errorf("http3 server: %w", err)
				return
			}
			errc <- nil
		}()
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errc:
		running--
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil && err == nil {
		err = serr
	}
	if s.h3 != nil {
		_ = s.h3.Close()
	}
	for ; running > 0; running-- {
		if e := <-errc; e != nil && err == nil {
			err = e
		}
	}
	return err
}
