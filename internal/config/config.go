// Package config holds the server's runtime configuration. Values come
// from command-line flags, then WHIPFAN_* environment variables, then
// defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/zsiec/whipfan/internal/logging"
)

// EnvPrefix prefixes the environment variable of every flag: --record-dir
// is read from WHIPFAN_RECORD_DIR.
const EnvPrefix = "WHIPFAN_"

type Config struct {
	Addr      string
	HTTP3     bool
	CertFile  string
	KeyFile   string
	CertHosts []string

	RecordDir      string
	HLSSegment     time.Duration
	HLSWindow      int
	CodecTimeout   time.Duration
	AllowedOrigins []string

	ICELite    bool
	NAT1To1IPs []string
	UDPPortMin uint16
	UDPPortMax uint16
	ICEServers []string

	Log logging.Options
}

func Default() Config {
	return Config{
		Addr:           ":8443",
		HTTP3:          true,
		RecordDir:      "recordings",
		HLSSegment:     time.Second,
		HLSWindow:      6,
		CodecTimeout:   10 * time.Second,
		AllowedOrigins: []string{"*"},
		ICEServers:     []string{"stun:stun.l.google.com:19302"},
		Log: logging.Options{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
	}
}

// BindFlags registers a flag for every field, defaulting to the current
// value of c.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Addr, "addr", c.Addr, "HTTPS (and HTTP/3) listen address")
	fs.BoolVar(&c.HTTP3, "http3", c.HTTP3, "also serve the API over HTTP/3")
	fs.StringVar(&c.CertFile, "tls-cert", c.CertFile, "TLS certificate file (PEM); self-signed when empty")
	fs.StringVar(&c.KeyFile, "tls-key", c.KeyFile, "TLS private key file (PEM)")
	fs.StringSliceVar(&c.CertHosts, "cert-hosts", c.CertHosts, "extra host names and IPs for the self-signed certificate")

	fs.StringVar(&c.RecordDir, "record-dir", c.RecordDir, "directory for MP4 recordings")
	fs.DurationVar(&c.HLSSegment, "hls-segment", c.HLSSegment, "target HLS segment duration")
	fs.IntVar(&c.HLSWindow, "hls-window", c.HLSWindow, "number of HLS segments kept in the playlist")
	fs.DurationVar(&c.CodecTimeout, "codec-timeout", c.CodecTimeout, "how long consumers wait for a source codec")
	fs.StringSliceVar(&c.AllowedOrigins, "cors-origins", c.AllowedOrigins, "allowed CORS origins")

	fs.BoolVar(&c.ICELite, "ice-lite", c.ICELite, "run ICE in lite mode")
	fs.StringSliceVar(&c.NAT1To1IPs, "nat-1to1-ips", c.NAT1To1IPs, "public IPs advertised as host candidates")
	fs.Uint16Var(&c.UDPPortMin, "udp-port-min", c.UDPPortMin, "lowest UDP port for ICE")
	fs.Uint16Var(&c.UDPPortMax, "udp-port-max", c.UDPPortMax, "highest UDP port for ICE")
	fs.StringSliceVar(&c.ICEServers, "ice-servers", c.ICEServers, "STUN/TURN server URLs")

	fs.StringVar(&c.Log.Level, "log-level", c.Log.Level, "log level: debug, info, warn or error")
	fs.StringVar(&c.Log.Format, "log-format", c.Log.Format, "log format: text or json")
	fs.StringVar(&c.Log.File, "log-file", c.Log.File, "write logs to a rotating file instead of stderr")
	fs.IntVar(&c.Log.MaxSizeMB, "log-max-size", c.Log.MaxSizeMB, "log file size in MB before rotation")
	fs.IntVar(&c.Log.MaxBackups, "log-max-backups", c.Log.MaxBackups, "rotated log files to keep")
	fs.IntVar(&c.Log.MaxAgeDays, "log-max-age", c.Log.MaxAgeDays, "days to keep rotated log files")
}

// EnvName returns the environment variable read for a flag.
func EnvName(flag string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

// ApplyEnv sets every flag not given on the command line from its
// environment variable. lookup is os.LookupEnv when nil.
func ApplyEnv(fs *pflag.FlagSet, lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			return
		}
		v, ok := lookup(EnvName(f.Name))
		if !ok {
			return
		}
		if sv, isSlice := f.Value.(pflag.SliceValue); isSlice {
			if err := sv.Replace(splitList(v)); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", EnvName(f.Name), err))
			}
			return
		}
		if err := f.Value.Set(v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvName(f.Name), err))
		}
	})
	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		errs = append(errs, errors.New("tls-cert and tls-key must be set together"))
	}
	if c.RecordDir == "" {
		errs = append(errs, errors.New("record-dir is required"))
	}
	if c.HLSSegment < 100*time.Millisecond {
		errs = append(errs, fmt.Errorf("hls-segment %v is shorter than 100ms", c.HLSSegment))
	}
	if c.HLSWindow < 1 {
		errs = append(errs, fmt.Errorf("hls-window %d must be positive", c.HLSWindow))
	}
	if c.CodecTimeout <= 0 {
		errs = append(errs, errors.New("codec-timeout must be positive"))
	}
	if (c.UDPPortMin == 0) != (c.UDPPortMax == 0) || c.UDPPortMin > c.UDPPortMax {
		errs = append(errs, fmt.Errorf("invalid udp port range %d-%d", c.UDPPortMin, c.UDPPortMax))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}
