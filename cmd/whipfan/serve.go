package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/whipfan/internal/api"
	"github.com/zsiec/whipfan/internal/certs"
	"github.com/zsiec/whipfan/internal/config"
	"github.com/zsiec/whipfan/internal/egress"
	"github.com/zsiec/whipfan/internal/hls"
	"github.com/zsiec/whipfan/internal/hub"
	"github.com/zsiec/whipfan/internal/logging"
	"github.com/zsiec/whipfan/internal/record"
	"github.com/zsiec/whipfan/internal/rtc"
	"github.com/zsiec/whipfan/internal/whep"
	"github.com/zsiec/whipfan/internal/whip"
)

func newServeCommand() *cobra.Command {
	cfg := config.Default()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the WHIP/WHEP server",
		Long: "Run the WHIP/WHEP server. Every flag can also be set through a " +
			config.EnvPrefix + "* environment variable, e.g. " + config.EnvName("record-dir") + ".",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.ApplyEnv(cmd.Flags(), nil); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cfg.BindFlags(cmd.Flags())
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	log, closer, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()
	slog.SetDefault(log)

	cert, err := certs.Resolve(cfg.CertFile, cfg.KeyFile, cfg.CertHosts)
	if err != nil {
		return fmt.Errorf("certificate: %w", err)
	}
	log.Info("certificate ready",
		"self_signed", cert.SelfSigned,
		"fingerprint", cert.FingerprintHex(),
		"expires", cert.NotAfter.Format(time.RFC3339),
	)

	engine, err := rtc.NewEngine(rtc.Options{
		ICELite:    cfg.ICELite,
		NAT1To1IPs: cfg.NAT1To1IPs,
		UDPPortMin: cfg.UDPPortMin,
		UDPPortMax: cfg.UDPPortMax,
		ICEServers: cfg.ICEServers,
	})
	if err != nil {
		return err
	}

	h := hub.New(log)
	sessions := egress.NewSessions(log)

	g, ctx := errgroup.WithContext(ctx)

	srv, err := api.NewServer(ctx, api.Config{
		Addr:           cfg.Addr,
		Cert:           cert,
		HTTP3:          cfg.HTTP3,
		AllowedOrigins: cfg.AllowedOrigins,
		Hub:            h,
		Sessions:       sessions,
		WHIP: whip.NewServer(whip.Config{
			Engine:   engine,
			Hub:      h,
			Sessions: sessions,
			Log:      log,
		}),
		WHEP: whep.NewServer(whep.Config{
			Engine:       engine,
			Hub:          h,
			Sessions:     sessions,
			CodecTimeout: cfg.CodecTimeout,
			Log:          log,
		}),
		HLS: hls.NewRegistry(),
		HLSOptions: hls.Options{
			TargetDuration: cfg.HLSSegment,
			Window:         cfg.HLSWindow,
			CodecTimeout:   cfg.CodecTimeout,
			Log:            log,
		},
		RecordOptions: record.Options{
			Dir:          cfg.RecordDir,
			CodecTimeout: cfg.CodecTimeout,
			Log:          log,
		},
		Log: log,
	})
	if err != nil {
		return err
	}

	log.Info("whipfan starting",
		"version", version,
		"addr", cfg.Addr,
		"http3", cfg.HTTP3,
		"record_dir", cfg.RecordDir,
	)

	g.Go(func() error {
		return srv.Start(ctx)
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down", "sessions", sessions.Len())
		sessions.StopAll()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		return err
	}
	return nil
}
