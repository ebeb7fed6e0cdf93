package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/a869320750/rtk-gnss-worker/internal/config"
	"github.com/a869320750/rtk-gnss-worker/internal/ntrip"
	"github.com/a869320750/rtk-gnss-worker/internal/publish"
	"github.com/a869320750/rtk-gnss-worker/internal/receiver"
	"github.com/a869320750/rtk-gnss-worker/internal/worker"
)

const statusInterval = 30 * time.Second

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to YAML config (optional, GNSS_* env vars apply on top)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	if level, err := log.ParseLevel(cfg.Logging.Level); err == nil {
		log.SetLevel(level)
	} else {
		log.Warnf("unknown log level %q, keeping info", cfg.Logging.Level)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	channel, err := receiver.New(receiver.Config{
		Device: cfg.Receiver.Device,
		Baud:   cfg.Receiver.Baud,
		Host:   cfg.Receiver.Host,
		Port:   cfg.Receiver.Port,
	})
	if err != nil {
		log.Fatalf("receiver init failed: %v", err)
	}

	session := ntrip.New(ntrip.Config{
		Server:            cfg.NTRIP.Server,
		Port:              cfg.NTRIP.Port,
		Username:          cfg.NTRIP.Username,
		Password:          cfg.NTRIP.Password,
		Mountpoint:        cfg.NTRIP.Mountpoint,
		DialTimeout:       cfg.NTRIP.Timeout,
		ResponseTimeout:   cfg.NTRIP.Timeout,
		ReconnectInterval: cfg.NTRIP.ReconnectInterval,
		HeartbeatInterval: cfg.Positioning.GGAInterval,
	})

	sink := publish.NewFileSink(cfg.Output.Path, cfg.Output.UpdateInterval)

	w := worker.New(worker.Config{
		ReadTimeout: cfg.Receiver.ReadTimeout,
	}, session, channel, sink)

	if err := w.Start(ctx); err != nil {
		log.Fatalf("worker start failed: %v", err)
	}

	log.WithFields(log.Fields{
		"caster":     cfg.NTRIP.Server,
		"mountpoint": cfg.NTRIP.Mountpoint,
		"output":     cfg.Output.Path,
	}).Info("rtk-gnss-worker started")

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			st := w.Status()
			fields := log.Fields{
				"state":            st.State,
				"caster_connected": st.CasterConnected,
				"bytes_received":   session.Snapshot().BytesReceived,
				"frames_forwarded": st.Metrics.FramesForwarded,
				"fixes_decoded":    st.Metrics.SentencesDecoded,
				"published":        st.Metrics.PublishOK,
			}
			if fix, at := w.LastFix(); fix != nil {
				fields["fix_quality"] = fix.Quality.String()
				fields["fix_age"] = time.Since(at).Round(time.Second).String()
			}
			log.WithFields(fields).Info("status")
		}
	}

	log.Info("rtk-gnss-worker stopping")
	w.Stop()
}
