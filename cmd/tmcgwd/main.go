/*
The tmcgwd command is the Trail Mate Center host-side gateway daemon.
It opens a CDC serial connection to a radio node, speaks the HostLink
framed protocol to reassemble and decode mesh traffic, and re-emits a
policy-filtered subset of that traffic as APRS-IS text packets.

tmcgwd is driven by a TOML configuration file; see package config for
the table layout ([serial], [device], [aprs], [aprsis], [metrics]).
*/
package main

import (
	"context"
	"flag"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sys/unix"

	"github.com/vicliu624/trail-mate-center-sub001/internal/aprs"
	"github.com/vicliu624/trail-mate-center-sub001/internal/aprsis"
	"github.com/vicliu624/trail-mate-center-sub001/internal/config"
	"github.com/vicliu624/trail-mate-center-sub001/internal/metrics"
	"github.com/vicliu624/trail-mate-center-sub001/internal/session"
	"github.com/vicliu624/trail-mate-center-sub001/internal/store"
)

type application struct {
	cfg    *config.Config
	logger log.Logger

	st         *store.Store
	sessionCli *session.Client
	gateway    *aprs.Gateway
	uplink     *aprsis.Client

	sigChan   chan os.Signal
	closeChan chan struct{}
}

func newApplication(cfg *config.Config, verbose bool) *application {
	app := &application{
		cfg:       cfg,
		sigChan:   make(chan os.Signal, 1),
		closeChan: make(chan struct{}),
	}

	signal.Notify(app.sigChan, unix.SIGINT, unix.SIGTERM)

	logger := log.NewLogfmtLogger(os.Stderr)
	if verbose {
		app.logger = level.NewFilter(logger, level.AllowDebug())
	} else {
		app.logger = level.NewFilter(logger, level.AllowInfo())
	}

	app.st = store.New()

	sessCfg := session.DefaultConfig()
	sessCfg.AutoReconnect = cfg.Device.AutoReconnect
	sessCfg.MaxRetries = uint(cfg.Device.MaxRetries)
	sessCfg.HelloTimeout = time.Duration(cfg.Device.HelloTimeoutMs) * time.Millisecond
	sessCfg.AckTimeout = time.Duration(cfg.Device.AckTimeoutMs) * time.Millisecond
	sessCfg.WatchdogPeriod = time.Duration(cfg.Device.WatchdogPeriodMs) * time.Millisecond
	sessCfg.Backoff = session.BackoffPolicy{
		Initial:    time.Duration(cfg.Device.ReconnectInitialMs) * time.Millisecond,
		Max:        time.Duration(cfg.Device.ReconnectMaxMs) * time.Millisecond,
		Multiplier: cfg.Device.ReconnectMultiplier,
	}
	app.sessionCli = session.NewClient(
		func() (session.Transport, error) {
			return session.OpenSerial(cfg.Serial.Port, cfg.Serial.BaudRate)
		},
		app.st, log.With(app.logger, "component", "session"), sessCfg,
	)

	app.uplink = aprsis.NewClient(log.With(app.logger, "component", "aprsis"), aprsis.Config{
		Enabled:         cfg.AprsIS.Enabled,
		Host:            cfg.AprsIS.Host,
		Port:            cfg.AprsIS.Port,
		IgateCallsign:   cfg.Aprs.IgateCallsign,
		IgateSSID:       cfg.Aprs.IgateSSID,
		Passcode:        cfg.AprsIS.Passcode,
		Filter:          cfg.AprsIS.Filter,
		SoftwareName:    cfg.AprsIS.SoftwareName,
		SoftwareVersion: cfg.AprsIS.SoftwareVersion,
	})

	app.gateway = aprs.NewGateway(app.st, app.uplink, log.With(app.logger, "component", "gateway"), aprs.GatewayConfig{
		IgateCallsign:     cfg.Aprs.IgateCallsign,
		IgateSSID:         cfg.Aprs.IgateSSID,
		NodeCallsigns:     cfg.Aprs.NodeCallsigns,
		PathTokens:        cfg.Aprs.PathTokens,
		PositionIntervalS: cfg.Aprs.PositionIntervalS,
		TxMinIntervalS:    cfg.Aprs.TxMinIntervalS,
		DedupWindowS:      cfg.Aprs.DedupWindowS,
		TelemetryTitle:    cfg.Aprs.TelemetryTitle,
		AnalogLabels:      cfg.Aprs.AnalogLabels,
		AnalogUnits:       cfg.Aprs.AnalogUnits,
		BitLabels:         cfg.Aprs.BitLabels,
	})

	return app
}

func (app *application) serveMetrics() {
	if app.cfg.Metrics.ListenAddr == "" {
		return
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewCollector(app.gateway, app.uplink))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: app.cfg.Metrics.ListenAddr, Handler: mux}

	go func() {
		level.Info(app.logger).Log("message", "metrics server listening", "addr", app.cfg.Metrics.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			level.Error(app.logger).Log("message", "metrics server failed", "error", err)
		}
	}()

	go func() {
		<-app.closeChan
		_ = srv.Close()
	}()
}

func (app *application) run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.sessionCli.Connect(ctx); err != nil {
		level.Error(app.logger).Log("message", "initial connect failed, will keep retrying if auto-reconnect is enabled", "error", err)
	}

	gatewayStop := make(chan struct{})
	go app.gateway.Run(gatewayStop)
	go app.uplink.Run(ctx)

	app.serveMetrics()

	level.Info(app.logger).Log("message", "tmcgwd running")

	sig := <-app.sigChan
	level.Info(app.logger).Log("message", "received signal, shutting down", "signal", sig)

	close(app.closeChan)
	close(gatewayStop)
	cancel()
	return app.sessionCli.Close()
}

func main() {
	cfgPathPtr := flag.String("config", "/etc/tmcgwd/tmcgwd.toml", "specify configuration file path")
	verbosePtr := flag.Bool("verbose", false, "toggle verbose log output")
	flag.Parse()

	cfg, err := config.LoadFile(*cfgPathPtr)
	if err != nil {
		stdlog.Fatalf("failed to load configuration: %v", err)
	}

	app := newApplication(cfg, *verbosePtr)
	if err := app.run(); err != nil {
		stdlog.Fatalf("%v", fmt.Errorf("tmcgwd exited with error: %w", err))
	}
}
