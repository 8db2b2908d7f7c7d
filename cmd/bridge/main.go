// Command bridge connects a fleet of IOTC cameras and republishes their
// streams through the embedded media relay, with a sideband command
// surface and MQTT state reporting.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethan/iotc-bridge/pkg/bridge"
	"github.com/ethan/iotc-bridge/pkg/cloud"
	"github.com/ethan/iotc-bridge/pkg/config"
	"github.com/ethan/iotc-bridge/pkg/logger"
	"github.com/ethan/iotc-bridge/pkg/mqtt"
	"github.com/ethan/iotc-bridge/pkg/mtx"
	"github.com/ethan/iotc-bridge/pkg/tutk"
)

func main() {
	log, err := logger.New(logger.ConfigFromEnv())
	if err != nil {
		logger.Error("logger setup failed", "error", err)
		os.Exit(1)
	}
	defer log.Close()
	logger.SetDefault(log)

	if err := run(log); err != nil {
		log.Error("bridge failed", "error", err)
		os.Exit(1)
	}
}

func run(log *logger.Logger) error {
	cfg, err := config.Load(".env")
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.MetricsPort != "" {
		go bridge.ServeMetrics(cfg.MetricsPort, log)
	}

	// The native library is process-global; everything below shares this
	// one reference.
	lib, err := tutk.Open(tutk.Options{
		Paths:       cfg.TutkLibPaths,
		UDPPort:     uint16(cfg.TutkUDPPort),
		MaxChannels: cfg.MaxChannels,
		LicenseKey:  cfg.TutkLicense,
	})
	if err != nil {
		return err
	}
	defer lib.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cloudSvc := cloud.NewService(cloud.NewClient(0, log.With("component", "cloud")), cfg, log.With("component", "cloud"))
	account, err := cloudSvc.GetAccount(ctx)
	if err != nil {
		return err
	}
	cameras, err := cloudSvc.GetCameras(ctx, false)
	if err != nil {
		return err
	}
	cameras = cloud.FilterCameras(cameras, log)

	relay, err := mtx.NewServer(mtx.Options{
		ConfigPath:   cfg.MTXConfigPath,
		Binary:       cfg.MTXBinary,
		EventPipe:    cfg.EventPipePath,
		RecordPath:   cfg.RecordPath,
		RecordLength: cfg.RecordLength,
		RecordKeep:   cfg.RecordKeep,
		APIAuth:      cfg.APIAuth,
		StreamAuth:   cfg.StreamAuth,
		BridgeIP:     cfg.BridgeIP,
		LLHLS:        cfg.LLHLS,
		LLHLSKey:     config.Env("LLHLS_KEY"),
		LLHLSCert:    config.Env("LLHLS_CERT"),
	}, log.With("component", "mtx"))
	if err != nil {
		return err
	}

	publisher := mqtt.NewPublisher(cfg, log.With("component", "mqtt"))
	defer publisher.Close()

	manager := bridge.NewManager(cfg, cloudSvc, publisher, log)
	cooldown := time.Duration(cfg.OfflineTime) * time.Second

	for _, cam := range cameras {
		uri := strings.ToUpper(cam.NameURI())
		options := bridge.Options{
			Quality: config.EnvCam("QUALITY", uri, "hd120"),
			Audio:   config.EnvCam("ENABLE_AUDIO", uri, "") != "",
			Record:  config.EnvCam("RECORD", uri, "") != "",
		}
		stream := bridge.NewStream(lib, account, cam, options, manager, cooldown, log)
		manager.Add(stream)
		publisher.Discovery(cam, stream.URI)

		if err := relay.AddPath(stream.URI, stream.OnDemand()); err != nil {
			return err
		}
		if options.Record {
			if err := relay.EnableRecord(stream.URI); err != nil {
				return err
			}
		}

		if config.EnvCam("SUBSTREAM", uri, "") != "" && cam.CanSubstream() {
			subOptions := options
			subOptions.Substream = true
			subOptions.Quality = config.EnvCam("SUB_QUALITY", uri, "sd30")
			subOptions.Record = config.EnvCam("SUB_RECORD", uri, "") != ""
			sub := bridge.NewStream(lib, account, cam, subOptions, manager, cooldown, log)
			manager.Add(sub)
			if err := relay.AddPath(sub.URI, sub.OnDemand()); err != nil {
				return err
			}
		}
	}

	pipe, err := mtx.OpenEventPipe(cfg.EventPipePath, log.With("component", "mtx"))
	if err != nil {
		return err
	}
	defer pipe.Close()

	if err := relay.Start(); err != nil {
		return err
	}
	defer relay.Stop()

	// Keep the relay process alive alongside the monitor loop.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				relay.HealthCheck()
			}
		}
	}()

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		manager.StopAll()
	}()

	manager.Monitor(pipe)
	return nil
}
