package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"car-navigation/car_nav"
)

func main() {
	var configPath string
	var cameraA string
	var cameraB string
	var actuatorAddr string
	var logDir string
	var probe string
	var probeDuration time.Duration
	flag.StringVar(&configPath, "config", "", "Path to TOML config (defaults apply when empty).")
	flag.StringVar(&cameraA, "camera-a", "", "Override camera A UDP listen addr (host:port).")
	flag.StringVar(&cameraB, "camera-b", "", "Override camera B UDP listen addr (host:port).")
	flag.StringVar(&actuatorAddr, "actuator-addr", "", "Override actuator TCP addr (host:port).")
	flag.StringVar(&logDir, "log-dir", "", "Override event log directory.")
	flag.StringVar(&probe, "probe", "", "Send one command (e.g. FORWARD) to the actuator and exit.")
	flag.DurationVar(&probeDuration, "probe-duration", 100*time.Millisecond, "Pulse duration for -probe.")
	flag.Parse()

	cfg, err := car_nav.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config %q: %v\n", configPath, err)
		os.Exit(1)
	}
	if cameraA != "" {
		cfg.CameraA.UDPAddr = cameraA
		cfg.CameraA.ReplayPath = ""
	}
	if cameraB != "" {
		cfg.CameraB.UDPAddr = cameraB
		cfg.CameraB.ReplayPath = ""
	}
	if actuatorAddr != "" {
		cfg.Channel.Transport = "tcp"
		cfg.Channel.Addr = actuatorAddr
	}
	if logDir != "" {
		cfg.EventLog.Dir = logDir
	}

	log := car_nav.InitLogger("carnav", cfg.Log, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if probe != "" {
		cmd, err := car_nav.ParseCommand(probe)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid probe command")
		}
		channel := car_nav.NewCommandChannel(cfg.Channel.Dialer(), cfg.Channel, log)
		if err := channel.Connect(ctx); err != nil {
			log.Fatal().Err(err).Msg("probe failed")
		}
		channel.Send(cmd, probeDuration)
		if channel.State() != car_nav.ChannelConnected {
			log.Fatal().Msg("probe send failed")
		}
		_ = channel.Close()
		log.Info().Str("payload", car_nav.FormatCommand(cmd, probeDuration)).Msg("probe sent")
		return
	}

	err = car_nav.RunLive(ctx, cfg, os.Stdin, log)
	switch {
	case err == nil:
	case errors.Is(err, car_nav.ErrSourceClosed), errors.Is(err, car_nav.ErrCamerasUnavailable):
		log.Warn().Err(err).Msg("stopped: camera source unavailable")
	default:
		log.Fatal().Err(err).Msg("control loop failed")
	}
}
