package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"car-navigation/car_nav"
)

func main() {
	var addr string
	var power float64
	var level string
	flag.StringVar(&addr, "addr", "0.0.0.0:50000", "TCP listen addr for controller commands.")
	flag.Float64Var(&power, "power", 0.65, "Motor power reported by the logging driver.")
	flag.StringVar(&level, "log-level", "info", "Log level.")
	flag.Parse()

	log := car_nav.InitLogger("actuator", car_nav.LogConfig{Level: level}, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := &car_nav.ActuatorServer{
		Addr:   addr,
		Driver: car_nav.LogDriver{Log: log, Power: power},
		Log:    log,
	}
	if err := server.ListenAndServe(ctx); err != nil {
		log.Fatal().Err(err).Msg("actuator server failed")
	}
}
