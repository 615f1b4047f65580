package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ATX/configs"
	"ATX/network/coordinator"
	"ATX/network/participant"

	"github.com/sirupsen/logrus"
)

var (
	role       string
	configPath string
	addr       string
	storage    string
	debug      bool
)

func init() {
	flag.StringVar(&role, "role", "coordinator", "process role: coordinator | participant")
	flag.StringVar(&configPath, "config", "", "path to a .properties config file")
	flag.StringVar(&addr, "addr", "", "listen address override")
	flag.StringVar(&storage, "storage", "", "storage backend override: memory | sql | mongo")
	flag.BoolVar(&debug, "debug", false, "verbose transaction logging")
}

func main() {
	flag.Parse()
	configs.SetDebug(debug)

	conf := configs.DefaultConfig()
	if configPath != "" {
		conf = configs.LoadConfig(configPath)
	}
	if storage != "" {
		conf.StorageBackend = storage
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	switch role {
	case "coordinator":
		if addr != "" {
			conf.CoordinatorAddr = addr
		}
		server, err := coordinator.NewServer(ctx, conf)
		if err != nil {
			logrus.WithError(err).Fatal("cannot start coordinator")
		}
		go func() {
			if serr := server.ListenAndServe(ctx); !errors.Is(serr, http.ErrServerClosed) {
				logrus.WithError(serr).Fatal("coordinator listener failed")
			}
		}()
		<-stop
		shutdown(server.Shutdown)
	case "participant":
		if addr != "" {
			conf.ParticipantAddr = addr
		}
		server, err := participant.NewServer(ctx, conf)
		if err != nil {
			logrus.WithError(err).Fatal("cannot start participant")
		}
		go func() {
			if serr := server.ListenAndServe(); !errors.Is(serr, http.ErrServerClosed) {
				logrus.WithError(serr).Fatal("participant listener failed")
			}
		}()
		<-stop
		shutdown(server.Shutdown)
	default:
		logrus.Fatalf("unknown role %q", role)
	}
}

func shutdown(fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		logrus.WithError(err).Warn("shutdown incomplete")
	}
}
