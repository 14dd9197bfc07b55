package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/cloutprotocol/zatoshid/internal/config"
	"github.com/cloutprotocol/zatoshid/internal/interface/rest"
)

const version = "0.1.0"

func main() {
	app := &cli.App{
		Name:    "zatoshid",
		Usage:   "transparent inscription engine for Zcash",
		Version: version,
		Flags:   config.Flags,
		Action:  start,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func start(ctx *cli.Context) error {
	cfg, err := config.LoadConfig(ctx)
	if err != nil {
		return fmt.Errorf("invalid config: %s", err)
	}

	log.SetLevel(log.Level(cfg.LogLevel))

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %s", err)
	}

	log.Debugf("config: %s", cfg)

	appSvc, err := cfg.AppService()
	if err != nil {
		return fmt.Errorf("failed to create app service: %s", err)
	}

	scheduler := cfg.SchedulerService()
	scheduler.Start()

	server := rest.NewServer(rest.Config{
		Port:       cfg.Port,
		AuthSecret: cfg.AuthSecret,
	}, appSvc)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errChan <- err
		}
	}()

	log.Infof("zatoshid listens on :%d", cfg.Port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(
		sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGHUP, os.Interrupt,
	)

	select {
	case err := <-errChan:
		return err
	case <-sigChan:
	}

	log.Info("shutting down service...")
	server.Stop()
	scheduler.Stop()
	appSvc.Stop()
	cfg.RepoManager().Close()
	return nil
}
