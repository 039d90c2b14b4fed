package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/nhle/mail-assistant/internal/app"
	"github.com/nhle/mail-assistant/internal/credential"
	"github.com/nhle/mail-assistant/internal/httpapi"
	"github.com/nhle/mail-assistant/internal/mailbox"
	"github.com/nhle/mail-assistant/internal/model"
	"github.com/nhle/mail-assistant/internal/observability"
	"github.com/nhle/mail-assistant/internal/session"
	"github.com/nhle/mail-assistant/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "mailassistant:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("mailassistant", pflag.ContinueOnError)
	configPath := fs.String("config", model.DefaultConfigPath(), "path to the YAML configuration file")
	initConfig := fs.Bool("init-config", false, "write the effective configuration to --config and exit")
	model.RegisterFlags(fs)

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := model.LoadConfig(*configPath, fs)
	if err != nil {
		return err
	}

	if *initConfig {
		if err := model.SaveConfig(*configPath, cfg); err != nil {
			return err
		}
		fmt.Println("configuration written to", *configPath)
		return nil
	}

	logger := observability.Setup(os.Stdout, cfg.Log.Level)

	st, err := store.NewSQLiteStore(cfg.Store.DSN)
	if err != nil {
		return err
	}
	defer st.Close()

	var opts []app.Option
	if cfg.Credential.Enabled {
		creds, err := credential.Open(cfg.Credential.FileDir)
		if err != nil {
			return err
		}
		opts = append(opts, app.WithCredentials(creds))
		logger.Info("keyring enabled")
	}
	opts = append(opts, app.WithLogger(logger))

	manager := session.NewManager(
		func(address, password string) session.Mailbox {
			return mailbox.NewAdapter(
				mailbox.ConfigFromModel(cfg.Mail, address, password),
				mailbox.WithLogger(logger),
			)
		},
		session.WithHistoryCap(cfg.Agent.HistoryCap),
	)

	reaper := session.NewReaper(manager, cfg.Session.IdleTimeout(), cfg.Session.SweepInterval(), logger)
	reaper.Start()
	defer reaper.Stop()

	svc := app.NewService(cfg, manager, st, opts...)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           httpapi.NewServer(svc),
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.WriteTimeout(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("mail assistant listening",
			"addr", srv.Addr,
			"provider", cfg.AI.Provider,
			"model", cfg.AI.Model,
			"store", cfg.Store.DSN,
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}
