package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"webpilot/pkg/browser"
	"webpilot/pkg/config"
	"webpilot/pkg/controller"
	"webpilot/pkg/history"
	"webpilot/pkg/logger"
	"webpilot/pkg/notify"
	"webpilot/pkg/tui"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	panelTab := flag.Int("panel", 0, "Run the terminal panel for the given tab id instead of the server")
	serverAddr := flag.String("server", "", "Controller address for -panel (default from config)")
	showVersion := flag.Bool("version", false, "Show version")
	writeConfig := flag.Bool("init-config", false, "Write a default config file and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("webpilot v%s\n", version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if *writeConfig {
		path := *configPath
		if path == "" {
			path = config.DefaultConfigName
		}
		if err := cfg.Save(path); err != nil {
			log.Fatalf("failed to write config: %v", err)
		}
		fmt.Printf("wrote %s\n", path)
		return
	}

	if *panelTab > 0 {
		addr := *serverAddr
		if addr == "" {
			addr = cfg.ListenAddr
		}
		if err := tui.Run(addr, *panelTab); err != nil {
			log.Fatalf("panel error: %v", err)
		}
		return
	}

	if err := logger.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	store, err := history.Open(cfg.History.Path)
	if err != nil {
		log.Fatalf("failed to open history store: %v", err)
	}
	defer store.Close()

	b := browser.NewBrowser(cfg.Browser.DebuggingURL)
	defer b.Close()

	ctl := controller.New(cfg, b, store)

	if cfg.Telegram.Enabled {
		notifier, err := notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err != nil {
			logger.Warnf("telegram notifier disabled: %v", err)
		} else if notifier != nil {
			ctl.SetNotifier(notifier)
		}
	}

	ctl.Start()
	defer ctl.Stop()

	// Serve until interrupted.
	errCh := make(chan error, 1)
	go func() { errCh <- ctl.ListenAndServe(cfg.ListenAddr) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Errorf("server stopped: %v", err)
	case sig := <-sigCh:
		logger.Infof("received %s, shutting down", sig)
	}
}
