// Package main is the entry point for the AI Studio browser bridge: an
// OpenAI/Gemini-compatible HTTP proxy that drives a single headless browser
// session against Google AI Studio through an in-page Client Agent.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/aistudio-bridge/bridge/internal/api"
	"github.com/aistudio-bridge/bridge/internal/browserbridge"
	"github.com/aistudio-bridge/bridge/internal/config"
	"github.com/aistudio-bridge/bridge/internal/flags"
	"github.com/aistudio-bridge/bridge/internal/handler"
	"github.com/aistudio-bridge/bridge/internal/identity"
	"github.com/aistudio-bridge/bridge/internal/logging"
	"github.com/aistudio-bridge/bridge/internal/util"
	sdkaccess "github.com/aistudio-bridge/bridge/sdk/access"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "configuration file path")
	flag.Parse()

	logging.SetupBaseLogger()
	fmt.Printf("aistudio-bridge version %s, commit %s, built %s\n", Version, Commit, BuildDate)
	log.Infof("aistudio-bridge version %s, commit %s, built %s", Version, Commit, BuildDate)

	if configPath == "" {
		wd, err := os.Getwd()
		if err != nil {
			log.Fatalf("failed to get working directory: %v", err)
		}
		configPath = wd + string(os.PathSeparator) + "config.yaml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err = cfg.ExpandAuthDir(); err != nil {
		log.Fatalf("failed to expand auth dir: %v", err)
	}
	if err = os.MkdirAll(cfg.AuthDir, 0o755); err != nil {
		log.Fatalf("failed to create auth dir: %v", err)
	}
	util.SetLogLevel(cfg)
	if err = logging.ConfigureLogOutput(cfg.LoggingToFile); err != nil {
		log.Fatalf("failed to configure log output: %v", err)
	}

	flags.Init(cfg)

	store := identity.OpenStore(cfg.AuthDir)
	defer store.Close()
	policy := identity.NewPolicy(cfg.SwitchOnUses, cfg.FailureThreshold)
	cursor := identity.NewCursor(policy, store)
	registry := identity.NewRegistry(cfg.AuthDir)

	baseURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Port)
	profileRoot := cfg.AuthDir + string(os.PathSeparator) + "profiles"
	bridge := browserbridge.New(baseURL, cfg.BrowserBinary, profileRoot)
	defer bridge.Close()

	h := handler.New(bridge, registry, cursor, cfg)
	accessManager := sdkaccess.NewManager()
	server := api.NewServer(cfg, h, bridge, accessManager)

	watcher, err := config.NewWatcher(configPath, cfg.AuthDir)
	if err != nil {
		log.WithError(err).Warn("config watcher disabled")
	} else {
		watcher.OnReload(func(fresh *config.Config) {
			log.Info("configuration reloaded")
			policy.Update(fresh.SwitchOnUses, fresh.FailureThreshold)
			flags.Init(fresh)
			util.SetLogLevel(fresh)
			h.UpdateConfig(fresh)
			server.UpdateConfig(fresh)
		})
		go watcher.Run()
		defer watcher.Close()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err = <-errCh:
		if err != nil {
			log.WithError(err).Fatal("server stopped unexpectedly")
		}
	case sig := <-sigCh:
		log.Infof("received signal %s, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err = server.Stop(ctx); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("error during shutdown")
		}
	}
}
