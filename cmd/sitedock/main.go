// Command sitedock runs the site policy and session engine behind the
// browsing shell: it owns the whitelist, the filter rules, navigation policy,
// and tab sessions, and serves the loopback control API the shell talks to.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sitedock/sitedock/internal/engine"
	"github.com/sitedock/sitedock/internal/infrastructure/config"
	"github.com/sitedock/sitedock/internal/infrastructure/logging"
	"github.com/sitedock/sitedock/internal/shared/id"
)

func main() {
	cfg := config.LoadOrDefault()

	port := flag.String("port", cfg.API.Port, "control API port")
	dbPath := flag.String("db", cfg.Storage.Path, "record store path")
	listURL := flag.String("filter-list", cfg.Filter.ListURL, "block list URL")
	flag.Parse()

	cfg.API.Port = *port
	cfg.Storage.Path = *dbPath
	cfg.Filter.ListURL = *listURL

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Development = cfg.Logging.Development
	log, err := logging.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// The real renderer attaches through the control API; until it does,
	// content-rule application and unread probes are no-ops.
	eng, err := engine.New(cfg, &detachedRenderer{log: log}, &systemOpener{log: log}, log)
	if err != nil {
		log.Fatal("failed to initialize engine", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		log.Fatal("failed to start engine", zap.Error(err))
	}
	log.Info("engine started",
		zap.String("api", cfg.API.Host+":"+cfg.API.Port),
		zap.String("db", cfg.Storage.Path))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	eng.Stop(shutdownCtx)
}

// systemOpener hands URLs to the OS default browser.
type systemOpener struct {
	log *logging.Logger
}

func (o *systemOpener) OpenExternal(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to open default browser: %w", err)
	}
	o.log.Info("handed off to default browser", zap.String("url", url))
	// Fire and forget; reap the child without caring about its exit.
	go cmd.Wait()
	return nil
}

// detachedRenderer stands in while no renderer is connected.
type detachedRenderer struct {
	log *logging.Logger
}

func (r *detachedRenderer) ApplyContentRules(tab id.SiteID, _ []byte, ruleCount int) error {
	r.log.Debug("content rules ready",
		zap.String("site_id", tab.String()), zap.Int("rules", ruleCount))
	return nil
}

func (r *detachedRenderer) QueryUnread(context.Context, id.SiteID) (int, bool, error) {
	return 0, false, errNoRenderer
}

var errNoRenderer = fmt.Errorf("no renderer attached")
