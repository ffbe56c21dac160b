package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rock-drivers/drivers-mb500/internal/config"
	"github.com/rock-drivers/drivers-mb500/internal/web"
)

func main() {
	var configPath string
	var summarize string
	flag.StringVar(&configPath, "config", "./mb500d.yaml", "Path to YAML config")
	flag.StringVar(&summarize, "summarize", "", "Print a summary of a capture log and exit")
	flag.Parse()

	if summarize != "" {
		if err := printCaptureSummary(os.Stdout, summarize); err != nil {
			log.Fatalf("capture summary failed: %v", err)
		}
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	logs := web.NewLogBuffer(0)
	log.SetOutput(io.MultiWriter(os.Stderr, logs))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	d, err := newDaemon(ctx, cfg, logs)
	if err != nil {
		log.Fatalf("mb500d init failed: %v", err)
	}
	defer d.Close()

	log.Printf("mb500d starting mode=%s device=%s", cfg.Mode, d.device)
	if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			log.Printf("mb500d replay finished")
			return
		}
		log.Printf("mb500d stopped: %v", err)
		d.Close()
		os.Exit(1)
	}
	log.Printf("mb500d stopping")
}
