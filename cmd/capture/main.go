// cmd/capture/main.go
package main

import (
	"context"
	"flag"
	"log"

	"github.com/meshradar/meshradar/pkg/api"
	"github.com/meshradar/meshradar/pkg/capture"
	"github.com/meshradar/meshradar/pkg/config"
	"github.com/meshradar/meshradar/pkg/db"
	"github.com/meshradar/meshradar/pkg/keyring"
	"github.com/meshradar/meshradar/pkg/lifecycle"
	"github.com/meshradar/meshradar/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "/etc/meshradar/capture.json", "Path to config file")
	flag.Parse()

	var cfg config.CaptureConfig
	if err := config.LoadAndValidate(*configPath, &cfg); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	keys, err := keyring.New(cfg.DefaultKey, cfg.ChannelKeys)
	if err != nil {
		log.Fatalf("Failed to build keyring: %v", err)
	}

	store, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}

	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}()

	tracker := metrics.NewTracker()
	apiServer := api.NewAPIServer(store, tracker)
	svc := capture.NewService(&cfg, keys, store, apiServer.LiveSink(), tracker)

	opts := &lifecycle.ServerOptions{
		ServiceName: "meshradar-capture",
		Service:     svc,
		ListenAddr:  cfg.ListenAddr,
		Handler:     apiServer.Router(),
	}

	if err := lifecycle.RunServer(context.Background(), opts); err != nil {
		log.Fatalf("Capture service failed: %v", err)
	}
}
