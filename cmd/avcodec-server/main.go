// ABOUTME: Entry point for the remote codec server
// ABOUTME: Parses flags and an optional config file, then serves the soft codecs
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Resonate-Protocol/avcodec-go/internal/server"
	"github.com/Resonate-Protocol/avcodec-go/internal/version"
	"github.com/Resonate-Protocol/avcodec-go/pkg/codec"
	"github.com/Resonate-Protocol/avcodec-go/pkg/engine/soft"
)

var (
	configFile = flag.String("config", "", "YAML config file")
	port       = flag.Int("port", 8928, "WebSocket server port")
	name       = flag.String("name", "", "Server friendly name (default: hostname-avcodec-server)")
	logFile    = flag.String("log-file", "avcodec-server.log", "Log file path")
	debug      = flag.Bool("debug", false, "Enable debug logging")
	noMDNS     = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
	useTUI     = flag.Bool("tui", false, "Show the status TUI instead of streaming logs")
	maxConns   = flag.Int("max-connections", 0, "Maximum concurrent clients (0 = unlimited)")
)

func main() {
	flag.Parse()

	cfg := defaultConfig()
	if *configFile != "" {
		loaded, err := loadConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}
	applyFlags(cfg)

	f, err := os.OpenFile(cfg.LogFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	if cfg.TUI {
		log.SetOutput(f)
	} else {
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	}

	serverName := cfg.Name
	if serverName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		serverName = fmt.Sprintf("%s-avcodec-server", hostname)
	}

	log.Printf("Starting %s %s: %s on port %d", version.Product, version.Version, serverName, cfg.Port)
	if cfg.Debug {
		log.Printf("Debug logging enabled")
	}
	log.Printf("Logging to: %s", cfg.LogFile)

	registry := codec.NewRegistry()
	err = soft.RegisterAll(registry, soft.Config{
		InputBuffers:    cfg.Buffers.Inputs,
		OutputBuffers:   cfg.Buffers.Outputs,
		InputBufferSize: cfg.Buffers.InputSize,
		Debug:           cfg.Debug,
	})
	if err != nil {
		log.Fatalf("Failed to register codecs: %v", err)
	}

	srv := server.New(server.Config{
		Port:           cfg.Port,
		Name:           serverName,
		EnableMDNS:     *cfg.MDNS,
		Debug:          cfg.Debug,
		UseTUI:         cfg.TUI,
		MaxConnections: cfg.MaxConnections,
	}, registry)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("Received %v signal, shutting down gracefully...", sig)
		srv.Stop()
	}()

	if err := srv.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Printf("Server stopped")
}

// applyFlags lets explicitly set flags override the config file
func applyFlags(cfg *FileConfig) {
	flag.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "port":
			cfg.Port = *port
		case "name":
			cfg.Name = *name
		case "log-file":
			cfg.LogFile = *logFile
		case "debug":
			cfg.Debug = *debug
		case "no-mdns":
			enabled := !*noMDNS
			cfg.MDNS = &enabled
		case "tui":
			cfg.TUI = *useTUI
		case "max-connections":
			cfg.MaxConnections = *maxConns
		}
	})
}
