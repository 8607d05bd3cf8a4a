// ABOUTME: Entry point for avcodec-play
// ABOUTME: Decodes an MP3, FLAC or WAV file through a codec session and plays it
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Resonate-Protocol/avcodec-go/internal/app"
	"github.com/Resonate-Protocol/avcodec-go/internal/version"
	"github.com/Resonate-Protocol/avcodec-go/pkg/audio/output"
	"github.com/Resonate-Protocol/avcodec-go/pkg/codec"
	"github.com/Resonate-Protocol/avcodec-go/pkg/engine/soft"
)

var (
	serverAddr = flag.String("server", "", "Codec server address (default: decode locally)")
	discover   = flag.Bool("discover", false, "Find a codec server with mDNS")
	codecName  = flag.String("codec", "", "Codec name (default: chosen by file type)")
	volume     = flag.Int("volume", 100, "Playback volume (0-100)")
	noAudio    = flag.Bool("no-audio", false, "Decode without playing")
	logFile    = flag.String("log-file", "avcodec-play.log", "Log file path")
	debug      = flag.Bool("debug", false, "Enable debug logging")
	showVer    = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] FILE\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVer {
		fmt.Printf("%s %s\n", version.Product, version.Version)
		return
	}
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer func() { _ = f.Close() }()
	log.SetOutput(io.MultiWriter(os.Stdout, f))

	registry := codec.NewRegistry()
	if err := soft.RegisterAll(registry, soft.Config{Debug: *debug}); err != nil {
		log.Fatalf("Failed to register codecs: %v", err)
	}

	var out output.Output
	if *noAudio {
		out = output.NewNull(false)
	} else {
		oto := output.NewOto()
		oto.SetVolume(*volume)
		out = oto
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := app.NewPlayer(app.PlayerConfig{
		File:   flag.Arg(0),
		Output: out,
		Debug:  *debug,
		Engine: app.EngineConfig{
			ServerAddr: *serverAddr,
			Discover:   *discover,
			Codec:      *codecName,
		},
	}, registry)

	if err := p.Play(ctx); err != nil {
		if ctx.Err() != nil {
			log.Printf("Playback interrupted")
			return
		}
		log.Fatalf("Playback failed: %v", err)
	}
	log.Printf("Player stopped")
}
