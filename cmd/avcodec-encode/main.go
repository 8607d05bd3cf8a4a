// ABOUTME: Entry point for avcodec-encode
// ABOUTME: Encodes a WAV file to Opus and streams it as RTP or writes a packet file
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/Resonate-Protocol/avcodec-go/internal/app"
	"github.com/Resonate-Protocol/avcodec-go/internal/rtpsink"
	"github.com/Resonate-Protocol/avcodec-go/pkg/codec"
	"github.com/Resonate-Protocol/avcodec-go/pkg/engine/soft"
)

var (
	rtpAddr     = flag.String("rtp", "", "Send RTP to this UDP host:port")
	outFile     = flag.String("out", "", "Write length-prefixed packets to this file")
	bitrate     = flag.Int("bitrate", 64000, "Opus bitrate in bits per second")
	sampleRate  = flag.Int("rate", 48000, "Encode at this sample rate (0 = keep the file's)")
	payloadType = flag.Int("payload-type", rtpsink.DefaultPayloadType, "RTP payload type")
	mtu         = flag.Int("mtu", rtpsink.DefaultMTU, "RTP packet size limit")
	serverAddr  = flag.String("server", "", "Codec server address (default: encode locally)")
	discover    = flag.Bool("discover", false, "Find a codec server with mDNS")
	codecName   = flag.String("codec", "", "Codec name (default: opus-encoder)")
	logFile     = flag.String("log-file", "avcodec-encode.log", "Log file path")
	debug       = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] FILE.wav\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 || (*rtpAddr == "") == (*outFile == "") {
		fmt.Fprintln(os.Stderr, "need one WAV file and exactly one of -rtp or -out")
		flag.Usage()
		os.Exit(2)
	}

	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()
	log.SetOutput(io.MultiWriter(os.Stdout, f))

	sink, err := openSink()
	if err != nil {
		log.Fatalf("Failed to open output: %v", err)
	}

	registry := codec.NewRegistry()
	if err := soft.RegisterAll(registry, soft.Config{Debug: *debug}); err != nil {
		log.Fatalf("Failed to register codecs: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	enc := app.NewEncoder(app.EncoderConfig{
		File:       flag.Arg(0),
		SampleRate: *sampleRate,
		Bitrate:    *bitrate,
		Sink:       sink,
		Debug:      *debug,
		Engine: app.EngineConfig{
			ServerAddr: *serverAddr,
			Discover:   *discover,
			Codec:      *codecName,
		},
	}, registry)

	encodeErr := enc.Encode(ctx)
	if err := sink.Close(); err != nil {
		log.Printf("Error closing output: %v", err)
	}
	if encodeErr != nil {
		log.Fatalf("Encoding failed: %v", encodeErr)
	}

	if rtp, ok := sink.(*rtpsink.Sink); ok {
		packets, bytes := rtp.Stats()
		log.Printf("Sent %d RTP packets (%d bytes) to %s, SSRC %d", packets, bytes, *rtpAddr, rtp.SSRC())
	} else {
		log.Printf("Wrote %d packets to %s", enc.Packets(), *outFile)
	}
}

func openSink() (rtpsink.PacketSink, error) {
	if *outFile != "" {
		file, err := os.Create(*outFile)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", *outFile, err)
		}
		return rtpsink.NewFramedWriter(file), nil
	}

	conn, err := net.Dial("udp", *rtpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", *rtpAddr, err)
	}
	return rtpsink.New(conn, rtpsink.Config{
		PayloadType: uint8(*payloadType),
		MTU:         *mtu,
		Debug:       *debug,
	}), nil
}
