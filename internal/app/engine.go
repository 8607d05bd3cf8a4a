// ABOUTME: Engine selection for the command line tools
// ABOUTME: Creates a local soft engine or dials a codec server found by address or mDNS
package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/Resonate-Protocol/avcodec-go/internal/discovery"
	"github.com/Resonate-Protocol/avcodec-go/pkg/codec"
	"github.com/Resonate-Protocol/avcodec-go/pkg/engine/remote"
)

// discoveryTimeout bounds the mDNS search for a codec server
const discoveryTimeout = 10 * time.Second

// EngineConfig selects where a codec runs
type EngineConfig struct {
	// ServerAddr is a codec server host:port. Empty runs the codec locally
	// unless Discover is set.
	ServerAddr string
	Discover   bool

	// Codec picks an engine by name; otherwise the mime type and direction do
	Codec   string
	Mime    string
	Encoder bool

	ClientName string
	Debug      bool
}

// openEngine returns an engine and its kind
func openEngine(ctx context.Context, config EngineConfig, registry *codec.Registry) (codec.Engine, codec.Kind, error) {
	addr := config.ServerAddr
	path := ""
	if addr == "" && config.Discover {
		log.Printf("Looking for a codec server...")
		mgr := discovery.NewManager(discovery.Config{Debug: config.Debug})
		defer mgr.Stop()

		findCtx, cancel := context.WithTimeout(ctx, discoveryTimeout)
		server, err := mgr.FindServer(findCtx)
		cancel()
		if err != nil {
			return nil, 0, err
		}
		addr = server.Addr()
		path = server.Path
		log.Printf("Discovered codec server %s at %s", server.Name, addr)
	}

	if addr != "" {
		engine, err := remote.Dial(ctx, remote.Config{
			ServerAddr: addr,
			Path:       path,
			Name:       config.ClientName,
			Codec:      config.Codec,
			Mime:       config.Mime,
			Encoder:    config.Encoder,
			Debug:      config.Debug,
		})
		if err != nil {
			return nil, 0, fmt.Errorf("failed to open remote codec: %w", err)
		}
		log.Printf("Using codec %s on %s", engine.Codec().Name, engine.ServerName())
		return engine, engine.Kind(), nil
	}

	var reg codec.Registration
	var ok bool
	if config.Codec != "" {
		reg, ok = registry.Lookup(config.Codec)
	} else {
		reg, ok = registry.LookupMime(config.Mime, config.Encoder)
	}
	if !ok {
		want := config.Codec
		if want == "" {
			want = config.Mime
		}
		return nil, 0, fmt.Errorf("no local codec for %s: %w", want, codec.ErrUnsupported)
	}
	engine, err := reg.New()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create codec %s: %w", reg.Name, err)
	}
	log.Printf("Using local codec %s", reg.Name)
	return engine, reg.Kind, nil
}

// openSession wraps the selected engine in a session
func openSession(ctx context.Context, config EngineConfig, registry *codec.Registry, name string) (*codec.Session, error) {
	engine, kind, err := openEngine(ctx, config, registry)
	if err != nil {
		return nil, err
	}
	s, err := codec.NewSession(kind, engine, codec.WithName(name), codec.WithDebug(config.Debug))
	if err != nil {
		engine.Release()
		return nil, err
	}
	return s, nil
}
