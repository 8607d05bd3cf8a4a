// ABOUTME: Main server implementation for the codec service
// ABOUTME: Accepts WebSocket clients, each driving one engine from the registry
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/Resonate-Protocol/avcodec-go/internal/discovery"
	"github.com/Resonate-Protocol/avcodec-go/internal/protocol"
	"github.com/Resonate-Protocol/avcodec-go/pkg/codec"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Path is the WebSocket endpoint
const Path = "/avcodec"

// Config holds server configuration
type Config struct {
	Port           int
	Name           string
	EnableMDNS     bool
	Debug          bool
	UseTUI         bool
	MaxConnections int // 0 means unlimited
}

// Server is the codec service
type Server struct {
	config   Config
	serverID string
	registry *codec.Registry

	upgrader websocket.Upgrader

	httpServer *http.Server
	mux        *http.ServeMux

	conns   map[string]*Conn
	connsMu sync.RWMutex

	mdnsManager *discovery.Manager

	tui       *ServerTUI
	startTime time.Time

	stopChan   chan struct{}
	stopOnce   sync.Once
	shutdownMu sync.RWMutex
	isShutdown bool
	wg         sync.WaitGroup
}

// New creates a server handing out engines from registry
func New(config Config, registry *codec.Registry) *Server {
	s := &Server{
		config:   config,
		serverID: uuid.New().String(),
		registry: registry,
		mux:      http.NewServeMux(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// codec clients are programs on a trusted network, not browsers
				origin := r.Header.Get("Origin")
				if origin != "" {
					log.Printf("Warning: accepting WebSocket from origin: %s", origin)
				}
				return true
			},
		},
		conns:     make(map[string]*Conn),
		startTime: time.Now(),
		stopChan:  make(chan struct{}),
	}

	s.mux.HandleFunc(Path, s.handleWebSocket)
	s.mux.HandleFunc("/status", s.handleStatus)
	return s
}

// Handler exposes the HTTP routes, for embedding and tests
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start runs the server until Stop is called, the TUI quits or the listener
// fails
func (s *Server) Start() error {
	if s.config.UseTUI {
		s.tui = NewServerTUI(s.config.Name, s.config.Port)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.tui.Start(s.config.Name, s.config.Port)
		}()

		// Give TUI time to initialize
		time.Sleep(100 * time.Millisecond)
	}

	log.Printf("Codec server starting: %s (ID: %s, codecs: %v)", s.config.Name, s.serverID, s.registry.Names())

	if s.config.EnableMDNS {
		s.mdnsManager = discovery.NewManager(discovery.Config{
			ServiceName: s.config.Name,
			Port:        s.config.Port,
			Path:        Path,
			Debug:       s.config.Debug,
		})

		if err := s.mdnsManager.Advertise(); err != nil {
			log.Printf("Failed to start mDNS advertisement: %v", err)
		} else {
			log.Printf("mDNS advertisement started")
		}
	}

	addr := fmt.Sprintf(":%d", s.config.Port)
	log.Printf("WebSocket server listening on %s", addr)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	var serverErr error
	var tuiQuitChan <-chan struct{}
	if s.tui != nil {
		tuiQuitChan = s.tui.QuitChan()
	}

	select {
	case <-s.stopChan:
		log.Printf("Server shutting down...")
	case <-tuiQuitChan:
		log.Printf("TUI quit requested, shutting down...")
	case err := <-errChan:
		log.Printf("HTTP server error: %v", err)
		serverErr = err
	}

	s.shutdownMu.Lock()
	s.isShutdown = true
	s.shutdownMu.Unlock()

	if s.tui != nil {
		s.tui.Stop()
	}

	if s.mdnsManager != nil {
		s.mdnsManager.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	// hijacked WebSocket connections outlive Shutdown
	s.connsMu.RLock()
	for _, c := range s.conns {
		c.ws.Close()
	}
	s.connsMu.RUnlock()

	s.wg.Wait()
	log.Printf("Server stopped cleanly")

	if serverErr != nil {
		return fmt.Errorf("HTTP server failed: %w", serverErr)
	}
	return nil
}

// Stop stops the server
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

// Connections returns a snapshot of every connection, sorted by name
func (s *Server) Connections() []ConnInfo {
	s.connsMu.RLock()
	infos := make([]ConnInfo, 0, len(s.conns))
	for _, c := range s.conns {
		infos = append(infos, c.Info())
	}
	s.connsMu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := struct {
		ServerID    string     `json:"server_id"`
		Name        string     `json:"name"`
		Uptime      string     `json:"uptime"`
		Codecs      []string   `json:"codecs"`
		Connections []ConnInfo `json:"connections"`
	}{
		ServerID:    s.serverID,
		Name:        s.config.Name,
		Uptime:      time.Since(s.startTime).Round(time.Second).String(),
		Codecs:      s.registry.Names(),
		Connections: s.Connections(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		log.Printf("Error writing status: %v", err)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	log.Printf("New WebSocket connection from %s", r.RemoteAddr)

	s.wg.Add(1)
	defer s.wg.Done()
	s.handleConnection(ws)
}

// handleConnection performs the handshake and serves one client
func (s *Server) handleConnection(ws *websocket.Conn) {
	defer ws.Close()

	s.shutdownMu.RLock()
	if s.isShutdown {
		s.shutdownMu.RUnlock()
		log.Printf("Rejecting connection during shutdown")
		return
	}
	s.shutdownMu.RUnlock()

	if s.config.Debug {
		log.Printf("[DEBUG] New connection, waiting for handshake")
	}

	ws.SetReadDeadline(time.Now().Add(10 * time.Second))
	var msg protocol.Message
	if err := ws.ReadJSON(&msg); err != nil {
		log.Printf("Error reading hello: %v", err)
		return
	}
	ws.SetReadDeadline(time.Time{})

	if msg.Type != protocol.TypeClientHello {
		log.Printf("Expected %s, got %s", protocol.TypeClientHello, msg.Type)
		return
	}

	var hello protocol.ClientHello
	if err := msg.Decode(&hello); err != nil {
		log.Printf("Error unmarshaling client hello: %v", err)
		return
	}
	if hello.ClientID == "" || hello.Name == "" {
		log.Printf("Client hello missing ClientID or Name")
		return
	}
	if hello.Version != protocol.ProtocolVersion {
		rejectConnection(ws, "unsupported_version", fmt.Sprintf("protocol version %d not supported", hello.Version))
		return
	}

	log.Printf("Client hello: %s (ID: %s)", hello.Name, hello.ClientID)

	c := newConn(s, ws, hello)

	s.connsMu.Lock()
	if existing, exists := s.conns[hello.ClientID]; exists {
		s.connsMu.Unlock()
		log.Printf("Client ID %s already connected (name: %s), rejecting duplicate", hello.ClientID, existing.Name)
		rejectConnection(ws, "duplicate_client_id", "Client ID already connected")
		return
	}
	if s.config.MaxConnections > 0 && len(s.conns) >= s.config.MaxConnections {
		s.connsMu.Unlock()
		log.Printf("Rejecting %s: %d connections already open", hello.Name, s.config.MaxConnections)
		rejectConnection(ws, "too_many_connections", "Codec server is at capacity")
		return
	}
	s.conns[c.ID] = c
	s.connsMu.Unlock()

	s.updateTUI()

	defer func() {
		s.connsMu.Lock()
		delete(s.conns, c.ID)
		s.connsMu.Unlock()
		log.Printf("Client disconnected: %s", c.Name)
		s.updateTUI()
	}()

	serverHello := protocol.ServerHello{
		ServerID: s.serverID,
		Name:     s.config.Name,
		Version:  protocol.ProtocolVersion,
		Codecs:   s.codecInfo(),
	}
	msg, err := protocol.NewMessage(protocol.TypeServerHello, 0, serverHello)
	if err != nil {
		log.Printf("Error encoding server hello: %v", err)
		return
	}
	if err := ws.WriteJSON(msg); err != nil {
		log.Printf("Error sending server hello: %v", err)
		return
	}

	c.serve()
}

// codecInfo lists every registered codec
func (s *Server) codecInfo() []protocol.CodecInfo {
	names := s.registry.Names()
	infos := make([]protocol.CodecInfo, 0, len(names))
	for _, name := range names {
		reg, ok := s.registry.Lookup(name)
		if !ok {
			continue
		}
		infos = append(infos, protocol.CodecInfo{Name: reg.Name, Mime: reg.Mime, Kind: int(reg.Kind)})
	}
	return infos
}

func rejectConnection(ws *websocket.Conn, code, message string) {
	msg, err := protocol.NewMessage(protocol.TypeServerError, 0, protocol.ServerError{
		Error:   code,
		Message: message,
	})
	if err != nil {
		return
	}
	ws.WriteJSON(msg)
}
