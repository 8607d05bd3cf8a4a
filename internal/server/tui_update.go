// ABOUTME: TUI update helpers for server
// ABOUTME: Functions to send server state updates to TUI
package server

// updateTUI sends current server state to TUI
func (s *Server) updateTUI() {
	if s.tui == nil {
		return
	}

	s.tui.Update(ServerStatus{
		Name:        s.config.Name,
		Port:        s.config.Port,
		Codecs:      s.registry.Names(),
		Connections: s.Connections(),
	})
}
