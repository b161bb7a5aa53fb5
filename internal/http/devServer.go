package http

import (
	"context"
	"log/slog"
	"multiroom/internal/stubs"
	"net"
	"net/http"
	"sync"
)

// DevServer exposes the in-memory room server over TCP so the client can be
// tried out without the real backend.
type DevServer struct {
	stub   *stubs.Server
	server *http.Server
	wg     sync.WaitGroup
}

func NewDevServer(addr string, rooms []string) *DevServer {
	stub := stubs.NewServer()
	if len(rooms) > 0 {
		stub.AllowRooms(rooms...)
	}

	if addr == "" {
		addr = "localhost:8000"
	}

	return &DevServer{
		stub: stub,
		server: &http.Server{
			Addr:    addr,
			Handler: stub,
		},
	}
}

// Stub gives access to the room server, e.g. to broadcast notices.
func (s *DevServer) Stub() *stubs.Server {
	return s.stub
}

func (s *DevServer) Start() error {
	l, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

func (s *DevServer) Serve(l net.Listener) error {
	slog.Info("dev server started", "addr", l.Addr().String())
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.Serve(l); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *DevServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
