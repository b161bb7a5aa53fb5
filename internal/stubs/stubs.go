// Package stubs provides an in-memory chat server speaking the same wire
// contract as the real one. It exists for tests and local experiments.
package stubs

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"multiroom/internal/models"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type peer struct {
	conn     *websocket.Conn
	username string
	send     chan models.Event
}

type Server struct {
	upgrader *websocket.Upgrader
	mux      *http.ServeMux

	mu sync.Mutex
	// Map of room code -> connected peers
	rooms map[string]map[*peer]struct{}
	// When set, only these codes validate
	allowed map[string]bool
	// Codes whose websocket handshake is refused
	rejected map[string]bool

	validateCalls int
	memberCalls   int
}

func NewServer() *Server {
	s := &Server{
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		mux:      http.NewServeMux(),
		rooms:    make(map[string]map[*peer]struct{}),
		rejected: make(map[string]bool),
	}

	s.mux.HandleFunc("GET /api/rooms/{code}/validate", s.validateHandler)
	s.mux.HandleFunc("GET /api/rooms/{code}/members", s.membersHandler)
	s.mux.HandleFunc("GET /ws/{code}", s.handleConnections)

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// AllowRooms restricts validation to the given codes. By default every
// non-blank code is valid, rooms come into existence on first connection.
func (s *Server) AllowRooms(codes ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.allowed = make(map[string]bool, len(codes))
	for _, c := range codes {
		s.allowed[c] = true
	}
}

// RejectConnections makes the websocket handshake for code fail.
func (s *Server) RejectConnections(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejected[code] = true
}

// Kick drops every connection of a room without a close handshake.
func (s *Server) Kick(code string) {
	s.mu.Lock()
	peers := make([]*peer, 0, len(s.rooms[code]))
	for p := range s.rooms[code] {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	for _, p := range peers {
		_ = p.conn.Close()
	}
}

// Broadcast sends ev to every connection of a room.
func (s *Server) Broadcast(code string, ev models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcastLocked(code, ev, nil)
}

// Members returns the usernames currently connected to code, sorted.
func (s *Server) Members(code string) models.MembershipSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := models.MembershipSnapshot{RoomCode: code, Members: []models.Member{}}
	for p := range s.rooms[code] {
		snapshot.Members = append(snapshot.Members, models.Member{Username: p.username, Active: true})
	}
	sort.Slice(snapshot.Members, func(i, j int) bool {
		return snapshot.Members[i].Username < snapshot.Members[j].Username
	})
	snapshot.Total = len(snapshot.Members)
	return snapshot
}

// Calls reports how many validation and membership requests were served.
func (s *Server) Calls() (validate, members int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validateCalls, s.memberCalls
}

func (s *Server) validateHandler(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")

	s.mu.Lock()
	s.validateCalls++
	valid := strings.TrimSpace(code) != ""
	if s.allowed != nil {
		valid = valid && s.allowed[code]
	}
	_, active := s.rooms[code]
	s.mu.Unlock()

	writeJSON(w, models.ValidationResponse{Valid: valid, RoomCode: code, Active: active})
}

func (s *Server) membersHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.memberCalls++
	s.mu.Unlock()

	writeJSON(w, s.Members(r.PathValue("code")))
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	username := r.URL.Query().Get("username")
	if username == "" {
		username = "Anonymous"
	}

	s.mu.Lock()
	rejected := s.rejected[code]
	s.mu.Unlock()
	if rejected {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("error upgrading to websocket", "error", err)
		return
	}

	p := &peer{conn: conn, username: username, send: make(chan models.Event, 64)}
	go p.writeLoop()

	s.join(code, p)
	defer s.leave(code, p)

	for {
		var msg models.OutboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		content := strings.TrimSpace(msg.Content)
		if content == "" {
			s.sendTo(code, p, models.Event{
				Type:      models.EventTypeError,
				Message:   "Message cannot be empty.",
				Timestamp: now(),
			})
			continue
		}

		s.Broadcast(code, models.Event{
			Type:      models.EventTypeMessage,
			ID:        uuid.NewString(),
			Username:  username,
			Content:   content,
			Timestamp: now(),
		})
	}
}

func (s *Server) join(code string, p *peer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[code]; !ok {
		s.rooms[code] = make(map[*peer]struct{})
	}
	s.rooms[code][p] = struct{}{}

	s.sendLocked(p, models.Event{
		Type:      models.EventTypeSystem,
		Message:   fmt.Sprintf("Welcome to room %s! You joined as %s.", code, p.username),
		Timestamp: now(),
	})
	s.broadcastLocked(code, models.Event{
		Type:      models.EventTypeUserJoined,
		Username:  p.username,
		Message:   fmt.Sprintf("%s joined the chat", p.username),
		Timestamp: now(),
	}, p)
}

func (s *Server) leave(code string, p *peer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	peers, ok := s.rooms[code]
	if !ok {
		return
	}
	if _, ok := peers[p]; !ok {
		return
	}
	delete(peers, p)
	close(p.send)
	_ = p.conn.Close()

	if len(peers) == 0 {
		delete(s.rooms, code)
		return
	}
	s.broadcastLocked(code, models.Event{
		Type:      models.EventTypeUserLeft,
		Username:  p.username,
		Message:   fmt.Sprintf("%s left the chat", p.username),
		Timestamp: now(),
	}, nil)
}

func (s *Server) sendTo(code string, p *peer, ev models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[code][p]; ok {
		s.sendLocked(p, ev)
	}
}

func (s *Server) broadcastLocked(code string, ev models.Event, exclude *peer) {
	for p := range s.rooms[code] {
		if p != exclude {
			s.sendLocked(p, ev)
		}
	}
}

func (s *Server) sendLocked(p *peer, ev models.Event) {
	select {
	case p.send <- ev:
	default:
		// Slow reader, drop.
	}
}

func (p *peer) writeLoop() {
	for ev := range p.send {
		if err := p.conn.WriteJSON(ev); err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

func now() models.Timestamp {
	return models.Timestamp{Time: time.Now()}
}
