package dashboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Event is one message of a run's progress stream.
type Event struct {
	Type      string  `json:"type"`
	SessionID string  `json:"session_id,omitempty"`
	Percent   float64 `json:"percent,omitempty"`
	Message   string  `json:"message,omitempty"`
	Time      string  `json:"time"`
}

const (
	EventConnected = "connected"
	EventProgress  = "progress"
	EventDone      = "done"
	EventPing      = "ping"
)

type SSEClient struct {
	sessionID string
	writer    http.ResponseWriter
	flusher   http.Flusher
	done      chan struct{}
	mu        sync.Mutex
	closed    bool
}

var errClosed = errors.New("stream closed")

// SSEServer streams run progress to the operators watching a session. Several clients may watch
// the same session; the last event of each session is replayed to late subscribers.
type SSEServer struct {
	mu           sync.RWMutex
	clients      map[string]map[*SSEClient]struct{}
	last         map[string]Event
	pingInterval time.Duration
	stopCh       chan struct{}
	stopOnce     sync.Once
	log          zerolog.Logger
}

func NewSSEServer(pingInterval time.Duration, log zerolog.Logger) *SSEServer {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	s := &SSEServer{
		clients:      make(map[string]map[*SSEClient]struct{}),
		last:         make(map[string]Event),
		pingInterval: pingInterval,
		stopCh:       make(chan struct{}),
		log:          log,
	}
	go s.pingClients()
	return s
}

// HandleSSE serves GET ?session_id=.
func (s *SSEServer) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id parameter required", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	client := &SSEClient{
		sessionID: sessionID,
		writer:    w,
		flusher:   flusher,
		done:      make(chan struct{}),
	}

	s.mu.Lock()
	if s.clients[sessionID] == nil {
		s.clients[sessionID] = make(map[*SSEClient]struct{})
	}
	s.clients[sessionID][client] = struct{}{}
	last, replay := s.last[sessionID]
	s.mu.Unlock()

	s.log.Debug().Str("session_id", sessionID).Str("remote", r.RemoteAddr).Msg("progress stream connected")
	defer func() {
		s.remove(client)
		s.log.Debug().Str("session_id", sessionID).Msg("progress stream disconnected")
	}()

	if err := client.send(Event{Type: EventConnected, SessionID: sessionID, Time: now()}); err != nil {
		return
	}
	if replay {
		if err := client.send(last); err != nil {
			return
		}
	}

	select {
	case <-client.done:
	case <-r.Context().Done():
	case <-s.stopCh:
	}
}

func now() string { return time.Now().Format(time.RFC3339) }

func (c *SSEClient) send(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed
	}
	if _, err := fmt.Fprintf(c.writer, "data: %s\n\n", data); err != nil {
		return err
	}
	c.flusher.Flush()
	return nil
}

func (s *SSEServer) remove(c *SSEClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.clients[c.sessionID]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	close(c.done)
	if len(set) == 0 {
		delete(s.clients, c.sessionID)
	}
}

func (s *SSEServer) subscribers(sessionID string) []*SSEClient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*SSEClient, 0, len(s.clients[sessionID]))
	for c := range s.clients[sessionID] {
		out = append(out, c)
	}
	return out
}

func (s *SSEServer) publish(ev Event) {
	ev.Time = now()
	s.mu.Lock()
	s.last[ev.SessionID] = ev
	s.mu.Unlock()
	for _, c := range s.subscribers(ev.SessionID) {
		if err := c.send(ev); err != nil {
			s.log.Warn().Err(err).Str("session_id", ev.SessionID).Msg("progress send failed")
			s.remove(c)
		}
	}
}

// Progress forwards a step marker of a session's run.
func (s *SSEServer) Progress(sessionID string, pct float64, msg string) {
	s.publish(Event{Type: EventProgress, SessionID: sessionID, Percent: pct, Message: msg})
}

// Done closes a session's stream with the run outcome.
func (s *SSEServer) Done(sessionID string, success bool, msg string) {
	ev := Event{Type: EventDone, SessionID: sessionID, Percent: 100, Message: msg}
	if !success {
		ev.Percent = 0
	}
	s.publish(ev)
	for _, c := range s.subscribers(sessionID) {
		s.remove(c)
	}
}

// Forget drops the replay state of a session.
func (s *SSEServer) Forget(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.last, sessionID)
}

func (s *SSEServer) pingClients() {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.RLock()
			var all []*SSEClient
			for _, set := range s.clients {
				for c := range set {
					all = append(all, c)
				}
			}
			s.mu.RUnlock()
			for _, c := range all {
				if err := c.send(Event{Type: EventPing, Time: now()}); err != nil {
					s.remove(c)
				}
			}
		case <-s.stopCh:
			return
		}
	}
}

// GetClientCount returns the number of connected streams.
func (s *SSEServer) GetClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, set := range s.clients {
		n += len(set)
	}
	return n
}

func (s *SSEServer) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}
