package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/samirrijal/etxea/internal/core/coordinator"
	"github.com/samirrijal/etxea/internal/core/domain"
	"github.com/samirrijal/etxea/internal/pkg/metrics"
)

// wsMessage is sent by the client to drive its map view.
//
//	{"type":"viewport","viewport":{"bounds":{...},"zoom":13}}
//	{"type":"filter","filter":{"price_max":250000,"property_types":["houses"]}}
//	{"type":"refresh"}
type wsMessage struct {
	Type     string                  `json:"type"`
	Viewport *domain.Viewport        `json:"viewport,omitempty"`
	Filter   *domain.FilterPredicate `json:"filter,omitempty"`
}

// wsOutbound is pushed to the client. Type is one of session, render, stale or error.
type wsOutbound struct {
	Type    string            `json:"type"`
	Session string            `json:"session,omitempty"`
	Render  *domain.RenderSet `json:"render,omitempty"`
	Error   string            `json:"error,omitempty"`
	Field   string            `json:"field,omitempty"`
}

// MapSession binds one client connection to its own coordinator. Every
// delivered render set is pushed through send.
type MapSession struct {
	ID string

	coord   *coordinator.Coordinator
	send    func(v any) error
	limiter *rate.Limiter
	log     *slog.Logger
	once    sync.Once
}

// NewMapSession opens a session over the map service's store. send must be
// safe for concurrent use.
func NewMapSession(deps *Dependencies, send func(v any) error) *MapSession {
	id := uuid.NewString()
	s := &MapSession{
		ID:      id,
		send:    send,
		limiter: rate.NewLimiter(rate.Inf, 0),
		log:     slog.Default().With("session", id),
	}
	if r := deps.Sessions.MessageRate; r > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(r), int(math.Ceil(r)))
	}
	s.coord = coordinator.New(deps.Map.Store(), deps.Map.Clusters(), s, coordinator.Options{
		Debounce:       deps.Sessions.Debounce,
		ComputeTimeout: deps.Sessions.ComputeTimeout,
		Logger:         s.log,
		Observe: func(o coordinator.Outcome, took time.Duration) {
			metrics.ObserveComputation(string(o), took)
		},
	})
	metrics.ActiveMapSessions.Inc()
	return s
}

// Start announces the session id and renders the initial view.
func (s *MapSession) Start() {
	_ = s.send(wsOutbound{Type: "session", Session: s.ID})
	s.coord.Refresh()
}

// Handle applies one inbound client message.
func (s *MapSession) Handle(raw []byte) {
	if !s.limiter.Allow() {
		s.fail(errors.New("rate limit exceeded"))
		return
	}

	var m wsMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		s.fail(errors.New("invalid JSON"))
		return
	}

	switch m.Type {
	case "viewport":
		if m.Viewport == nil {
			s.fail(errors.New("viewport is required"))
			return
		}
		if err := s.coord.SetViewport(*m.Viewport); err != nil {
			s.fail(err)
		}
	case "filter":
		var p domain.FilterPredicate
		if m.Filter != nil {
			p = *m.Filter
		}
		if err := s.coord.SetPredicate(p); err != nil {
			s.fail(err)
		}
	case "refresh":
		s.coord.Refresh()
	default:
		s.fail(errors.New("unknown message type: " + m.Type))
	}
}

// Render implements ports.RenderSink.
func (s *MapSession) Render(set domain.RenderSet) {
	metrics.MarkersRendered.Observe(float64(len(set.Markers)))
	if err := s.send(wsOutbound{Type: "render", Session: s.ID, Render: &set}); err != nil {
		s.log.Debug("render push failed", "error", err)
	}
}

// Stale implements ports.RenderSink.
func (s *MapSession) Stale(previous domain.RenderSet, err error) {
	s.log.Warn("map computation failed, keeping previous markers", "error", err)
	_ = s.send(wsOutbound{Type: "stale", Session: s.ID, Render: &previous, Error: err.Error()})
}

// Close stops the coordinator. It is safe to call more than once.
func (s *MapSession) Close() {
	s.once.Do(func() {
		s.coord.Close()
		metrics.ActiveMapSessions.Dec()
	})
}

func (s *MapSession) fail(err error) {
	out := wsOutbound{Type: "error", Session: s.ID, Error: err.Error()}
	var perr *domain.InvalidPredicateError
	if errors.As(err, &perr) {
		out.Field = perr.Field
	}
	_ = s.send(out)
}

// WebSocketHandler returns a handler that runs one map session per
// connection and pushes render sets as they are computed.
func WebSocketHandler(deps *Dependencies) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		defer c.Close()

		remoteAddr := c.RemoteAddr().String()

		var mu sync.Mutex
		writeJSON := func(v any) error {
			data, err := json.Marshal(v)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			return c.WriteMessage(websocket.TextMessage, data)
		}

		sess := NewMapSession(deps, writeJSON)
		defer sess.Close()
		sess.log.Info("map session opened", "remote", remoteAddr)
		sess.Start()

		// Keep-alive ping
		done := make(chan struct{})
		defer close(done)
		go func() {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					mu.Lock()
					err := c.WriteMessage(websocket.PingMessage, nil)
					mu.Unlock()
					if err != nil {
						return
					}
				case <-done:
					return
				}
			}
		}()

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				break
			}
			sess.Handle(msg)
		}

		sess.log.Info("map session closed", "remote", remoteAddr)
	}
}
