// Package client follows one project's event stream over a websocket.
//
// A Subscription is driven by the consumer: View opens a transport and joins
// the project, Reconnect re-opens it after a drop, Close stops viewing. There
// is no retry loop inside; events raised while disconnected are missed and the
// consumer is expected to re-fetch state after reconnecting.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"

	"taskboard-sync/domain"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Open
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	ErrNoProject  = errors.New("project id required")
	ErrNotViewing = errors.New("not viewing a project")
	ErrSuperseded = errors.New("connection attempt superseded")
)

type Option func(*Subscription)

func WithLogger(log *slog.Logger) Option {
	return func(s *Subscription) { s.log = log }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(s *Subscription) { s.dialer = d }
}

// WithHeader sets headers sent with every handshake, typically Authorization.
func WithHeader(h http.Header) Option {
	return func(s *Subscription) { s.header = h }
}

// OnEvent registers a callback run on the read loop for every event. It must
// not block and must not call Close or View.
func OnEvent(fn func(domain.Event)) Option {
	return func(s *Subscription) { s.onEvent = fn }
}

type Subscription struct {
	url     string
	log     *slog.Logger
	dialer  *websocket.Dialer
	header  http.Header
	onEvent func(domain.Event)
	updates chan domain.Event

	mu        sync.Mutex
	state     State
	projectID string
	conn      *websocket.Conn
	done      chan struct{}
	gen       uint64
	latest    domain.Event
	hasLatest bool
}

func New(url string, opts ...Option) *Subscription {
	done := make(chan struct{})
	close(done)
	s := &Subscription{
		url:     url,
		log:     logs.GetLoggerFromLevel(slog.LevelInfo),
		dialer:  websocket.DefaultDialer,
		updates: make(chan domain.Event, 1),
		done:    done,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ProjectID is the project being viewed, empty after Close.
func (s *Subscription) ProjectID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.projectID
}

// Latest returns the most recently received event.
func (s *Subscription) Latest() (domain.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.hasLatest
}

// Updates signals new events. It holds at most one pending event and a newer
// one replaces it, so slow readers only ever see the latest.
func (s *Subscription) Updates() <-chan domain.Event {
	return s.updates
}

// Done is closed when the current transport goes away. Fetch it again after
// each View or Reconnect.
func (s *Subscription) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// View starts following projectID. Viewing another project tears down the
// current transport first; viewing the same one while connected is a no-op.
func (s *Subscription) View(ctx context.Context, projectID string) error {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return ErrNoProject
	}

	s.mu.Lock()
	if s.projectID == projectID && s.state != Disconnected {
		s.mu.Unlock()
		return nil
	}
	done := s.teardownLocked()
	if s.projectID != projectID {
		s.latest, s.hasLatest = domain.Event{}, false
		select {
		case <-s.updates:
		default:
		}
	}
	s.projectID = projectID
	s.mu.Unlock()
	<-done

	return s.connect(ctx)
}

// Reconnect re-opens the transport for the project still being viewed.
func (s *Subscription) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.projectID == "" {
		s.mu.Unlock()
		return ErrNotViewing
	}
	if s.state != Disconnected {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	return s.connect(ctx)
}

// Close stops viewing and waits for the transport to be released.
func (s *Subscription) Close() {
	s.mu.Lock()
	s.projectID = ""
	done := s.teardownLocked()
	s.mu.Unlock()
	<-done
}

// teardownLocked invalidates any in-flight attempt and closes the transport.
// The returned channel is closed once the read loop has exited.
func (s *Subscription) teardownLocked() <-chan struct{} {
	s.gen++
	s.state = Disconnected
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	return s.done
}

func (s *Subscription) connect(ctx context.Context) error {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	projectID := s.projectID
	s.state = Connecting
	s.mu.Unlock()

	s.log.Debug("connecting", "url", s.url, "room", projectID)
	ws, _, err := s.dialer.DialContext(ctx, s.url, s.header)
	if err != nil {
		s.mu.Lock()
		if s.gen == gen {
			s.state = Disconnected
		}
		s.mu.Unlock()
		return fmt.Errorf("dial %s: %w", s.url, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		_ = ws.Close()
		return ErrSuperseded
	}
	if err := ws.WriteJSON(domain.ClientMessage{Type: domain.KindJoinProject, ProjectID: projectID}); err != nil {
		_ = ws.Close()
		s.state = Disconnected
		return fmt.Errorf("join %s: %w", projectID, err)
	}

	done := make(chan struct{})
	s.conn = ws
	s.done = done
	s.state = Open
	go s.readLoop(ws, gen, done)

	s.log.Info("subscribed", "room", projectID)
	return nil
}

func (s *Subscription) readLoop(ws *websocket.Conn, gen uint64, done chan struct{}) {
	defer func() {
		_ = ws.Close()
		s.mu.Lock()
		if s.gen == gen {
			s.state = Disconnected
			s.conn = nil
		}
		s.mu.Unlock()
		close(done)
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			s.log.Info("disconnected", "error", err)
			return
		}

		var evt domain.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			s.log.Warn("malformed event dropped", "error", err)
			continue
		}
		if !evt.Type.IsEvent() {
			s.log.Warn("unknown event dropped", "kind", evt.Type)
			continue
		}
		s.deliver(gen, evt)
	}
}

// deliver publishes evt unless the read loop that produced it belongs to a
// transport that has since been torn down.
func (s *Subscription) deliver(gen uint64, evt domain.Event) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.latest = evt
	s.hasLatest = true
	select {
	case s.updates <- evt:
	default:
		select {
		case <-s.updates:
		default:
		}
		select {
		case s.updates <- evt:
		default:
		}
	}
	s.mu.Unlock()

	if s.onEvent != nil {
		s.onEvent(evt)
	}
}
