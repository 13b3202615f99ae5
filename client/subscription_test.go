package client

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskboard-sync/domain"
	"taskboard-sync/hub"
	"taskboard-sync/protocol"
	ws "taskboard-sync/websocket"
)

type fixture struct {
	hub   *hub.Hub
	url   string
	conns chan *ws.Conn
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	h := hub.New(log)
	server := ws.NewServer(log, h, protocol.NewHandler(log, h), ws.Options{})
	f := &fixture{hub: h, conns: make(chan *ws.Conn, 8)}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := server.Accept(w, r, "")
		if err == nil {
			f.conns <- conn
		}
	}))
	t.Cleanup(srv.Close)
	f.url = "ws" + strings.TrimPrefix(srv.URL, "http")
	return f
}

func (f *fixture) subscribe(t *testing.T, opts ...Option) *Subscription {
	t.Helper()
	opts = append([]Option{WithLogger(logs.GetLoggerFromLevel(slog.LevelDebug))}, opts...)
	s := New(f.url, opts...)
	t.Cleanup(s.Close)
	return s
}

func (f *fixture) waitMembers(t *testing.T, room string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return f.hub.Members(room) == n }, time.Second, 5*time.Millisecond)
}

func (f *fixture) publish(t *testing.T, room string, kind domain.Kind, payload any) {
	t.Helper()
	evt, err := domain.NewEvent(kind, payload)
	require.NoError(t, err)
	f.hub.Broadcast(room, evt)
}

func nextUpdate(t *testing.T, s *Subscription) domain.Event {
	t.Helper()
	select {
	case evt := <-s.Updates():
		return evt
	case <-time.After(time.Second):
		require.FailNow(t, "no update received")
		return domain.Event{}
	}
}

func TestSubscription_ViewReceivesEvents(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	s := f.subscribe(t)

	req.Equal(Disconnected, s.State())
	_, ok := s.Latest()
	req.False(ok)

	// When the consumer views proj-1
	req.NoError(s.View(context.Background(), "proj-1"))
	req.Equal(Open, s.State())
	f.waitMembers(t, "proj-1", 1)

	// Then events for proj-1 become available
	f.publish(t, "proj-1", domain.KindTaskCreated, map[string]string{"id": "t1", "title": "Write spec", "status": "to-do"})
	evt := nextUpdate(t, s)
	req.Equal(domain.KindTaskCreated, evt.Type)
	req.JSONEq(`{"id":"t1","title":"Write spec","status":"to-do"}`, string(evt.Data))

	latest, ok := s.Latest()
	req.True(ok)
	req.Equal(evt, latest)
}

func TestSubscription_ViewRequiresProject(t *testing.T) {
	f := newFixture(t)
	s := f.subscribe(t)
	assert.ErrorIs(t, s.View(context.Background(), "  "), ErrNoProject)
	assert.ErrorIs(t, s.Reconnect(context.Background()), ErrNotViewing)
}

func TestSubscription_SwitchingProjectMovesRoom(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	s := f.subscribe(t)

	req.NoError(s.View(context.Background(), "proj-1"))
	f.waitMembers(t, "proj-1", 1)

	// Viewing the same project again keeps the transport
	done := s.Done()
	req.NoError(s.View(context.Background(), "proj-1"))
	req.Equal(done, s.Done())

	f.publish(t, "proj-1", domain.KindTaskDeleted, domain.DeletedPayload{ID: "t1"})
	require.Eventually(t, func() bool { _, ok := s.Latest(); return ok }, time.Second, 5*time.Millisecond)

	req.NoError(s.View(context.Background(), "proj-2"))
	f.waitMembers(t, "proj-2", 1)
	f.waitMembers(t, "proj-1", 0)
	req.Equal("proj-2", s.ProjectID())

	// Nothing from proj-1 survives the switch
	_, ok := s.Latest()
	req.False(ok)
	select {
	case evt := <-s.Updates():
		req.FailNow("stale update after switch", string(evt.Data))
	default:
	}
}

func TestSubscription_ReconnectAfterDrop(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	s := f.subscribe(t)

	req.NoError(s.View(context.Background(), "proj-1"))
	f.waitMembers(t, "proj-1", 1)

	// Given the server drops the transport
	server := <-f.conns
	_ = server.Close()

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		req.FailNow("disconnect not observed")
	}
	req.Equal(Disconnected, s.State())
	f.waitMembers(t, "proj-1", 0)

	// Events raised meanwhile are missed
	f.publish(t, "proj-1", domain.KindTaskDeleted, domain.DeletedPayload{ID: "t0"})

	// When the consumer reconnects, it rejoins and receives new events
	req.NoError(s.Reconnect(context.Background()))
	req.Equal(Open, s.State())
	f.waitMembers(t, "proj-1", 1)

	f.publish(t, "proj-1", domain.KindTaskDeleted, domain.DeletedPayload{ID: "t1"})
	evt := nextUpdate(t, s)
	req.JSONEq(`{"id":"t1"}`, string(evt.Data))
}

func TestSubscription_CloseStopsViewing(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	s := f.subscribe(t)

	req.NoError(s.View(context.Background(), "proj-1"))
	f.waitMembers(t, "proj-1", 1)

	s.Close()

	req.Equal(Disconnected, s.State())
	req.Empty(s.ProjectID())
	f.waitMembers(t, "proj-1", 0)
	req.ErrorIs(s.Reconnect(context.Background()), ErrNotViewing)
}

func TestSubscription_DialFailure(t *testing.T) {
	s := New("ws://127.0.0.1:1/ws")
	err := s.View(context.Background(), "proj-1")
	require.Error(t, err)
	assert.Equal(t, Disconnected, s.State())
	assert.Equal(t, "proj-1", s.ProjectID())
}

func TestSubscription_MalformedMessagesAreDropped(t *testing.T) {
	req := require.New(t)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var join domain.ClientMessage
		if err := conn.ReadJSON(&join); err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"SOMETHING_ELSE","data":{}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"TASK_UPDATED","data":{"id":"`+join.ProjectID+`"}}`))
		_, _, _ = conn.ReadMessage()
	}))
	t.Cleanup(srv.Close)

	var seen []domain.Kind
	received := make(chan struct{}, 1)
	s := New("ws"+strings.TrimPrefix(srv.URL, "http"), OnEvent(func(evt domain.Event) {
		seen = append(seen, evt.Type)
		received <- struct{}{}
	}))
	t.Cleanup(s.Close)

	req.NoError(s.View(context.Background(), "proj-1"))

	select {
	case <-received:
	case <-time.After(time.Second):
		req.FailNow("event not received")
	}
	req.Equal([]domain.Kind{domain.KindTaskUpdated}, seen)
	req.Equal(Open, s.State())

	evt := nextUpdate(t, s)
	req.JSONEq(`{"id":"proj-1"}`, string(evt.Data))
}

func TestSubscription_UpdatesKeepsLatest(t *testing.T) {
	req := require.New(t)
	s := New("ws://unused")

	for _, id := range []string{"t1", "t2", "t3"} {
		evt, err := domain.NewEvent(domain.KindTaskDeleted, domain.DeletedPayload{ID: id})
		req.NoError(err)
		s.deliver(0, evt)
	}

	evt := nextUpdate(t, s)
	req.JSONEq(`{"id":"t3"}`, string(evt.Data))

	select {
	case <-s.Updates():
		req.FailNow("only the latest event should be pending")
	default:
	}
}

func TestSubscription_StaleTransportEventsAreIgnored(t *testing.T) {
	req := require.New(t)
	s := New("ws://unused")

	// Given a frame read by a transport that has been torn down since
	s.mu.Lock()
	stale := s.gen
	s.projectID = "proj-1"
	s.teardownLocked()
	s.mu.Unlock()

	evt, err := domain.NewEvent(domain.KindTaskDeleted, domain.DeletedPayload{ID: "t1"})
	req.NoError(err)
	s.deliver(stale, evt)

	// Then it is neither latest nor signalled
	_, ok := s.Latest()
	req.False(ok)
	select {
	case <-s.Updates():
		req.FailNow("stale event signalled")
	default:
	}
}
