package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gws "github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskboard-sync/auth"
	"taskboard-sync/domain"
	"taskboard-sync/hub"
	"taskboard-sync/protocol"
	"taskboard-sync/publisher"
	"taskboard-sync/store"
	"taskboard-sync/websocket"
)

const secret = "0123456789abcdef0123456789abcdef"

type watcher struct {
	id       string
	mu       sync.Mutex
	received []domain.Event
}

func (w *watcher) ID() string     { return w.id }
func (w *watcher) UserID() string { return "" }
func (w *watcher) Ready() bool    { return true }
func (w *watcher) Close() error   { return nil }

func (w *watcher) Send(data []byte) error {
	var evt domain.Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.received = append(w.received, evt)
	return nil
}

func (w *watcher) events() []domain.Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]domain.Event(nil), w.received...)
}

type fixture struct {
	hub    *hub.Hub
	store  *store.Store
	tokens *auth.Tokens
	router http.Handler
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	db, err := store.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	h := hub.New(log)
	st := store.New(db, log)
	tokens := auth.NewTokens(secret, time.Hour)
	ws := websocket.NewServer(log, h, protocol.NewHandler(log, h), websocket.Options{})
	srv := NewServer(log, st, publisher.New(log, h), ws, h, tokens, opts)

	return &fixture{hub: h, store: st, tokens: tokens, router: srv.Handler()}
}

// watch registers a recording connection in room.
func (f *fixture) watch(id, room string) *watcher {
	w := &watcher{id: id}
	f.hub.Register(w)
	f.hub.Join(w, room)
	return w
}

func (f *fixture) do(t *testing.T, user, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	r.Header.Set("Content-Type", "application/json")
	if user != "" {
		token, err := f.tokens.Generate(user)
		require.NoError(t, err)
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, r)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func (f *fixture) createProject(t *testing.T, owner string) domain.Project {
	t.Helper()
	w := f.do(t, owner, http.MethodPost, "/api/projects", map[string]string{"name": "Launch"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decodeBody[domain.Project](t, w)
}

func (f *fixture) createTask(t *testing.T, user, projectID, title string) domain.Task {
	t.Helper()
	w := f.do(t, user, http.MethodPost, "/api/tasks", map[string]string{"title": title, "projectId": projectID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decodeBody[domain.Task](t, w)
}

func TestServer_Health(t *testing.T) {
	f := newFixture(t, Options{})
	w := f.do(t, "", http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestServer_IssueTokenDisabledByDefault(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, Options{})
	project := f.createProject(t, "alice")

	// An anonymous caller cannot obtain alice's token
	w := f.do(t, "", http.MethodPost, "/auth/token", map[string]string{"userId": "alice"})
	req.Equal(http.StatusNotFound, w.Code)

	// And without one the project stays out of reach
	w = f.do(t, "", http.MethodGet, "/api/projects/"+project.ID, nil)
	req.Equal(http.StatusUnauthorized, w.Code)
}

func TestServer_IssueToken(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, Options{AllowDevTokens: true})

	w := f.do(t, "", http.MethodPost, "/auth/token", map[string]string{"userId": "alice"})
	req.Equal(http.StatusOK, w.Code)
	body := decodeBody[map[string]string](t, w)
	claims, err := f.tokens.Validate(body["token"])
	req.NoError(err)
	req.Equal("alice", claims.UserID)

	w = f.do(t, "", http.MethodPost, "/auth/token", map[string]string{})
	req.Equal(http.StatusBadRequest, w.Code)
}

func TestServer_RequiresAuthentication(t *testing.T) {
	f := newFixture(t, Options{})
	w := f.do(t, "", http.MethodGet, "/api/projects", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestServer_TaskMutationsReachTheRoom(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, Options{})
	project := f.createProject(t, "alice")

	// Given one watcher on the project and another elsewhere
	viewer := f.watch("viewer", project.ID)
	outsider := f.watch("outsider", "proj-other")

	// When a task is created, updated, commented on and deleted
	task := f.createTask(t, "alice", project.ID, "Write spec")

	w := f.do(t, "alice", http.MethodPatch, "/api/tasks/"+task.ID, map[string]string{"status": "in-progress"})
	req.Equal(http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, "alice", http.MethodPost, "/api/tasks/"+task.ID+"/comments", map[string]string{"content": "on it"})
	req.Equal(http.StatusOK, w.Code, w.Body.String())
	comment := decodeBody[domain.Comment](t, w)

	w = f.do(t, "alice", http.MethodDelete, "/api/tasks/"+task.ID, nil)
	req.Equal(http.StatusOK, w.Code)
	req.JSONEq(`{"message":"Task deleted successfully"}`, w.Body.String())

	// Then the watcher saw each event in commit order
	events := viewer.events()
	req.Len(events, 4)
	req.Equal(domain.KindTaskCreated, events[0].Type)
	req.Equal(domain.KindTaskUpdated, events[1].Type)
	req.Equal(domain.KindCommentAdded, events[2].Type)
	req.Equal(domain.KindTaskDeleted, events[3].Type)

	var updated domain.Task
	req.NoError(events[1].Decode(&updated))
	req.Equal(domain.StatusInProgress, updated.Status)

	var added domain.CommentPayload
	req.NoError(events[2].Decode(&added))
	req.Equal(task.ID, added.TaskID)
	req.Equal(comment, added.Comment)

	req.JSONEq(`{"id":"`+task.ID+`"}`, string(events[3].Data))

	// And the other room heard nothing
	req.Empty(outsider.events())
}

func TestServer_FailedMutationPublishesNothing(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, Options{})
	project := f.createProject(t, "alice")
	viewer := f.watch("viewer", project.ID)
	task := f.createTask(t, "alice", project.ID, "Write spec")

	tests := []struct {
		name   string
		user   string
		method string
		path   string
		body   any
		want   int
	}{
		{name: "invalid status", user: "alice", method: http.MethodPatch, path: "/api/tasks/" + task.ID, body: map[string]string{"status": "blocked"}, want: http.StatusBadRequest},
		{name: "unknown task", user: "alice", method: http.MethodDelete, path: "/api/tasks/missing", want: http.StatusNotFound},
		{name: "not a member", user: "mallory", method: http.MethodDelete, path: "/api/tasks/" + task.ID, want: http.StatusForbidden},
		{name: "missing title", user: "alice", method: http.MethodPost, path: "/api/tasks", body: map[string]string{"projectId": project.ID}, want: http.StatusBadRequest},
		{name: "empty comment", user: "alice", method: http.MethodPost, path: "/api/tasks/" + task.ID + "/comments", body: map[string]string{"content": ""}, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, tt.user, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}

	// Only the initial creation reached the room.
	req.Len(viewer.events(), 1)
}

func TestServer_Projects(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, Options{})
	project := f.createProject(t, "alice")
	req.Equal(domain.DefaultProjectIcon, project.Icon)

	w := f.do(t, "alice", http.MethodPost, "/api/projects/"+project.ID+"/members", map[string]string{"userId": "bob"})
	req.Equal(http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, "alice", http.MethodPost, "/api/projects/"+project.ID+"/members", map[string]string{"userId": "bob"})
	req.Equal(http.StatusConflict, w.Code)

	w = f.do(t, "bob", http.MethodGet, "/api/projects", nil)
	req.Equal(http.StatusOK, w.Code)
	summaries := decodeBody[[]domain.ProjectSummary](t, w)
	req.Len(summaries, 1)
	req.Equal(2, summaries[0].MemberCount)

	w = f.do(t, "carol", http.MethodGet, "/api/projects", nil)
	req.Equal(http.StatusOK, w.Code)
	req.JSONEq(`[]`, w.Body.String())

	w = f.do(t, "carol", http.MethodGet, "/api/projects/"+project.ID, nil)
	req.Equal(http.StatusForbidden, w.Code)

	w = f.do(t, "bob", http.MethodGet, "/api/projects/"+project.ID+"/members", nil)
	req.Equal(http.StatusOK, w.Code)
	req.Len(decodeBody[[]domain.Member](t, w), 2)
}

func TestServer_UserTasks(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, Options{})
	project := f.createProject(t, "alice")
	task := f.createTask(t, "alice", project.ID, "Review")

	w := f.do(t, "alice", http.MethodPatch, "/api/tasks/"+task.ID, map[string]string{"assigneeId": "bob"})
	req.Equal(http.StatusOK, w.Code)

	w = f.do(t, "bob", http.MethodGet, "/api/user/tasks", nil)
	req.Equal(http.StatusOK, w.Code)
	tasks := decodeBody[[]domain.Task](t, w)
	req.Len(tasks, 1)
	req.Equal(task.ID, tasks[0].ID)
}

func TestServer_WebsocketEndToEnd(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, Options{})
	srv := httptest.NewServer(f.router)
	t.Cleanup(srv.Close)
	project := f.createProject(t, "alice")

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	req.NoError(err)
	t.Cleanup(func() { conn.Close() })

	req.NoError(conn.WriteJSON(domain.ClientMessage{Type: domain.KindJoinProject, ProjectID: project.ID}))
	req.Eventually(func() bool { return f.hub.Members(project.ID) == 1 }, time.Second, 5*time.Millisecond)

	task := f.createTask(t, "alice", project.ID, "Ship it")

	req.NoError(conn.SetReadDeadline(time.Now().Add(time.Second)))
	var evt domain.Event
	req.NoError(conn.ReadJSON(&evt))
	req.Equal(domain.KindTaskCreated, evt.Type)

	var got domain.Task
	req.NoError(evt.Decode(&got))
	req.Equal(task.ID, got.ID)

	w := f.do(t, "", http.MethodGet, "/stats", nil)
	req.JSONEq(`{"rooms":1,"clients":1}`, w.Body.String())
}

func TestServer_WebsocketAuthRequired(t *testing.T) {
	f := newFixture(t, Options{RequireWSAuth: true})
	srv := httptest.NewServer(f.router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := gws.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, err := f.tokens.Generate("alice")
	require.NoError(t, err)
	conn, _, err := gws.DefaultDialer.Dial(url+"?token="+token, nil)
	require.NoError(t, err)
	conn.Close()
}
