package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"taskboard-sync/auth"
	"taskboard-sync/domain"
	"taskboard-sync/websocket"
)

// Repository is the persistence the handlers mutate before publishing.
type Repository interface {
	CreateProject(ownerID string, p domain.Project) (domain.Project, error)
	GetProject(id string) (domain.Project, error)
	ListProjectsForUser(userID string) ([]domain.ProjectSummary, error)
	AddMember(projectID, userID, role string) (domain.Member, error)
	ListMembers(projectID string) ([]domain.Member, error)
	IsMember(projectID, userID string) (bool, error)
	CreateTask(t domain.Task) (domain.Task, error)
	GetTask(id string) (domain.Task, error)
	ListTasks(projectID string) ([]domain.Task, error)
	ListTasksForAssignee(userID string) ([]domain.Task, error)
	UpdateTask(id string, patch domain.TaskPatch) (domain.Task, error)
	DeleteTask(id string) (domain.Task, error)
	AddComment(taskID, userID, content string) (domain.Comment, string, error)
	ListComments(taskID string) ([]domain.Comment, error)
}

// Events receives one call per committed mutation.
type Events interface {
	ProjectCreated(project domain.Project)
	TaskCreated(task domain.Task)
	TaskUpdated(task domain.Task)
	TaskDeleted(projectID, taskID string)
	CommentAdded(projectID string, comment domain.Comment)
}

type Acceptor interface {
	Accept(w http.ResponseWriter, r *http.Request, userID string) (*websocket.Conn, error)
}

type StatsProvider interface {
	Stats() (rooms, clients int)
}

type Options struct {
	// RequireWSAuth rejects websocket upgrades without a valid token.
	RequireWSAuth bool
	// AllowDevTokens mounts POST /auth/token, which signs a token for any
	// user id. Only for local setups without an identity provider.
	AllowDevTokens bool
}

type Server struct {
	log    *slog.Logger
	repo   Repository
	events Events
	ws     Acceptor
	stats  StatsProvider
	tokens *auth.Tokens
	opts   Options
	router *gin.Engine
}

func NewServer(log *slog.Logger, repo Repository, events Events, ws Acceptor, stats StatsProvider, tokens *auth.Tokens, opts Options) *Server {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log))

	s := &Server{
		log:    log,
		repo:   repo,
		events: events,
		ws:     ws,
		stats:  stats,
		tokens: tokens,
		opts:   opts,
		router: router,
	}

	router.GET("/health", s.handleHealth)
	router.GET("/stats", s.handleStats)
	router.GET("/ws", s.handleWS)
	if opts.AllowDevTokens {
		router.POST("/auth/token", s.handleIssueToken)
	}

	api := router.Group("/api", auth.RequireUser(tokens))
	{
		api.GET("/me", s.handleMe)

		api.GET("/projects", s.handleListProjects)
		api.POST("/projects", s.handleCreateProject)
		api.GET("/projects/:id", s.handleGetProject)
		api.GET("/projects/:id/members", s.handleListMembers)
		api.POST("/projects/:id/members", s.handleAddMember)
		api.GET("/projects/:id/tasks", s.handleListTasks)

		api.POST("/tasks", s.handleCreateTask)
		api.GET("/tasks/:id", s.handleGetTask)
		api.PATCH("/tasks/:id", s.handleUpdateTask)
		api.DELETE("/tasks/:id", s.handleDeleteTask)
		api.GET("/tasks/:id/comments", s.handleListComments)
		api.POST("/tasks/:id/comments", s.handleAddComment)

		api.GET("/user/tasks", s.handleUserTasks)
	}

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
