package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"taskboard-sync/auth"
	"taskboard-sync/domain"
)

type tokenRequest struct {
	UserID string `json:"userId" binding:"required"`
}

type createProjectRequest struct {
	Name        string  `json:"name" binding:"required"`
	Description string  `json:"description"`
	Icon        string  `json:"icon"`
	StartDate   *string `json:"startDate" binding:"omitempty,datetime=2006-01-02"`
	DueDate     *string `json:"dueDate" binding:"omitempty,datetime=2006-01-02"`
}

type addMemberRequest struct {
	UserID string `json:"userId" binding:"required"`
	Role   string `json:"role" binding:"omitempty,oneof=owner member"`
}

type createTaskRequest struct {
	Title       string            `json:"title" binding:"required"`
	Description string            `json:"description"`
	ProjectID   string            `json:"projectId" binding:"required"`
	AssigneeID  *string           `json:"assigneeId"`
	Status      domain.TaskStatus `json:"status"`
	Priority    domain.Priority   `json:"priority"`
	Tags        []string          `json:"tags"`
	DueDate     *string           `json:"dueDate" binding:"omitempty,datetime=2006-01-02"`
}

type commentRequest struct {
	Content string `json:"content" binding:"required"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStats(c *gin.Context) {
	rooms, clients := s.stats.Stats()
	c.JSON(http.StatusOK, gin.H{"rooms": rooms, "clients": clients})
}

// handleWS upgrades to the event stream. A valid token attaches the caller's
// identity to the connection; it is mandatory only when RequireWSAuth is set.
func (s *Server) handleWS(c *gin.Context) {
	userID := ""
	if raw, err := auth.TokenFromRequest(c.Request); err == nil {
		if claims, err := s.tokens.Validate(raw); err == nil {
			userID = claims.UserID
		}
	}
	if userID == "" && s.opts.RequireWSAuth {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Authentication required"})
		return
	}

	if _, err := s.ws.Accept(c.Writer, c.Request, userID); err != nil {
		s.log.Debug("websocket upgrade failed", "error", err)
	}
}

// handleIssueToken mints a session token for any user id. It is mounted only
// with AllowDevTokens; production tokens come from the identity provider
// sharing JWT_SECRET.
func (s *Server) handleIssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	token, err := s.tokens.Generate(strings.TrimSpace(req.UserID))
	if err != nil {
		s.log.Error("token generation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (s *Server) handleMe(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"id": auth.UserID(c)})
}

func (s *Server) handleListProjects(c *gin.Context) {
	projects, err := s.repo.ListProjectsForUser(auth.UserID(c))
	if err != nil {
		s.fail(c, err, "Failed to fetch projects")
		return
	}
	if projects == nil {
		projects = []domain.ProjectSummary{}
	}
	c.JSON(http.StatusOK, projects)
}

func (s *Server) handleCreateProject(c *gin.Context) {
	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	project, err := s.repo.CreateProject(auth.UserID(c), domain.Project{
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Icon:        req.Icon,
		StartDate:   req.StartDate,
		DueDate:     req.DueDate,
	})
	if err != nil {
		s.fail(c, err, "Failed to create project")
		return
	}

	s.events.ProjectCreated(project)
	c.JSON(http.StatusOK, project)
}

func (s *Server) handleGetProject(c *gin.Context) {
	projectID := c.Param("id")
	if !s.requireMember(c, projectID) {
		return
	}
	project, err := s.repo.GetProject(projectID)
	if err != nil {
		s.fail(c, err, "Failed to fetch project")
		return
	}
	c.JSON(http.StatusOK, project)
}

func (s *Server) handleListMembers(c *gin.Context) {
	projectID := c.Param("id")
	if !s.requireMember(c, projectID) {
		return
	}
	members, err := s.repo.ListMembers(projectID)
	if err != nil {
		s.fail(c, err, "Failed to fetch project members")
		return
	}
	c.JSON(http.StatusOK, members)
}

func (s *Server) handleAddMember(c *gin.Context) {
	projectID := c.Param("id")
	var req addMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if !s.requireMember(c, projectID) {
		return
	}
	member, err := s.repo.AddMember(projectID, req.UserID, req.Role)
	if err != nil {
		s.fail(c, err, "Failed to add member")
		return
	}
	c.JSON(http.StatusOK, member)
}

func (s *Server) handleListTasks(c *gin.Context) {
	projectID := c.Param("id")
	if !s.requireMember(c, projectID) {
		return
	}
	tasks, err := s.repo.ListTasks(projectID)
	if err != nil {
		s.fail(c, err, "Failed to fetch tasks")
		return
	}
	c.JSON(http.StatusOK, tasks)
}

func (s *Server) handleCreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if !s.requireMember(c, req.ProjectID) {
		return
	}

	task, err := s.repo.CreateTask(domain.Task{
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		ProjectID:   req.ProjectID,
		AssigneeID:  req.AssigneeID,
		Status:      req.Status,
		Priority:    req.Priority,
		Tags:        req.Tags,
		DueDate:     req.DueDate,
	})
	if err != nil {
		s.fail(c, err, "Failed to create task")
		return
	}

	s.events.TaskCreated(task)
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleGetTask(c *gin.Context) {
	task, ok := s.memberTask(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleUpdateTask(c *gin.Context) {
	var patch domain.TaskPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, err)
		return
	}
	current, ok := s.memberTask(c)
	if !ok {
		return
	}

	task, err := s.repo.UpdateTask(current.ID, patch)
	if err != nil {
		s.fail(c, err, "Failed to update task")
		return
	}

	s.events.TaskUpdated(task)
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleDeleteTask(c *gin.Context) {
	current, ok := s.memberTask(c)
	if !ok {
		return
	}

	task, err := s.repo.DeleteTask(current.ID)
	if err != nil {
		s.fail(c, err, "Failed to delete task")
		return
	}

	s.events.TaskDeleted(task.ProjectID, task.ID)
	c.JSON(http.StatusOK, gin.H{"message": "Task deleted successfully"})
}

func (s *Server) handleListComments(c *gin.Context) {
	task, ok := s.memberTask(c)
	if !ok {
		return
	}
	comments, err := s.repo.ListComments(task.ID)
	if err != nil {
		s.fail(c, err, "Failed to fetch comments")
		return
	}
	c.JSON(http.StatusOK, comments)
}

func (s *Server) handleAddComment(c *gin.Context) {
	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	task, ok := s.memberTask(c)
	if !ok {
		return
	}

	comment, projectID, err := s.repo.AddComment(task.ID, auth.UserID(c), req.Content)
	if err != nil {
		s.fail(c, err, "Failed to create comment")
		return
	}

	s.events.CommentAdded(projectID, comment)
	c.JSON(http.StatusOK, comment)
}

func (s *Server) handleUserTasks(c *gin.Context) {
	tasks, err := s.repo.ListTasksForAssignee(auth.UserID(c))
	if err != nil {
		s.fail(c, err, "Failed to fetch user tasks")
		return
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	c.JSON(http.StatusOK, tasks)
}

// memberTask loads the task named by the :id parameter and checks the caller
// belongs to its project.
func (s *Server) memberTask(c *gin.Context) (domain.Task, bool) {
	task, err := s.repo.GetTask(c.Param("id"))
	if err != nil {
		s.fail(c, err, "Failed to fetch task")
		return domain.Task{}, false
	}
	if !s.requireMember(c, task.ProjectID) {
		return domain.Task{}, false
	}
	return task, true
}

func (s *Server) requireMember(c *gin.Context, projectID string) bool {
	ok, err := s.repo.IsMember(projectID, auth.UserID(c))
	if err != nil {
		s.fail(c, err, "Failed to check membership")
		return false
	}
	if !ok {
		s.fail(c, domain.ErrForbidden, "")
		return false
	}
	return true
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"message": "Validation failed", "error": err.Error()})
}

func (s *Server) fail(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "Not found"})
	case errors.Is(err, domain.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"message": "Not a project member"})
	case errors.Is(err, domain.ErrAlreadyMember):
		c.JSON(http.StatusConflict, gin.H{"message": err.Error()})
	case errors.Is(err, domain.ErrInvalidStatus), errors.Is(err, domain.ErrInvalidPriority):
		c.JSON(http.StatusBadRequest, gin.H{"message": "Validation failed", "error": err.Error()})
	default:
		s.log.Error(fallback, "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": fallback})
	}
}
