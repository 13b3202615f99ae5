package protocol

import (
	"encoding/json"
	"log/slog"
	"strings"

	"taskboard-sync/domain"
)

// MembershipChecker reports whether a user may watch a project.
type MembershipChecker interface {
	IsMember(projectID, userID string) (bool, error)
}

type Handler struct {
	log      *slog.Logger
	registry domain.Registry
	members  MembershipChecker
}

type Option func(*Handler)

// WithMembershipCheck makes joins conditional on project membership. Without
// it any JOIN_PROJECT frame is honoured.
func WithMembershipCheck(members MembershipChecker) Option {
	return func(h *Handler) {
		h.members = members
	}
}

func NewHandler(log *slog.Logger, registry domain.Registry, opts ...Option) *Handler {
	h := &Handler{log: log, registry: registry}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle processes one inbound frame. Malformed or rejected frames are dropped;
// the connection stays open and keeps its current room.
func (h *Handler) Handle(conn domain.Connection, data []byte) {
	var msg domain.ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.log.Warn("invalid message", "connId", conn.ID(), "error", err)
		return
	}

	switch msg.Type {
	case domain.KindJoinProject:
		h.join(conn, strings.TrimSpace(msg.ProjectID))
	default:
		h.log.Warn("unsupported message type", "connId", conn.ID(), "type", msg.Type)
	}
}

func (h *Handler) join(conn domain.Connection, projectID string) {
	if projectID == "" {
		h.log.Warn("join without project id", "connId", conn.ID())
		return
	}

	if h.members != nil {
		ok, err := h.members.IsMember(projectID, conn.UserID())
		if err != nil {
			h.log.Error("membership lookup failed", "connId", conn.ID(), "room", projectID, "error", err)
			return
		}
		if !ok {
			h.log.Warn("join rejected", "connId", conn.ID(), "room", projectID, "userId", conn.UserID())
			return
		}
	}

	h.registry.Join(conn, projectID)
}
