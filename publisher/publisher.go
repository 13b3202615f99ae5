// Package publisher turns committed mutations into room events.
//
// Every method is fire-and-forget: it returns nothing, and encoding or
// delivery problems only reach the log. Callers invoke it after the mutation
// is durable and before writing their response.
package publisher

import (
	"log/slog"

	"taskboard-sync/domain"
)

type Publisher struct {
	log         *slog.Logger
	broadcaster domain.Broadcaster
}

func New(log *slog.Logger, b domain.Broadcaster) *Publisher {
	return &Publisher{log: log, broadcaster: b}
}

func (p *Publisher) ProjectCreated(project domain.Project) {
	p.Publish(project.ID, domain.KindProjectCreated, project)
}

func (p *Publisher) TaskCreated(task domain.Task) {
	p.Publish(task.ProjectID, domain.KindTaskCreated, task)
}

func (p *Publisher) TaskUpdated(task domain.Task) {
	p.Publish(task.ProjectID, domain.KindTaskUpdated, task)
}

func (p *Publisher) TaskDeleted(projectID, taskID string) {
	p.Publish(projectID, domain.KindTaskDeleted, domain.DeletedPayload{ID: taskID})
}

func (p *Publisher) CommentAdded(projectID string, comment domain.Comment) {
	p.Publish(projectID, domain.KindCommentAdded, domain.CommentPayload{TaskID: comment.TaskID, Comment: comment})
}

// Publish encodes payload once and broadcasts it to the project's room.
func (p *Publisher) Publish(projectID string, kind domain.Kind, payload any) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("broadcast panicked", "room", projectID, "kind", kind, "panic", r)
		}
	}()

	evt, err := domain.NewEvent(kind, payload)
	if err != nil {
		p.log.Error("event not published", "room", projectID, "kind", kind, "error", err)
		return
	}
	p.broadcaster.Broadcast(projectID, evt)
}
