package store

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"taskboard-sync/domain"
)

// AddComment posts content on taskID. It returns the comment together with the
// task's project so callers can route the event.
func (s *Store) AddComment(taskID, userID, content string) (domain.Comment, string, error) {
	c := domain.Comment{ID: newID(), TaskID: taskID, UserID: userID, Content: content, CreatedAt: s.now()}
	var projectID string
	err := s.db.Update(func(txn *badger.Txn) error {
		t, err := get[domain.Task](txn, taskKey(taskID))
		if err != nil {
			return err
		}
		projectID = t.ProjectID
		return put(txn, commentKey(taskID, c.CreatedAt, c.ID), c)
	})
	if err != nil {
		return domain.Comment{}, "", fmt.Errorf("add comment: %w", err)
	}
	return c, projectID, nil
}

// ListComments returns the task's comments in posting order.
func (s *Store) ListComments(taskID string) ([]domain.Comment, error) {
	comments := []domain.Comment{}
	err := s.db.View(func(txn *badger.Txn) error {
		if ok, err := exists(txn, taskKey(taskID)); err != nil {
			return err
		} else if !ok {
			return domain.ErrNotFound
		}
		return scan(txn, "comment:"+taskID+":", func(_ string, val []byte) error {
			c, err := decode[domain.Comment](val)
			if err != nil {
				return err
			}
			comments = append(comments, c)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return comments, nil
}
