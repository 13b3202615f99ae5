package store

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"taskboard-sync/domain"
)

// CreateTask stores t under its project. Status and priority default to
// to-do and medium.
func (s *Store) CreateTask(t domain.Task) (domain.Task, error) {
	now := s.now()
	t.ID = newID()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = domain.StatusToDo
	}
	if t.Priority == "" {
		t.Priority = domain.PriorityMedium
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if err := checkTask(t); err != nil {
		return domain.Task{}, err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		if ok, err := exists(txn, projectKey(t.ProjectID)); err != nil {
			return err
		} else if !ok {
			return domain.ErrNotFound
		}
		if err := put(txn, taskKey(t.ID), t); err != nil {
			return err
		}
		return txn.Set(projectTaskKey(t.ProjectID, t.ID), nil)
	})
	if err != nil {
		return domain.Task{}, fmt.Errorf("create task: %w", err)
	}
	return t, nil
}

func checkTask(t domain.Task) error {
	if !t.Status.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidStatus, t.Status)
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidPriority, t.Priority)
	}
	return nil
}

func (s *Store) GetTask(id string) (domain.Task, error) {
	var t domain.Task
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		t, err = get[domain.Task](txn, taskKey(id))
		return err
	})
	return t, err
}

// ListTasks returns the project's tasks, oldest first.
func (s *Store) ListTasks(projectID string) ([]domain.Task, error) {
	var tasks []domain.Task
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		tasks, err = projectTasks(txn, projectID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

func projectTasks(txn *badger.Txn, projectID string) ([]domain.Task, error) {
	var ids []string
	if err := scan(txn, "project-task:"+projectID+":", func(taskID string, _ []byte) error {
		ids = append(ids, taskID)
		return nil
	}); err != nil {
		return nil, err
	}

	tasks := make([]domain.Task, 0, len(ids))
	for _, id := range ids {
		t, err := get[domain.Task](txn, taskKey(id))
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	sortTasks(tasks)
	return tasks, nil
}

func sortTasks(tasks []domain.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
}

// ListTasksForAssignee returns every task assigned to userID across projects.
func (s *Store) ListTasksForAssignee(userID string) ([]domain.Task, error) {
	var tasks []domain.Task
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(txn, "task:", func(_ string, val []byte) error {
			t, err := decode[domain.Task](val)
			if err != nil {
				return err
			}
			if t.AssigneeID != nil && *t.AssigneeID == userID {
				tasks = append(tasks, t)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list assigned tasks: %w", err)
	}
	sortTasks(tasks)
	return tasks, nil
}

// UpdateTask applies the non-nil fields of patch and bumps UpdatedAt.
func (s *Store) UpdateTask(id string, patch domain.TaskPatch) (domain.Task, error) {
	var t domain.Task
	err := s.db.Update(func(txn *badger.Txn) error {
		var err error
		t, err = get[domain.Task](txn, taskKey(id))
		if err != nil {
			return err
		}
		applyPatch(&t, patch)
		if err := checkTask(t); err != nil {
			return err
		}
		t.UpdatedAt = s.now()
		return put(txn, taskKey(id), t)
	})
	if err != nil {
		return domain.Task{}, fmt.Errorf("update task: %w", err)
	}
	return t, nil
}

func applyPatch(t *domain.Task, patch domain.TaskPatch) {
	if patch.Title != nil {
		t.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if patch.AssigneeID != nil {
		// An empty assignee clears the assignment.
		if *patch.AssigneeID == "" {
			t.AssigneeID = nil
		} else {
			assignee := *patch.AssigneeID
			t.AssigneeID = &assignee
		}
	}
	if patch.Status != nil {
		t.Status = *patch.Status
	}
	if patch.Priority != nil {
		t.Priority = *patch.Priority
	}
	if patch.Tags != nil {
		t.Tags = patch.Tags
	}
	if patch.DueDate != nil {
		t.DueDate = patch.DueDate
	}
}

// DeleteTask removes the task and its comments and returns the deleted record.
func (s *Store) DeleteTask(id string) (domain.Task, error) {
	var t domain.Task
	err := s.db.Update(func(txn *badger.Txn) error {
		var err error
		t, err = get[domain.Task](txn, taskKey(id))
		if err != nil {
			return err
		}

		var commentKeys [][]byte
		if err := scan(txn, "comment:"+id+":", func(suffix string, _ []byte) error {
			commentKeys = append(commentKeys, []byte("comment:"+id+":"+suffix))
			return nil
		}); err != nil {
			return err
		}
		for _, key := range commentKeys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		if err := txn.Delete(projectTaskKey(t.ProjectID, id)); err != nil {
			return err
		}
		return txn.Delete(taskKey(id))
	})
	if err != nil {
		return domain.Task{}, fmt.Errorf("delete task: %w", err)
	}
	return t, nil
}
