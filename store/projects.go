package store

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"

	"taskboard-sync/domain"
)

// CreateProject stores p with a fresh id and makes ownerID its owner member.
func (s *Store) CreateProject(ownerID string, p domain.Project) (domain.Project, error) {
	now := s.now()
	p.ID = newID()
	p.OwnerID = ownerID
	p.CreatedAt = now
	if p.Icon == "" {
		p.Icon = domain.DefaultProjectIcon
	}
	if p.Status == "" {
		p.Status = domain.DefaultProjectStatus
	}

	owner := domain.Member{ProjectID: p.ID, UserID: ownerID, Role: domain.RoleOwner, JoinedAt: now}
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := put(txn, projectKey(p.ID), p); err != nil {
			return err
		}
		return addMember(txn, owner)
	})
	if err != nil {
		return domain.Project{}, fmt.Errorf("create project: %w", err)
	}
	s.log.Debug("project created", "room", p.ID, "ownerId", ownerID)
	return p, nil
}

func (s *Store) GetProject(id string) (domain.Project, error) {
	var p domain.Project
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		p, err = get[domain.Project](txn, projectKey(id))
		return err
	})
	return p, err
}

// ListProjectsForUser returns every project userID belongs to, newest first,
// with member and task counters.
func (s *Store) ListProjectsForUser(userID string) ([]domain.ProjectSummary, error) {
	var summaries []domain.ProjectSummary
	err := s.db.View(func(txn *badger.Txn) error {
		var projectIDs []string
		if err := scan(txn, "membership:"+userID+":", func(projectID string, _ []byte) error {
			projectIDs = append(projectIDs, projectID)
			return nil
		}); err != nil {
			return err
		}

		for _, id := range projectIDs {
			p, err := get[domain.Project](txn, projectKey(id))
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			summary, err := summarize(txn, p)
			if err != nil {
				return err
			}
			summaries = append(summaries, summary)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
	return summaries, nil
}

func summarize(txn *badger.Txn, p domain.Project) (domain.ProjectSummary, error) {
	summary := domain.ProjectSummary{Project: p}
	if err := scan(txn, "member:"+p.ID+":", func(string, []byte) error {
		summary.MemberCount++
		return nil
	}); err != nil {
		return summary, err
	}
	tasks, err := projectTasks(txn, p.ID)
	if err != nil {
		return summary, err
	}
	summary.TaskCount = len(tasks)
	summary.CompletedTaskCount = lo.CountBy(tasks, func(t domain.Task) bool {
		return t.Status == domain.StatusDone
	})
	return summary, nil
}

// AddMember adds userID to the project with role, defaulting to member.
func (s *Store) AddMember(projectID, userID, role string) (domain.Member, error) {
	userID = strings.TrimSpace(userID)
	if role == "" {
		role = domain.RoleMember
	}
	m := domain.Member{ProjectID: projectID, UserID: userID, Role: role, JoinedAt: s.now()}

	err := s.db.Update(func(txn *badger.Txn) error {
		if ok, err := exists(txn, projectKey(projectID)); err != nil {
			return err
		} else if !ok {
			return domain.ErrNotFound
		}
		if ok, err := exists(txn, memberKey(projectID, userID)); err != nil {
			return err
		} else if ok {
			return domain.ErrAlreadyMember
		}
		return addMember(txn, m)
	})
	if err != nil {
		return domain.Member{}, fmt.Errorf("add member: %w", err)
	}
	return m, nil
}

func addMember(txn *badger.Txn, m domain.Member) error {
	if err := put(txn, memberKey(m.ProjectID, m.UserID), m); err != nil {
		return err
	}
	return txn.Set(membershipKey(m.UserID, m.ProjectID), nil)
}

func (s *Store) ListMembers(projectID string) ([]domain.Member, error) {
	var members []domain.Member
	err := s.db.View(func(txn *badger.Txn) error {
		if ok, err := exists(txn, projectKey(projectID)); err != nil {
			return err
		} else if !ok {
			return domain.ErrNotFound
		}
		return scan(txn, "member:"+projectID+":", func(_ string, val []byte) error {
			m, err := decode[domain.Member](val)
			if err != nil {
				return err
			}
			members = append(members, m)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	sort.SliceStable(members, func(i, j int) bool {
		return members[i].JoinedAt.Before(members[j].JoinedAt)
	})
	return members, nil
}

func (s *Store) IsMember(projectID, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	var ok bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		ok, err = exists(txn, memberKey(projectID, userID))
		return err
	})
	return ok, err
}
