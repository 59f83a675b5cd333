// Package inmemory is a process-local Remote Data Service. It backs tests
// and the "memory" remote of the CLI, and can inject faults.
package inmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/dmitrijs2005/estisync/internal/client/models"
	"github.com/dmitrijs2005/estisync/internal/client/remote"
	"github.com/dmitrijs2005/estisync/internal/common"
)

// Service keeps rows in maps keyed by table and id.
type Service struct {
	mu      sync.Mutex
	tables  map[string]map[string]models.Row
	offline bool
	upserts int
	fetches int

	// FailUpsert, when set, is consulted before each write; a non-nil
	// result is returned as is.
	FailUpsert func(table string, row models.Row) error
	// FailFetch, when set, is consulted before each fetch.
	FailFetch func(table string) error
}

var _ remote.Service = (*Service)(nil)

func New() *Service {
	return &Service{tables: map[string]map[string]models.Row{}}
}

// SetOffline makes every call fail with common.ErrUnavailable.
func (s *Service) SetOffline(offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = offline
}

// Upserts reports how many Upsert calls reached the store.
func (s *Service) Upserts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts
}

// Fetches reports how many Fetch calls were made.
func (s *Service) Fetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

// Get returns the stored row, for assertions.
func (s *Service) Get(table, id string) (models.Row, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.tables[table][id]
	if !ok {
		return models.Row{}, false
	}
	return r.Clone(), true
}

// Put seeds a row without any version check.
func (s *Service) Put(table string, row models.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(table, row)
}

func (s *Service) put(table string, row models.Row) {
	m, ok := s.tables[table]
	if !ok {
		m = map[string]models.Row{}
		s.tables[table] = m
	}
	m[row.ID] = row.Clone()
}

func (s *Service) Upsert(ctx context.Context, table string, row models.Row) error {
	if err := ctx.Err(); err != nil {
		return remote.Unavailable(err)
	}
	t, owner, err := remote.ValidateUpsert(table, row)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	if s.offline {
		return common.ErrUnavailable
	}
	if s.FailUpsert != nil {
		if err := s.FailUpsert(table, row); err != nil {
			return err
		}
	}

	if cur, ok := s.tables[table][row.ID]; ok {
		if cur.String(models.ColUserID) != owner {
			return remote.ErrOwnerMismatch(table, row.ID)
		}
		if row.Version < cur.Version {
			return remote.ErrConflict(table, row.ID, row.Version, cur.Version)
		}
	}
	s.put(table, row.WithoutLocal(t))
	return nil
}

func (s *Service) Fetch(ctx context.Context, table string, f remote.Filter) ([]models.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, remote.Unavailable(err)
	}
	t, err := remote.ValidateFetch(table, f)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	if s.offline {
		return nil, common.ErrUnavailable
	}
	if s.FailFetch != nil {
		if err := s.FailFetch(table); err != nil {
			return nil, err
		}
	}

	var out []models.Row
	for _, r := range s.tables[table] {
		if r.String(models.ColUserID) != f.UserID {
			continue
		}
		if f.ParentID != "" && r.String(t.Parent) != f.ParentID {
			continue
		}
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
