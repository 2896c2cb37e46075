// Package projectstore holds the project list and the current selection for
// a client session, persisting the selected project id between runs.
package projectstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/kalambet/rat/internal/domain"
)

// ProjectLister fetches the project list.
type ProjectLister interface {
	ListProjects(ctx context.Context) ([]domain.Project, error)
}

// SelectionStore persists the selected project id.
type SelectionStore interface {
	SelectedProjectID() (int64, bool, error)
	SetSelectedProjectID(id int64) error
	ClearSelectedProjectID() error
}

type Store struct {
	lister ProjectLister
	state  SelectionStore
	logger *slog.Logger
	group  singleflight.Group

	mu       sync.RWMutex
	projects []domain.Project
	selected *domain.Project
	err      string
	inflight int
}

type Option func(*Store)

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

func New(lister ProjectLister, state SelectionStore, opts ...Option) *Store {
	s := &Store{
		lister: lister,
		state:  state,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Init loads the project list and restores the persisted selection when the
// project is still present.
func (s *Store) Init(ctx context.Context) error {
	projects, err := s.fetch(ctx)
	if err != nil {
		return err
	}

	id, ok, err := s.state.SelectedProjectID()
	if err != nil {
		s.logger.Warn("reading selected project", "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	if p, found := findProject(projects, id); found {
		s.mu.Lock()
		s.selected = &p
		s.mu.Unlock()
	}
	return nil
}

// Refresh re-fetches the list. A selected project that is still listed is
// replaced by its fresh record; otherwise the selection is left as it was.
func (s *Store) Refresh(ctx context.Context) error {
	projects, err := s.fetch(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	var fresh *domain.Project
	if s.selected != nil {
		if p, found := findProject(projects, s.selected.ID); found {
			s.selected = &p
			fresh = &p
		}
	}
	s.mu.Unlock()

	if fresh != nil {
		s.persist(fresh)
	}
	return nil
}

// fetch loads the list, collapsing concurrent calls into one request. On
// failure the list is cleared and the message kept for Err.
func (s *Store) fetch(ctx context.Context) ([]domain.Project, error) {
	s.mu.Lock()
	s.inflight++
	s.mu.Unlock()

	v, err, _ := s.group.Do("projects", func() (any, error) {
		return s.lister.ListProjects(ctx)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight--

	if err != nil {
		s.projects = nil
		s.err = err.Error()
		return nil, fmt.Errorf("loading projects: %w", err)
	}
	projects, _ := v.([]domain.Project)
	s.projects = projects
	s.err = ""
	return projects, nil
}

// SetSelected changes the selection and persists its id, or clears the
// persisted id when p is nil.
func (s *Store) SetSelected(p *domain.Project) error {
	s.mu.Lock()
	if p == nil {
		s.selected = nil
	} else {
		cp := *p
		s.selected = &cp
	}
	s.mu.Unlock()

	return s.persist(p)
}

func (s *Store) persist(p *domain.Project) error {
	var err error
	if p == nil {
		err = s.state.ClearSelectedProjectID()
	} else {
		err = s.state.SetSelectedProjectID(p.ID)
	}
	if err != nil {
		s.logger.Warn("persisting selected project", "error", err)
		return fmt.Errorf("persisting selection: %w", err)
	}
	return nil
}

// Select resolves id against the loaded list and selects it.
func (s *Store) Select(id int64) (domain.Project, error) {
	s.mu.RLock()
	p, found := findProject(s.projects, id)
	s.mu.RUnlock()
	if !found {
		return domain.Project{}, fmt.Errorf("project %d not found", id)
	}
	if err := s.SetSelected(&p); err != nil {
		return p, err
	}
	return p, nil
}

// Projects returns a copy of the loaded list.
func (s *Store) Projects() []domain.Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Project, len(s.projects))
	copy(out, s.projects)
	return out
}

func (s *Store) Selected() (domain.Project, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selected == nil {
		return domain.Project{}, false
	}
	return *s.selected, true
}

// Err is the last fetch failure, or "" after a successful fetch.
func (s *Store) Err() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inflight > 0
}

// CanSwitch reports whether project switching is available: nothing is
// loading and the last fetch succeeded.
func (s *Store) CanSwitch() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inflight == 0 && s.err == ""
}

func findProject(projects []domain.Project, id int64) (domain.Project, bool) {
	for _, p := range projects {
		if p.ID == id {
			return p, true
		}
	}
	return domain.Project{}, false
}
