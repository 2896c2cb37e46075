package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/kalambet/rat/internal/backend"
	"github.com/kalambet/rat/internal/client"
	"github.com/kalambet/rat/internal/config"
	"github.com/kalambet/rat/internal/forms"
	"github.com/kalambet/rat/internal/projectstore"
	"github.com/kalambet/rat/internal/storage"
)

// app bundles what client-side commands need: the proxy client, local state
// and the project context built on both.
type app struct {
	cfg      config.Config
	client   *client.Client
	store    *storage.Store
	projects *projectstore.Store
}

var newApp = func(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger := setupLogging(cfg)

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	timeout, analyzeTimeout, _ := cfg.Durations()
	c := client.New(cfg.ProxyURL(), backend.WithTimeouts(timeout, analyzeTimeout))
	return &app{
		cfg:      cfg,
		client:   c,
		store:    store,
		projects: projectstore.New(c, store, projectstore.WithLogger(logger)),
	}, nil
}

func (a *app) Close() {
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		slog.Warn("closing storage", "error", err)
	}
}

var errNoProject = errors.New("no project selected; run 'rat projects select <id>' or pass --project")

// projectID resolves --project, then the persisted selection.
func (a *app) projectID() (int64, error) {
	if projectFlag > 0 {
		return projectFlag, nil
	}
	id, ok, err := a.store.SelectedProjectID()
	if err != nil {
		return 0, fmt.Errorf("reading selected project: %w", err)
	}
	if !ok {
		return 0, errNoProject
	}
	return id, nil
}

// refreshProjects reloads the project list after a write. The store starts
// empty in every command, so Init restores the persisted selection first.
// Failures are reported, not returned.
func (a *app) refreshProjects(ctx context.Context) {
	if _, ok := a.projects.Selected(); !ok {
		if err := a.projects.Init(ctx); err != nil {
			printWarning("refreshing projects: %v", err)
		}
		if id, ok, _ := a.store.SelectedProjectID(); ok {
			if _, found := a.projects.Selected(); !found && a.projects.Err() == "" {
				printWarning("selected project %d is no longer listed", id)
			}
		}
		return
	}
	if err := a.projects.Refresh(ctx); err != nil {
		printWarning("refreshing projects: %v", err)
	}
}

// interactive is swapped out in tests.
var interactive = func() bool {
	return forms.Interactive(os.Stdin)
}

// withApp runs fn with a freshly built app and closes it afterwards.
func withApp(ctx context.Context, fn func(a *app) error) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
