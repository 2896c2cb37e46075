// Package conversation drives the requirement-analysis chat for one project:
// the thread list, the selected thread's messages, and the submit lifecycle
// with an optimistic user message that is rolled back on failure.
package conversation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/rat/internal/client"
	"github.com/kalambet/rat/internal/domain"
)

// Port is the subset of the API used by a Flow. *client.Client satisfies it.
type Port interface {
	ListThreads(ctx context.Context, projectID int64) ([]domain.ThreadSummary, error)
	ThreadMessages(ctx context.Context, projectID int64, threadID string) ([]domain.Message, error)
	Analyze(ctx context.Context, projectID int64, text string) (domain.AnalyzeResponse, error)
	SendMessage(ctx context.Context, projectID int64, threadID, text string) (domain.AnalyzeResponse, error)
}

// ErrBusy is returned by Submit while an earlier submission is in flight.
var ErrBusy = errors.New("a message is already being sent")

type Status int

const (
	Idle Status = iota
	Sending
	Analyzing
)

func (s Status) String() string {
	switch s {
	case Sending:
		return "sending"
	case Analyzing:
		return "analyzing"
	default:
		return "idle"
	}
}

type PendingState int

const (
	PendingNone PendingState = iota
	PendingInFlight
	PendingFailed
)

// Pending tracks the last submission. Snapshot is the message list as it was
// before the optimistic insert.
type Pending struct {
	State    PendingState
	Snapshot []domain.Message
	Err      error
}

// rollback returns the message list to restore after a failed submission.
func rollback(p Pending) []domain.Message {
	return cloneMessages(p.Snapshot)
}

// Snapshot is a copy of the flow state handed to observers.
type Snapshot struct {
	ProjectID int64
	Threads   []domain.ThreadSummary
	// ThreadID is empty while composing a new thread.
	ThreadID string
	Messages []domain.Message
	Input    string
	Status   Status
	Pending  Pending
	Err      error
}

type Flow struct {
	port   Port
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	projectID int64
	threads   []domain.ThreadSummary
	threadID  string
	messages  []domain.Message
	input     string
	status    Status
	pending   Pending
	err       error
	// gen changes whenever the view switches thread or project; responses
	// carrying an older generation are not applied.
	gen       uint64
	observers []func(Snapshot)
}

type Option func(*Flow)

func WithLogger(l *slog.Logger) Option {
	return func(f *Flow) { f.logger = l }
}

// WithClock overrides the time source used for optimistic message ids.
func WithClock(now func() time.Time) Option {
	return func(f *Flow) { f.now = now }
}

func New(port Port, projectID int64, opts ...Option) *Flow {
	f := &Flow{
		port:      port,
		projectID: projectID,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// OnChange registers fn to be called after every state change.
func (f *Flow) OnChange(fn func(Snapshot)) {
	f.mu.Lock()
	f.observers = append(f.observers, fn)
	f.mu.Unlock()
}

// update applies fn under the lock and notifies observers when fn reports a
// change.
func (f *Flow) update(fn func() bool) {
	f.mu.Lock()
	if !fn() {
		f.mu.Unlock()
		return
	}
	snap := f.snapshotLocked()
	observers := append([]func(Snapshot){}, f.observers...)
	f.mu.Unlock()

	for _, o := range observers {
		o(snap)
	}
}

func (f *Flow) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked()
}

func (f *Flow) snapshotLocked() Snapshot {
	return Snapshot{
		ProjectID: f.projectID,
		Threads:   append([]domain.ThreadSummary(nil), f.threads...),
		ThreadID:  f.threadID,
		Messages:  cloneMessages(f.messages),
		Input:     f.input,
		Status:    f.status,
		Pending: Pending{
			State:    f.pending.State,
			Snapshot: cloneMessages(f.pending.Snapshot),
			Err:      f.pending.Err,
		},
		Err: f.err,
	}
}

func (f *Flow) SetInput(s string) {
	f.update(func() bool {
		f.input = s
		return true
	})
}

// resetViewLocked starts a new view generation with empty messages.
func (f *Flow) resetViewLocked(threadID string) {
	f.gen++
	f.threadID = threadID
	f.messages = nil
	f.input = ""
	f.err = nil
	f.status = Idle
	f.pending = Pending{}
}

// SetProject switches to another project, dropping threads and messages.
func (f *Flow) SetProject(projectID int64) {
	f.update(func() bool {
		f.projectID = projectID
		f.threads = nil
		f.resetViewLocked("")
		return true
	})
}

// LoadThreads fetches the thread list of the current project.
func (f *Flow) LoadThreads(ctx context.Context) error {
	f.mu.Lock()
	projectID := f.projectID
	f.mu.Unlock()

	threads, err := f.port.ListThreads(ctx, projectID)
	f.update(func() bool {
		if f.projectID != projectID {
			return false
		}
		if err != nil {
			f.err = err
			return true
		}
		f.threads = threads
		return true
	})
	return err
}

// SelectThread shows threadID, clearing the input and any error, and loads
// its messages.
func (f *Flow) SelectThread(ctx context.Context, threadID string) error {
	var gen uint64
	var projectID int64
	f.update(func() bool {
		f.resetViewLocked(threadID)
		gen, projectID = f.gen, f.projectID
		return true
	})

	msgs, err := f.port.ThreadMessages(ctx, projectID, threadID)
	f.update(func() bool {
		if f.gen != gen {
			return false
		}
		if err != nil {
			f.err = err
			return true
		}
		f.messages = msgs
		return true
	})
	return err
}

// NewThread switches the view to composing a new thread.
func (f *Flow) NewThread() {
	f.update(func() bool {
		f.resetViewLocked("")
		return true
	})
}

// Submit sends content to the selected thread, or starts a new thread when
// none is selected. The user message is shown immediately and removed again
// if the request fails. A response that arrives after the view moved to
// another thread is not applied.
func (f *Flow) Submit(ctx context.Context, content string) error {
	if err := domain.ValidateAnalyzeText(content); err != nil {
		return err
	}

	var (
		gen       uint64
		projectID int64
		origin    string
		busy      bool
	)
	f.update(func() bool {
		if f.status != Idle {
			busy = true
			return false
		}
		gen, projectID, origin = f.gen, f.projectID, f.threadID

		msgType := domain.TypeQuestion
		if origin == "" {
			msgType = domain.TypeAnalyzeRequirement
		}
		now := f.now()
		snapshot := cloneMessages(f.messages)
		f.messages = append(cloneMessages(snapshot), domain.Message{
			ID:        now.UnixMilli(),
			CreatedAt: now.UTC().Format(time.RFC3339),
			UpdatedAt: now.UTC().Format(time.RFC3339),
			ProjectID: projectID,
			ThreadID:  origin,
			Role:      domain.RoleUser,
			Message:   domain.TextPayload(msgType, content),
		})
		f.input = ""
		f.err = nil
		f.status = Sending
		f.pending = Pending{State: PendingInFlight, Snapshot: snapshot}
		return true
	})
	if busy {
		return ErrBusy
	}

	callCtx := client.WithProgress(ctx, func() {
		f.update(func() bool {
			if f.gen != gen || f.status != Sending {
				return false
			}
			f.status = Analyzing
			return true
		})
	})

	var (
		resp domain.AnalyzeResponse
		err  error
	)
	if origin == "" {
		resp, err = f.port.Analyze(callCtx, projectID, content)
	} else {
		resp, err = f.port.SendMessage(callCtx, projectID, origin, content)
	}

	stale := false
	f.update(func() bool {
		if f.gen != gen {
			stale = true
			return false
		}
		if err != nil {
			f.messages = rollback(f.pending)
			f.status = Idle
			f.pending = Pending{State: PendingFailed, Snapshot: f.pending.Snapshot, Err: err}
			f.err = err
			return true
		}
		if origin == "" {
			f.threadID = resp.ThreadID
		}
		f.messages = cloneMessages(resp.Threads)
		f.status = Idle
		f.pending = Pending{}
		return true
	})

	if stale {
		f.logger.Debug("discarding analysis response for inactive view",
			"project_id", projectID, "thread_id", origin, "error", err)
	}
	if err != nil {
		return err
	}
	if origin == "" || stale {
		if lerr := f.LoadThreads(ctx); lerr != nil {
			f.logger.Warn("refreshing threads after analysis", "project_id", projectID, "error", lerr)
		}
	}
	return nil
}

func cloneMessages(in []domain.Message) []domain.Message {
	if in == nil {
		return nil
	}
	out := make([]domain.Message, len(in))
	copy(out, in)
	return out
}
