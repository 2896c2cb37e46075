package conversation

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/rat/internal/client"
	"github.com/kalambet/rat/internal/domain"
)

type fakePort struct {
	mu        sync.Mutex
	threads   []domain.ThreadSummary
	messages  map[string][]domain.Message
	resp      domain.AnalyzeResponse
	err       error
	during    func()
	listCalls int
	analyzed  []string
	sent      []string
}

func (p *fakePort) ListThreads(ctx context.Context, projectID int64) ([]domain.ThreadSummary, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listCalls++
	return p.threads, nil
}

func (p *fakePort) ThreadMessages(ctx context.Context, projectID int64, threadID string) ([]domain.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	msgs, ok := p.messages[threadID]
	if !ok {
		return nil, errors.New("Thread not found")
	}
	return msgs, nil
}

func (p *fakePort) Analyze(ctx context.Context, projectID int64, text string) (domain.AnalyzeResponse, error) {
	p.mu.Lock()
	p.analyzed = append(p.analyzed, text)
	during := p.during
	p.mu.Unlock()
	if during != nil {
		during()
	}
	return p.resp, p.err
}

func (p *fakePort) SendMessage(ctx context.Context, projectID int64, threadID, text string) (domain.AnalyzeResponse, error) {
	p.mu.Lock()
	p.sent = append(p.sent, threadID+":"+text)
	during := p.during
	p.mu.Unlock()
	if during != nil {
		during()
	}
	return p.resp, p.err
}

func (p *fakePort) listCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listCalls
}

func msg(id int64, role domain.Role, typ, text string) domain.Message {
	return domain.Message{ID: id, Role: role, ThreadID: "t-1", Message: domain.TextPayload(typ, text)}
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newFlow(port Port) *Flow {
	return New(port, 7, WithClock(func() time.Time { return fixedNow }))
}

func TestSubmit_NewThread(t *testing.T) {
	port := &fakePort{
		threads: []domain.ThreadSummary{{ThreadID: "t-1", MessageCount: 2}},
		resp: domain.AnalyzeResponse{
			ThreadID: "t-1",
			Threads: []domain.Message{
				msg(1, domain.RoleUser, domain.TypeAnalyzeRequirement, "users can log in"),
				msg(2, domain.RoleAI, domain.TypeRequirementAnalysis, "{}"),
			},
		},
	}
	f := newFlow(port)

	var during Snapshot
	port.during = func() { during = f.Snapshot() }

	require.NoError(t, f.Submit(context.Background(), "users can log in"))

	require.Len(t, during.Messages, 1)
	opt := during.Messages[0]
	assert.Equal(t, fixedNow.UnixMilli(), opt.ID)
	assert.Equal(t, domain.RoleUser, opt.Role)
	assert.Equal(t, domain.TypeAnalyzeRequirement, opt.Message.Type)
	assert.Equal(t, "users can log in", opt.Message.Text())
	assert.Equal(t, Sending, during.Status)
	assert.Equal(t, PendingInFlight, during.Pending.State)
	assert.Empty(t, during.Pending.Snapshot)

	snap := f.Snapshot()
	assert.Equal(t, "t-1", snap.ThreadID)
	assert.Len(t, snap.Messages, 2)
	assert.Equal(t, Idle, snap.Status)
	assert.Equal(t, PendingNone, snap.Pending.State)
	assert.Len(t, snap.Threads, 1)
	assert.Equal(t, 1, port.listCount())
	assert.Equal(t, []string{"users can log in"}, port.analyzed)
}

func TestSubmit_ExistingThreadFailureRollsBack(t *testing.T) {
	history := []domain.Message{
		msg(1, domain.RoleUser, domain.TypeAnalyzeRequirement, "users can log in"),
		msg(2, domain.RoleAI, domain.TypeRequirementAnalysis, "{}"),
	}
	port := &fakePort{
		messages: map[string][]domain.Message{"t-1": history},
		err:      errors.New("Request failed with status code 500"),
	}
	f := newFlow(port)
	require.NoError(t, f.SelectThread(context.Background(), "t-1"))

	var during Snapshot
	port.during = func() { during = f.Snapshot() }

	err := f.Submit(context.Background(), "what about SSO?")
	require.EqualError(t, err, "Request failed with status code 500")

	require.Len(t, during.Messages, 3)
	assert.Equal(t, domain.TypeQuestion, during.Messages[2].Message.Type)

	snap := f.Snapshot()
	assert.Equal(t, history, snap.Messages)
	assert.Equal(t, Idle, snap.Status)
	assert.Equal(t, PendingFailed, snap.Pending.State)
	assert.Equal(t, history, snap.Pending.Snapshot)
	assert.EqualError(t, snap.Err, "Request failed with status code 500")
	assert.Equal(t, []string{"t-1:what about SSO?"}, port.sent)
	assert.Zero(t, port.listCount())
}

func TestSubmit_ExistingThreadReplacesMessages(t *testing.T) {
	full := []domain.Message{
		msg(1, domain.RoleUser, domain.TypeAnalyzeRequirement, "users can log in"),
		msg(2, domain.RoleAI, domain.TypeRequirementAnalysis, "{}"),
		msg(3, domain.RoleUser, domain.TypeQuestion, "what about SSO?"),
		msg(4, domain.RoleAI, domain.TypeAnswer, "SSO is supported."),
	}
	port := &fakePort{
		messages: map[string][]domain.Message{"t-1": full[:2]},
		resp:     domain.AnalyzeResponse{ThreadID: "t-1", Threads: full},
	}
	f := newFlow(port)
	require.NoError(t, f.SelectThread(context.Background(), "t-1"))

	require.NoError(t, f.Submit(context.Background(), "what about SSO?"))

	snap := f.Snapshot()
	assert.Equal(t, full, snap.Messages)
	assert.Equal(t, "t-1", snap.ThreadID)
}

func TestSubmit_RejectsBlankContent(t *testing.T) {
	port := &fakePort{}
	f := newFlow(port)

	var changes int
	f.OnChange(func(Snapshot) { changes++ })

	err := f.Submit(context.Background(), " \t\n")
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
	assert.Empty(t, port.analyzed)
	assert.Zero(t, changes)
}

func TestSubmit_BusyWhileInFlight(t *testing.T) {
	release := make(chan struct{})
	port := &fakePort{
		resp:   domain.AnalyzeResponse{ThreadID: "t-1"},
		during: func() { <-release },
	}
	f := newFlow(port)

	done := make(chan error, 1)
	go func() { done <- f.Submit(context.Background(), "first") }()

	require.Eventually(t, func() bool { return f.Snapshot().Status == Sending }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, f.Submit(context.Background(), "second"), ErrBusy)

	close(release)
	require.NoError(t, <-done)
}

func TestSubmit_StaleResponseDiscarded(t *testing.T) {
	port := &fakePort{
		threads:  []domain.ThreadSummary{{ThreadID: "t-1"}},
		messages: map[string][]domain.Message{"t-1": {msg(1, domain.RoleUser, domain.TypeAnalyzeRequirement, "x")}},
		resp: domain.AnalyzeResponse{ThreadID: "t-1", Threads: []domain.Message{
			msg(1, domain.RoleUser, domain.TypeAnalyzeRequirement, "x"),
			msg(2, domain.RoleUser, domain.TypeQuestion, "y"),
		}},
	}
	f := newFlow(port)
	require.NoError(t, f.SelectThread(context.Background(), "t-1"))

	port.during = func() { f.NewThread() }

	require.NoError(t, f.Submit(context.Background(), "y"))

	snap := f.Snapshot()
	assert.Empty(t, snap.ThreadID)
	assert.Empty(t, snap.Messages)
	assert.Equal(t, Idle, snap.Status)
	assert.Equal(t, PendingNone, snap.Pending.State)
	assert.Equal(t, 1, port.listCount(), "thread list still refreshed")
}

func TestSubmit_StaleFailureLeavesNewViewAlone(t *testing.T) {
	port := &fakePort{
		messages: map[string][]domain.Message{
			"t-1": {msg(1, domain.RoleUser, domain.TypeAnalyzeRequirement, "x")},
			"t-2": {msg(9, domain.RoleUser, domain.TypeAnalyzeRequirement, "z")},
		},
		err: errors.New("boom"),
	}
	f := newFlow(port)
	require.NoError(t, f.SelectThread(context.Background(), "t-1"))

	port.during = func() {
		assert.NoError(t, f.SelectThread(context.Background(), "t-2"))
	}

	require.Error(t, f.Submit(context.Background(), "y"))

	snap := f.Snapshot()
	assert.Equal(t, "t-2", snap.ThreadID)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, int64(9), snap.Messages[0].ID)
	assert.NoError(t, snap.Err)
	assert.Equal(t, PendingNone, snap.Pending.State)
}

func TestSelectThread_ClearsInputAndError(t *testing.T) {
	port := &fakePort{
		messages: map[string][]domain.Message{"t-1": {msg(1, domain.RoleUser, domain.TypeAnalyzeRequirement, "x")}},
	}
	f := newFlow(port)

	require.Error(t, f.SelectThread(context.Background(), "missing"))
	assert.EqualError(t, f.Snapshot().Err, "Thread not found")

	f.SetInput("draft")
	require.NoError(t, f.SelectThread(context.Background(), "t-1"))

	snap := f.Snapshot()
	assert.Empty(t, snap.Input)
	assert.NoError(t, snap.Err)
	assert.Len(t, snap.Messages, 1)
}

func TestSetProject_ResetsState(t *testing.T) {
	port := &fakePort{
		threads:  []domain.ThreadSummary{{ThreadID: "t-1"}},
		messages: map[string][]domain.Message{"t-1": {msg(1, domain.RoleUser, domain.TypeAnalyzeRequirement, "x")}},
	}
	f := newFlow(port)
	require.NoError(t, f.LoadThreads(context.Background()))
	require.NoError(t, f.SelectThread(context.Background(), "t-1"))

	f.SetProject(8)

	snap := f.Snapshot()
	assert.Equal(t, int64(8), snap.ProjectID)
	assert.Empty(t, snap.Threads)
	assert.Empty(t, snap.ThreadID)
	assert.Empty(t, snap.Messages)
}

func TestRollbackIsSnapshotCopy(t *testing.T) {
	p := Pending{Snapshot: []domain.Message{{ID: 1}}}
	out := rollback(p)
	out[0].ID = 2
	assert.Equal(t, int64(1), p.Snapshot[0].ID)
}

func TestSubmit_ProgressMovesToAnalyzing(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/projects/7/requirement-analyze":
			io.Copy(io.Discard, r.Body)
			<-release
			io.WriteString(w, `{"thread_id":"t-1","threads":[{"id":1,"role":"user"},{"id":2,"role":"ai"}]}`)
		case "/api/projects/7/requirement-analyze/threads":
			io.WriteString(w, `[{"thread_id":"t-1","message_count":2}]`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	f := newFlow(client.New(srv.URL))

	var mu sync.Mutex
	var statuses []Status
	f.OnChange(func(s Snapshot) {
		mu.Lock()
		statuses = append(statuses, s.Status)
		mu.Unlock()
	})

	done := make(chan error, 1)
	go func() { done <- f.Submit(context.Background(), "users can log in") }()

	require.Eventually(t, func() bool { return f.Snapshot().Status == Analyzing }, 2*time.Second, 5*time.Millisecond)
	close(release)
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(statuses), 3)
	assert.Equal(t, Sending, statuses[0])
	assert.Equal(t, Analyzing, statuses[1])
	assert.Equal(t, Idle, statuses[len(statuses)-1])

	snap := f.Snapshot()
	assert.Equal(t, "t-1", snap.ThreadID)
	assert.Len(t, snap.Messages, 2)
	assert.Len(t, snap.Threads, 1)
}
