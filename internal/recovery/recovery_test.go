package recovery

import (
	"context"
	"sync"
	"testing"

	"github.com/hexsession/core/internal/apperr"
	"github.com/hexsession/core/internal/durable"
	"github.com/hexsession/core/internal/placement"
)

type fakeSummaryLister struct {
	rows []durable.SessionSummary
}

func (f *fakeSummaryLister) AllActive(ctx context.Context) ([]durable.SessionSummary, error) {
	return f.rows, nil
}

type fakeSupervisor struct {
	mu       sync.Mutex
	called   []string
	failIDs  map[string]bool
}

func (f *fakeSupervisor) ContinueSession(ctx context.Context, sessionID string) (placement.SessionHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.called = append(f.called, sessionID)
	if f.failIDs[sessionID] {
		return nil, apperr.New(apperr.Unavailable, "owned by another node")
	}
	return nil, nil
}

func TestResumeAllActive_ContinuesEverySummary(t *testing.T) {
	lister := &fakeSummaryLister{rows: []durable.SessionSummary{
		{SessionID: "sess-1"}, {SessionID: "sess-2"}, {SessionID: "sess-3"},
	}}
	sup := &fakeSupervisor{failIDs: map[string]bool{}}
	svc := New(lister, sup, 2, nil)

	resumed, failed, err := svc.ResumeAllActive(context.Background())
	if err != nil {
		t.Fatalf("resume all active: %v", err)
	}
	if resumed != 3 || failed != 0 {
		t.Fatalf("want 3 resumed 0 failed, got resumed=%d failed=%d", resumed, failed)
	}
	if len(sup.called) != 3 {
		t.Fatalf("want 3 continue_session calls, got %d", len(sup.called))
	}
}

func TestResumeAllActive_PerSessionFailureDoesNotAbortScan(t *testing.T) {
	lister := &fakeSummaryLister{rows: []durable.SessionSummary{
		{SessionID: "sess-1"}, {SessionID: "sess-2"},
	}}
	sup := &fakeSupervisor{failIDs: map[string]bool{"sess-1": true}}
	svc := New(lister, sup, 4, nil)

	resumed, failed, err := svc.ResumeAllActive(context.Background())
	if err != nil {
		t.Fatalf("resume all active: %v", err)
	}
	if resumed != 1 || failed != 1 {
		t.Fatalf("want 1 resumed 1 failed, got resumed=%d failed=%d", resumed, failed)
	}
}

func TestResumeAllActive_EmptyListIsNoop(t *testing.T) {
	svc := New(&fakeSummaryLister{}, &fakeSupervisor{failIDs: map[string]bool{}}, 0, nil)
	resumed, failed, err := svc.ResumeAllActive(context.Background())
	if err != nil || resumed != 0 || failed != 0 {
		t.Fatalf("want no-op on empty list, got resumed=%d failed=%d err=%v", resumed, failed, err)
	}
}
