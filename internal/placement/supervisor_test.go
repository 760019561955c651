package placement

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hexsession/core/internal/apperr"
	"github.com/hexsession/core/internal/handoff"
	"github.com/hexsession/core/internal/pubsub"
	"github.com/hexsession/core/internal/runtime"
	"github.com/hexsession/core/internal/session"
	"github.com/hexsession/core/internal/world"
)

type fakeStore struct {
	mu            sync.Mutex
	rows          map[string]session.Session
	failJoinCodes map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]session.Session), failJoinCodes: make(map[string]bool)}
}

func (f *fakeStore) Upsert(ctx context.Context, sess session.Session, extra map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failJoinCodes[sess.JoinCode] {
		return apperr.New(apperr.Conflict, apperr.DetailDuplicateJoinCode)
	}
	f.rows[sess.ID.String()] = sess
	return nil
}

func (f *fakeStore) ByID(ctx context.Context, sessionID string) (session.Session, map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.rows[sessionID]
	if !ok {
		return session.Session{}, nil, context.DeadlineExceeded
	}
	return sess, nil, nil
}

func (f *fakeStore) MarkConcluded(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.rows[sessionID]
	if !ok {
		return context.DeadlineExceeded
	}
	sess.Status = session.StatusConcluded
	f.rows[sessionID] = sess
	return nil
}

func testDeps(store runtime.SummaryStore) runtime.Deps {
	cfg := session.DefaultConfig()
	cfg.RoundDuration = time.Hour
	return runtime.Deps{
		SessionCfg:         cfg,
		DSS:                store,
		HS:                 handoff.New(func() []handoff.Peer { return nil }, nil),
		Topics:             pubsub.New(),
		CommandTimeout:     time.Second,
		HandoffPickupRetry: time.Millisecond,
		HandoffPickupTotal: 5 * time.Millisecond,
		HandoffStashGrace:  20 * time.Millisecond,
	}
}

func TestSupervisor_StartSession_RegistersLocally(t *testing.T) {
	sup := NewSupervisor(context.Background(), "node-a", testDeps(newFakeStore()), nil)
	sess := session.New("ABCDEF", []session.UserSpec{{UserID: 1}, {UserID: 2}}, world.NewHexDisc(1), session.DefaultConfig())

	handle, err := sup.StartSession(context.Background(), sess)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	owner, got, err := sup.LookupByID(context.Background(), sess.ID.String())
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if owner != "node-a" || got != handle {
		t.Fatalf("expected local lookup to return the started handle, got owner=%s handle=%+v", owner, got)
	}
}

func TestSupervisor_StartSession_PersistsToDSSBeforeReturning(t *testing.T) {
	store := newFakeStore()
	sup := NewSupervisor(context.Background(), "node-a", testDeps(store), nil)
	sess := session.New("ABCDEF", []session.UserSpec{{UserID: 1}, {UserID: 2}}, world.NewHexDisc(1), session.DefaultConfig())

	if _, err := sup.StartSession(context.Background(), sess); err != nil {
		t.Fatalf("start session: %v", err)
	}

	store.mu.Lock()
	_, ok := store.rows[sess.ID.String()]
	store.mu.Unlock()
	if !ok {
		t.Fatalf("expected StartSession to persist a DSS row at creation time, before any round resolves")
	}
}

func TestSupervisor_StartSession_DuplicateJoinCodeConflictPreventsRegistration(t *testing.T) {
	store := newFakeStore()
	store.failJoinCodes["DUPE01"] = true
	sup := NewSupervisor(context.Background(), "node-a", testDeps(store), nil)
	sess := session.New("DUPE01", []session.UserSpec{{UserID: 1}, {UserID: 2}}, world.NewHexDisc(1), session.DefaultConfig())

	handle, err := sup.StartSession(context.Background(), sess)
	if !apperr.Is(err, apperr.Conflict) {
		t.Fatalf("want Conflict error for duplicate join_code, got %v", err)
	}
	if handle != nil {
		t.Fatalf("want nil handle on creation-time persist failure")
	}
	if _, found := sup.LookupByJoinCode(context.Background(), "DUPE01"); found {
		t.Fatalf("want session never registered locally after a failed creation-time persist")
	}
}

func TestSupervisor_LookupByJoinCode_FindsLocalSession(t *testing.T) {
	sup := NewSupervisor(context.Background(), "node-a", testDeps(newFakeStore()), nil)
	sess := session.New("ZZZZZZ", []session.UserSpec{{UserID: 1}, {UserID: 2}}, world.NewHexDisc(1), session.DefaultConfig())
	if _, err := sup.StartSession(context.Background(), sess); err != nil {
		t.Fatalf("start session: %v", err)
	}

	handle, ok := sup.LookupByJoinCode(context.Background(), "ZZZZZZ")
	if !ok || handle.ID() != sess.ID.String() {
		t.Fatalf("expected join-code lookup to find the session, ok=%v handle=%+v", ok, handle)
	}
}

func TestSupervisor_ShutdownSession_RemovesFromRegistry(t *testing.T) {
	sup := NewSupervisor(context.Background(), "node-a", testDeps(newFakeStore()), nil)
	sess := session.New("ABCDEF", []session.UserSpec{{UserID: 1}, {UserID: 2}}, world.NewHexDisc(1), session.DefaultConfig())
	if _, err := sup.StartSession(context.Background(), sess); err != nil {
		t.Fatalf("start session: %v", err)
	}

	sup.ShutdownSession(sess.ID.String())

	owner, got, err := sup.LookupByID(context.Background(), sess.ID.String())
	if err == nil || got != nil {
		t.Fatalf("expected shutdown session to no longer resume cleanly, owner=%s got=%+v", owner, got)
	}
}

func TestSupervisor_LookupByID_RemotelyOwnedReturnsOwnerWithNilHandle(t *testing.T) {
	sup := NewSupervisor(context.Background(), "node-a", testDeps(newFakeStore()), nil)
	sup.SetMembers([]string{"node-a", "node-b"})

	// Find a session id that hashes to node-b under this ring.
	var remoteID string
	for i := 0; i < 1000; i++ {
		candidate := session.New("ABCDEF", []session.UserSpec{{UserID: 1}, {UserID: 2}}, world.NewHexDisc(1), session.DefaultConfig())
		if sup.ring.Owner(candidate.ID.String()) == "node-b" {
			remoteID = candidate.ID.String()
			break
		}
	}
	if remoteID == "" {
		t.Fatalf("could not find a session id owned by node-b in 1000 tries")
	}

	owner, handle, err := sup.LookupByID(context.Background(), remoteID)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if owner != "node-b" || handle != nil {
		t.Fatalf("want remote owner with nil handle, got owner=%s handle=%+v", owner, handle)
	}
}

func TestSupervisor_StashAllLocal_WaitsForEveryHandle(t *testing.T) {
	sup := NewSupervisor(context.Background(), "node-a", testDeps(newFakeStore()), nil)
	for i := 0; i < 3; i++ {
		sess := session.New("CODE0"+string(rune('A'+i)), []session.UserSpec{{UserID: 1}, {UserID: 2}}, world.NewHexDisc(1), session.DefaultConfig())
		if _, err := sup.StartSession(context.Background(), sess); err != nil {
			t.Fatalf("start session %d: %v", i, err)
		}
	}

	done := make(chan struct{})
	go func() {
		sup.StashAllLocal(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("StashAllLocal did not return")
	}

	if len(sup.registry.listActive()) != 0 {
		t.Fatalf("expected all sessions removed from registry after stash")
	}
}
