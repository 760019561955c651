package placement

import (
	"context"

	"go.uber.org/zap"

	"github.com/hexsession/core/internal/apperr"
	"github.com/hexsession/core/internal/runtime"
	"github.com/hexsession/core/internal/session"
)

// Supervisor owns this node's Registry plus a consistent-hash ring over
// cluster member node ids. Restart policy: an SR's exit is classified
// normal/shutdown/crash by internal/runtime; only crash triggers automatic
// restart, done here on the same node (the ring's job is fencing against
// two nodes racing to own the same session after a membership change, not
// live command forwarding -- see DESIGN.md for the routing simplification
// this implies: a caller that looks up a session owned by a peer gets the
// peer's node id back and is expected to route there itself, exactly the
// way the excluded player-facing gateway would).
type Supervisor struct {
	nodeID   string
	registry *Registry
	ring     *ring
	deps     runtime.Deps
	log      *zap.Logger
	ctx      context.Context
}

// NewSupervisor constructs a Supervisor for nodeID. deps are the
// collaborators every SR it starts or resumes will be given.
func NewSupervisor(ctx context.Context, nodeID string, deps runtime.Deps, log *zap.Logger) *Supervisor {
	return &Supervisor{
		nodeID:   nodeID,
		registry: NewRegistry(ctx),
		ring:     newRing(64),
		deps:     deps,
		log:      log,
		ctx:      ctx,
	}
}

// SetMembers replaces the known cluster member set (this node included),
// rebuilding the ring. Called whenever internal/clustertransport reports a
// membership change.
func (sup *Supervisor) SetMembers(nodeIDs []string) {
	sup.ring.SetMembers(nodeIDs)
}

// StartSession persists the brand-new session to DSS before anything else
// --  spec §4.7/§3 require the summary/user_session rows to exist from
// creation, not just from the first round boundary, so a duplicate
// join_code is rejected here (Conflict) and a session that crashes before
// its first round still has a durable row for RS to recover -- then
// creates and registers its SR locally; the node that receives the
// creation request owns it.
func (sup *Supervisor) StartSession(ctx context.Context, initial session.Session) (SessionHandle, error) {
	if err := sup.deps.DSS.Upsert(ctx, initial, nil); err != nil {
		return nil, err
	}
	handle := runtime.New(sup.ctx, initial, sup.deps.SessionCfg, sup.deps, sup.onConcluded)
	sup.registry.put(handle)
	go sup.watch(handle)
	return handle, nil
}

// LookupByID returns the owning node id and, if this node is the owner,
// the live handle (resuming it from HS/DSS if not already running
// locally). If a peer owns it, handle is nil and no error is returned --
// ownerNodeID alone is the answer.
func (sup *Supervisor) LookupByID(ctx context.Context, sessionID string) (ownerNodeID string, handle SessionHandle, err error) {
	if h := sup.registry.byID(sessionID); h != nil {
		return sup.nodeID, h, nil
	}

	owner := sup.ring.Owner(sessionID)
	if owner != "" && owner != sup.nodeID {
		return owner, nil, nil
	}

	h, err := runtime.Resume(sup.ctx, sessionID, sup.deps.SessionCfg, sup.deps, sup.onConcluded)
	if err != nil {
		return "", nil, err
	}
	sup.registry.put(h)
	go sup.watch(h)
	return sup.nodeID, h, nil
}

// LookupByJoinCode is LookupByID keyed by join code instead of session id.
// It only resolves locally-registered join codes; a join code for a
// session this node has never seen must be resolved by the caller via
// DSS.ByJoinCode first to obtain the session id.
func (sup *Supervisor) LookupByJoinCode(ctx context.Context, joinCode string) (SessionHandle, bool) {
	h := sup.registry.byJoinCode(joinCode)
	return h, h != nil
}

// ContinueSession rehydrates sessionID onto this node, used by the
// Recovery Service at startup. It is LookupByID's resume path without the
// "ask a local handle first" short-circuit being load-bearing -- if it's
// already local, ContinueSession is a no-op that returns the live handle.
func (sup *Supervisor) ContinueSession(ctx context.Context, sessionID string) (SessionHandle, error) {
	owner, h, err := sup.LookupByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, apperr.New(apperr.Unavailable, "session "+sessionID+" is owned by node "+owner)
	}
	return h, nil
}

// ShutdownSession tears down a local session's SR without stashing --
// used once a session is known Concluded and durably persisted, so there
// is nothing left to hand off. Scheduled asynchronously by SR itself per
// spec §9; safe to call synchronously from any other caller too since it
// never runs on the SR's own goroutine.
func (sup *Supervisor) ShutdownSession(sessionID string) {
	h := sup.registry.byID(sessionID)
	if h == nil {
		return
	}
	h.Shutdown(sup.ctx)
	sup.registry.remove(sessionID)
}

// StashAllLocal is the node-shutdown hook: every locally-owned Active
// session is asked to stash to HS, Concluded sessions are left alone by
// SR itself. Blocks until every stash attempt has returned.
func (sup *Supervisor) StashAllLocal(ctx context.Context) {
	handles := sup.registry.listActive()
	done := make(chan struct{}, len(handles))
	for _, h := range handles {
		go func(h SessionHandle) {
			h.Stash(ctx)
			done <- struct{}{}
		}(h)
	}
	for range handles {
		<-done
	}
}

func (sup *Supervisor) onConcluded(sessionID string) {
	sup.ShutdownSession(sessionID)
}

func (sup *Supervisor) watch(h SessionHandle) {
	reason := <-h.Done()
	sup.registry.remove(h.ID())
	if reason != runtime.ExitCrash {
		return
	}
	if sup.log != nil {
		sup.log.Warn("session runtime crashed, restarting", zap.String("session_id", h.ID()))
	}
	restarted, err := runtime.Resume(sup.ctx, h.ID(), sup.deps.SessionCfg, sup.deps, sup.onConcluded)
	if err != nil {
		if sup.log != nil {
			sup.log.Error("failed to restart crashed session", zap.String("session_id", h.ID()), zap.Error(err))
		}
		return
	}
	sup.registry.put(restarted)
	go sup.watch(restarted)
}
