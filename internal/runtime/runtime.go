// Package runtime is the Session Runtime (SR): one goroutine per live
// session owning a buffered inbox channel, grounded on the teacher's
// internal/lobby actor (a single-writer goroutine processing one Msg at a
// time, replies delivered over per-call channels). It adds cluster-aware
// startup sourcing, a round-deadline timer with stale-fire protection, and
// the persist-then-publish-then-notify sequence spec §4.4 requires.
package runtime

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hexsession/core/internal/apperr"
	"github.com/hexsession/core/internal/durable"
	"github.com/hexsession/core/internal/handoff"
	"github.com/hexsession/core/internal/pubsub"
	"github.com/hexsession/core/internal/resolver"
	"github.com/hexsession/core/internal/session"
	"github.com/hexsession/core/internal/world"
)

// ExitReason classifies why an SR's goroutine stopped, so its owner (PRS)
// knows whether to restart it.
type ExitReason int

const (
	ExitNormal ExitReason = iota
	ExitShutdown
	ExitCrash
)

// SummaryStore is the slice of *durable.Store an SR needs: persist a
// resolved round, and load one by id on resume. Kept as an interface
// (rather than importing the concrete gorm-backed type directly into every
// call site) so tests can substitute an in-memory fake.
type SummaryStore interface {
	Upsert(ctx context.Context, sess session.Session, extra map[string]any) error
	ByID(ctx context.Context, sessionID string) (session.Session, map[string]any, error)
	MarkConcluded(ctx context.Context, sessionID string) error
}

// Deps are the collaborators every SR needs, supplied once by whatever
// constructs it (internal/placement in production, tests directly).
type Deps struct {
	SessionCfg         session.Config
	DSS                SummaryStore
	HS                 *handoff.Store
	Topics             *pubsub.Topics
	Log                *zap.Logger
	CommandTimeout     time.Duration
	HandoffPickupRetry time.Duration
	HandoffPickupTotal time.Duration
	HandoffStashGrace  time.Duration
}

type msg interface{ isMsg() }

type msgGetSession struct{ reply chan session.Session }
type msgRegisterMove struct {
	userID int
	vector world.Vector
	reply  chan error
}
type msgRegisterAttack struct {
	userID   int
	targetID world.PlayerID
	reply    chan error
}
type msgEndRound struct{ reply chan error }
type msgGetPlayerStatus struct {
	userID int
	reply  chan session.PlayerStatus
}
type msgStash struct{ reply chan struct{} }
type msgShutdown struct{ reply chan struct{} }
type msgTimerFired struct{ generation int }

func (msgGetSession) isMsg()       {}
func (msgRegisterMove) isMsg()     {}
func (msgRegisterAttack) isMsg()   {}
func (msgEndRound) isMsg()         {}
func (msgGetPlayerStatus) isMsg()  {}
func (msgStash) isMsg()            {}
func (msgShutdown) isMsg()         {}
func (msgTimerFired) isMsg()       {}

// SR is one session's actor.
type SR struct {
	id       string
	joinCode string

	inbox  chan msg
	ctx    context.Context
	cancel context.CancelFunc
	done   chan ExitReason

	// loop-owned state; never touched outside the loop goroutine.
	sess              session.Session
	extra             map[string]any
	cfg               session.Config
	deps              Deps
	timer             *time.Timer
	gen               int
	concludedNotified bool
	exitReason        ExitReason
	onConcluded       func(sessionID string)
}

// New starts a fresh SR for a just-created session (creation path: no
// prior snapshot to source).
func New(parent context.Context, initial session.Session, cfg session.Config, deps Deps, onConcluded func(sessionID string)) *SR {
	return start(parent, initial, nil, cfg, deps, onConcluded)
}

// Resume sources sessionID's state via HS first (deleting on hit), falling
// back to DSS, per spec §4.4's startup order; both paths go through
// durable.Decode, which applies internal/migrate before handing back a
// live session.Session.
func Resume(parent context.Context, sessionID string, cfg session.Config, deps Deps, onConcluded func(sessionID string)) (*SR, error) {
	pickupCtx, cancel := context.WithTimeout(parent, deps.HandoffPickupTotal+deps.HandoffPickupRetry)
	defer cancel()

	if raw, ok := deps.HS.GetAndDeleteWithRetry(pickupCtx, sessionID, deps.HandoffPickupRetry, deps.HandoffPickupTotal); ok {
		sess, extra, err := durable.Decode(raw)
		if err != nil {
			return nil, err
		}
		return start(parent, sess, extra, cfg, deps, onConcluded), nil
	}

	dssCtx, cancel2 := context.WithTimeout(parent, deps.CommandTimeout)
	defer cancel2()
	sess, extra, err := deps.DSS.ByID(dssCtx, sessionID)
	if err != nil {
		return nil, err
	}
	return start(parent, sess, extra, cfg, deps, onConcluded), nil
}

func start(parent context.Context, sess session.Session, extra map[string]any, cfg session.Config, deps Deps, onConcluded func(string)) *SR {
	ctx, cancel := context.WithCancel(parent)
	sr := &SR{
		id:          sess.ID.String(),
		joinCode:    sess.JoinCode,
		inbox:       make(chan msg, 64),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan ExitReason, 1),
		sess:        sess,
		extra:       extra,
		cfg:         cfg,
		deps:        deps,
		onConcluded: onConcluded,
	}
	if sess.Status == session.StatusActive {
		sr.armTimer()
	}
	go sr.loop()
	return sr
}

// ID is the session's UUID string, fixed at construction.
func (sr *SR) ID() string { return sr.id }

// JoinCode is the session's join code, fixed at construction.
func (sr *SR) JoinCode() string { return sr.joinCode }

// Done reports how this SR's actor goroutine ended.
func (sr *SR) Done() <-chan ExitReason { return sr.done }

func (sr *SR) armTimer() {
	sr.gen++
	myGen := sr.gen
	if sr.timer != nil {
		sr.timer.Stop()
	}
	sr.timer = time.AfterFunc(sr.cfg.RoundDuration, func() {
		select {
		case sr.inbox <- msgTimerFired{generation: myGen}:
		default:
		}
	})
}

func (sr *SR) loop() {
	defer func() {
		if r := recover(); r != nil {
			if sr.deps.Log != nil {
				sr.deps.Log.Error("session runtime panicked", zap.String("session_id", sr.id), zap.Any("recover", r))
			}
			sr.exitReason = ExitCrash
		}
		if sr.timer != nil {
			sr.timer.Stop()
		}
		sr.done <- sr.exitReason
	}()

	for {
		select {
		case <-sr.ctx.Done():
			sr.exitReason = ExitShutdown
			return
		case m := <-sr.inbox:
			if sr.handle(m) {
				return
			}
		}
	}
}

func (sr *SR) handle(m msg) (stop bool) {
	switch msg := m.(type) {
	case msgGetSession:
		msg.reply <- sr.sess

	case msgRegisterMove:
		next, err := session.RegisterMove(sr.sess, msg.userID, msg.vector, sr.cfg)
		if err == nil {
			sr.sess = next
		}
		msg.reply <- err

	case msgRegisterAttack:
		next, err := session.RegisterAttack(sr.sess, msg.userID, msg.targetID, sr.cfg)
		if err == nil {
			sr.sess = next
		}
		msg.reply <- err

	case msgEndRound:
		err := sr.resolveRound()
		msg.reply <- err
		sr.afterResolve(err)

	case msgGetPlayerStatus:
		msg.reply <- session.GetPlayerStatus(sr.sess, msg.userID)

	case msgTimerFired:
		if msg.generation != sr.gen || sr.sess.Status != session.StatusActive {
			break
		}
		err := sr.resolveRound()
		sr.afterResolve(err)

	case msgStash:
		sr.handleStash()
		sr.exitReason = ExitShutdown
		msg.reply <- struct{}{}
		return true

	case msgShutdown:
		sr.exitReason = ExitShutdown
		msg.reply <- struct{}{}
		return true
	}
	return false
}

// resolveRound runs the pure resolver and persists synchronously, so a
// caller's successful EndRound reply never precedes durable persistence
// (at-most-one-round-loss per spec §5). The in-memory session is only
// advanced once the write to DSS succeeds.
func (sr *SR) resolveRound() error {
	if sr.sess.Status != session.StatusActive {
		return apperr.New(apperr.StateMismatch, apperr.DetailSessionConcluded)
	}

	deadline := time.Now().Add(sr.cfg.RoundDuration)
	next := resolver.Resolve(sr.sess, deadline, sr.cfg)

	ctx, cancel := context.WithTimeout(sr.ctx, sr.deps.CommandTimeout)
	defer cancel()
	if err := sr.deps.DSS.Upsert(ctx, next, sr.extra); err != nil {
		if sr.deps.Log != nil {
			sr.deps.Log.Error("round persist failed", zap.String("session_id", sr.id), zap.Int("round", sr.sess.Round), zap.Error(err))
		}
		return err
	}

	sr.sess = next
	if next.Status == session.StatusActive {
		sr.armTimer()
	}
	return nil
}

// afterResolve handles the post-commit publish/notify steps. Scheduling
// onConcluded through a goroutine -- rather than calling it inline -- is
// the self-termination deadlock avoidance from spec §9: the owner this
// callback reaches into (PRS) may itself want to send this SR a Shutdown
// message, which must never happen from inside the very loop iteration
// that would need to receive it.
func (sr *SR) afterResolve(err error) {
	if err != nil {
		return
	}
	if sr.sess.Status == session.StatusConcluded {
		if !sr.concludedNotified {
			sr.concludedNotified = true
			sr.deps.Topics.Publish(sr.id, pubsub.Event{Kind: pubsub.EventSessionConcluded, SessionID: sr.id, Round: sr.sess.Round})
			if markErr := sr.deps.DSS.MarkConcluded(sr.ctx, sr.id); markErr != nil && sr.deps.Log != nil {
				sr.deps.Log.Warn("mark concluded safety net failed", zap.String("session_id", sr.id), zap.Error(markErr))
			}
			if sr.onConcluded != nil {
				id := sr.id
				go sr.onConcluded(id)
			}
		}
		return
	}
	sr.deps.Topics.Publish(sr.id, pubsub.Event{Kind: pubsub.EventRoundAdvanced, SessionID: sr.id, Round: sr.sess.Round})
}

// handleStash stashes an Active session to HS for pickup by whichever node
// resumes it next; Concluded sessions have nothing left to hand off.
func (sr *SR) handleStash() {
	if sr.sess.Status != session.StatusActive {
		return
	}
	data, err := durable.Encode(sr.sess, sr.extra)
	if err != nil {
		if sr.deps.Log != nil {
			sr.deps.Log.Error("stash encode failed", zap.String("session_id", sr.id), zap.Error(err))
		}
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sr.deps.HandoffStashGrace)
	defer cancel()
	if acked := sr.deps.HS.StashAndWait(ctx, sr.id, data, sr.deps.HandoffStashGrace); !acked && sr.deps.Log != nil {
		sr.deps.Log.Warn("stash completed without peer ack", zap.String("session_id", sr.id))
	}
}

// GetSession returns the current in-memory session state.
func (sr *SR) GetSession(ctx context.Context) (session.Session, error) {
	reply := make(chan session.Session, 1)
	select {
	case sr.inbox <- msgGetSession{reply: reply}:
	case <-ctx.Done():
		return session.Session{}, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return session.Session{}, ctx.Err()
	}
}

// RegisterMove queues a move action for userID in the current round.
func (sr *SR) RegisterMove(ctx context.Context, userID int, v world.Vector) error {
	reply := make(chan error, 1)
	select {
	case sr.inbox <- msgRegisterMove{userID: userID, vector: v, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RegisterAttack queues an attack action for userID against targetID.
func (sr *SR) RegisterAttack(ctx context.Context, userID int, targetID world.PlayerID) error {
	reply := make(chan error, 1)
	select {
	case sr.inbox <- msgRegisterAttack{userID: userID, targetID: targetID, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EndRound triggers immediate round resolution regardless of the deadline
// timer, bumping the timer generation so any in-flight stale fire is a
// no-op when it arrives.
func (sr *SR) EndRound(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case sr.inbox <- msgEndRound{reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetPlayerStatus reports alive/dead/unknown for userID.
func (sr *SR) GetPlayerStatus(ctx context.Context, userID int) (session.PlayerStatus, error) {
	reply := make(chan session.PlayerStatus, 1)
	select {
	case sr.inbox <- msgGetPlayerStatus{userID: userID, reply: reply}:
	case <-ctx.Done():
		return session.PlayerUnknown, ctx.Err()
	}
	select {
	case status := <-reply:
		return status, nil
	case <-ctx.Done():
		return session.PlayerUnknown, ctx.Err()
	}
}

// Stash requests a graceful, node-shutdown-triggered stop: Active sessions
// are handed off to HS first, Concluded sessions just stop.
func (sr *SR) Stash(ctx context.Context) {
	reply := make(chan struct{}, 1)
	select {
	case sr.inbox <- msgStash{reply: reply}:
	case <-ctx.Done():
		return
	case <-sr.done:
		return
	}
	select {
	case <-reply:
	case <-ctx.Done():
	case <-sr.done:
	}
}

// Shutdown forces immediate termination with no stash, used by PRS once a
// session is known Concluded and durably persisted.
func (sr *SR) Shutdown(ctx context.Context) {
	reply := make(chan struct{}, 1)
	select {
	case sr.inbox <- msgShutdown{reply: reply}:
	case <-ctx.Done():
		return
	case <-sr.done:
		return
	}
	select {
	case <-reply:
	case <-ctx.Done():
	case <-sr.done:
	}
}
