// Package api exposes the Core's public operations (spec §6) over a
// single facade, wiring Supervisor (PRS), Durable Summary Store, Config
// and Logger together -- the composition root every
// transport (cluster transport, a future player-facing gateway) calls
// into instead of touching internal/runtime or internal/placement
// directly.
package api

import (
	"context"
	"fmt"
	"unicode"

	"go.uber.org/zap"

	"github.com/hexsession/core/internal/apperr"
	"github.com/hexsession/core/internal/durable"
	"github.com/hexsession/core/internal/placement"
	"github.com/hexsession/core/internal/recovery"
	"github.com/hexsession/core/internal/session"
	"github.com/hexsession/core/internal/world"
)

// Core is the facade. Construct one per node in cmd/sessionnode.
type Core struct {
	sup         *placement.Supervisor
	dss         *durable.Store
	recoverySvc *recovery.Service
	sessionCfg  session.Config
	gridRadius  int
	log         *zap.Logger
}

// Deps are Core's collaborators, built once at node startup.
type Deps struct {
	Supervisor        *placement.Supervisor
	DSS               *durable.Store
	SessionCfg        session.Config
	GridRadius        int // hex-disc radius new sessions are created on
	RecoveryConcurrency int
	Log               *zap.Logger
}

// New constructs a Core from deps.
func New(deps Deps) *Core {
	radius := deps.GridRadius
	if radius <= 0 {
		radius = 4
	}
	return &Core{
		sup:         deps.Supervisor,
		dss:         deps.DSS,
		recoverySvc: recovery.New(deps.DSS, deps.Supervisor, deps.RecoveryConcurrency, deps.Log),
		sessionCfg:  deps.SessionCfg,
		gridRadius:  radius,
		log:         deps.Log,
	}
}

func validateJoinCode(code string) error {
	if len(code) == 0 || len(code) > 8 {
		return apperr.New(apperr.InvalidInput, "join_code must be 1-8 characters")
	}
	for _, r := range code {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return apperr.New(apperr.InvalidInput, "join_code must be alphanumeric")
		}
	}
	return nil
}

// CreateSession constructs a fresh session, assigns it a UUID, and starts
// its SR via the Supervisor, which persists the initial row to DSS before
// the SR goroutine ever starts (spec §4.7/§3) -- a duplicate joinCode
// surfaces here as Conflict.
func (c *Core) CreateSession(ctx context.Context, joinCode string, users []session.UserSpec) (session.Session, error) {
	if err := validateJoinCode(joinCode); err != nil {
		return session.Session{}, err
	}
	if len(users) == 0 {
		return session.Session{}, apperr.New(apperr.InvalidInput, "create_session requires at least one user")
	}

	grid := world.NewHexDisc(c.gridRadius)
	initial := session.New(joinCode, users, grid, c.sessionCfg)

	handle, err := c.sup.StartSession(ctx, initial)
	if err != nil {
		return session.Session{}, err
	}
	return handle.GetSession(ctx)
}

// GetSessionByID returns the current session state for sessionID. A
// session not live here is resumed onto this node only when the ring
// assigns it to this node (or the ring is empty); a session owned by a
// peer returns Unavailable naming that owner.
func (c *Core) GetSessionByID(ctx context.Context, sessionID string) (session.Session, error) {
	owner, handle, err := c.sup.LookupByID(ctx, sessionID)
	if err != nil {
		return session.Session{}, err
	}
	if handle == nil {
		return session.Session{}, apperr.New(apperr.Unavailable, fmt.Sprintf("session %s is owned by node %s", sessionID, owner))
	}
	return handle.GetSession(ctx)
}

// GetSessionByJoinCode resolves join_code to a session id via DSS (the
// authoritative cluster-wide index) then defers to GetSessionByID.
func (c *Core) GetSessionByJoinCode(ctx context.Context, joinCode string) (session.Session, error) {
	if handle, ok := c.sup.LookupByJoinCode(ctx, joinCode); ok {
		return handle.GetSession(ctx)
	}
	sess, _, err := c.dss.ByJoinCode(ctx, joinCode)
	if err != nil {
		return session.Session{}, err
	}
	return c.GetSessionByID(ctx, sess.ID.String())
}

// GetPlayerStatus reports alive/dead/unknown for userID in sessionID.
func (c *Core) GetPlayerStatus(ctx context.Context, sessionID string, userID int) (session.PlayerStatus, error) {
	owner, handle, err := c.sup.LookupByID(ctx, sessionID)
	if err != nil {
		return session.PlayerUnknown, err
	}
	if handle == nil {
		return session.PlayerUnknown, apperr.New(apperr.Unavailable, fmt.Sprintf("session %s is owned by node %s", sessionID, owner))
	}
	return handle.GetPlayerStatus(ctx, userID)
}

// RegisterMove queues a move action for userID in sessionID's current round.
func (c *Core) RegisterMove(ctx context.Context, sessionID string, userID int, v world.Vector) error {
	owner, handle, err := c.sup.LookupByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if handle == nil {
		return apperr.New(apperr.Unavailable, fmt.Sprintf("session %s is owned by node %s", sessionID, owner))
	}
	return handle.RegisterMove(ctx, userID, v)
}

// RegisterAttack queues an attack action for userID against targetID.
func (c *Core) RegisterAttack(ctx context.Context, sessionID string, userID int, targetID world.PlayerID) error {
	owner, handle, err := c.sup.LookupByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if handle == nil {
		return apperr.New(apperr.Unavailable, fmt.Sprintf("session %s is owned by node %s", sessionID, owner))
	}
	return handle.RegisterAttack(ctx, userID, targetID)
}

// EndRound resolves sessionID's current round immediately.
func (c *Core) EndRound(ctx context.Context, sessionID string) error {
	owner, handle, err := c.sup.LookupByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if handle == nil {
		return apperr.New(apperr.Unavailable, fmt.Sprintf("session %s is owned by node %s", sessionID, owner))
	}
	return handle.EndRound(ctx)
}

// ActiveSessionsForUser returns every Active session userID has a row for.
func (c *Core) ActiveSessionsForUser(ctx context.Context, userID int) ([]durable.ActiveSummary, error) {
	return c.dss.ActiveForUser(ctx, userID)
}

// ResumeAllActiveSessions is the idempotent startup hook (spec §4.8): it
// rehydrates every session DSS still considers Active.
func (c *Core) ResumeAllActiveSessions(ctx context.Context) (resumed, failed int, err error) {
	return c.recoverySvc.ResumeAllActive(ctx)
}
