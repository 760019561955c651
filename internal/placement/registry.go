// Package placement is the Placement Registry & Supervisor (PRS),
// grounded on the teacher's internal/hub: a channel-actor registry of
// live handles keyed by code (here, session id and join code), holding
// sessions owned by *this* node. Supervisor generalizes it cluster-wide
// with a consistent-hash ring over member node ids.
package placement

import (
	"context"

	"github.com/hexsession/core/internal/runtime"
	"github.com/hexsession/core/internal/session"
	"github.com/hexsession/core/internal/world"
)

// SessionHandle is the subset of *runtime.SR the registry needs. *runtime.SR
// satisfies this structurally; declaring it here (rather than depending on
// the concrete type everywhere) keeps the registry and its tests decoupled
// from runtime's construction details.
type SessionHandle interface {
	ID() string
	JoinCode() string
	GetSession(ctx context.Context) (session.Session, error)
	RegisterMove(ctx context.Context, userID int, v world.Vector) error
	RegisterAttack(ctx context.Context, userID int, targetID world.PlayerID) error
	EndRound(ctx context.Context) error
	GetPlayerStatus(ctx context.Context, userID int) (session.PlayerStatus, error)
	Stash(ctx context.Context)
	Shutdown(ctx context.Context)
	Done() <-chan runtime.ExitReason
}

type regMsg interface{ isRegMsg() }

type regPut struct {
	handle SessionHandle
	reply  chan struct{}
}
type regGetByID struct {
	id    string
	reply chan SessionHandle
}
type regGetByJoinCode struct {
	code  string
	reply chan SessionHandle
}
type regRemove struct {
	id    string
	reply chan struct{}
}
type regListActive struct{ reply chan []SessionHandle }

func (regPut) isRegMsg()          {}
func (regGetByID) isRegMsg()      {}
func (regGetByJoinCode) isRegMsg() {}
func (regRemove) isRegMsg()       {}
func (regListActive) isRegMsg()   {}

// Registry holds the session handles owned by this node.
type Registry struct {
	inbox chan regMsg
	ctx   context.Context
}

// NewRegistry starts a Registry actor bound to parent's lifetime.
func NewRegistry(parent context.Context) *Registry {
	r := &Registry{inbox: make(chan regMsg, 256), ctx: parent}
	go r.loop()
	return r
}

func (r *Registry) loop() {
	sessions := make(map[string]SessionHandle)
	joinCodes := make(map[string]string)

	for {
		select {
		case <-r.ctx.Done():
			return
		case m := <-r.inbox:
			switch msg := m.(type) {
			case regPut:
				sessions[msg.handle.ID()] = msg.handle
				joinCodes[msg.handle.JoinCode()] = msg.handle.ID()
				msg.reply <- struct{}{}

			case regGetByID:
				msg.reply <- sessions[msg.id] // may be nil

			case regGetByJoinCode:
				msg.reply <- sessions[joinCodes[msg.code]] // may be nil

			case regRemove:
				if h, ok := sessions[msg.id]; ok {
					delete(joinCodes, h.JoinCode())
					delete(sessions, msg.id)
				}
				msg.reply <- struct{}{}

			case regListActive:
				out := make([]SessionHandle, 0, len(sessions))
				for _, h := range sessions {
					out = append(out, h)
				}
				msg.reply <- out
			}
		}
	}
}

func (r *Registry) put(h SessionHandle) {
	reply := make(chan struct{}, 1)
	select {
	case r.inbox <- regPut{handle: h, reply: reply}:
		<-reply
	case <-r.ctx.Done():
	}
}

func (r *Registry) byID(id string) SessionHandle {
	reply := make(chan SessionHandle, 1)
	select {
	case r.inbox <- regGetByID{id: id, reply: reply}:
		return <-reply
	case <-r.ctx.Done():
		return nil
	}
}

func (r *Registry) byJoinCode(code string) SessionHandle {
	reply := make(chan SessionHandle, 1)
	select {
	case r.inbox <- regGetByJoinCode{code: code, reply: reply}:
		return <-reply
	case <-r.ctx.Done():
		return nil
	}
}

func (r *Registry) remove(id string) {
	reply := make(chan struct{}, 1)
	select {
	case r.inbox <- regRemove{id: id, reply: reply}:
		<-reply
	case <-r.ctx.Done():
	}
}

func (r *Registry) listActive() []SessionHandle {
	reply := make(chan []SessionHandle, 1)
	select {
	case r.inbox <- regListActive{reply: reply}:
		return <-reply
	case <-r.ctx.Done():
		return nil
	}
}
