// Package clustertransport is the concrete wire carrier PRS and HS use to
// exchange messages between nodes once cluster membership is known.
// Membership discovery itself stays an external collaborator per spec
// §1/§9 ("nodes form a cluster via an external mechanism"); this package
// only needs a NodeID -> base URL mapping to start talking to a peer.
//
// The inbound side is a small chi router (the teacher declares
// go-chi/chi/v5 but never imports it); the outbound side is a plain
// net/http client. This is deliberately not the excluded player-facing
// gameplay API -- no game command ever reaches a player over this
// surface, only inter-node PRS/HS traffic.
package clustertransport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hexsession/core/internal/apperr"
)

// HandoffReceiver applies an inbound handoff push to the local HS.
type HandoffReceiver interface {
	PutLocal(key string, value []byte)
}

// SessionLookup answers "do I hold session_id locally" for remote PRS
// lookups that hash to this node.
type SessionLookup interface {
	// LocalSnapshot returns the live snapshot bytes for sessionID if this
	// node currently owns a running SR for it.
	LocalSnapshot(sessionID string) ([]byte, bool)
}

// MembershipNotifier is invoked when a peer notifies this node of a ring
// change (a node joined or left).
type MembershipNotifier interface {
	NotifyMembershipChange(nodeID string, up bool)
}

// Server is the inbound cluster RPC surface for one node.
type Server struct {
	NodeID   string
	Handoff  HandoffReceiver
	Sessions SessionLookup
	Members  MembershipNotifier
	Log      *zap.Logger
}

// Router builds the chi router exposing this node's cluster RPC surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/cluster/handoff/{key}", s.handlePutHandoff)
	r.Get("/cluster/session/{id}", s.handleGetSession)
	r.Post("/cluster/placement/notify", s.handleMembershipNotify)
	return r
}

func (s *Server) handlePutHandoff(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	s.Handoff.PutLocal(key, body)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snapshot, ok := s.Sessions.LocalSnapshot(id)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(snapshot)
}

type membershipNotifyBody struct {
	NodeID string `json:"node_id"`
	Up     bool   `json:"up"`
}

func (s *Server) handleMembershipNotify(w http.ResponseWriter, r *http.Request) {
	var body membershipNotifyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}
	if s.Members != nil {
		s.Members.NotifyMembershipChange(body.NodeID, body.Up)
	}
	w.WriteHeader(http.StatusNoContent)
}

// Client talks to one peer node's cluster RPC surface.
type Client struct {
	nodeID  string
	baseURL string
	http    *http.Client
}

// NewClient builds a Client for a peer reachable at baseURL.
func NewClient(nodeID, baseURL string, timeout time.Duration) *Client {
	return &Client{nodeID: nodeID, baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

// ID satisfies handoff.Peer.
func (c *Client) ID() string { return c.nodeID }

// Push satisfies handoff.Peer: POST /cluster/handoff/{key}.
func (c *Client) Push(ctx context.Context, key string, value []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/cluster/handoff/"+key, bytes.NewReader(value))
	if err != nil {
		return apperr.Wrap(apperr.Unavailable, "build handoff push request", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.Unavailable, "push handoff entry to peer "+c.nodeID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return apperr.New(apperr.Unavailable, "peer "+c.nodeID+" rejected handoff push")
	}
	return nil
}

// GetSession fetches the remote live snapshot for sessionID from this
// peer, used by PRS when a lookup hashes to a node other than the caller.
func (c *Client) GetSession(ctx context.Context, sessionID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/cluster/session/"+sessionID, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, "build session lookup request", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, "query peer "+c.nodeID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, apperr.New(apperr.NotFound, apperr.DetailSessionNotAlive)
	}
	if resp.StatusCode >= 300 {
		return nil, apperr.New(apperr.Unavailable, "peer "+c.nodeID+" returned an error")
	}
	return io.ReadAll(resp.Body)
}

// NotifyMembershipChange tells this peer that nodeID just went up/down.
func (c *Client) NotifyMembershipChange(ctx context.Context, nodeID string, up bool) error {
	body, err := json.Marshal(membershipNotifyBody{NodeID: nodeID, Up: up})
	if err != nil {
		return apperr.Wrap(apperr.Internal, "marshal membership notify", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/cluster/placement/notify", bytes.NewReader(body))
	if err != nil {
		return apperr.Wrap(apperr.Unavailable, "build membership notify request", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.Unavailable, "notify peer "+c.nodeID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return apperr.New(apperr.Unavailable, "peer "+c.nodeID+" rejected membership notify")
	}
	return nil
}
