package clustertransport

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// HeartbeatPath is the upgrade endpoint peers dial to hold a heartbeat
// stream open against this node.
const HeartbeatPath = "/cluster/heartbeat"

// HeartbeatHandler accepts inbound heartbeat connections from peers and
// simply keeps reading pings until the peer disconnects. It pushes
// nothing back; the dialing side sees the connection drop through
// HeartbeatClient.Run, which reports it via its onChange(false) callback.
func HeartbeatHandler(log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		ctx := r.Context()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				if log != nil {
					log.Debug("cluster heartbeat connection closed", zap.Error(err))
				}
				return
			}
		}
	}
}

// HeartbeatClient holds an outbound heartbeat connection to one peer,
// pinging it on an interval and reporting liveness transitions through
// onChange. Discovery of which nodes to dial is out of scope (spec §1);
// the caller supplies nodeID/baseURL from whatever external mechanism
// tracks membership.
type HeartbeatClient struct {
	nodeID  string
	baseURL string
	log     *zap.Logger
}

// NewHeartbeatClient builds a client that will dial nodeID at baseURL.
func NewHeartbeatClient(nodeID, baseURL string, log *zap.Logger) *HeartbeatClient {
	return &HeartbeatClient{nodeID: nodeID, baseURL: baseURL, log: log}
}

// Run dials the peer, reports onChange(true) on connect, pings every
// interval, and reports onChange(false) once when the connection drops or
// ctx is cancelled. It blocks until the connection ends; callers run it in
// its own goroutine and redial with backoff if they want persistence.
func (c *HeartbeatClient) Run(ctx context.Context, interval time.Duration, onChange func(nodeID string, up bool)) {
	wsURL := "ws" + trimHTTPScheme(c.baseURL) + HeartbeatPath
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		onChange(c.nodeID, false)
		return
	}
	defer conn.CloseNow()

	onChange(c.nodeID, true)
	defer onChange(c.nodeID, false)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "shutting down")
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, interval)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				if c.log != nil {
					c.log.Warn("cluster heartbeat ping failed", zap.String("peer", c.nodeID), zap.Error(err))
				}
				return
			}
		}
	}
}

func trimHTTPScheme(baseURL string) string {
	switch {
	case len(baseURL) >= 8 && baseURL[:8] == "https://":
		return "s://" + baseURL[8:]
	case len(baseURL) >= 7 && baseURL[:7] == "http://":
		return "://" + baseURL[7:]
	default:
		return "://" + baseURL
	}
}
