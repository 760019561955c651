// Package recovery is the Recovery Service (RS): on node start, it finds
// every session the Durable Summary Store still considers Active and
// rehydrates each one through the Placement Registry & Supervisor,
// grounded on the teacher's indirect golang.org/x/sync dependency (the
// seed repo declares it, never imports it) via errgroup's bounded
// concurrency fan-out.
package recovery

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hexsession/core/internal/durable"
	"github.com/hexsession/core/internal/placement"
)

// Supervisor is the slice of *placement.Supervisor RS needs.
type Supervisor interface {
	ContinueSession(ctx context.Context, sessionID string) (placement.SessionHandle, error)
}

// SummaryLister is the slice of *durable.Store RS needs.
type SummaryLister interface {
	AllActive(ctx context.Context) ([]durable.SessionSummary, error)
}

// Service runs the recovery scan once per call.
type Service struct {
	dss         SummaryLister
	sup         Supervisor
	concurrency int
	log         *zap.Logger
}

// New constructs a Service. concurrency bounds how many continue_session
// calls run at once; values <= 0 default to 8.
func New(dss SummaryLister, sup Supervisor, concurrency int, log *zap.Logger) *Service {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Service{dss: dss, sup: sup, concurrency: concurrency, log: log}
}

// ResumeAllActive queries every Active session and fans out
// continue_session calls with bounded concurrency. A single session's
// failure to continue is logged and does not abort the rest of the scan;
// the returned error only reflects a failure to even list active
// sessions.
func (s *Service) ResumeAllActive(ctx context.Context) (resumed, failed int, err error) {
	summaries, err := s.dss.AllActive(ctx)
	if err != nil {
		return 0, 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	results := make(chan bool, len(summaries))
	for _, summary := range summaries {
		sessionID := summary.SessionID
		g.Go(func() error {
			_, err := s.sup.ContinueSession(gctx, sessionID)
			if err != nil {
				if s.log != nil {
					s.log.Warn("recovery: continue_session failed", zap.String("session_id", sessionID), zap.Error(err))
				}
				results <- false
				return nil // don't abort the group; this is a per-session failure
			}
			results <- true
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	for ok := range results {
		if ok {
			resumed++
		} else {
			failed++
		}
	}
	if s.log != nil {
		s.log.Info("recovery scan complete", zap.Int("resumed", resumed), zap.Int("failed", failed), zap.Int("total", len(summaries)))
	}
	return resumed, failed, nil
}
