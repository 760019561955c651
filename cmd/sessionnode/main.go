package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/hexsession/core/internal/adminhttp"
	"github.com/hexsession/core/internal/api"
	"github.com/hexsession/core/internal/clustertransport"
	"github.com/hexsession/core/internal/config"
	"github.com/hexsession/core/internal/durable"
	"github.com/hexsession/core/internal/handoff"
	"github.com/hexsession/core/internal/placement"
	"github.com/hexsession/core/internal/pubsub"
	"github.com/hexsession/core/internal/runtime"
	"github.com/hexsession/core/internal/session"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	logger = logger.With(zap.String("node_id", cfg.NodeID))

	if err := run(cfg, logger); err != nil {
		logger.Fatal("sessionnode exited with error", zap.Error(err))
	}
}

type readiness struct{ db *gorm.DB }

func (r readiness) Ready() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// localSessionLookup answers cluster peers' "do you hold session X"
// queries for sessions the ring assigns to this node, encoding the live
// SR's state (the Supervisor resumes it from HS/DSS first if it is not
// registered yet); it never resumes a session owned by a peer.
type localSessionLookup struct {
	sup    *placement.Supervisor
	nodeID string
}

func (l localSessionLookup) LocalSnapshot(sessionID string) ([]byte, bool) {
	owner, handle, err := l.sup.LookupByID(context.Background(), sessionID)
	if err != nil || handle == nil || owner != l.nodeID {
		return nil, false
	}
	sess, getErr := handle.GetSession(context.Background())
	if getErr != nil {
		return nil, false
	}
	data, encErr := durable.Encode(sess, nil)
	if encErr != nil {
		return nil, false
	}
	return data, true
}

// membership tracks the live cluster member set this node has learned
// about via clustertransport notifications, feeding it back into the
// Supervisor's consistent-hash ring.
type membership struct {
	sup     *placement.Supervisor
	nodeID  string
	members map[string]struct{}
}

func newMembership(sup *placement.Supervisor, nodeID string) *membership {
	m := &membership{sup: sup, nodeID: nodeID, members: map[string]struct{}{nodeID: {}}}
	return m
}

func (m *membership) NotifyMembershipChange(nodeID string, up bool) {
	if up {
		m.members[nodeID] = struct{}{}
	} else {
		delete(m.members, nodeID)
	}
	ids := make([]string, 0, len(m.members))
	for id := range m.members {
		ids = append(ids, id)
	}
	m.sup.SetMembers(ids)
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(cfg.DSSPoolSize)

	dss := durable.New(db, logger)
	if err := dss.Migrate(ctx); err != nil {
		return err
	}

	topics := pubsub.New()
	hs := handoff.New(func() []handoff.Peer { return nil }, logger) // no peers: stashes stay in this node's local map

	runtimeDeps := runtime.Deps{
		SessionCfg:         session.DefaultConfig(),
		DSS:                dss,
		HS:                 hs,
		Topics:             topics,
		Log:                logger,
		CommandTimeout:     cfg.CommandTimeout(),
		HandoffPickupRetry: cfg.HandoffPickupRetry(),
		HandoffPickupTotal: cfg.HandoffPickupTotal(),
		HandoffStashGrace:  cfg.HandoffStashGrace(),
	}
	runtimeDeps.SessionCfg.RoundDuration = cfg.RoundDuration()

	sup := placement.NewSupervisor(ctx, cfg.NodeID, runtimeDeps, logger)
	sup.SetMembers([]string{cfg.NodeID})

	core := api.New(api.Deps{
		Supervisor:          sup,
		DSS:                 dss,
		SessionCfg:          runtimeDeps.SessionCfg,
		RecoveryConcurrency: 8,
		Log:                 logger,
	})

	if resumed, failed, err := core.ResumeAllActiveSessions(ctx); err != nil {
		logger.Error("initial recovery scan failed", zap.Error(err))
	} else {
		logger.Info("initial recovery scan complete", zap.Int("resumed", resumed), zap.Int("failed", failed))
	}

	clusterSrv := &clustertransport.Server{
		NodeID:   cfg.NodeID,
		Handoff:  hs,
		Sessions: localSessionLookup{sup: sup, nodeID: cfg.NodeID},
		Members:  newMembership(sup, cfg.NodeID),
	}
	adminMux := http.NewServeMux()
	adminMux.Handle("/", adminhttp.Router(cfg.NodeID, readiness{db: db}))
	adminMux.Handle("/cluster/", clusterSrv.Router())
	adminMux.HandleFunc(clustertransport.HeartbeatPath, clustertransport.HeartbeatHandler(logger).ServeHTTP)

	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: adminMux}
	serveErr := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stashing active sessions")
	case err := <-serveErr:
		logger.Error("admin http server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HandoffStashGrace()+5*time.Second)
	defer cancel()
	sup.StashAllLocal(shutdownCtx)
	_ = httpSrv.Shutdown(shutdownCtx)
	return nil
}
