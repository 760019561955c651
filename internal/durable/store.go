package durable

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hexsession/core/internal/apperr"
	"github.com/hexsession/core/internal/session"
)

// SessionSummary is the session_summary row: session_id PK, join_code
// UNIQUE, status, latest_round, the opaque snapshot, and timestamps.
type SessionSummary struct {
	SessionID   string `gorm:"column:session_id;primaryKey"`
	JoinCode    string `gorm:"column:join_code;uniqueIndex"`
	Status      string `gorm:"column:status;index"`
	LatestRound int64  `gorm:"column:latest_round"`
	Snapshot    []byte `gorm:"column:snapshot;type:jsonb"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (SessionSummary) TableName() string { return "session_summary" }

// UserSession is the user_session child table row, unique per
// (session_id, user_id), indexed by user_id for active-scan queries.
type UserSession struct {
	SessionID    string `gorm:"column:session_id;uniqueIndex:idx_user_session_unique,priority:1"`
	UserID       int64  `gorm:"column:user_id;uniqueIndex:idx_user_session_unique,priority:2;index"`
	PlayerStatus string `gorm:"column:player_status"`
}

func (UserSession) TableName() string { return "user_session" }

// Store is the Durable Summary Store.
type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

// New wraps an already-opened gorm.DB. Pool sizing (dss_pool_size) is the
// caller's responsibility via sql.DB.SetMaxOpenConns before this is
// constructed, so nodes x pool_size can be bounded against the database's
// max connections per spec §5.
func New(db *gorm.DB, log *zap.Logger) *Store {
	return &Store{db: db, log: log}
}

// Migrate applies the schema: unique indexes on session_id and join_code,
// an index on status for the active-scan, and the user_session unique
// (session_id, user_id) index, all expressed declaratively via the gorm
// tags above and applied with AutoMigrate.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&SessionSummary{}, &UserSession{}); err != nil {
		return apperr.Wrap(apperr.Internal, "run DSS migrations", err)
	}
	return nil
}

// Upsert writes the summary row and replaces the user_session rows for
// this session in one transaction, per spec §4.7's write path. Called on
// creation and at every round boundary.
func (s *Store) Upsert(ctx context.Context, sess session.Session, extra map[string]any) error {
	snapshot, err := Encode(sess, extra)
	if err != nil {
		return err
	}

	summary := SessionSummary{
		SessionID:   sess.ID.String(),
		JoinCode:    sess.JoinCode,
		Status:      string(sess.Status),
		LatestRound: int64(sess.Round),
		Snapshot:    snapshot,
	}

	userRows := make([]UserSession, 0, len(sess.Players))
	for _, p := range sess.Players {
		userRows = append(userRows, UserSession{
			SessionID:    sess.ID.String(),
			UserID:       int64(p.UserID),
			PlayerStatus: string(session.GetPlayerStatus(sess, p.UserID)),
		})
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}},
			UpdateAll: true,
		}).Create(&summary).Error; err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", sess.ID.String()).Delete(&UserSession{}).Error; err != nil {
			return err
		}
		if len(userRows) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}, {Name: "user_id"}},
			UpdateAll: true,
		}).Create(&userRows).Error
	})
	if err != nil {
		if isJoinCodeUniqueViolation(err) {
			return apperr.Wrap(apperr.Conflict, apperr.DetailDuplicateJoinCode, err)
		}
		if s.log != nil {
			s.log.Error("dss upsert failed", zap.String("session_id", sess.ID.String()), zap.Int("round", sess.Round), zap.Error(err))
		}
		return apperr.Wrap(apperr.Internal, "upsert session summary", err)
	}
	return nil
}

// isJoinCodeUniqueViolation reports whether err is a postgres unique
// constraint violation (SQLSTATE 23505) on session_summary's join_code
// index. session_id collisions never reach here -- the OnConflict clause
// above already turns those into an UPDATE, so any remaining unique
// violation out of this statement must be the join_code index.
func isJoinCodeUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique") &&
		strings.Contains(strings.ToLower(err.Error()), "join_code")
}

// ByID loads and decodes the snapshot for session_id.
func (s *Store) ByID(ctx context.Context, sessionID string) (session.Session, map[string]any, error) {
	var row SessionSummary
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return session.Session{}, nil, apperr.New(apperr.NotFound, apperr.DetailSessionNotAlive)
		}
		return session.Session{}, nil, apperr.Wrap(apperr.Internal, "load session summary", err)
	}
	return Decode(row.Snapshot)
}

// ByJoinCode loads and decodes the snapshot for join_code.
func (s *Store) ByJoinCode(ctx context.Context, joinCode string) (session.Session, map[string]any, error) {
	var row SessionSummary
	if err := s.db.WithContext(ctx).Where("join_code = ?", joinCode).First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return session.Session{}, nil, apperr.New(apperr.NotFound, apperr.DetailSessionNotAlive)
		}
		return session.Session{}, nil, apperr.Wrap(apperr.Internal, "load session summary", err)
	}
	return Decode(row.Snapshot)
}

// ActiveSummary is the thin projection active_sessions_for_user returns.
type ActiveSummary struct {
	SessionID   string
	JoinCode    string
	LatestRound int64
}

// ActiveForUser returns every Active session userID currently has a row
// for, without decoding the full snapshot.
func (s *Store) ActiveForUser(ctx context.Context, userID int) ([]ActiveSummary, error) {
	var rows []SessionSummary
	err := s.db.WithContext(ctx).
		Joins("JOIN user_session ON user_session.session_id = session_summary.session_id").
		Where("user_session.user_id = ? AND session_summary.status = ?", userID, string(session.StatusActive)).
		Find(&rows).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "query active sessions for user", err)
	}
	out := make([]ActiveSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, ActiveSummary{SessionID: r.SessionID, JoinCode: r.JoinCode, LatestRound: r.LatestRound})
	}
	return out, nil
}

// AllActive returns every session_summary row with status Active, used by
// the Recovery Service on node start.
func (s *Store) AllActive(ctx context.Context) ([]SessionSummary, error) {
	var rows []SessionSummary
	if err := s.db.WithContext(ctx).Where("status = ?", string(session.StatusActive)).Find(&rows).Error; err != nil {
		return nil, apperr.Wrap(apperr.Internal, "query all active sessions", err)
	}
	return rows, nil
}

// MarkConcluded flips a summary's status without re-encoding the full
// snapshot, used when an SR concludes and the embedder wants the DSS row
// to reflect that even if the final Upsert already carried it (idempotent
// safety net for the conclusion path).
func (s *Store) MarkConcluded(ctx context.Context, sessionID string) error {
	err := s.db.WithContext(ctx).Model(&SessionSummary{}).
		Where("session_id = ?", sessionID).
		Update("status", string(session.StatusConcluded)).Error
	if err != nil {
		return apperr.Wrap(apperr.Internal, "mark session concluded", err)
	}
	return nil
}
