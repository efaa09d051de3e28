// Package archive persists collected scam intelligence to Postgres for
// analyst review. Every write is best-effort under a short deadline;
// the engagement loop never blocks on, or fails because of, the
// archive.
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/trapline-ai/trapline/pkg/agent"
)

const (
	connectTimeout = 5 * time.Second
	writeTimeout   = 3 * time.Second
)

const schema = `
CREATE TABLE IF NOT EXISTS trapline_entities (
	id           UUID PRIMARY KEY,
	session_id   TEXT NOT NULL,
	turn         INT NOT NULL,
	entity_type  TEXT NOT NULL,
	raw_value    TEXT NOT NULL,
	normalized   TEXT NOT NULL,
	provider     TEXT NOT NULL DEFAULT '',
	source       TEXT NOT NULL,
	confidence   DOUBLE PRECISION NOT NULL,
	collected_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (session_id, entity_type, normalized)
);

CREATE TABLE IF NOT EXISTS trapline_sessions (
	session_id    TEXT PRIMARY KEY,
	phase         TEXT NOT NULL,
	persona       TEXT NOT NULL DEFAULT '',
	category      TEXT NOT NULL,
	scam_detected BOOLEAN NOT NULL,
	confidence    DOUBLE PRECISION NOT NULL,
	turn_count    INT NOT NULL,
	completeness  INT NOT NULL,
	threat_level  TEXT NOT NULL,
	seen_names    TEXT[] NOT NULL DEFAULT '{}',
	seen_amounts  TEXT[] NOT NULL DEFAULT '{}',
	started_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);`

const insertEntity = `
INSERT INTO trapline_entities
	(id, session_id, turn, entity_type, raw_value, normalized, provider, source, confidence)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (session_id, entity_type, normalized) DO NOTHING`

const upsertSession = `
INSERT INTO trapline_sessions
	(session_id, phase, persona, category, scam_detected, confidence,
	 turn_count, completeness, threat_level, seen_names, seen_amounts, started_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())
ON CONFLICT (session_id) DO UPDATE SET
	phase = EXCLUDED.phase,
	persona = EXCLUDED.persona,
	category = EXCLUDED.category,
	scam_detected = EXCLUDED.scam_detected,
	confidence = EXCLUDED.confidence,
	turn_count = EXCLUDED.turn_count,
	completeness = EXCLUDED.completeness,
	threat_level = EXCLUDED.threat_level,
	seen_names = EXCLUDED.seen_names,
	seen_amounts = EXCLUDED.seen_amounts,
	updated_at = now()`

// Archiver writes turn outcomes to Postgres.
type Archiver struct {
	pool *pgxpool.Pool
	log  *logrus.Entry
}

// New connects to the archive database and applies the schema. The
// caller decides whether a failure is fatal; the service treats it as
// "run without an archive".
func New(ctx context.Context, dsn string) (*Archiver, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing archive dsn: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to archive: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging archive: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("applying archive schema: %w", err)
	}

	return &Archiver{
		pool: pool,
		log:  logrus.WithField("component", "archive"),
	}, nil
}

// ArchiveTurn records the session snapshot and the turn's fresh
// entities in one batch. Safe on a nil receiver so callers can wire it
// unconditionally. Errors are logged and dropped.
func (a *Archiver) ArchiveTurn(ctx context.Context, s *agent.Session, fresh []agent.Entity) {
	if a == nil || s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	// nil slices would encode as SQL NULL and trip the NOT NULL columns
	names := s.SeenNames
	if names == nil {
		names = []string{}
	}
	amounts := s.SeenAmounts
	if amounts == nil {
		amounts = []string{}
	}

	batch := &pgx.Batch{}
	for _, e := range fresh {
		batch.Queue(insertEntity,
			uuid.New(), s.ID, s.TurnCount, string(e.Type), e.Raw, e.Normalized,
			e.Provider, e.Source, e.Confidence)
	}
	batch.Queue(upsertSession,
		s.ID, string(s.Phase), string(s.Persona), string(s.Category),
		s.ScamDetected, s.Confidence, s.TurnCount, s.Completeness(),
		s.ThreatLevel(), names, amounts, s.CreatedAt)

	if err := a.pool.SendBatch(ctx, batch).Close(); err != nil {
		a.log.WithError(err).WithField("session_id", s.ID).Warn("Archive write failed")
		return
	}
	a.log.WithFields(logrus.Fields{
		"session_id": s.ID,
		"entities":   len(fresh),
	}).Debug("Turn archived")
}

// Ping reports archive reachability for health checks.
func (a *Archiver) Ping(ctx context.Context) error {
	if a == nil {
		return nil
	}
	return a.pool.Ping(ctx)
}

// Close releases the connection pool.
func (a *Archiver) Close() {
	if a != nil {
		a.pool.Close()
	}
}
