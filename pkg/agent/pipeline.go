package agent

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/trapline-ai/trapline/pkg/config"
	"github.com/trapline-ai/trapline/pkg/patterns"
	"github.com/trapline-ai/trapline/pkg/telemetry"
)

// ErrInvalidSessionID rejects ids that cannot serve as store keys.
var ErrInvalidSessionID = errors.New("session id must match ^[a-zA-Z0-9_-]{1,128}$")

// TurnArchiver receives finished turns for offline forensics. Calls are
// fire-and-forget; implementations own their timeouts.
type TurnArchiver interface {
	ArchiveTurn(ctx context.Context, session *Session, fresh []Entity)
}

// Pipeline is the per-turn engine: validate, fan out detection and
// extraction, join under the turn budget, advance the conversation,
// persist. ProcessTurn returns an error only for an unusable session
// id; every other failure degrades into a best-effort reply.
type Pipeline struct {
	cfg          *config.Config
	store        SessionStore
	detector     *Detector
	extractor    *Extractor
	orchestrator *Orchestrator
	archiver     TurnArchiver
	metrics      *telemetry.Metrics
	log          *logrus.Entry
}

// PipelineOption customizes a Pipeline.
type PipelineOption func(*Pipeline)

// WithArchiver attaches a forensic sink for completed turns.
func WithArchiver(a TurnArchiver) PipelineOption {
	return func(p *Pipeline) {
		p.archiver = a
	}
}

// NewPipeline wires the turn engine together.
func NewPipeline(cfg *config.Config, store SessionStore, detector *Detector, extractor *Extractor, orchestrator *Orchestrator, metrics *telemetry.Metrics, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		cfg:          cfg,
		store:        store,
		detector:     detector,
		extractor:    extractor,
		orchestrator: orchestrator,
		metrics:      metrics,
		log:          logrus.WithField("component", "pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessTurn runs one full engagement turn. An omitted session id
// starts a fresh session under a generated one; the response carries
// the id either way.
func (p *Pipeline) ProcessTurn(ctx context.Context, req TurnRequest) (resp TurnResponse, err error) {
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	if !ValidSessionID(req.SessionID) {
		return TurnResponse{}, ErrInvalidSessionID
	}

	start := time.Now()
	phase := PhaseInitialContact
	outcome := "ok"

	// A panic anywhere in the turn must not take the process down.
	// The caller gets the phase fallback line and the session is left
	// as last persisted.
	defer func() {
		if r := recover(); r != nil {
			p.log.WithFields(logrus.Fields{
				"session_id": req.SessionID,
				"panic":      r,
			}).Error("Recovered mid-turn")
			p.metrics.RecordTurn("panic", time.Since(start).Seconds())
			resp = TurnResponse{
				SessionID:    req.SessionID,
				AgentMessage: fallbackReply(phase),
				Metadata: Metadata{
					Phase:     phase,
					LatencyMs: time.Since(start).Milliseconds(),
					Degraded:  true,
				},
			}
			err = nil
		}
	}()

	message := patterns.NormalizeMessage(req.Message, p.cfg.MaxMessageLength)

	session, degraded := p.loadSession(ctx, req.SessionID)
	phase = session.Phase

	session.TurnCount++
	history := session.RecentHistory(p.cfg.HistoryWindow)
	already := append([]Entity(nil), session.Intel...)
	session.AppendTurn(RoleScammer, message, p.cfg.HistoryWindow)

	tctx, cancel := context.WithTimeout(ctx, p.cfg.TurnBudget())
	defer cancel()

	// Each task recovers on its own: a panic inside a goroutine would
	// skip the turn-boundary recover and kill the process.
	detCh := make(chan DetectionResult, 1)
	extCh := make(chan ExtractionResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.log.WithField("panic", r).Error("Detection task panicked")
				detCh <- DetectionResult{Category: patterns.CategoryUnknown, Degraded: true}
			}
		}()
		detCh <- p.detector.Detect(tctx, message, history)
	}()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.log.WithField("panic", r).Error("Extraction task panicked")
				extCh <- ExtractionResult{Degraded: true}
			}
		}()
		extCh <- p.extractor.Extract(tctx, message, history, already)
	}()

	det := p.awaitDetection(tctx, detCh)
	ext := p.awaitExtraction(tctx, extCh)

	reply := p.orchestrator.Advance(tctx, session, det, ext)
	session.AppendTurn(RoleAgent, reply, p.cfg.HistoryWindow)
	session.LastActiveAt = time.Now().UTC()
	phase = session.Phase

	degraded = degraded || det.Degraded || ext.Degraded
	session.LastDegraded = degraded

	if perr := p.store.Put(ctx, session); perr != nil {
		p.log.WithError(perr).WithField("session_id", session.ID).Warn("Session write failed")
		p.metrics.RecordDegraded("session_store")
		degraded = true
	}

	if det.IsScam {
		p.metrics.RecordScam(string(det.Category))
	}
	if p.archiver != nil {
		go p.archiver.ArchiveTurn(context.Background(), session.Clone(), ext.Entities)
	}

	if degraded {
		outcome = "degraded"
	}
	p.metrics.RecordTurn(outcome, time.Since(start).Seconds())

	latency := time.Since(start).Milliseconds()
	p.log.WithFields(logrus.Fields{
		"session_id": session.ID,
		"phase":      session.Phase,
		"category":   session.Category,
		"turn":       session.TurnCount,
		"is_scam":    det.IsScam,
		"degraded":   degraded,
		"latency_ms": latency,
	}).Info("Turn complete")

	return TurnResponse{
		SessionID:    session.ID,
		AgentMessage: reply,
		Detected:     session.ScamDetected,
		Intelligence: session.Intelligence(),
		Metadata: Metadata{
			Phase:       session.Phase,
			Persona:     session.Persona,
			TurnCount:   session.TurnCount,
			ScamType:    session.Category,
			Confidence:  det.Confidence,
			LatencyMs:   latency,
			Degraded:    degraded,
			ThreatLevel: threatLevel(session.Confidence, session.IntelTypeCount()),
			Indicators:  det.Indicators,
		},
	}, nil
}

// loadSession fetches or creates the session. Store failures and
// corrupt payloads both degrade to a fresh session rather than an
// error; the degraded flag tells the caller the history is gone.
func (p *Pipeline) loadSession(ctx context.Context, id string) (*Session, bool) {
	session, err := p.store.Get(ctx, id)
	if err != nil {
		p.log.WithError(err).WithField("session_id", id).Warn("Session read failed, starting fresh")
		p.metrics.RecordDegraded("session_store")
		return NewSession(id), true
	}
	if session == nil {
		return NewSession(id), false
	}
	return session, false
}

// awaitDetection joins the detection task, preferring a result that
// raced the deadline over the degraded zero value.
func (p *Pipeline) awaitDetection(ctx context.Context, ch <-chan DetectionResult) DetectionResult {
	select {
	case det := <-ch:
		return det
	case <-ctx.Done():
		select {
		case det := <-ch:
			return det
		default:
		}
		p.metrics.RecordDegraded("detector_budget")
		return DetectionResult{
			Category:  patterns.CategoryUnknown,
			Degraded:  true,
			Reasoning: "turn budget exhausted",
		}
	}
}

func (p *Pipeline) awaitExtraction(ctx context.Context, ch <-chan ExtractionResult) ExtractionResult {
	select {
	case ext := <-ch:
		return ext
	case <-ctx.Done():
		select {
		case ext := <-ch:
			return ext
		default:
		}
		p.metrics.RecordDegraded("extractor_budget")
		return ExtractionResult{Degraded: true}
	}
}
