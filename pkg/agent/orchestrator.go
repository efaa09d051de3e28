package agent

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/trapline-ai/trapline/pkg/config"
	"github.com/trapline-ai/trapline/pkg/patterns"
	"github.com/trapline-ai/trapline/pkg/telemetry"
)

// categoryResolveConfidence lets BUILDING_TRUST end early once the scam
// script is identified with enough certainty.
const categoryResolveConfidence = 0.6

// endedReply is the terminal goodbye. After it the session only repeats
// the closing stall, so the scammer sees a victim who drifted away
// rather than a bot that switched off.
const endedReply = "I have to go now. I'll call my bank directly to sort this out. Goodbye."

// Orchestrator drives the engagement state machine: it folds each
// turn's detection and extraction into the session, advances the phase,
// and produces the agent's reply.
//
// Advance never fails. Reply generation falls back from LLM to
// templates to per-phase canned lines, so the returned string is never
// empty.
type Orchestrator struct {
	cfg     *config.Config
	llm     *LLMClient // nil → template replies only
	metrics *telemetry.Metrics
	log     *logrus.Entry

	mu  sync.Mutex // guards rng
	rng *rand.Rand
}

// OrchestratorOption customizes an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithRandSource fixes the template and persona randomness, for tests.
func WithRandSource(src rand.Source) OrchestratorOption {
	return func(o *Orchestrator) {
		o.rng = rand.New(src)
	}
}

// NewOrchestrator wires the state machine. llm may be nil.
func NewOrchestrator(cfg *config.Config, llm *LLMClient, metrics *telemetry.Metrics, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		cfg:     cfg,
		llm:     llm,
		metrics: metrics,
		log:     logrus.WithField("component", "orchestrator"),
		rng:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Advance folds one turn into the session and returns the agent reply.
// The session is mutated in place; the caller owns the copy it passes.
func (o *Orchestrator) Advance(ctx context.Context, s *Session, det DetectionResult, ext ExtractionResult) string {
	o.absorb(s, det, ext)

	if !s.ScamDetected {
		// Nothing scam-like yet. Stay put and act like a confused
		// stranger; no persona is committed.
		s.PhaseTurns++
		return neutralReply
	}

	if s.Phase == PhaseEnded {
		return fallbackReply(PhaseClosing)
	}

	from := s.Phase
	o.advancePhase(s)
	if s.Phase != from {
		if from == PhaseInitialContact {
			o.assignPersona(s)
		}
		o.log.WithFields(logrus.Fields{
			"session_id": s.ID,
			"from":       from,
			"to":         s.Phase,
			"turn":       s.TurnCount,
		}).Info("Phase transition")
	}

	if s.Phase == PhaseEnded {
		o.metrics.RecordSessionEnded(float64(s.Completeness()))
		s.PhaseTurns++
		return endedReply
	}

	reply := o.reply(ctx, s)
	if s.Phase == PhaseClosing {
		s.ClosingTurns++
	}
	s.PhaseTurns++

	if strings.TrimSpace(reply) == "" {
		reply = fallbackReply(s.Phase)
	}
	return reply
}

// absorb folds the turn's analysis into session state. Scam detection
// is sticky, confidence is a high-water mark, and the category locks on
// first resolution so the persona's story stays coherent.
func (o *Orchestrator) absorb(s *Session, det DetectionResult, ext ExtractionResult) {
	s.ScamDetected = s.ScamDetected || det.IsScam
	if det.Confidence > s.Confidence {
		s.Confidence = det.Confidence
	}
	if s.Category == patterns.CategoryUnknown && det.Category != patterns.CategoryUnknown {
		s.Category = det.Category
	}

	s.TriadHistory = append(s.TriadHistory, det.Triad)
	if len(s.TriadHistory) > o.cfg.HistoryWindow {
		s.TriadHistory = s.TriadHistory[len(s.TriadHistory)-o.cfg.HistoryWindow:]
	}

	s.MergeEntities(ext.Entities)
	s.SeenNames = appendUnique(s.SeenNames, ext.Names, 10)
	s.SeenAmounts = appendUnique(s.SeenAmounts, ext.Amounts, 10)
}

// advancePhase applies at most one forward transition per turn.
func (o *Orchestrator) advancePhase(s *Session) {
	switch s.Phase {
	case PhaseInitialContact:
		if s.Confidence >= o.cfg.EngageMinConfidence {
			s.setPhase(PhaseBuildingTrust)
		}
	case PhaseBuildingTrust:
		resolved := s.Category != patterns.CategoryUnknown && s.Confidence >= categoryResolveConfidence
		if s.PhaseTurns >= o.cfg.MinTrustTurns || resolved {
			s.setPhase(PhasePlayingDumb)
		}
	case PhasePlayingDumb:
		if s.PhaseTurns >= o.cfg.MinDumbTurns {
			s.setPhase(PhaseExtractingIntel)
		}
	case PhaseExtractingIntel:
		if s.Completeness() >= o.cfg.CompletenessTarget || s.TurnCount >= o.cfg.MaxTurns {
			s.setPhase(PhaseClosing)
		}
	case PhaseClosing:
		if s.ClosingTurns >= o.cfg.ClosingTurns {
			s.setPhase(PhaseEnded)
		}
	}
}

// assignPersona commits the character on the first exit from
// INITIAL_CONTACT. It never changes afterwards.
func (o *Orchestrator) assignPersona(s *Session) {
	if s.Persona != "" {
		return
	}
	o.mu.Lock()
	s.Persona = personaForCategory(s.Category, o.rng)
	o.mu.Unlock()
	o.log.WithFields(logrus.Fields{
		"session_id": s.ID,
		"persona":    s.Persona,
		"category":   s.Category,
	}).Info("Persona assigned")
}

// reply generates the agent's line for the current phase. A frustrated
// scammer gets one cooperative turn with no fresh ask; otherwise the
// LLM writes the reply when available, with the template pools covering
// every failure.
func (o *Orchestrator) reply(ctx context.Context, s *Session) string {
	if frictionPhase(s.Phase) && showsFrustration(lastScammerLine(s)) {
		o.mu.Lock()
		defer o.mu.Unlock()
		return pickTemplate(o.rng, cooperativePool, lastAgentLine(s))
	}

	if o.llm != nil && s.Phase != PhaseInitialContact {
		if reply, err := o.llmReply(ctx, s); err == nil && strings.TrimSpace(reply) != "" {
			return reply
		} else if err != nil {
			o.metrics.RecordDegraded("orchestrator_llm")
			o.log.WithError(err).WithField("session_id", s.ID).Debug("LLM reply failed, using template")
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	return templateReply(o.rng, s)
}

// llmReply asks the model for an in-character line.
func (o *Orchestrator) llmReply(ctx context.Context, s *Session) (string, error) {
	profile, ok := personaProfiles[s.Persona]
	if !ok {
		profile = personaProfiles[PersonaRetiredProfessional]
	}
	strategy := phaseStrategies[s.Phase]

	var goals []string
	if s.Phase == PhaseExtractingIntel {
		goals = intelGoals(s)
	}

	prompt := buildReplyPrompt(s, profile, strategy, goals)
	return o.llm.CompleteText(ctx, prompt, 0.7)
}

func frictionPhase(p Phase) bool {
	return p == PhaseBuildingTrust || p == PhasePlayingDumb || p == PhaseExtractingIntel
}

// lastScammerLine returns the most recent inbound message.
func lastScammerLine(s *Session) string {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Role == RoleScammer {
			return s.History[i].Text
		}
	}
	return ""
}

// appendUnique appends new values case-insensitively, keeping at most
// limit entries with the oldest dropped first.
func appendUnique(dst, src []string, limit int) []string {
	for _, v := range src {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		dup := false
		for _, have := range dst {
			if strings.EqualFold(have, v) {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, v)
		}
	}
	if limit > 0 && len(dst) > limit {
		dst = dst[len(dst)-limit:]
	}
	return dst
}
