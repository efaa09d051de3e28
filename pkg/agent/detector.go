package agent

import (
	"context"
	"math"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/trapline-ai/trapline/pkg/config"
	"github.com/trapline-ai/trapline/pkg/patterns"
	"github.com/trapline-ai/trapline/pkg/telemetry"
)

// Detector is the hybrid scam detection engine: a deterministic triad
// scan over the pattern registry, an optional similarity boost from the
// script index, and a bounded second opinion (LLM or local model) for
// messages inside the ambiguity band.
//
// Detect never fails. Every internal error collapses to a rule-only
// result with the degraded flag set.
type Detector struct {
	registry *patterns.Registry
	llm      *LLMClient       // nil → no remote second opinion
	scripts  *ScriptIndex     // nil → no similarity boost
	local    *LocalClassifier // nil → no local second opinion
	cfg      *config.Config
	metrics  *telemetry.Metrics
	log      *logrus.Entry
}

// NewDetector wires the engine. Any of llm, scripts, local may be nil.
func NewDetector(cfg *config.Config, registry *patterns.Registry, llm *LLMClient, scripts *ScriptIndex, local *LocalClassifier, metrics *telemetry.Metrics) *Detector {
	if registry == nil {
		registry = patterns.Get()
	}
	return &Detector{
		registry: registry,
		llm:      llm,
		scripts:  scripts,
		local:    local,
		cfg:      cfg,
		metrics:  metrics,
		log:      logrus.WithField("component", "detector"),
	}
}

// Detect scores one inbound message against the session history.
func (d *Detector) Detect(ctx context.Context, message string, history []Turn) DetectionResult {
	if strings.TrimSpace(message) == "" {
		return DetectionResult{Category: patterns.CategoryUnknown}
	}

	triad := d.registry.Score(message)
	raw := triad.Total()
	category := d.registry.Categorize(message)

	result := DetectionResult{
		Confidence: raw / d.registry.MaxScore(),
		Category:   category,
		Triad:      triad,
		Indicators: triad.Indicators(),
		Reasoning:  "Rule-based detection",
	}

	// Similarity to a known scam script lifts borderline messages that
	// paraphrase around the keyword tables
	if d.scripts != nil && d.scripts.IsReady() {
		if sim, simCategory, ok := d.scripts.BestMatch(ctx, message); ok {
			boost := math.Min(0.15, sim-DefaultScriptSimilarity+0.05)
			result.Confidence = math.Min(1.0, result.Confidence+boost)
			result.Indicators = append(result.Indicators, "known_script_similarity")
			if result.Category == patterns.CategoryUnknown {
				result.Category = simCategory
			}
		}
	}

	// Second opinion only inside the ambiguity band. Clear verdicts on
	// either side never pay for a model call
	if raw >= d.cfg.AmbiguityBandLow && raw <= d.cfg.AmbiguityBandHigh {
		d.secondOpinion(ctx, message, history, &result)
	}

	result.IsScam = result.Confidence >= d.cfg.ScamThreshold

	d.log.WithFields(logrus.Fields{
		"raw_score":  raw,
		"confidence": result.Confidence,
		"category":   result.Category,
		"is_scam":    result.IsScam,
		"degraded":   result.Degraded,
	}).Debug("Detection complete")

	return result
}

// secondOpinion blends a model verdict into the rule confidence. The
// LLM is preferred; the local classifier covers keyless deployments.
// Failure of a configured path keeps the rule result and marks the
// turn degraded.
func (d *Detector) secondOpinion(ctx context.Context, message string, history []Turn, result *DetectionResult) {
	switch {
	case d.llm != nil:
		verdict, err := d.llm.ClassifyScam(ctx, message, history)
		if err != nil {
			result.Degraded = true
			d.metrics.RecordDegraded("detector_llm")
			d.log.WithError(err).Debug("LLM second opinion unavailable")
			return
		}

		scamProb := verdict.Confidence
		if !verdict.IsScam {
			scamProb = 1 - verdict.Confidence
		}
		result.Confidence = d.cfg.RuleWeight*result.Confidence + d.cfg.LLMWeight*scamProb
		if llmCategory := categoryFromLLM(verdict.ScamType); llmCategory != patterns.CategoryUnknown {
			result.Category = llmCategory
		}
		if verdict.Reasoning != "" {
			result.Reasoning = verdict.Reasoning
		} else {
			result.Reasoning = "Hybrid detection"
		}

	case d.local.IsReady():
		verdict, err := d.local.Classify(ctx, message)
		if err != nil {
			result.Degraded = true
			d.metrics.RecordDegraded("detector_local")
			d.log.WithError(err).Debug("Local second opinion unavailable")
			return
		}

		scamProb := verdict.Confidence
		if !verdict.IsScam {
			scamProb = 1 - verdict.Confidence
		}
		result.Confidence = d.cfg.RuleWeight*result.Confidence + d.cfg.LLMWeight*scamProb
		result.Reasoning = "Local model second opinion"
	}
}
