package agent

import (
	"context"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/trapline-ai/trapline/pkg/patterns"
	"github.com/trapline-ai/trapline/pkg/telemetry"
)

// ExtractionResult is everything one message yielded: validated new
// entities plus side observations that feed reply parameterization.
type ExtractionResult struct {
	Entities    []Entity
	Amounts     []string // money strings as written ("Rs. 5,000", "₹500")
	Names       []string // names the scammer claimed for themselves
	BankContext string   // bank/wallet named in the message, "" if none
	Degraded    bool     // LLM pass configured but failed
}

// Extractor harvests financial and contact identifiers from scammer
// messages. A regex pass and an LLM pass run concurrently; both feed
// the same per-type validators, so an LLM hallucination that fails
// format checks is discarded. Extract never fails: with no LLM, or a
// failed one, the regex results stand alone.
type Extractor struct {
	registry *patterns.Registry
	llm      *LLMClient // nil → regex only
	metrics  *telemetry.Metrics
	log      *logrus.Entry
}

// NewExtractor wires the extractor. llm may be nil.
func NewExtractor(registry *patterns.Registry, llm *LLMClient, metrics *telemetry.Metrics) *Extractor {
	if registry == nil {
		registry = patterns.Get()
	}
	return &Extractor{
		registry: registry,
		llm:      llm,
		metrics:  metrics,
		log:      logrus.WithField("component", "extractor"),
	}
}

// Extract pulls identifiers from one message. Only entities not in
// already are returned; the same value found by both passes keeps the
// regex version (higher confidence).
func (x *Extractor) Extract(ctx context.Context, message string, history []Turn, already []Entity) ExtractionResult {
	if strings.TrimSpace(message) == "" {
		return ExtractionResult{}
	}

	// LLM pass starts first so it overlaps the regex work
	type llmOutcome struct {
		entities *LLMEntities
		err      error
	}
	var llmCh chan llmOutcome
	if x.llm != nil {
		llmCh = make(chan llmOutcome, 1)
		go func() {
			entities, err := x.llm.ExtractEntities(ctx, message, history)
			llmCh <- llmOutcome{entities, err}
		}()
	}

	seen := make(map[string]Entity)
	var order []string
	add := func(e Entity, ok bool) {
		if !ok {
			return
		}
		key := e.Key()
		if have, dup := seen[key]; dup {
			if e.Confidence > have.Confidence {
				seen[key] = e
			}
			return
		}
		seen[key] = e
		order = append(order, key)
	}

	// Regex pass
	for _, t := range patterns.AllEntityTypes {
		re := x.registry.Entity(t)
		if re == nil {
			continue
		}
		for _, match := range re.FindAllString(message, -1) {
			add(x.validate(t, match, SourceRegex))
		}
	}

	result := ExtractionResult{
		Amounts:     x.registry.Amounts(message),
		BankContext: x.registry.BankContext(message),
	}
	if name := x.registry.SenderName(message); name != "" {
		result.Names = append(result.Names, name)
	}

	// Join the LLM pass; its finds go through the same validators
	if llmCh != nil {
		outcome := <-llmCh
		if outcome.err != nil {
			result.Degraded = true
			x.metrics.RecordDegraded("extractor_llm")
			x.log.WithError(outcome.err).Debug("LLM extraction unavailable")
		} else {
			x.mergeLLM(outcome.entities, add, &result)
		}
	}

	// Drop anything the session already holds
	collected := make(map[string]struct{}, len(already))
	for _, e := range already {
		collected[e.Key()] = struct{}{}
	}
	for _, key := range order {
		if _, dup := collected[key]; dup {
			continue
		}
		e := seen[key]
		result.Entities = append(result.Entities, e)
		x.metrics.RecordEntities(string(e.Type), e.Source, 1)
	}

	return result
}

// mergeLLM feeds LLM finds through the validators with LLM confidence.
func (x *Extractor) mergeLLM(entities *LLMEntities, add func(Entity, bool), result *ExtractionResult) {
	if entities == nil {
		return
	}
	for _, v := range entities.UPIIDs {
		add(x.validate(patterns.EntityUPI, v, SourceLLM))
	}
	for _, v := range entities.BankAccounts {
		add(x.validate(patterns.EntityBankAccount, v, SourceLLM))
	}
	for _, v := range entities.IFSCCodes {
		add(x.validate(patterns.EntityIFSC, v, SourceLLM))
	}
	for _, v := range entities.PhoneNumbers {
		add(x.validate(patterns.EntityPhone, v, SourceLLM))
	}
	for _, v := range entities.URLs {
		add(x.validate(patterns.EntityURL, v, SourceLLM))
	}
	if name := cleanSenderName(entities.SenderName); name != "" {
		result.Names = append(result.Names, name)
	}
}

// validate normalizes a candidate and rejects malformed shapes. The
// same rules apply to both passes, so Entity content never depends on
// which pass found it.
func (x *Extractor) validate(t patterns.EntityType, raw string, source string) (Entity, bool) {
	confidence := RegexConfidence
	if source == SourceLLM {
		confidence = LLMConfidence
	}
	e := Entity{Type: t, Raw: strings.TrimSpace(raw), Source: source, Confidence: confidence}

	switch t {
	case patterns.EntityUPI:
		normalized, provider, ok := normalizeUPI(e.Raw, x.registry)
		if !ok {
			return Entity{}, false
		}
		e.Normalized = normalized
		e.Provider = provider

	case patterns.EntityBankAccount:
		// Space/dash grouping is allowed (the LLM reports split digits)
		v := strings.NewReplacer(" ", "", "-", "").Replace(e.Raw)
		if len(v) < 9 || len(v) > 18 || digitsOnly(v) != v {
			return Entity{}, false
		}
		e.Normalized = v

	case patterns.EntityIFSC:
		code := strings.ToUpper(e.Raw)
		if !ifscRe.MatchString(code) {
			return Entity{}, false
		}
		e.Normalized = code

	case patterns.EntityPhone:
		normalized, ok := normalizePhone(e.Raw)
		if !ok {
			return Entity{}, false
		}
		e.Normalized = normalized

	case patterns.EntityURL:
		trimmed := strings.TrimRight(e.Raw, ".,;:!?'")
		if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
			return Entity{}, false
		}
		if len(trimmed) < len("http://x") {
			return Entity{}, false
		}
		e.Normalized = trimmed

	default:
		return Entity{}, false
	}

	return e, true
}

var (
	upiLocalRe = regexp.MustCompile(`^[a-z0-9._-]+$`)
	ifscRe     = regexp.MustCompile(`^[A-Z]{4}0[A-Z0-9]{6}$`)
)

// normalizeUPI lowercases the handle and checks the provider suffix
// against the whitelist. Emails fail here: gmail.com is not a UPI
// provider.
func normalizeUPI(raw string, registry *patterns.Registry) (normalized, provider string, ok bool) {
	v := strings.ToLower(strings.TrimSpace(raw))
	parts := strings.Split(v, "@")
	if len(parts) != 2 || parts[0] == "" {
		return "", "", false
	}
	if !upiLocalRe.MatchString(parts[0]) {
		return "", "", false
	}
	display, known := registry.UPIProvider(parts[1])
	if !known {
		return "", "", false
	}
	return v, display, true
}

// normalizePhone reduces a candidate to the bare 10-digit mobile
// number: +91 and single leading-zero prefixes dropped, first digit
// must be 6-9.
func normalizePhone(raw string) (string, bool) {
	v := strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(raw))
	v = strings.TrimPrefix(v, "+91")
	if len(v) == 11 && v[0] == '0' {
		v = v[1:]
	}
	if len(v) != 10 || digitsOnly(v) != v {
		return "", false
	}
	if v[0] < '6' || v[0] > '9' {
		return "", false
	}
	return v, true
}

// digitsOnly strips everything but ASCII digits.
func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteByte(byte(r))
		}
	}
	return b.String()
}

// cleanSenderName filters LLM name output down to something printable.
func cleanSenderName(name string) string {
	name = strings.TrimSpace(name)
	switch strings.ToLower(name) {
	case "", "unknown", "null", "none", "n/a":
		return ""
	}
	if len(name) > 60 {
		return ""
	}
	return name
}
