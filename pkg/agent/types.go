// Package agent implements the per-turn engagement core: scam detection,
// intelligence extraction, and the conversation orchestrator that keeps a
// suspected scammer talking while identifiers are collected. The turn
// pipeline fans detection and extraction out concurrently, joins them
// under a latency budget, and always produces a reply, degrading to
// rule-only analysis and template replies when the LLM is slow or absent.
package agent

import (
	"regexp"
	"time"

	"github.com/trapline-ai/trapline/pkg/patterns"
)

// Conversation roles recorded in session history.
const (
	RoleScammer = "scammer"
	RoleAgent   = "agent"
)

// Entity sources, in descending trust order.
const (
	SourceRegex = "regex"
	SourceLLM   = "llm"
)

// Fixed per-source confidence for extracted entities.
const (
	RegexConfidence = 0.95
	LLMConfidence   = 0.6
)

// Phase is a stage in the per-session engagement state machine. Phases
// only move forward; EXTRACTING_INTEL may repeat, ENDED is terminal.
type Phase string

const (
	PhaseInitialContact  Phase = "initial_contact"
	PhaseBuildingTrust   Phase = "building_trust"
	PhasePlayingDumb     Phase = "playing_dumb"
	PhaseExtractingIntel Phase = "extracting_intel"
	PhaseClosing         Phase = "closing"
	PhaseEnded           Phase = "ended"
)

var phaseOrder = map[Phase]int{
	PhaseInitialContact:  0,
	PhaseBuildingTrust:   1,
	PhasePlayingDumb:     2,
	PhaseExtractingIntel: 3,
	PhaseClosing:         4,
	PhaseEnded:           5,
}

func phaseRank(p Phase) int {
	if r, ok := phaseOrder[p]; ok {
		return r
	}
	return 0
}

// Persona is a fixed behavioral profile the agent holds for one session.
type Persona string

const (
	PersonaRetiredProfessional Persona = "retired_professional"
	PersonaBusinessOwner       Persona = "business_owner"
	PersonaAnxiousProfessional Persona = "anxious_professional"
)

// AllPersonas is used for the randomized fallback when no category maps.
var AllPersonas = []Persona{
	PersonaRetiredProfessional,
	PersonaBusinessOwner,
	PersonaAnxiousProfessional,
}

// Turn is one message in the conversation history.
type Turn struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Entity is one structured piece of extracted intelligence. Immutable
// once created; sessions merge entities by (type, normalized value),
// keeping the highest-confidence source.
type Entity struct {
	Type       patterns.EntityType `json:"type"`
	Raw        string              `json:"raw_value"`
	Normalized string              `json:"normalized_value"`
	Source     string              `json:"source"`
	Confidence float64             `json:"confidence"`
	Provider   string              `json:"provider,omitempty"`
}

// Key is the dedupe identity of an entity.
func (e Entity) Key() string {
	return string(e.Type) + ":" + e.Normalized
}

// DetectionResult is the per-turn verdict from the detection engine.
type DetectionResult struct {
	IsScam     bool              `json:"is_scam"`
	Confidence float64           `json:"confidence"`
	Category   patterns.Category `json:"category"`
	Triad      patterns.Scores   `json:"triad"`
	Indicators []string          `json:"indicators,omitempty"`
	Reasoning  string            `json:"reasoning,omitempty"`
	Degraded   bool              `json:"degraded,omitempty"`
}

// completenessWeights score distinct collected entity types; the capped
// sum is the session's completeness, the orchestrator's exit signal.
var completenessWeights = map[patterns.EntityType]int{
	patterns.EntityUPI:         30,
	patterns.EntityBankAccount: 30,
	patterns.EntityPhone:       15,
	patterns.EntityIFSC:        15,
	patterns.EntityURL:         10,
}

// Session is the full engagement state for one scammer conversation.
// Owned by the turn pipeline for the duration of one call and persisted
// atomically between calls.
type Session struct {
	ID           string            `json:"session_id"`
	Phase        Phase             `json:"phase"`
	Persona      Persona           `json:"persona,omitempty"`
	Category     patterns.Category `json:"category"`
	TurnCount    int               `json:"turn_count"`
	PhaseTurns   int               `json:"phase_turns"`
	ClosingTurns int               `json:"closing_turns"`
	ScamDetected bool              `json:"scam_detected"`
	Confidence   float64           `json:"confidence"`
	History      []Turn            `json:"history,omitempty"`
	TriadHistory []patterns.Scores `json:"triad_history,omitempty"`
	Intel        []Entity          `json:"intel,omitempty"`
	SeenNames    []string          `json:"seen_names,omitempty"`
	SeenAmounts  []string          `json:"seen_amounts,omitempty"`
	LastDegraded bool              `json:"last_degraded,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	LastActiveAt time.Time         `json:"last_active_at"`
}

// NewSession initializes a fresh session in INITIAL_CONTACT.
func NewSession(id string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:           id,
		Phase:        PhaseInitialContact,
		Category:     patterns.CategoryUnknown,
		CreatedAt:    now,
		LastActiveAt: now,
	}
}

// AppendTurn records a message in history, keeping at most window turns.
func (s *Session) AppendTurn(role, text string, window int) {
	s.History = append(s.History, Turn{Role: role, Text: text, At: time.Now().UTC()})
	if window > 0 && len(s.History) > window {
		s.History = s.History[len(s.History)-window:]
	}
}

// RecentHistory returns up to n of the latest turns, oldest first.
func (s *Session) RecentHistory(n int) []Turn {
	if n <= 0 || len(s.History) <= n {
		return s.History
	}
	return s.History[len(s.History)-n:]
}

// MergeEntities folds newly extracted entities into the session by
// (type, normalized value), keeping the highest-confidence duplicate.
// Returns how many were genuinely new.
func (s *Session) MergeEntities(entities []Entity) int {
	added := 0
	for _, e := range entities {
		idx := -1
		for i, have := range s.Intel {
			if have.Key() == e.Key() {
				idx = i
				break
			}
		}
		if idx == -1 {
			s.Intel = append(s.Intel, e)
			added++
		} else if e.Confidence > s.Intel[idx].Confidence {
			s.Intel[idx] = e
		}
	}
	return added
}

// HasEntity reports whether the session already holds this exact entity.
func (s *Session) HasEntity(e Entity) bool {
	for _, have := range s.Intel {
		if have.Key() == e.Key() {
			return true
		}
	}
	return false
}

// HasEntityType reports whether any entity of the given type was collected.
func (s *Session) HasEntityType(t patterns.EntityType) bool {
	for _, e := range s.Intel {
		if e.Type == t {
			return true
		}
	}
	return false
}

// EntityValues returns the normalized values of one entity type.
func (s *Session) EntityValues(t patterns.EntityType) []string {
	var values []string
	for _, e := range s.Intel {
		if e.Type == t {
			values = append(values, e.Normalized)
		}
	}
	return values
}

// Completeness is the weighted coverage over distinct collected entity
// types, capped at 100.
func (s *Session) Completeness() int {
	score := 0
	seen := make(map[patterns.EntityType]bool, len(completenessWeights))
	for _, e := range s.Intel {
		if !seen[e.Type] {
			seen[e.Type] = true
			score += completenessWeights[e.Type]
		}
	}
	if score > 100 {
		return 100
	}
	return score
}

// IntelTypeCount returns how many distinct entity types were collected.
func (s *Session) IntelTypeCount() int {
	seen := make(map[patterns.EntityType]bool, len(completenessWeights))
	for _, e := range s.Intel {
		seen[e.Type] = true
	}
	return len(seen)
}

// setPhase moves the state machine forward. Backward transitions are
// ignored; entering a new phase resets the per-phase turn counter.
func (s *Session) setPhase(p Phase) bool {
	if phaseRank(p) <= phaseRank(s.Phase) {
		return false
	}
	s.Phase = p
	s.PhaseTurns = 0
	return true
}

// Clone returns a deep copy so a stored session cannot be mutated
// through a previously returned pointer.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	dup := *s
	dup.History = append([]Turn(nil), s.History...)
	dup.TriadHistory = append([]patterns.Scores(nil), s.TriadHistory...)
	dup.Intel = append([]Entity(nil), s.Intel...)
	dup.SeenNames = append([]string(nil), s.SeenNames...)
	dup.SeenAmounts = append([]string(nil), s.SeenAmounts...)
	return &dup
}

// Intelligence groups collected identifiers for the outbound payload.
type Intelligence struct {
	UPIIDs       []string `json:"upi_ids"`
	BankAccounts []string `json:"bank_accounts"`
	URLs         []string `json:"urls"`
	PhoneNumbers []string `json:"phone_numbers"`
}

// Intelligence builds the outbound identifier groups from session intel.
func (s *Session) Intelligence() Intelligence {
	return Intelligence{
		UPIIDs:       s.EntityValues(patterns.EntityUPI),
		BankAccounts: s.EntityValues(patterns.EntityBankAccount),
		URLs:         s.EntityValues(patterns.EntityURL),
		PhoneNumbers: s.EntityValues(patterns.EntityPhone),
	}
}

// TurnRequest is the inbound per-turn payload.
type TurnRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// Metadata is the diagnostic block of the outbound payload.
type Metadata struct {
	Phase       Phase             `json:"phase"`
	Persona     Persona           `json:"persona,omitempty"`
	TurnCount   int               `json:"turn_count"`
	ScamType    patterns.Category `json:"scam_type"`
	Confidence  float64           `json:"confidence"`
	LatencyMs   int64             `json:"latency_ms"`
	Degraded    bool              `json:"degraded"`
	ThreatLevel string            `json:"threat_level"`
	Indicators  []string          `json:"detected_indicators,omitempty"`
}

// TurnResponse is the outbound per-turn payload.
type TurnResponse struct {
	SessionID    string       `json:"session_id"`
	AgentMessage string       `json:"agent_message"`
	Detected     bool         `json:"detected"`
	Intelligence Intelligence `json:"intelligence"`
	Metadata     Metadata     `json:"metadata"`
}

// ThreatLevel grades the session on its current confidence high-water
// mark and intel coverage.
func (s *Session) ThreatLevel() string {
	return threatLevel(s.Confidence, s.IntelTypeCount())
}

// threatLevel grades a session for forensic consumers: high for strong
// confidence or broad intel coverage, low for barely-flagged traffic.
func threatLevel(confidence float64, intelTypes int) string {
	switch {
	case confidence >= 0.8 || intelTypes >= 3:
		return "high"
	case confidence >= 0.5 || intelTypes >= 1:
		return "medium"
	default:
		return "low"
	}
}

var sessionIDRe = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)

// ValidSessionID reports whether a caller-supplied session id is usable
// as a store key.
func ValidSessionID(id string) bool {
	return sessionIDRe.MatchString(id)
}
