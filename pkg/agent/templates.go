package agent

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/trapline-ai/trapline/pkg/patterns"
)

// personaProfile is one honeypot character. The profile text feeds both
// the reply prompt and the tone of the canned template pools.
type personaProfile struct {
	Name        string
	Description string
	SpeechStyle string
	Traits      []string
}

var personaProfiles = map[Persona]personaProfile{
	PersonaRetiredProfessional: {
		Name:        "Retired Professional (65+)",
		Description: "A retired person who is not tech-savvy, trusting, and has savings. Polite and slightly confused by technology.",
		SpeechStyle: "Polite, uses simple language, asks for clarification often. Example: 'Can you help me understand what I need to do?'",
		Traits:      []string{"not tech-savvy", "trusting", "has money", "polite", "cautious but cooperative"},
	},
	PersonaBusinessOwner: {
		Name:        "Small Business Owner",
		Description: "A busy entrepreneur who is stressed and wants to resolve issues quickly. Sometimes distracted.",
		SpeechStyle: "Slightly rushed, direct questions, mentions being busy. Example: 'I'm in a meeting but this sounds urgent. What do I need to do?'",
		Traits:      []string{"busy", "stressed", "wants quick resolution", "moderate tech knowledge"},
	},
	PersonaAnxiousProfessional: {
		Name:        "Young Professional (Anxious)",
		Description: "A young professional who is worried about their money and job. Anxious and asks many questions.",
		SpeechStyle: "Anxious tone, many questions, types fast with occasional typos. Example: 'Wait, what?! Is my money safe? What happened?'",
		Traits:      []string{"worried", "asks lots of questions", "somewhat tech-savvy", "emotional"},
	},
}

// categoryPersonas fixes which character answers which scam script.
// Unknown category draws at random.
var categoryPersonas = map[patterns.Category]Persona{
	patterns.CategoryBankImpersonation: PersonaAnxiousProfessional,
	patterns.CategoryLottery:           PersonaRetiredProfessional,
	patterns.CategoryInvestment:        PersonaBusinessOwner,
	patterns.CategoryJobOffer:          PersonaBusinessOwner,
}

func personaForCategory(cat patterns.Category, rng *rand.Rand) Persona {
	if p, ok := categoryPersonas[cat]; ok {
		return p
	}
	return AllPersonas[rng.IntN(len(AllPersonas))]
}

// phaseStrategy is the engagement playbook for one phase. Goal and
// Instruction are written for the reply prompt; Example anchors tone.
type phaseStrategy struct {
	Goal        string
	Instruction string
	Example     string
}

var phaseStrategies = map[Phase]phaseStrategy{
	PhaseInitialContact: {
		Goal:        "Appear like a normal person responding to an unexpected message",
		Instruction: "Respond neutrally with slight curiosity. Don't reveal suspicion.",
		Example:     "Hello, who is this?",
	},
	PhaseBuildingTrust: {
		Goal:        "Appear vulnerable and concerned",
		Instruction: "Express concern about the situation. Ask basic questions. Show willingness to resolve the issue but don't take action yet.",
		Example:     "Oh no, is my account really blocked? What happened?",
	},
	PhasePlayingDumb: {
		Goal:        "Increase engagement through confusion and friction",
		Instruction: "Ask for clarification. Express technical difficulties. Make the scammer explain things step by step. Waste their time.",
		Example:     "I'm not very good with technology. Can you explain this more simply?",
	},
	PhaseExtractingIntel: {
		Goal:        "Get payment details and contact information",
		Instruction: "Show readiness to pay. Ask for their UPI ID or account number. Request backup payment options and a contact number.",
		Example:     "I'm ready to pay. What's your UPI ID? My app is asking for it.",
	},
	PhaseClosing: {
		Goal:        "End the conversation gracefully without revealing the honeypot",
		Instruction: "Stall or express doubt. Suggest verifying with the bank first. Wind the conversation down.",
		Example:     "Let me call my bank first to verify this.",
	},
}

// fallbackReplies are the canned lines used when reply generation fails
// mid-turn. Keyed by phase so the tone still fits the conversation.
var fallbackReplies = map[Phase]string{
	PhaseInitialContact:  "Hello? Who is this?",
	PhaseBuildingTrust:   "I'm concerned about this. Can you explain what's happening?",
	PhasePlayingDumb:     "Sorry, I didn't quite understand that. Can you explain again?",
	PhaseExtractingIntel: "Okay, I'm ready to do this. What information do you need from me?",
	PhaseClosing:         "Let me think about this and get back to you.",
}

const (
	// genericFallback covers phases with no entry in fallbackReplies.
	genericFallback = "I'm having trouble understanding. Can you repeat that?"

	// neutralReply is what a session that never looked like a scam gets.
	neutralReply = "I'm sorry, I don't understand. Are you trying to reach someone?"
)

func fallbackReply(phase Phase) string {
	if r, ok := fallbackReplies[phase]; ok {
		return r
	}
	return genericFallback
}

// Template pools, one per conversational situation. Selection avoids
// repeating the previous agent line when the pool allows it.

var initialContactPool = []string{
	"Hello, who is this?",
	"Hi, sorry, who am I speaking with?",
	"Hello? I don't think I have this number saved.",
}

var trustPool = map[Persona][]string{
	PersonaRetiredProfessional: {
		"Oh dear, that sounds serious. Can you tell me what happened exactly?",
		"I'm quite worried now. What do I need to do? Please explain slowly.",
		"My goodness. Is my money safe? I've saved for a long time.",
	},
	PersonaBusinessOwner: {
		"I'm in a meeting but this sounds urgent. What exactly is the problem?",
		"Okay, I don't have much time. Tell me what happened and what you need.",
		"This is the last thing I need today. Is my account really affected?",
	},
	PersonaAnxiousProfessional: {
		"Wait, what?! Is my money safe? What happened?",
		"Oh no, oh no. How did this happen? Am I going to lose my salary?",
		"I'm really stressed now. Please tell me exactly what's wrong with the account.",
	},
}

var playingDumbPool = map[Persona][]string{
	PersonaRetiredProfessional: {
		"I'm not very good with technology. Can you explain this step by step?",
		"Sorry, I didn't quite understand. Can you say that again more slowly?",
		"Wait, which button do I press? I'm looking at my phone now but I'm confused.",
		"My grandson usually helps me with these things. Can you walk me through it simply?",
	},
	PersonaBusinessOwner: {
		"Sorry, I was on another call. Which app am I supposed to open again?",
		"Hold on, my phone is acting up. Can you repeat that last part?",
		"I'm a bit confused. Can you walk me through exactly what I need to do?",
		"Wait, the page isn't loading on my end. What should it look like?",
	},
	PersonaAnxiousProfessional: {
		"Wait wait, I'm panicking a little. Which option do I click first?",
		"Sorry, I typed something wrong and it didn't work. Can you explain again?",
		"I'm a bit confused. Can you walk me through exactly what I need to do?",
		"It's showing me some error, I don't understand it. What do I do now?",
	},
}

var upiAskPool = []string{
	"I'm ready to send the payment. What's your UPI ID? I need to type it exactly.",
	"My app is asking for a UPI ID. Can you type it out for me letter by letter?",
	"Okay I understand. What's your UPI ID? And do you have a phone number in case there's a problem?",
	"I have my phone ready. What UPI ID should I send to? Also, what if it doesn't work?",
}

var bankAskPool = []string{
	"My UPI has a daily limit. Can I transfer to your bank account? What's the account number and IFSC?",
	"The UPI isn't working. Do you have a bank account number and IFSC? Also your phone number?",
	"What's your account number and IFSC code? Can you also give me a contact number?",
	"I'll do a bank transfer. What are the details? And do you have a backup account just in case?",
}

var phoneAskPool = []string{
	"What's your phone number? I want to call you if there's any issue.",
	"Can you give me a contact number? Just in case something goes wrong.",
	"Do you have a phone number I can save? My friend told me to always get a contact.",
}

var backupAskPool = []string{
	"What if that payment method doesn't work? Do you have a backup UPI or account?",
	"Just to be safe, can you give me another payment option in case this fails?",
	"My friend told me to always have a backup. Do you have another UPI ID or account number?",
	"Can you also give me your phone number? Just in case I have questions later.",
}

var closingPool = []string{
	"Let me call my bank first to verify this. I'll message you after.",
	"My family member just came home, I'll finish this in a little while.",
	"Something came up, I need to step out. Can we do this later today?",
}

// cooperativePool is used for one turn when the scammer sounds fed up,
// so the session doesn't die to impatience.
var cooperativePool = []string{
	"Okay okay, I'm doing it right now. Just stay with me for a minute.",
	"Sorry for the delay, I'm following your instructions now. What's the next step?",
	"Please don't be upset, I'm trying my best. Tell me once more and I'll do it.",
}

// frustrationMarkers are cheap signals that the scammer is losing
// patience with the friction.
var frustrationMarkers = []string{
	"are you serious",
	"stop wasting",
	"wasting my time",
	"last time",
	"final warning",
	"hurry up",
	"why are you asking",
	"listen to me",
	"do it now",
	"how many times",
	"stupid",
	"idiot",
}

func showsFrustration(text string) bool {
	lower := strings.ToLower(text)
	for _, m := range frustrationMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// intelGap names the next piece of intelligence worth asking for.
type intelGap string

const (
	gapUPI    intelGap = "upi"
	gapBank   intelGap = "bank"
	gapPhone  intelGap = "phone"
	gapURL    intelGap = "url"
	gapBackup intelGap = "backup"
)

// nextIntelGap walks the collection priority: payment rails first,
// contact info second, backups once everything else is in hand.
func nextIntelGap(s *Session) intelGap {
	switch {
	case !s.HasEntityType(patterns.EntityUPI):
		return gapUPI
	case !s.HasEntityType(patterns.EntityBankAccount):
		return gapBank
	case !s.HasEntityType(patterns.EntityPhone):
		return gapPhone
	case !s.HasEntityType(patterns.EntityURL):
		return gapURL
	default:
		return gapBackup
	}
}

func askPoolForGap(gap intelGap) []string {
	switch gap {
	case gapUPI:
		return upiAskPool
	case gapBank:
		return bankAskPool
	case gapPhone:
		return phoneAskPool
	default:
		// No canned ask fishes for URLs; a backup request keeps the
		// scammer volunteering alternatives instead.
		return backupAskPool
	}
}

// intelGoals phrases the open gaps for the reply prompt.
func intelGoals(s *Session) []string {
	var goals []string
	if !s.HasEntityType(patterns.EntityUPI) {
		goals = append(goals, "Get the scammer's UPI ID")
	}
	if !s.HasEntityType(patterns.EntityBankAccount) {
		goals = append(goals, "Get the scammer's bank account number and IFSC code")
	}
	if !s.HasEntityType(patterns.EntityPhone) {
		goals = append(goals, "Get the scammer's phone number")
	}
	if len(goals) == 0 {
		goals = append(goals, "Ask for backup payment options")
	}
	return goals
}

// lastAgentLine returns the agent's previous reply, if any.
func lastAgentLine(s *Session) string {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Role == RoleAgent {
			return s.History[i].Text
		}
	}
	return ""
}

// pickTemplate draws from pool, skipping the line the agent said last
// turn when the pool has an alternative.
func pickTemplate(rng *rand.Rand, pool []string, previous string) string {
	if len(pool) == 0 {
		return ""
	}
	i := rng.IntN(len(pool))
	if pool[i] == previous && len(pool) > 1 {
		i = (i + 1) % len(pool)
	}
	return pool[i]
}

// templateReply produces the canned line for the session's phase. It
// weaves in a name or amount the scammer already used when one exists,
// which reads as attentiveness and tends to keep them talking.
func templateReply(rng *rand.Rand, s *Session) string {
	previous := lastAgentLine(s)
	switch s.Phase {
	case PhaseInitialContact:
		return pickTemplate(rng, initialContactPool, previous)
	case PhaseBuildingTrust:
		pool := trustPool[s.Persona]
		if len(pool) == 0 {
			pool = trustPool[PersonaRetiredProfessional]
		}
		reply := pickTemplate(rng, pool, previous)
		if len(s.SeenNames) > 0 && rng.IntN(2) == 0 {
			reply = fmt.Sprintf("Okay %s, I trust you. %s", s.SeenNames[0], reply)
		}
		return reply
	case PhasePlayingDumb:
		pool := playingDumbPool[s.Persona]
		if len(pool) == 0 {
			pool = playingDumbPool[PersonaRetiredProfessional]
		}
		return pickTemplate(rng, pool, previous)
	case PhaseExtractingIntel:
		reply := pickTemplate(rng, askPoolForGap(nextIntelGap(s)), previous)
		if len(s.SeenAmounts) > 0 && rng.IntN(3) == 0 {
			reply = fmt.Sprintf("You said %s, right? %s", s.SeenAmounts[len(s.SeenAmounts)-1], reply)
		}
		return reply
	case PhaseClosing:
		return pickTemplate(rng, closingPool, previous)
	default:
		return fallbackReply(s.Phase)
	}
}

// buildReplyPrompt assembles the roleplay prompt for LLM reply
// generation. Kept close to the template voice so a model outage does
// not change the agent's apparent personality.
func buildReplyPrompt(s *Session, profile personaProfile, strategy phaseStrategy, goals []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are roleplaying as a potential scam victim to waste a scammer's time and collect intelligence. You are: %s\n\n", profile.Name)
	fmt.Fprintf(&b, "PERSONA: %s\nSPEECH STYLE: %s\n\n", profile.Description, profile.SpeechStyle)
	fmt.Fprintf(&b, "CURRENT PHASE: %s\nYOUR GOAL: %s\n\n", strings.ToUpper(string(s.Phase)), strategy.Goal)

	b.WriteString("CONVERSATION SO FAR:\n")
	recent := s.RecentHistory(5)
	if len(recent) == 0 {
		b.WriteString("(Just starting)\n")
	}
	for _, t := range recent {
		fmt.Fprintf(&b, "%s: %s\n", strings.ToUpper(t.Role), t.Text)
	}

	fmt.Fprintf(&b, "\nWHAT TO DO: %s\n", strategy.Instruction)

	goal := "Continue engaging naturally"
	if len(goals) > 0 {
		goal = strings.Join(goals, "; ")
	}
	fmt.Fprintf(&b, "INTELLIGENCE GOAL: %s\n\n", goal)

	b.WriteString("CRITICAL INSTRUCTIONS:\n")
	b.WriteString("1. Stay in character. Never reveal you are not a real victim.\n")
	b.WriteString("2. Keep the response short, 1-3 sentences, like a real text message.\n")
	if s.Phase == PhaseExtractingIntel {
		b.WriteString("3. Ask for their UPI ID, bank account number with IFSC, or phone number \"in case there's a problem\".\n")
		b.WriteString("4. Show willingness to pay so they share payment details.\n")
		b.WriteString("5. If they already gave one payment method, ask for a backup.\n")
	} else {
		b.WriteString("3. Match the phase goal above.\n")
		b.WriteString("4. Never volunteer real personal or financial information.\n")
		b.WriteString("5. Never break character, even if accused of being a bot.\n")
	}
	b.WriteString("\nGenerate ONLY your next response as this character.")

	return b.String()
}
