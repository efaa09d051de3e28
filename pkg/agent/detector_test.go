package agent

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/trapline-ai/trapline/pkg/config"
	"github.com/trapline-ai/trapline/pkg/patterns"
)

func newRuleOnlyDetector() *Detector {
	return NewDetector(config.NewOfflineConfig(), nil, nil, nil, nil, nil)
}

func TestDetectCleanMessage(t *testing.T) {
	d := newRuleOnlyDetector()

	result := d.Detect(context.Background(), "Hey! How are you doing today?", nil)

	if result.IsScam {
		t.Error("clean message should not be flagged")
	}
	if result.Confidence != 0 {
		t.Errorf("expected zero confidence, got %.2f", result.Confidence)
	}
	if result.Triad.Total() != 0 {
		t.Errorf("expected zero triad, got %+v", result.Triad)
	}
	if result.Category != patterns.CategoryUnknown {
		t.Errorf("expected unknown category, got %s", result.Category)
	}
	if len(result.Indicators) != 0 {
		t.Errorf("expected no indicators, got %v", result.Indicators)
	}
}

func TestDetectEmptyMessage(t *testing.T) {
	d := newRuleOnlyDetector()

	for _, msg := range []string{"", "   ", "\n\t "} {
		result := d.Detect(context.Background(), msg, nil)
		if result.IsScam || result.Confidence != 0 {
			t.Errorf("empty message %q should yield a zero verdict, got %+v", msg, result)
		}
	}
}

func TestDetectAuthorityPlusUrgency(t *testing.T) {
	d := newRuleOnlyDetector()

	msg := "This is the income tax department. Your account has been blocked. Act now."
	result := d.Detect(context.Background(), msg, nil)

	if !result.IsScam {
		t.Errorf("expected scam verdict, got confidence %.2f", result.Confidence)
	}
	if result.Category != patterns.CategoryBankImpersonation && result.Category != patterns.CategoryUnknown {
		t.Errorf("unexpected category %s", result.Category)
	}
	if result.Triad.Authority == 0 || result.Triad.Urgency == 0 {
		t.Errorf("expected authority and urgency signals, got %+v", result.Triad)
	}
}

func TestDetectBankKYCScenario(t *testing.T) {
	d := newRuleOnlyDetector()

	msg := "Your bank account will be blocked. Update KYC immediately at http://fake-bank.com"
	result := d.Detect(context.Background(), msg, nil)

	if !result.IsScam {
		t.Errorf("expected scam verdict, got confidence %.2f", result.Confidence)
	}
	if result.Category != patterns.CategoryBankImpersonation {
		t.Errorf("expected bank_impersonation, got %s", result.Category)
	}
	if result.Degraded {
		t.Error("rule-only path should not be degraded")
	}
}

func TestDetectCategoryWithoutVerdict(t *testing.T) {
	d := newRuleOnlyDetector()

	// Names a lottery but carries almost no pressure language
	result := d.Detect(context.Background(), "the lottery results come out tomorrow", nil)

	if result.Category != patterns.CategoryLottery {
		t.Errorf("expected lottery category, got %s", result.Category)
	}
	if result.IsScam {
		t.Error("category alone should not flag a message")
	}
}

// borderlineMessage scores exactly 2.0/10 (financial cap), inside the
// default ambiguity band.
const borderlineMessage = "please share your otp and password"

func TestDetectBorderlineBlendsLLM(t *testing.T) {
	var calls int64
	llm := newTestLLMClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		chatReply(t, w, `{"is_scam": true, "scam_type": "lottery", "confidence": 1.0, "reasoning": "credential harvesting"}`)
	})
	d := NewDetector(config.NewOfflineConfig(), nil, llm, nil, nil, nil)

	result := d.Detect(context.Background(), borderlineMessage, nil)

	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Fatalf("expected exactly one LLM call, got %d", got)
	}
	// 0.4*0.2 + 0.6*1.0
	if result.Confidence < 0.67 || result.Confidence > 0.69 {
		t.Errorf("expected blended confidence ~0.68, got %.3f", result.Confidence)
	}
	if !result.IsScam {
		t.Error("blended confidence above threshold should flag")
	}
	if result.Category != patterns.CategoryLottery {
		t.Errorf("LLM category should win when rules found none, got %s", result.Category)
	}
	if result.Reasoning != "credential harvesting" {
		t.Errorf("unexpected reasoning %q", result.Reasoning)
	}
	if result.Degraded {
		t.Error("successful blend should not be degraded")
	}
}

func TestDetectLLMNotScamLowersConfidence(t *testing.T) {
	llm := newTestLLMClient(t, func(w http.ResponseWriter, r *http.Request) {
		chatReply(t, w, `{"is_scam": false, "scam_type": "unknown", "confidence": 0.9, "reasoning": "legitimate OTP warning"}`)
	})
	d := NewDetector(config.NewOfflineConfig(), nil, llm, nil, nil, nil)

	result := d.Detect(context.Background(), borderlineMessage, nil)

	// 0.4*0.2 + 0.6*(1-0.9)
	if result.Confidence < 0.13 || result.Confidence > 0.15 {
		t.Errorf("expected blended confidence ~0.14, got %.3f", result.Confidence)
	}
	if result.IsScam {
		t.Error("a confident LLM all-clear should clear the borderline message")
	}
}

func TestDetectNoLLMCallOutsideBand(t *testing.T) {
	var calls int64
	llm := newTestLLMClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		chatReply(t, w, `{"is_scam": true, "scam_type": "unknown", "confidence": 1.0}`)
	})
	d := NewDetector(config.NewOfflineConfig(), nil, llm, nil, nil, nil)

	// Below the band
	d.Detect(context.Background(), "Hey! How are you doing today?", nil)
	// Above the band
	d.Detect(context.Background(), "Your bank account will be blocked. Update KYC immediately at http://fake-bank.com", nil)

	if got := atomic.LoadInt64(&calls); got != 0 {
		t.Errorf("clear verdicts must not pay for an LLM call, got %d", got)
	}
}

func TestDetectLLMFailureDegradesGracefully(t *testing.T) {
	llm := newTestLLMClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})
	d := NewDetector(config.NewOfflineConfig(), nil, llm, nil, nil, nil)

	start := time.Now()
	result := d.Detect(context.Background(), borderlineMessage, nil)
	elapsed := time.Since(start)

	if !result.Degraded {
		t.Error("failed second opinion must set the degraded flag")
	}
	if result.Confidence != 0.2 {
		t.Errorf("expected rule-only confidence 0.2, got %.3f", result.Confidence)
	}
	if result.IsScam {
		t.Error("rule-only 0.2 is below the default threshold")
	}
	if elapsed > time.Second {
		t.Errorf("degraded path should return promptly, took %v", elapsed)
	}
}

func TestDetectHistoryPassedThrough(t *testing.T) {
	var sawHistory int64
	llm := newTestLLMClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), "prior turn from the scammer") {
			atomic.AddInt64(&sawHistory, 1)
		}
		chatReply(t, w, `{"is_scam": true, "scam_type": "unknown", "confidence": 0.5}`)
	})
	d := NewDetector(config.NewOfflineConfig(), nil, llm, nil, nil, nil)

	history := []Turn{{Role: RoleScammer, Text: "prior turn from the scammer"}}
	d.Detect(context.Background(), borderlineMessage, history)

	if atomic.LoadInt64(&sawHistory) != 1 {
		t.Error("recent history should reach the LLM prompt")
	}
}

func BenchmarkDetectRuleOnly(b *testing.B) {
	d := newRuleOnlyDetector()
	msg := "Your bank account will be blocked. Update KYC immediately at http://fake-bank.com"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.Detect(context.Background(), msg, nil)
	}
}
