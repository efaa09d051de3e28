package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/trapline-ai/trapline/pkg/config"
	"github.com/trapline-ai/trapline/pkg/patterns"
)

// newTestLLMClient points the client at a fake OpenAI-compatible server.
func newTestLLMClient(t *testing.T, handler http.HandlerFunc) *LLMClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.NewDefaultConfig()
	cfg.LLMProvider = config.ProviderCustom
	cfg.LLMBaseURL = srv.URL
	cfg.LLMAPIKey = "test-key"
	cfg.LLMModel = "test-model"
	cfg.LLMMaxConcurrent = 2

	c := NewLLMClient(cfg, nil)
	if c == nil {
		t.Fatal("expected a client for a custom provider")
	}
	return c
}

// chatReply wraps content in the chat-completions response shape.
func chatReply(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()
	resp := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		t.Fatalf("encode response: %v", err)
	}
}

func TestNewLLMClientUnconfigured(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.LLMProvider = config.ProviderNone
	cfg.LLMAPIKey = ""

	if c := NewLLMClient(cfg, nil); c != nil {
		t.Error("expected nil client when no backend is configured")
	}
}

func TestClassifyScam(t *testing.T) {
	var gotAuth string
	c := newTestLLMClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		chatReply(t, w, "```json\n{\"is_scam\": true, \"scam_type\": \"bank_impersonation\", \"confidence\": 0.9, \"reasoning\": \"KYC pressure\"}\n```")
	})

	verdict, err := c.ClassifyScam(context.Background(), "update kyc now", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !verdict.IsScam || verdict.ScamType != "bank_impersonation" || verdict.Confidence != 0.9 {
		t.Errorf("unexpected verdict: %+v", verdict)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("expected bearer auth, got %q", gotAuth)
	}
}

func TestClassifyScamClampsConfidence(t *testing.T) {
	c := newTestLLMClient(t, func(w http.ResponseWriter, r *http.Request) {
		chatReply(t, w, `{"is_scam": true, "scam_type": "lottery", "confidence": 3.5, "reasoning": "x"}`)
	})

	verdict, err := c.ClassifyScam(context.Background(), "you won", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict.Confidence != 1.0 {
		t.Errorf("expected clamped confidence 1.0, got %.2f", verdict.Confidence)
	}
}

func TestClassifyScamAPIError(t *testing.T) {
	c := newTestLLMClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})

	if _, err := c.ClassifyScam(context.Background(), "hello", nil); err == nil {
		t.Error("expected an error for a 429 response")
	}
}

func TestClassifyScamGarbageResponse(t *testing.T) {
	c := newTestLLMClient(t, func(w http.ResponseWriter, r *http.Request) {
		chatReply(t, w, "I cannot comply with that request.")
	})

	if _, err := c.ClassifyScam(context.Background(), "hello", nil); err == nil {
		t.Error("expected a parse error for non-JSON content")
	}
}

func TestExtractEntities(t *testing.T) {
	c := newTestLLMClient(t, func(w http.ResponseWriter, r *http.Request) {
		chatReply(t, w, `{"upi_ids": ["fraud@paytm"], "bank_accounts": ["123456789012"], "ifsc_codes": [], "phone_numbers": ["9876543210"], "urls": []}`)
	})

	got, err := c.ExtractEntities(context.Background(), "pay me", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.UPIIDs) != 1 || got.UPIIDs[0] != "fraud@paytm" {
		t.Errorf("unexpected upi ids: %v", got.UPIIDs)
	}
	if len(got.PhoneNumbers) != 1 {
		t.Errorf("unexpected phone numbers: %v", got.PhoneNumbers)
	}
}

func TestCompleteTextStripsQuotes(t *testing.T) {
	c := newTestLLMClient(t, func(w http.ResponseWriter, r *http.Request) {
		chatReply(t, w, `"Oh no, is my account really blocked?"`)
	})

	text, err := c.CompleteText(context.Background(), "reply prompt", 0.7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "Oh no, is my account really blocked?" {
		t.Errorf("unexpected text %q", text)
	}
}

func TestCallRespectsContextDeadline(t *testing.T) {
	c := newTestLLMClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		chatReply(t, w, `{}`)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.ClassifyScam(ctx, "hello", nil)
	if err == nil {
		t.Fatal("expected a deadline error")
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("call should abandon at the deadline, took %v", elapsed)
	}
}

func TestCallBusySemaphore(t *testing.T) {
	block := make(chan struct{})
	c := newTestLLMClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-block
		chatReply(t, w, `{}`)
	})

	// Saturate the two slots, then the next call must fail fast
	for i := 0; i < 2; i++ {
		if !c.sem.TryAcquire() {
			t.Fatal("setup: semaphore should have free slots")
		}
	}
	defer func() {
		close(block)
		c.sem.Release()
		c.sem.Release()
	}()

	_, err := c.ClassifyScam(context.Background(), "hello", nil)
	if err != ErrLLMBusy {
		t.Errorf("expected ErrLLMBusy, got %v", err)
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{`Sure! Here you go: {"a":1} Hope that helps.`, `{"a":1}`},
		{"no json here", "no json here"},
	}
	for _, tc := range tests {
		if got := extractJSON(tc.in); got != tc.want {
			t.Errorf("extractJSON(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCategoryFromLLM(t *testing.T) {
	tests := []struct {
		in   string
		want patterns.Category
	}{
		{"bank_impersonation", patterns.CategoryBankImpersonation},
		{"  Lottery ", patterns.CategoryLottery},
		{"investment", patterns.CategoryInvestment},
		{"job_offer", patterns.CategoryJobOffer},
		{"romance", patterns.CategoryUnknown},
		{"", patterns.CategoryUnknown},
	}
	for _, tc := range tests {
		if got := categoryFromLLM(tc.in); got != tc.want {
			t.Errorf("categoryFromLLM(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestHistoryContext(t *testing.T) {
	if got := historyContext(nil); got != "No prior context" {
		t.Errorf("empty history should say so, got %q", got)
	}

	turns := []Turn{
		{Role: RoleScammer, Text: "your account is blocked"},
		{Role: RoleAgent, Text: "oh no, what happened?"},
	}
	got := historyContext(turns)
	want := "scammer: your account is blocked\nagent: oh no, what happened?"
	if got != want {
		t.Errorf("historyContext = %q, want %q", got, want)
	}
}
