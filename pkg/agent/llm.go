package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/trapline-ai/trapline/pkg/config"
	"github.com/trapline-ai/trapline/pkg/httputil"
	"github.com/trapline-ai/trapline/pkg/patterns"
	"github.com/trapline-ai/trapline/pkg/telemetry"
)

// DefaultTemperature is the LLM temperature for analysis tasks. Low
// values keep classification and extraction deterministic; reply
// generation passes its own higher value.
const DefaultTemperature = 0.1

// ErrLLMBusy is returned when the process-wide concurrency cap on
// outbound LLM calls is exhausted. Callers treat it like a timeout and
// take their degraded path.
var ErrLLMBusy = errors.New("llm concurrency limit reached")

// LLMClient talks to one OpenAI-compatible chat endpoint for all three
// turn tasks: scam classification, entity extraction, and reply
// generation. Every method is bounded by the caller's context and the
// shared concurrency semaphore; any failure is returned as an error for
// the caller's fallback path, never retried.
type LLMClient struct {
	client      *http.Client
	provider    config.LLMProvider
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	sem         *httputil.Semaphore
	metrics     *telemetry.Metrics
	log         *logrus.Entry
}

// LLMVerdict is the typed classification answer.
type LLMVerdict struct {
	IsScam     bool    `json:"is_scam"`
	ScamType   string  `json:"scam_type"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// LLMEntities is the typed extraction answer. Values are revalidated
// against the entity format rules before becoming entities.
type LLMEntities struct {
	UPIIDs       []string `json:"upi_ids"`
	BankAccounts []string `json:"bank_accounts"`
	IFSCCodes    []string `json:"ifsc_codes"`
	PhoneNumbers []string `json:"phone_numbers"`
	URLs         []string `json:"urls"`
	SenderName   string   `json:"sender_identity"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

// providerBaseURL resolves the OpenAI-compatible API root for a
// provider. An explicit TRAPLINE_LLM_BASE_URL always wins.
func providerBaseURL(cfg *config.Config) string {
	if cfg.LLMBaseURL != "" {
		return cfg.LLMBaseURL
	}
	switch cfg.LLMProvider {
	case config.ProviderOllama:
		return "http://localhost:11434/v1" // OpenAI compatible endpoint of Ollama
	case config.ProviderGroq:
		return "https://api.groq.com/openai/v1"
	case config.ProviderOpenRouter:
		return "https://openrouter.ai/api/v1"
	default:
		return "https://api.openai.com/v1"
	}
}

// NewLLMClient builds the shared client, or nil when no usable backend
// is configured. Callers nil-check and run rule-only.
func NewLLMClient(cfg *config.Config, metrics *telemetry.Metrics) *LLMClient {
	if !cfg.LLMConfigured() {
		return nil
	}

	baseURL := providerBaseURL(cfg)

	model := cfg.LLMModel
	if model == "" {
		if cfg.LLMProvider == config.ProviderOllama {
			model = "qwen2.5:7b" // Default local
		} else {
			model = "gpt-4o-mini"
		}
	}

	return &LLMClient{
		client:      httputil.TurnClient(),
		provider:    cfg.LLMProvider,
		baseURL:     baseURL,
		apiKey:      cfg.LLMAPIKey,
		model:       model,
		temperature: DefaultTemperature,
		sem:         httputil.NewSemaphore(cfg.LLMMaxConcurrent),
		metrics:     metrics,
		log:         logrus.WithField("component", "llm"),
	}
}

// ClassifyScam asks the LLM for a second opinion on an ambiguous message.
func (c *LLMClient) ClassifyScam(ctx context.Context, msg string, history []Turn) (*LLMVerdict, error) {
	prompt := fmt.Sprintf(`You are a scam detection specialist. Analyze this message and determine if it is a scam attempt.

Consider:
1. Impersonation (bank, government, courier, lottery)
2. Urgency tactics ("immediately", "within 24 hours", "account will be blocked")
3. Requests for sensitive information (OTP, password, bank details)
4. Suspicious links or payment requests
5. Unusual grammar or spelling for official communication
6. Investment or job-offer bait with guaranteed returns

Message: %q

Conversation context (if any):
%s

Respond ONLY with valid JSON:
{"is_scam": true or false, "scam_type": "bank_impersonation" or "lottery" or "investment" or "job_offer" or "unknown", "confidence": 0.0 to 1.0, "reasoning": "brief explanation"}`,
		msg, historyContext(history))

	raw, err := c.call(ctx, "classify", prompt, c.temperature)
	if err != nil {
		return nil, err
	}

	var verdict LLMVerdict
	if err := json.Unmarshal([]byte(extractJSON(raw)), &verdict); err != nil {
		return nil, fmt.Errorf("parse classification: %w", err)
	}
	if verdict.Confidence < 0 {
		verdict.Confidence = 0
	}
	if verdict.Confidence > 1 {
		verdict.Confidence = 1
	}
	return &verdict, nil
}

// ExtractEntities asks the LLM for identifiers the regex pass may have
// missed (spelled-out digits, split-up handles).
func (c *LLMClient) ExtractEntities(ctx context.Context, msg string, history []Turn) (*LLMEntities, error) {
	prompt := fmt.Sprintf(`Extract financial and contact identifiers from this message.

Message: %q

Conversation context (if any):
%s

Look for:
- UPI IDs (format: name@provider)
- Bank account numbers (9-18 digits, may be spelled out in words or split by spaces)
- IFSC codes (format: ABCD0123456)
- Phone numbers (10 digits, may have +91 or 0 prefix)
- URLs
- The sender's stated name or alias

Respond ONLY with valid JSON (no markdown, no extra text):
{"upi_ids": [], "bank_accounts": [], "ifsc_codes": [], "phone_numbers": [], "urls": [], "sender_identity": ""}

If nothing found for a category, return an empty list or empty string. Be precise; do not guess digits.`,
		msg, historyContext(history))

	raw, err := c.call(ctx, "extract", prompt, c.temperature)
	if err != nil {
		return nil, err
	}

	var entities LLMEntities
	if err := json.Unmarshal([]byte(extractJSON(raw)), &entities); err != nil {
		return nil, fmt.Errorf("parse extraction: %w", err)
	}
	return &entities, nil
}

// CompleteText runs a prepared reply-generation prompt and returns the
// model's text, unquoted and trimmed.
func (c *LLMClient) CompleteText(ctx context.Context, prompt string, temperature float64) (string, error) {
	raw, err := c.call(ctx, "reply", prompt, temperature)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, `"`) && strings.HasSuffix(text, `"`) && len(text) > 1 {
		text = text[1 : len(text)-1]
	}
	return text, nil
}

func (c *LLMClient) call(ctx context.Context, task, prompt string, temperature float64) (string, error) {
	if !c.sem.TryAcquire() {
		c.metrics.RecordLLMRequest(task, "busy", 0)
		return "", ErrLLMBusy
	}
	defer c.sem.Release()

	start := time.Now()
	content, err := c.chatCompletion(ctx, chatRequest{
		Model:       c.model,
		Messages:    []message{{Role: "user", Content: prompt}},
		Temperature: temperature,
	})
	elapsed := time.Since(start)

	if err != nil {
		c.metrics.RecordLLMRequest(task, "error", elapsed.Seconds())
		c.log.WithError(err).WithField("task", task).Debug("llm call failed")
		return "", err
	}
	c.metrics.RecordLLMRequest(task, "ok", elapsed.Seconds())
	return content, nil
}

func (c *LLMClient) chatCompletion(ctx context.Context, reqBody chatRequest) (string, error) {
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	// Handle trailing slash in baseURL just in case
	endpoint := strings.TrimRight(c.baseURL, "/") + "/chat/completions"

	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", err
	}

	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer httputil.DrainAndClose(resp.Body)

	body, err := httputil.ReadResponseBody(resp.Body, 0)
	if err != nil {
		return "", err
	}

	if resp.StatusCode != 200 {
		return "", fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	var result chatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("unmarshal error: %w", err)
	}

	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}

	return result.Choices[0].Message.Content, nil
}

// extractJSON strips markdown fences and prose around a JSON object.
func extractJSON(content string) string {
	clean := strings.TrimSpace(content)
	if start := strings.Index(clean, "{"); start != -1 {
		clean = clean[start:]
	}
	if end := strings.LastIndex(clean, "}"); end != -1 {
		clean = clean[:end+1]
	}
	return clean
}

// historyContext formats recent turns for an LLM prompt.
func historyContext(history []Turn) string {
	if len(history) == 0 {
		return "No prior context"
	}
	lines := make([]string, 0, len(history))
	for _, t := range history {
		lines = append(lines, t.Role+": "+t.Text)
	}
	return strings.Join(lines, "\n")
}

// categoryFromLLM maps a free-text scam type onto the category enum,
// defaulting to unknown rather than trusting novel labels.
func categoryFromLLM(s string) patterns.Category {
	switch patterns.Category(strings.ToLower(strings.TrimSpace(s))) {
	case patterns.CategoryBankImpersonation:
		return patterns.CategoryBankImpersonation
	case patterns.CategoryLottery:
		return patterns.CategoryLottery
	case patterns.CategoryInvestment:
		return patterns.CategoryInvestment
	case patterns.CategoryJobOffer:
		return patterns.CategoryJobOffer
	default:
		return patterns.CategoryUnknown
	}
}
