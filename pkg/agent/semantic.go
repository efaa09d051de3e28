package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"github.com/sirupsen/logrus"

	"github.com/trapline-ai/trapline/pkg/config"
	"github.com/trapline-ai/trapline/pkg/httputil"
	"github.com/trapline-ai/trapline/pkg/patterns"
)

// DefaultScriptSimilarity is the cosine similarity floor for a known
// scam script to count as a match.
const DefaultScriptSimilarity = 0.82

// EmbeddingProvider generates vector embeddings for script similarity.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// scamScript is one canonical opener used to seed the vector index.
type scamScript struct {
	Text     string
	Category string
}

// builtinScripts are openers lifted from reported scam transcripts, one
// cluster per category plus hard negatives ("benign") so legitimate
// bank/OTP notices do not earn a boost.
func builtinScripts() []scamScript {
	return []scamScript{
		// bank impersonation
		{"Dear customer, your bank account will be suspended today. Complete KYC verification immediately using the link below.", "bank_impersonation"},
		{"This is a call from your bank verification department. Your debit card has been blocked, share the OTP to reactivate it.", "bank_impersonation"},
		{"RBI alert: suspicious activity detected on your account. Verify your identity within 24 hours or the account will be frozen.", "bank_impersonation"},
		{"Your net banking access will be deactivated tonight. Update your PAN and KYC details now to avoid suspension.", "bank_impersonation"},

		// lottery
		{"Congratulations! Your mobile number has won 25 lakh in our lucky draw. Pay the small processing fee to claim your prize.", "lottery"},
		{"You have been selected as the winner of our anniversary jackpot. Contact the claims officer immediately to receive the amount.", "lottery"},
		{"KBC lottery winner! Your ticket has won Rs 25,00,000. Send your bank details to transfer the prize money.", "lottery"},

		// investment
		{"Join our exclusive trading group and double your money in 30 days. Guaranteed returns with zero risk.", "investment"},
		{"I made 3 lakh last month trading crypto on this platform. Limited slots left, invest today to start earning.", "investment"},
		{"Stock market tip: this share will triple next week. Our premium members have already booked profits.", "investment"},

		// job offer
		{"Work from home and earn 5000 daily. Simple typing job, no experience needed, registration fee only 500.", "job_offer"},
		{"Your resume has been shortlisted for a part time position. Pay the joining fee to confirm your slot.", "job_offer"},
		{"We are hiring! Earn a weekly salary doing online tasks from your phone. Message our HR to get started.", "job_offer"},

		// hard negatives
		{"Hey, are we still meeting for lunch tomorrow?", "benign"},
		{"Your OTP for logging in is 482913. Do not share it with anyone.", "benign"},
		{"Reminder: your electricity bill is due on the 15th. Pay through the official app.", "benign"},
	}
}

// ScriptIndex holds canonical scam-opener scripts in an embedded vector
// store and answers "how close is this message to a known script". It
// is a purely additive signal: any query failure disables the index for
// the rest of the process and detection continues without it.
type ScriptIndex struct {
	db         *chromem.DB
	collection *chromem.Collection
	threshold  float32
	mu         sync.RWMutex
	ready      bool
	disabled   bool
	failOnce   sync.Once
	log        *logrus.Entry
}

// NewScriptIndex creates the index over the given embedding source.
func NewScriptIndex(embedder EmbeddingProvider) (*ScriptIndex, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is nil")
	}

	db := chromem.NewDB()

	embeddingFunc := func(ctx context.Context, text string) ([]float32, error) {
		return embedder.Embed(ctx, text)
	}

	collection, err := db.CreateCollection("scam_scripts", nil, embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}

	return &ScriptIndex{
		db:         db,
		collection: collection,
		threshold:  DefaultScriptSimilarity,
		log:        logrus.WithField("component", "script_index"),
	}, nil
}

// Seed embeds the canonical scripts into the index. Call once at startup.
func (si *ScriptIndex) Seed(ctx context.Context) error {
	si.mu.Lock()
	defer si.mu.Unlock()

	scripts := builtinScripts()
	docs := make([]chromem.Document, len(scripts))
	for i, s := range scripts {
		docs[i] = chromem.Document{
			ID:       fmt.Sprintf("script_%d", i),
			Content:  s.Text,
			Metadata: map[string]string{"category": s.Category},
		}
	}

	// One worker keeps the embedding endpoint's rate limits happy
	if err := si.collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("failed to seed scripts: %w", err)
	}

	si.ready = true
	return nil
}

// IsReady reports whether the index is seeded and still live.
func (si *ScriptIndex) IsReady() bool {
	if si == nil {
		return false
	}
	si.mu.RLock()
	defer si.mu.RUnlock()
	return si.ready && !si.disabled
}

// BestMatch returns the top-hit similarity and its category for a
// message. ok is false when the index is unavailable, the hit is below
// threshold, or the nearest script is a benign hard negative.
func (si *ScriptIndex) BestMatch(ctx context.Context, text string) (float64, patterns.Category, bool) {
	si.mu.RLock()
	live := si.ready && !si.disabled
	si.mu.RUnlock()
	if !live {
		return 0, patterns.CategoryUnknown, false
	}

	// Lowercasing improves embedding similarity on shouty scam text
	results, err := si.collection.Query(ctx, strings.ToLower(text), 1, nil, nil)
	if err != nil {
		si.disable(err)
		return 0, patterns.CategoryUnknown, false
	}
	if len(results) == 0 {
		return 0, patterns.CategoryUnknown, false
	}

	best := results[0]
	if best.Similarity < si.threshold || best.Metadata["category"] == "benign" {
		return 0, patterns.CategoryUnknown, false
	}
	return float64(best.Similarity), categoryFromLLM(best.Metadata["category"]), true
}

// disable turns the index off for the process lifetime, logging once.
func (si *ScriptIndex) disable(err error) {
	si.failOnce.Do(func() {
		si.mu.Lock()
		si.disabled = true
		si.mu.Unlock()
		si.log.WithError(err).Warn("Script similarity disabled for this process")
	})
}

// OpenAIEmbedder implements EmbeddingProvider against an
// OpenAI-compatible /embeddings endpoint, sharing the provider base URL
// resolution with the chat client.
type OpenAIEmbedder struct {
	apiKey     string
	baseURL    string
	model      string
	dimension  int
	httpClient *http.Client

	mu          sync.Mutex
	lastRequest time.Time
	minInterval time.Duration
}

// NewOpenAIEmbedder builds an embedder from the service config, or an
// error when the configured provider cannot serve embeddings.
func NewOpenAIEmbedder(cfg *config.Config) (*OpenAIEmbedder, error) {
	if !cfg.LLMConfigured() {
		return nil, fmt.Errorf("no embedding backend configured")
	}

	model := cfg.EmbedModel
	if model == "" {
		model = "text-embedding-3-small"
	}
	dimension := cfg.EmbedDimension
	if dimension <= 0 {
		dimension = 1024
	}

	return &OpenAIEmbedder{
		apiKey:      cfg.LLMAPIKey,
		baseURL:     providerBaseURL(cfg),
		model:       model,
		dimension:   dimension,
		httpClient:  httputil.ControlClient(),
		minInterval: 50 * time.Millisecond, // max 20 req/sec
	}, nil
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed generates an embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	if elapsed := time.Since(e.lastRequest); elapsed < e.minInterval {
		time.Sleep(e.minInterval - elapsed)
	}
	e.lastRequest = time.Now()
	e.mu.Unlock()

	reqBytes, err := json.Marshal(embeddingRequest{
		Model:      e.model,
		Input:      []string{text},
		Dimensions: e.dimension,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", strings.TrimRight(e.baseURL, "/")+"/embeddings", bytes.NewBuffer(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer httputil.DrainAndClose(resp.Body)

	body, err := httputil.ReadResponseBody(resp.Body, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding API error (status %d): %s", resp.StatusCode, string(body))
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(embResp.Data) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}

	raw := embResp.Data[0].Embedding
	embedding := make([]float32, len(raw))
	for i, v := range raw {
		embedding[i] = float32(v)
	}
	return embedding, nil
}

// Dimension returns the embedding dimension.
func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}
