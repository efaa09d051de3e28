package agent

// Local scam classification via Hugot/ONNX. This is the ambiguity-band
// second opinion for deployments that cannot send traffic to an LLM
// API: a small fine-tuned text classifier served from a local model
// directory.
//
// Build:
// - Standard: go build (pure Go backend, slower but no dependencies)
// - With ORT: go build -tags ORT (ONNX Runtime, faster)

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/options"
	"github.com/knights-analytics/hugot/pipelines"
	"github.com/sirupsen/logrus"

	"github.com/trapline-ai/trapline/pkg/config"
)

// LocalClassifier wraps a hugot text-classification pipeline over a
// scam/ham model. Disabled by default; enable via config and point at
// a model directory containing model.onnx plus tokenizer files.
type LocalClassifier struct {
	session  *hugot.Session
	pipeline *pipelines.TextClassificationPipeline
	mu       sync.RWMutex
	ready    bool
	log      *logrus.Entry
}

// LocalVerdict is the classifier's opinion on one message.
type LocalVerdict struct {
	IsScam     bool    `json:"is_scam"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	LatencyMs  float64 `json:"latency_ms"`
}

// NewLocalClassifier loads the pipeline, or returns nil, nil when the
// toggle is off. A missing model directory is an error so operators
// notice a broken opt-in instead of silently running rule-only.
func NewLocalClassifier(cfg *config.Config) (*LocalClassifier, error) {
	if !cfg.EnableLocalModel {
		return nil, nil
	}

	modelDir := cfg.LocalModelDir
	if modelDir == "" {
		modelDir = "./models/scam-classifier"
	}
	if _, err := os.Stat(filepath.Join(modelDir, "model.onnx")); err != nil {
		return nil, fmt.Errorf("local model not found at %s: %w", modelDir, err)
	}

	log := logrus.WithField("component", "local_classifier")

	session, backend := newHugotSession(log)
	if session == nil {
		return nil, fmt.Errorf("no usable hugot backend")
	}

	pipeline, err := hugot.NewPipeline(session, hugot.TextClassificationConfig{
		ModelPath: modelDir,
		Name:      "scam-classifier",
	})
	if err != nil {
		_ = session.Destroy()
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	log.WithFields(logrus.Fields{"model": modelDir, "backend": backend}).Info("Local classifier ready")

	return &LocalClassifier{
		session:  session,
		pipeline: pipeline,
		ready:    true,
		log:      log,
	}, nil
}

// newHugotSession tries ONNX Runtime first and falls back to the pure
// Go backend.
func newHugotSession(log *logrus.Entry) (*hugot.Session, string) {
	if libDir := onnxLibraryDir(); libDir != "" {
		session, err := hugot.NewORTSession(options.WithOnnxLibraryPath(libDir))
		if err == nil {
			return session, "onnxruntime"
		}
		log.WithError(err).Debug("ONNX Runtime unavailable, falling back to Go backend")
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		log.WithError(err).Warn("Failed to create Go inference session")
		return nil, ""
	}
	return session, "go"
}

// onnxLibraryDir locates libonnxruntime on the usual paths.
func onnxLibraryDir() string {
	paths := []string{
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/opt/homebrew/lib/libonnxruntime.dylib",
		"/usr/local/lib/libonnxruntime.dylib",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return filepath.Dir(p)
		}
	}
	return ""
}

// scamLabel maps model label conventions onto the scam verdict.
func scamLabel(label string) bool {
	switch label {
	case "scam", "SCAM", "spam", "fraud", "LABEL_1":
		return true
	default:
		return false
	}
}

// IsReady reports whether the pipeline is loaded.
func (lc *LocalClassifier) IsReady() bool {
	if lc == nil {
		return false
	}
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.ready
}

// Classify runs the model on one message.
func (lc *LocalClassifier) Classify(_ context.Context, text string) (*LocalVerdict, error) {
	lc.mu.RLock()
	defer lc.mu.RUnlock()

	if !lc.ready || lc.pipeline == nil {
		return nil, fmt.Errorf("local classifier not ready")
	}

	start := time.Now()
	result, err := lc.pipeline.RunPipeline([]string{text})
	if err != nil {
		return nil, fmt.Errorf("classification failed: %w", err)
	}

	if len(result.ClassificationOutputs) == 0 || len(result.ClassificationOutputs[0]) == 0 {
		return nil, fmt.Errorf("no classification output")
	}

	out := result.ClassificationOutputs[0][0]
	return &LocalVerdict{
		IsScam:     scamLabel(out.Label),
		Label:      out.Label,
		Confidence: float64(out.Score),
		LatencyMs:  float64(time.Since(start).Milliseconds()),
	}, nil
}

// Close releases the inference session.
func (lc *LocalClassifier) Close() error {
	if lc == nil {
		return nil
	}
	lc.mu.Lock()
	defer lc.mu.Unlock()

	lc.ready = false
	if lc.session != nil {
		if err := lc.session.Destroy(); err != nil {
			return fmt.Errorf("failed to destroy session: %w", err)
		}
	}
	return nil
}
