package agent

import (
	"context"
	"testing"

	"github.com/trapline-ai/trapline/pkg/config"
)

func TestScamLabel(t *testing.T) {
	tests := []struct {
		label string
		want  bool
	}{
		{"scam", true},
		{"SCAM", true},
		{"spam", true},
		{"fraud", true},
		{"LABEL_1", true},
		{"ham", false},
		{"benign", false},
		{"LABEL_0", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := scamLabel(tt.label); got != tt.want {
			t.Errorf("scamLabel(%q) = %v, want %v", tt.label, got, tt.want)
		}
	}
}

func TestNewLocalClassifierDisabled(t *testing.T) {
	cfg := config.NewOfflineConfig()
	cfg.EnableLocalModel = false

	lc, err := NewLocalClassifier(cfg)
	if err != nil {
		t.Fatalf("disabled classifier returned error: %v", err)
	}
	if lc != nil {
		t.Error("disabled classifier returned a non-nil instance")
	}
	if lc.IsReady() {
		t.Error("nil classifier claims readiness")
	}
}

func TestNewLocalClassifierMissingModel(t *testing.T) {
	cfg := config.NewOfflineConfig()
	cfg.EnableLocalModel = true
	cfg.LocalModelDir = t.TempDir()

	if _, err := NewLocalClassifier(cfg); err == nil {
		t.Error("expected an error for a model directory without model.onnx")
	}
}

func TestLocalClassifierNotReady(t *testing.T) {
	lc := &LocalClassifier{}
	if lc.IsReady() {
		t.Error("zero-value classifier claims readiness")
	}
	if _, err := lc.Classify(context.Background(), "hello"); err == nil {
		t.Error("expected an error from an unloaded classifier")
	}
	if err := lc.Close(); err != nil {
		t.Errorf("Close on unloaded classifier: %v", err)
	}
}

func TestLocalClassifierNilReceiver(t *testing.T) {
	var lc *LocalClassifier
	if lc.IsReady() {
		t.Error("nil classifier claims readiness")
	}
	if err := lc.Close(); err != nil {
		t.Errorf("Close on nil classifier: %v", err)
	}
}
