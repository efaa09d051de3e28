package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/trapline-ai/trapline/pkg/agent"
	"github.com/trapline-ai/trapline/pkg/archive"
	"github.com/trapline-ai/trapline/pkg/config"
	"github.com/trapline-ai/trapline/pkg/patterns"
	"github.com/trapline-ai/trapline/pkg/telemetry"
)

const Version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		port := ""
		if len(os.Args) > 2 {
			port = os.Args[2]
		}
		runServer(port)
	case "scan":
		if len(os.Args) < 3 {
			fmt.Println("Usage: trapline scan <text>")
			os.Exit(1)
		}
		runScan(strings.Join(os.Args[2:], " "))
	case "version":
		fmt.Printf("Trapline v%s\n", Version)
		fmt.Println("Anti-Scam Honeypot Engagement Engine")
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf("Trapline v%s - Anti-Scam Honeypot Engagement Engine\n\n", Version)
	fmt.Println("Usage:")
	fmt.Println("  trapline serve [port]   Start the HTTP front door (default: 8080)")
	fmt.Println("  trapline scan <text>    Run detection and extraction on one message")
	fmt.Println("  trapline version        Show version")
	fmt.Println("")
	fmt.Println("Examples:")
	fmt.Println("  trapline serve 8080")
	fmt.Println("  trapline scan \"Your account will be blocked. Pay to verify@paytm now\"")
	fmt.Println("")
	fmt.Println("Environment Variables:")
	fmt.Println("  TRAPLINE_LLM_API_KEY       API key enabling LLM-backed analysis and replies")
	fmt.Println("  TRAPLINE_LLM_PROVIDER      openai, openrouter, groq, ollama or custom")
	fmt.Println("  TRAPLINE_REDIS_URL         Redis session store (falls back to memory)")
	fmt.Println("  TRAPLINE_ARCHIVE_DSN       Postgres intelligence archive (optional)")
	fmt.Println("  TRAPLINE_SEMANTIC_ENABLED  Scam-script similarity layer (needs embeddings)")
	fmt.Println("  TRAPLINE_PATTERNS_FILE     YAML override for the built-in pattern tables")
}

func setupLogging(cfg *config.Config) {
	if cfg.LogJSON {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

// buildRegistry loads the optional YAML pattern override, falling back
// to the built-in tables on any failure.
func buildRegistry(cfg *config.Config, log *logrus.Entry) *patterns.Registry {
	if cfg.PatternsFile == "" {
		return patterns.Get()
	}
	tables, err := patterns.Load(cfg.PatternsFile)
	if err != nil {
		log.WithError(err).Warn("○ Pattern override rejected, using built-in tables")
		return patterns.Get()
	}
	registry, err := patterns.NewRegistry(tables)
	if err != nil {
		log.WithError(err).Warn("○ Pattern override rejected, using built-in tables")
		return patterns.Get()
	}
	log.WithField("path", cfg.PatternsFile).Info("✓ Pattern tables loaded from file")
	return registry
}

// buildStore prefers Redis when configured and falls back to the
// in-memory store if the ping fails.
func buildStore(cfg *config.Config, log *logrus.Entry) agent.SessionStore {
	if cfg.RedisURL != "" {
		store, err := agent.NewRedisStore(cfg.RedisURL, cfg.SessionTTL)
		if err == nil {
			log.Info("✓ Redis session store connected")
			return store
		}
		log.WithError(err).Warn("○ Redis unreachable, using in-memory session store")
	}
	return agent.NewMemoryStore(agent.WithMaxAge(cfg.SessionTTL))
}

// buildScripts seeds the scam-script similarity index when enabled.
func buildScripts(cfg *config.Config, log *logrus.Entry) *agent.ScriptIndex {
	if !cfg.SemanticEnabled {
		return nil
	}
	embedder, err := agent.NewOpenAIEmbedder(cfg)
	if err != nil {
		log.WithError(err).Warn("○ Semantic layer disabled (no embeddings endpoint)")
		return nil
	}
	scripts, err := agent.NewScriptIndex(embedder)
	if err != nil {
		log.WithError(err).Warn("○ Semantic layer disabled (index init failed)")
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	if err := scripts.Seed(ctx); err != nil {
		log.WithError(err).Warn("○ Semantic layer disabled (script seeding failed)")
		return nil
	}
	log.Info("✓ Semantic script similarity enabled (chromem-go)")
	return scripts
}

type statser interface {
	Stats() agent.StoreStats
}

func runServer(port string) {
	cfg := config.NewDefaultConfig()
	setupLogging(cfg)
	cfg.MustValidate()
	log := logrus.WithField("component", "main")

	addr := cfg.Addr
	if port != "" {
		addr = ":" + port
	}

	metrics := telemetry.NewMetrics()
	registry := buildRegistry(cfg, log)
	store := buildStore(cfg, log)
	defer store.Close()

	llm := agent.NewLLMClient(cfg, metrics)
	if llm != nil {
		log.WithField("provider", cfg.LLMProvider).Info("✓ LLM client enabled")
	} else {
		log.Info("○ LLM client disabled (no API key), rule-only analysis with template replies")
	}

	scripts := buildScripts(cfg, log)

	local, err := agent.NewLocalClassifier(cfg)
	if err != nil {
		log.WithError(err).Warn("○ Local classifier disabled (model load failed)")
	} else if local != nil {
		log.Info("✓ Local classifier enabled (hugot)")
		defer local.Close()
	}

	var archiver *archive.Archiver
	if cfg.ArchiveDSN != "" {
		archiver, err = archive.New(context.Background(), cfg.ArchiveDSN)
		if err != nil {
			log.WithError(err).Warn("○ Intelligence archive disabled")
			archiver = nil
		} else {
			log.Info("✓ Intelligence archive connected")
			defer archiver.Close()
		}
	}

	detector := agent.NewDetector(cfg, registry, llm, scripts, local, metrics)
	extractor := agent.NewExtractor(registry, llm, metrics)
	orchestrator := agent.NewOrchestrator(cfg, llm, metrics)

	opts := []agent.PipelineOption{}
	if archiver != nil {
		opts = append(opts, agent.WithArchiver(archiver))
	}
	pipeline := agent.NewPipeline(cfg, store, detector, extractor, orchestrator, metrics, opts...)

	// Keep the active-session gauge roughly current.
	if st, ok := store.(statser); ok {
		go func() {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for range ticker.C {
				metrics.SetActiveSessions(st.Stats().SessionCount)
			}
		}()
	}

	start := time.Now()
	app := fiber.New(fiber.Config{
		AppName:   "Trapline",
		BodyLimit: 64 * 1024,
	})

	reqLog := logrus.WithField("component", "http")
	app.Use(func(c fiber.Ctx) error {
		if c.Path() == "/metrics" || c.Path() == "/health" {
			return c.Next()
		}
		began := time.Now()
		err := c.Next()
		reqLog.WithFields(logrus.Fields{
			"method":     c.Method(),
			"path":       c.Path(),
			"status":     c.Response().StatusCode(),
			"latency_ms": time.Since(began).Milliseconds(),
		}).Info("Request")
		return err
	})

	app.Post("/message-event", func(c fiber.Ctx) error {
		var req agent.TurnRequest
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
		}
		resp, err := pipeline.ProcessTurn(c.Context(), req)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(resp)
	})

	app.Get("/health", func(c fiber.Ctx) error {
		health := fiber.Map{
			"status":         "ok",
			"version":        Version,
			"uptime_seconds": int(time.Since(start).Seconds()),
			"llm_configured": llm != nil,
			"semantic_ready": scripts.IsReady(),
			"local_model":    local.IsReady(),
			"archive":        archiver != nil,
		}
		if st, ok := store.(statser); ok {
			stats := st.Stats()
			health["store"] = stats.Backend
			health["active_sessions"] = stats.SessionCount
		}
		return c.JSON(health)
	})

	app.Get("/session/:id", func(c fiber.Ctx) error {
		id := c.Params("id")
		if !agent.ValidSessionID(id) {
			return c.Status(400).JSON(fiber.Map{"error": "invalid session id"})
		}
		session, err := store.Get(c.Context(), id)
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": "session store unavailable"})
		}
		if session == nil {
			return c.Status(404).JSON(fiber.Map{"error": "session not found"})
		}
		return c.JSON(fiber.Map{
			"session":      session,
			"intelligence": session.Intelligence(),
			"completeness": session.Completeness(),
			"threat_level": session.ThreatLevel(),
		})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	log.WithField("addr", addr).Info("Trapline listening")
	if err := app.Listen(addr); err != nil {
		log.WithError(err).Fatal("Server stopped")
	}
}

// scanReport is the one-shot CLI output.
type scanReport struct {
	Message    string            `json:"message"`
	IsScam     bool              `json:"is_scam"`
	Confidence float64           `json:"confidence"`
	Category   patterns.Category `json:"category"`
	Triad      patterns.Scores   `json:"triad"`
	Indicators []string          `json:"indicators,omitempty"`
	Reasoning  string            `json:"reasoning,omitempty"`
	Degraded   bool              `json:"degraded,omitempty"`
	Entities   []agent.Entity    `json:"entities,omitempty"`
	Amounts    []string          `json:"amounts,omitempty"`
	Names      []string          `json:"names,omitempty"`
	LatencyMs  int64             `json:"latency_ms"`
}

// runScan analyzes one message and prints the result. No server, no
// session store; what the tables and the configured LLM see is what
// you get.
func runScan(text string) {
	cfg := config.NewDefaultConfig()
	setupLogging(cfg)
	log := logrus.WithField("component", "scan")

	metrics := telemetry.NewMetrics()
	registry := buildRegistry(cfg, log)
	llm := agent.NewLLMClient(cfg, metrics)
	local, err := agent.NewLocalClassifier(cfg)
	if err != nil {
		log.WithError(err).Warn("○ Local classifier disabled")
	}

	detector := agent.NewDetector(cfg, registry, llm, nil, local, metrics)
	extractor := agent.NewExtractor(registry, llm, metrics)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.TurnBudget())
	defer cancel()

	began := time.Now()
	message := patterns.NormalizeMessage(text, cfg.MaxMessageLength)
	det := detector.Detect(ctx, message, nil)
	ext := extractor.Extract(ctx, message, nil, nil)

	report := scanReport{
		Message:    message,
		IsScam:     det.IsScam,
		Confidence: det.Confidence,
		Category:   det.Category,
		Triad:      det.Triad,
		Indicators: det.Indicators,
		Reasoning:  det.Reasoning,
		Degraded:   det.Degraded || ext.Degraded,
		Entities:   ext.Entities,
		Amounts:    ext.Amounts,
		Names:      ext.Names,
		LatencyMs:  time.Since(began).Milliseconds(),
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.WithError(err).Fatal("Encoding scan report")
	}
	fmt.Println(string(out))
}
