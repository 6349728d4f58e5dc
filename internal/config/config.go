// Package config loads layered configuration: defaults, then a TOML file,
// then environment variables (env wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server    ServerConfig    `toml:"server"`
	Qdrant    QdrantConfig    `toml:"qdrant"`
	Pinecone  PineconeConfig  `toml:"pinecone"`
	Search    SearchConfig    `toml:"search"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Retrieval RetrievalConfig `toml:"retrieval"`
	Memory    MemoryConfig    `toml:"memory"`
	Eval      EvalConfig      `toml:"eval"`
	Observer  ObserverConfig  `toml:"observer"`

	// One block per pipeline role. Roles inherit the generator's API key
	// when their own is unset.
	Generator    RoleConfig `toml:"generator"`
	Reranker     RoleConfig `toml:"reranker"`
	Intent       RoleConfig `toml:"intent"`
	Reformulator RoleConfig `toml:"reformulator"`
}

// RoleConfig selects the LLM backend for one pipeline role.
// Provider is "fast", "openai-compatible", or a concrete provider name
// (openai, groq, deepseek, together, mistral, ollama).
type RoleConfig struct {
	Provider    string  `toml:"provider"`
	Model       string  `toml:"model"`
	APIKey      string  `toml:"api_key"`
	BaseURL     string  `toml:"base_url"`
	Temperature float64 `toml:"temperature"`
}

type ServerConfig struct {
	Port           int      `toml:"port"`
	CORSOrigins    []string `toml:"cors_origins"`
	FrontendDomain string   `toml:"frontend_domain"`
	Conversational bool     `toml:"conversational"`
	HistoryTurns   int      `toml:"history_turns"`
}

type QdrantConfig struct {
	URL        string `toml:"url"`
	APIKey     string `toml:"api_key"`
	Collection string `toml:"collection"`
	TLS        bool   `toml:"tls"`
}

type PineconeConfig struct {
	APIKey    string `toml:"api_key"`
	IndexName string `toml:"index_name"`
	Namespace string `toml:"namespace"`
}

type SearchConfig struct {
	BraveAPIKey    string `toml:"brave_api_key"`
	PageEnrichment bool   `toml:"page_enrichment"`
}

type EmbeddingConfig struct {
	Provider   string `toml:"provider"`
	Model      string `toml:"model"`
	Dimensions int    `toml:"dimensions"`
	APIKey     string `toml:"api_key"`
	BaseURL    string `toml:"base_url"`
}

type RetrievalConfig struct {
	Mode         string  `toml:"mode"` // dense | hybrid | managed
	TopK         int     `toml:"top_k"`
	RerankKeep   int     `toml:"rerank_keep"`
	MinScore     float64 `toml:"min_score"`
	WebFallback  bool    `toml:"web_fallback"`
	WebMinCount  int     `toml:"web_min_count"`
	WebMinRerank float64 `toml:"web_min_rerank"`
}

// MemoryConfig picks the conversation store backend.
type MemoryConfig struct {
	Backend        string `toml:"backend"` // memory | sqlite | redis | postgres
	SQLitePath     string `toml:"sqlite_path"`
	RedisAddr      string `toml:"redis_addr"`
	PostgresDSN    string `toml:"postgres_dsn"`
	SessionMinutes int    `toml:"session_minutes"`
}

type EvalConfig struct {
	ParallelWorkers int     `toml:"parallel_workers"`
	ResultsDir      string  `toml:"results_dir"`
	FailThreshold   float64 `toml:"fail_threshold"`
}

type ObserverConfig struct {
	Enabled bool                       `toml:"enabled"`
	Pricing map[string]ObserverPricing `toml:"pricing"`
}

type ObserverPricing struct {
	Input  float64 `toml:"input"`
	Output float64 `toml:"output"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Server: ServerConfig{Port: 8080, HistoryTurns: 5},
		Qdrant: QdrantConfig{URL: "localhost:6334", Collection: "childcare_docs"},
		Embedding: EmbeddingConfig{
			Provider:   "openai",
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
		},
		Retrieval: RetrievalConfig{
			Mode:         "hybrid",
			TopK:         10,
			RerankKeep:   5,
			MinScore:     0.3,
			WebMinCount:  3,
			WebMinRerank: 0.7,
		},
		Memory: MemoryConfig{Backend: "memory", SQLitePath: "bluebonnet.db", SessionMinutes: 30},
		Eval:   EvalConfig{ParallelWorkers: 5, ResultsDir: "results", FailThreshold: 70},
		Search: SearchConfig{PageEnrichment: true},

		Generator:    RoleConfig{Provider: "openai-compatible", Model: "gpt-4o-mini", Temperature: 0.1},
		Reranker:     RoleConfig{Provider: "fast", Model: "llama-3.3-70b-versatile", Temperature: 0.1},
		Intent:       RoleConfig{Provider: "fast", Model: "llama-3.1-8b-instant", Temperature: 0.1},
		Reformulator: RoleConfig{Provider: "fast", Model: "llama-3.1-8b-instant", Temperature: 0.3},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "bluebonnet.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("QDRANT_API_URL"); v != "" {
		cfg.Qdrant.URL = v
	}
	if v := os.Getenv("QDRANT_API_KEY"); v != "" {
		cfg.Qdrant.APIKey = v
	}
	if v := os.Getenv("PINECONE_API_KEY"); v != "" {
		cfg.Pinecone.APIKey = v
	}
	if v := os.Getenv("BRAVE_API_KEY"); v != "" {
		cfg.Search.BraveAPIKey = v
	}
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		cfg.Generator.Provider = v
	}
	if v := os.Getenv("RERANKER_PROVIDER"); v != "" {
		cfg.Reranker.Provider = v
	}
	if v := os.Getenv("INTENT_CLASSIFIER_PROVIDER"); v != "" {
		cfg.Intent.Provider = v
	}
	if v := os.Getenv("RETRIEVAL_MODE"); v != "" {
		cfg.Retrieval.Mode = v
	}
	if v := os.Getenv("CONVERSATIONAL_MODE"); v == "true" || v == "1" {
		cfg.Server.Conversational = true
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = splitAndTrim(v)
	}
	if v := os.Getenv("FRONTEND_URL"); v != "" {
		cfg.Server.FrontendDomain = v
	}
	if v := os.Getenv("PARALLEL_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Eval.ParallelWorkers = n
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Memory.RedisAddr = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Memory.PostgresDSN = v
	}
	if os.Getenv("OBSERVER_ENABLED") == "true" || os.Getenv("OBSERVER_ENABLED") == "1" {
		cfg.Observer.Enabled = true
	}

	// API keys by provider family. OPENAI_API_KEY also serves the embedder.
	openaiKey := os.Getenv("OPENAI_API_KEY")
	groqKey := os.Getenv("GROQ_API_KEY")
	for _, rc := range []*RoleConfig{&cfg.Generator, &cfg.Reranker, &cfg.Intent, &cfg.Reformulator} {
		if rc.APIKey != "" {
			continue
		}
		if key := keyForProvider(rc.Provider, openaiKey, groqKey); key != "" {
			rc.APIKey = key
		}
	}
	if cfg.Embedding.APIKey == "" && openaiKey != "" {
		cfg.Embedding.APIKey = openaiKey
	}

	// Roles inherit the generator's key when still unset.
	for _, rc := range []*RoleConfig{&cfg.Reranker, &cfg.Intent, &cfg.Reformulator} {
		if rc.APIKey == "" {
			rc.APIKey = cfg.Generator.APIKey
		}
	}

	return cfg
}

// keyForProvider maps a provider name to the matching env key.
// "fast" is an alias for groq; "openai-compatible" defaults to openai.
func keyForProvider(provider, openaiKey, groqKey string) string {
	switch provider {
	case "fast", "groq":
		return groqKey
	case "openai", "openai-compatible":
		return openaiKey
	}
	return ""
}

var (
	validProviders = map[string]bool{
		"fast": true, "openai-compatible": true,
		"openai": true, "groq": true, "deepseek": true,
		"together": true, "mistral": true, "ollama": true,
	}
	validRetrievalModes = map[string]bool{"dense": true, "hybrid": true, "managed": true}
	validMemoryBackends = map[string]bool{"memory": true, "sqlite": true, "redis": true, "postgres": true}
)

// Validate checks enumerated values and required combinations. All problems
// are collected and returned as one joined error.
func (c Config) Validate() error {
	var errs []error

	roles := map[string]RoleConfig{
		"generator":    c.Generator,
		"reranker":     c.Reranker,
		"intent":       c.Intent,
		"reformulator": c.Reformulator,
	}
	for name, rc := range roles {
		if !validProviders[rc.Provider] && rc.BaseURL == "" {
			errs = append(errs, fmt.Errorf("%s: unknown provider %q and no base_url", name, rc.Provider))
		}
		if rc.Model == "" {
			errs = append(errs, fmt.Errorf("%s: model is required", name))
		}
	}

	if !validRetrievalModes[c.Retrieval.Mode] {
		errs = append(errs, fmt.Errorf("retrieval: invalid mode %q (dense|hybrid|managed)", c.Retrieval.Mode))
	}
	if c.Retrieval.Mode == "managed" && c.Pinecone.APIKey == "" {
		errs = append(errs, errors.New("retrieval: managed mode requires pinecone.api_key"))
	}
	if c.Retrieval.Mode != "managed" && c.Qdrant.URL == "" {
		errs = append(errs, errors.New("qdrant: url is required"))
	}

	if !validMemoryBackends[c.Memory.Backend] {
		errs = append(errs, fmt.Errorf("memory: invalid backend %q (memory|sqlite|redis|postgres)", c.Memory.Backend))
	}
	if c.Memory.Backend == "redis" && c.Memory.RedisAddr == "" {
		errs = append(errs, errors.New("memory: redis backend requires redis_addr"))
	}
	if c.Memory.Backend == "postgres" && c.Memory.PostgresDSN == "" {
		errs = append(errs, errors.New("memory: postgres backend requires postgres_dsn"))
	}

	if c.Retrieval.WebFallback && c.Search.BraveAPIKey == "" {
		errs = append(errs, errors.New("search: web fallback requires brave_api_key"))
	}

	if c.Eval.ParallelWorkers < 1 {
		errs = append(errs, fmt.Errorf("eval: parallel_workers must be >= 1, got %d", c.Eval.ParallelWorkers))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server: invalid port %d", c.Server.Port))
	}

	return errors.Join(errs...)
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
