package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/clodo/orchestrate/pkg/assess"
	"github.com/clodo/orchestrate/pkg/coordinator"
	"github.com/clodo/orchestrate/pkg/database"
	"github.com/clodo/orchestrate/pkg/events"
	"github.com/clodo/orchestrate/pkg/health"
	"github.com/clodo/orchestrate/pkg/orchestrator"
	"github.com/clodo/orchestrate/pkg/platform"
	"github.com/clodo/orchestrate/pkg/rollback"
	"github.com/clodo/orchestrate/pkg/router"
	"github.com/clodo/orchestrate/pkg/security"
	"github.com/clodo/orchestrate/pkg/storage"
	"github.com/clodo/orchestrate/pkg/types"
)

// Environment variables consumed by the CLI
const (
	envAPIToken  = "CLOUDFLARE_API_TOKEN"
	envAccountID = "CLOUDFLARE_ACCOUNT_ID"
	envNodeEnv   = "NODE_ENV"
	envDeployEnv = "DEPLOY_ENV"
)

// fileConfig is clodo-config.json. Every field is optional; missing
// values fall back to defaults or environment variables.
type fileConfig struct {
	ServicePath   string `json:"service_path"`
	DataDir       string `json:"data_dir"`
	DomainsConfig string `json:"domains_config"`
	ReportDir     string `json:"report_dir"`
	BaseURL       string `json:"base_url"`
	AccountID     string `json:"account_id"`
	Parallelism   int    `json:"parallelism"`
	CacheTTLHours int    `json:"cache_ttl_hours"`
}

func loadFileConfig(path string) (*fileConfig, error) {
	cfg := &fileConfig{
		ServicePath:   ".",
		DataDir:       ".orchestrate",
		DomainsConfig: filepath.Join("config", "domains.json"),
		CacheTTLHours: 1,
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("malformed config %s: %w", path, err)
	}
	if cfg.ServicePath == "" {
		cfg.ServicePath = "."
	}
	if cfg.DataDir == "" {
		cfg.DataDir = ".orchestrate"
	}
	return cfg, nil
}

// runtime is the wired set of collaborators a command runs against
type runtime struct {
	cfg    *fileConfig
	store  *storage.BoltStore
	api    platform.API
	tokens *security.TokenManager
	db     *database.Orchestrator
	rb     *rollback.Manager
	orch   *orchestrator.Orchestrator
	broker *events.Broker
	cache  *router.ConfigCache
	router *router.Router
	engine *assess.Engine
	coord  *coordinator.Coordinator
}

// newRuntime builds the full collaborator graph. A missing API token
// leaves api nil; commands needing the upstream fail validation.
func newRuntime(cmd *cobra.Command) (*runtime, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := loadFileConfig(configPath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	broker := events.NewBroker()
	broker.Start()

	coord := coordinator.New()

	var api platform.API
	if token := os.Getenv(envAPIToken); token != "" {
		accountID := cfg.AccountID
		if accountID == "" {
			accountID = os.Getenv(envAccountID)
		}
		limiter := platform.NewRateLimiter(platform.DefaultLimits())
		limiter.OnWait(func(class types.APIClass) {
			broker.Publish(&events.Event{
				Type:     events.EventRateLimitWait,
				Metadata: map[string]string{"class": string(class)},
			})
		})
		client := platform.NewClient(platform.ClientConfig{
			BaseURL:   cfg.BaseURL,
			Token:     token,
			AccountID: accountID,
			Limiter:   limiter,
		})
		api = client
		// one session token and one limiter per run; every consumer reads
		// them back through the coordinator
		if err := coord.Share(coordinator.KeySessionToken, "runtime", token); err != nil {
			store.Close()
			return nil, err
		}
		if err := coord.Share(coordinator.KeyRateLimiter, "runtime", client.Limiter()); err != nil {
			store.Close()
			return nil, err
		}
	}

	tokens, err := security.NewTokenManager(security.TokenManagerConfig{
		Dir:    cfg.DataDir,
		Broker: broker,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	db := database.New(database.Config{
		Runner:    &database.WranglerRunner{Dir: cfg.ServicePath},
		Confirmer: &promptConfirmer{},
	})

	rb := rollback.New(rollback.Config{
		Store:  store,
		API:    api,
		DB:     db,
		Tokens: tokens,
		Broker: broker,
	})

	cache := router.NewConfigCache(
		filepath.Join(cfg.DataDir, "config-cache"),
		time.Duration(cfg.CacheTTLHours)*time.Hour,
	)
	if err := cache.Initialize(); err != nil {
		store.Close()
		return nil, err
	}

	rtr := router.New(cfg.DomainsConfig, api, cache)
	engine := assess.NewEngine(api, cache)
	if v, ok := coord.Get(coordinator.KeyRateLimiter); ok {
		if limiter, ok := v.(*platform.RateLimiter); ok {
			engine = engine.WithLimiter(limiter)
		}
	}

	orch, err := orchestrator.New(orchestrator.Config{
		Store:       store,
		API:         api,
		DB:          db,
		Tokens:      tokens,
		Rollback:    rb,
		Broker:      broker,
		Coord:       coord,
		Health:      health.DefaultConfig(),
		ServicePath: cfg.ServicePath,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	return &runtime{
		cfg:    cfg,
		store:  store,
		api:    api,
		tokens: tokens,
		db:     db,
		rb:     rb,
		orch:   orch,
		broker: broker,
		cache:  cache,
		router: rtr,
		engine: engine,
		coord:  coord,
	}, nil
}

// sessionToken reads the shared API token back from the coordinator.
// Empty when no token was available at startup.
func (rt *runtime) sessionToken() string {
	if v, ok := rt.coord.Get(coordinator.KeySessionToken); ok {
		if token, ok := v.(string); ok {
			return token
		}
	}
	return ""
}

func (rt *runtime) close() {
	rt.tokens.Stop()
	rt.broker.Stop()
	if err := rt.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to close state store: %v\n", err)
	}
}

// promptConfirmer asks on the terminal; a non-tty stdin declines
type promptConfirmer struct{}

func (promptConfirmer) Confirm(prompt string) (bool, error) {
	info, err := os.Stdin.Stat()
	if err != nil || info.Mode()&os.ModeCharDevice == 0 {
		return false, nil
	}
	fmt.Printf("%s [y/N]: ", prompt)
	var answer string
	if _, err := fmt.Scanln(&answer); err != nil {
		return false, nil
	}
	return answer == "y" || answer == "yes", nil
}

// resolveEnvironment applies flag > DEPLOY_ENV > NODE_ENV > development
func resolveEnvironment(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(envDeployEnv); env != "" {
		return env
	}
	if env := os.Getenv(envNodeEnv); env != "" {
		return env
	}
	return "development"
}
