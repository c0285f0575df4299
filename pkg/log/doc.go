/*
Package log provides structured logging for the orchestrator using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level.

# Usage

Initializing the logger:

	import "github.com/clodo/orchestrate/pkg/log"

	// JSON output (CI / machine consumption)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stderr,
	})

	// Console output (interactive use)
	log.Init(log.Config{
		Level: log.LevelFromEnv(),
	})

Simple logging:

	log.Info("portfolio deployment started")
	log.Warn("domain skipped: no routing policy")
	log.Errorf("health probe failed", err)

Structured logging:

	log.Logger.Info().
		Str("domain", "api.example.com").
		Int("batch", 2).
		Msg("batch barrier reached")

Context loggers:

	deployLog := log.WithDeployment("deploy-20260825T101500Z-a1b2c3")
	deployLog.Info().Msg("entering prepare phase")

	phaseLog := log.WithPhase(deploymentID, "verify")
	phaseLog.Error().Err(err).Msg("endpoint probe failed")

# Redaction

Token plaintext, secret values, and encryption key material must never be
logged. Callers log fingerprints and secret names only; the security package
exposes non-secret handles for exactly this purpose.

# Integration Points

  - pkg/orchestrator: phase transitions and batch scheduling
  - pkg/platform: rate-limit waits and retry decisions
  - pkg/rollback: inverse-action execution and partial recovery
  - pkg/database: migration and backup subprocess output
  - cmd/orchestrate: top-level command lifecycle
*/
package log
