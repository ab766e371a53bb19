// Package services defines shared utilities consumed by the pipeline stages
// and the external integrations behind them.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, stage names, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper. The markers decide whether
//     the stage executor retries a failure (transient) or fails the job
//     outright (permanent).
//
// Integrations under services/ (llm, telegram, whisper, youtube) return errors
// tagged with these markers so retry behaviour stays uniform across stages.
package services
