// Package config loads, normalizes, and validates vidpilot configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, loads secrets from an optional .env file, and
// honours environment fallbacks such as TELEGRAM_BOT_TOKEN and LLM_API_KEY.
// The Config type is read-only after Load; the daemon hands the same pointer
// to every component.
package config
