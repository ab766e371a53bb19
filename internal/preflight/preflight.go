package preflight

import (
	"context"

	"vidpilot/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string
	Passed   bool
	Detail   string
	Optional bool
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	results = append(results,
		CheckDirectoryAccess("Watch folder", cfg.Watch.Folder),
		CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir),
	)
	for _, status := range CheckSystemDeps(cfg) {
		results = append(results, Result{
			Name:     status.Name,
			Passed:   status.Available,
			Detail:   statusDetail(status.Command, status.Detail),
			Optional: status.Optional,
		})
	}
	results = append(results,
		CheckLLM(ctx, "Metadata LLM", cfg.GetLLM()),
		CheckYouTube(cfg),
	)
	if cfg.TelegramEnabled() {
		results = append(results, CheckTelegram(ctx, cfg.Telegram.APIBaseURL, cfg.Telegram.BotToken))
	} else if !cfg.Approval.AutoApprove {
		results = append(results, Result{
			Name:     "Telegram",
			Optional: true,
			Detail:   "not configured; approve jobs with the CLI",
		})
	}
	return results
}

// Failed returns the required checks that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed && !r.Optional {
			out = append(out, r)
		}
	}
	return out
}

func statusDetail(command, detail string) string {
	if detail != "" {
		return detail
	}
	return command
}
