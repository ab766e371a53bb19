package preflight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"vidpilot/internal/config"
	"vidpilot/internal/deps"
	"vidpilot/internal/services/llm"
)

// CheckLLM verifies that the LLM API is reachable and the key is valid.
// It uses a 30-second timeout and a single attempt (no retries).
func CheckLLM(ctx context.Context, name string, cfg config.LLMConfig) Result {
	if cfg.APIKey == "" {
		return Result{Name: name, Detail: "API key missing"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	client := llm.NewClient(llm.Config{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Referer: cfg.Referer,
		Title:   cfg.Title,
	})

	if err := client.HealthCheck(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeLLMError(err)}
	}
	return Result{Name: name, Passed: true, Detail: "API reachable"}
}

// CheckTelegram verifies the bot token with a getMe call.
func CheckTelegram(ctx context.Context, baseURL, token string) Result {
	const name = "Telegram"

	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return Result{Name: name, Detail: "missing api base url"}
	}
	if strings.TrimSpace(token) == "" {
		return Result{Name: name, Detail: "missing bot token"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, base+"/bot"+strings.TrimSpace(token)+"/getMe", nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("auth check failed (%v)", err)}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{Name: name, Detail: "auth check failed (bot api unreachable)"}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusNotFound:
		return Result{Name: name, Detail: "auth failed (invalid bot token)"}
	default:
		return Result{Name: name, Detail: fmt.Sprintf("auth check failed (%d)", resp.StatusCode)}
	}
	var body struct {
		OK     bool `json:"ok"`
		Result struct {
			Username string `json:"username"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || !body.OK {
		return Result{Name: name, Detail: "auth check failed (unexpected response)"}
	}
	return Result{Name: name, Passed: true, Detail: "bot @" + body.Result.Username}
}

// CheckYouTube verifies the OAuth client secrets and cached token exist.
// It does not call the API; the token is refreshed on first upload.
func CheckYouTube(cfg *config.Config) Result {
	const name = "YouTube"

	secrets := strings.TrimSpace(cfg.YouTube.ClientSecretsFile)
	if secrets == "" {
		return Result{Name: name, Detail: "client_secrets_file not configured"}
	}
	if _, err := os.Stat(secrets); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", secrets, err)}
	}
	token := strings.TrimSpace(cfg.YouTube.TokenFile)
	if token == "" {
		return Result{Name: name, Detail: "token_file not configured"}
	}
	if _, err := os.Stat(token); err != nil {
		return Result{Name: name, Detail: "not authorized yet (run vidpilot auth youtube)"}
	}
	return Result{Name: name, Passed: true, Detail: "credentials present"}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckSystemDeps evaluates the external binaries the stage collaborators
// shell out to.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	results := deps.CheckFFmpegPair(cfg.Frames.FFmpegBinary, cfg.Frames.FFprobeBinary)
	return append(results, deps.CheckBinaries([]deps.Requirement{{
		Name:        "Whisper",
		Command:     cfg.Transcription.Command,
		Description: "Required for transcription",
	}})...)
}

// summarizeLLMError produces a human-readable summary for LLM health check failures.
func summarizeLLMError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "health check timed out (LLM API unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "health check timed out (LLM API unreachable)"
	}
	if code := llm.StatusCode(err); code == http.StatusUnauthorized || code == http.StatusForbidden {
		return "auth failed (invalid api key)"
	}
	return err.Error()
}
