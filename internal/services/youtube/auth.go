package youtube

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	yt "google.golang.org/api/youtube/v3"

	"vidpilot/internal/config"
	"vidpilot/internal/services"
	"vidpilot/internal/stage"
)

// Scopes requested during authorization.
var Scopes = []string{yt.YoutubeUploadScope, yt.YoutubeReadonlyScope}

// ErrNotAuthorized reports a missing or unusable token file.
var ErrNotAuthorized = errors.New("youtube account not authorized")

// LoadOAuthConfig reads the client secrets downloaded from the Google Cloud
// console.
func LoadOAuthConfig(secretsFile string) (*oauth2.Config, error) {
	data, err := os.ReadFile(secretsFile)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, stage.Upload, "read client secrets", secretsFile, err)
	}
	cfg, err := google.ConfigFromJSON(data, Scopes...)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, stage.Upload, "parse client secrets", secretsFile, err)
	}
	return cfg, nil
}

// LoadToken reads a stored OAuth token.
func LoadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s missing (run vidpilot auth youtube)", ErrNotAuthorized, path)
		}
		return nil, fmt.Errorf("read youtube token: %w", err)
	}
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrNotAuthorized, path, err)
	}
	if token.RefreshToken == "" && token.AccessToken == "" {
		return nil, fmt.Errorf("%w: %s holds no credentials", ErrNotAuthorized, path)
	}
	return &token, nil
}

// SaveToken writes token with owner-only permissions.
func SaveToken(path string, token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return fmt.Errorf("encode youtube token: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write youtube token: %w", err)
	}
	return os.Rename(tmp, path)
}

// persistingSource saves refreshed tokens so the refresh token survives
// restarts and access tokens are reused.
type persistingSource struct {
	mu   sync.Mutex
	base oauth2.TokenSource
	path string
	last string
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	token, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if token.AccessToken != s.last {
		s.last = token.AccessToken
		_ = SaveToken(s.path, token)
	}
	return token, nil
}

// HTTPClient returns an authorized client for the configured account.
func HTTPClient(ctx context.Context, cfg *config.Config) (*http.Client, error) {
	oauthCfg, err := LoadOAuthConfig(cfg.YouTube.ClientSecretsFile)
	if err != nil {
		return nil, err
	}
	token, err := LoadToken(cfg.YouTube.TokenFile)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, stage.Upload, "load token", "authorization required", err)
	}
	source := &persistingSource{
		base: oauthCfg.TokenSource(ctx, token),
		path: cfg.YouTube.TokenFile,
		last: token.AccessToken,
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(token, source)), nil
}

// Authorize runs the installed-app consent flow: it listens on a loopback
// port, prints the consent URL to out, waits for the redirect and stores the
// resulting token in the configured token file.
func Authorize(ctx context.Context, cfg *config.Config, out io.Writer) error {
	oauthCfg, err := LoadOAuthConfig(cfg.YouTube.ClientSecretsFile)
	if err != nil {
		return err
	}
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listen for oauth redirect: %w", err)
	}
	defer listener.Close()
	oauthCfg.RedirectURL = "http://" + listener.Addr().String() + "/"

	state, err := randomState()
	if err != nil {
		return err
	}
	codes := make(chan string, 1)
	errs := make(chan error, 1)
	server := &http.Server{
		ReadHeaderTimeout: 10 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			query := r.URL.Query()
			if query.Get("state") != state {
				http.Error(w, "state mismatch", http.StatusBadRequest)
				return
			}
			if msg := query.Get("error"); msg != "" {
				http.Error(w, "authorization denied", http.StatusForbidden)
				errs <- fmt.Errorf("authorization denied: %s", msg)
				return
			}
			fmt.Fprintln(w, "vidpilot is authorized. You can close this tab.")
			codes <- query.Get("code")
		}),
	}
	go func() { _ = server.Serve(listener) }()
	defer server.Close()

	url := oauthCfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Fprintf(out, "Open this URL in a browser and grant access:\n\n  %s\n\nWaiting for authorization...\n", url)

	var code string
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errs:
		return err
	case code = <-codes:
	}
	token, err := oauthCfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange authorization code: %w", err)
	}
	if err := SaveToken(cfg.YouTube.TokenFile, token); err != nil {
		return err
	}
	fmt.Fprintf(out, "Token saved to %s\n", cfg.YouTube.TokenFile)
	return nil
}

func randomState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate oauth state: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
