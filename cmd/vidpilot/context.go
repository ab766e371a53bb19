package main

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"vidpilot/internal/api"
	"vidpilot/internal/config"
)

type commandContext struct {
	configFlag *string
	apiFlag    *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, apiFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		apiFlag:    apiFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) apiAddress(cfg *config.Config) string {
	if c.apiFlag != nil {
		if addr := strings.TrimSpace(*c.apiFlag); addr != "" {
			return addr
		}
	}
	return cfg.Paths.APIBind
}

// withBackend runs fn against the daemon API and retries it against the
// local store when the daemon is not reachable. A dial failure happens before
// the request reaches the daemon, so the retry never applies an action twice.
func (c *commandContext) withBackend(cmd *cobra.Command, fn func(context.Context, backend) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if addr := c.apiAddress(cfg); addr != "" {
		remote := remoteBackend{client: api.NewClient(addr, cfg.Paths.APIToken)}
		err := fn(ctx, remote)
		if !errors.Is(err, api.ErrDaemonUnavailable) {
			return err
		}
	}

	local, err := openLocalBackend(cfg)
	if err != nil {
		return err
	}
	defer local.Close()
	return fn(ctx, local)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
