package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var validPrivacy = map[string]struct{}{"public": {}, "unlisted": {}, "private": {}}

var knownStages = map[string]struct{}{
	"frames": {}, "transcript": {}, "metadata": {}, "thumbnail": {}, "upload": {},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateWatch(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateStages(); err != nil {
		return err
	}
	if err := c.validateThumbnail(); err != nil {
		return err
	}
	if err := c.validateYouTube(); err != nil {
		return err
	}
	if c.Approval.ExpireAfterHours < 0 {
		return errors.New("approval.expire_after_hours must be >= 0")
	}
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateWatch() error {
	if strings.TrimSpace(c.Watch.Folder) == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("watch.folder is required. Set VIDPILOT_WATCH_FOLDER or edit %s (create with 'vidpilot config init')", defaultPath)
	}
	return ensurePositiveMap(map[string]int{
		"watch.stable_check_seconds":   c.Watch.StableCheckSeconds,
		"watch.stable_timeout_seconds": c.Watch.StableTimeoutSeconds,
	})
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.workers":            c.Workflow.Workers,
		"workflow.poll_interval":      c.Workflow.PollInterval,
		"workflow.heartbeat_interval": c.Workflow.HeartbeatInterval,
		"workflow.lease_timeout":      c.Workflow.LeaseTimeout,
	}); err != nil {
		return err
	}
	if c.Workflow.LeaseTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.lease_timeout must be greater than workflow.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateStages() error {
	if err := ensurePositiveMap(map[string]int{
		"stages.retry_ceiling":          c.Stages.RetryCeiling,
		"stages.backoff_initial_millis": c.Stages.BackoffInitialMillis,
		"stages.backoff_max_seconds":    c.Stages.BackoffMaxSeconds,
		"frames.count":                  c.Frames.Count,
	}); err != nil {
		return err
	}
	for key, value := range c.Stages.Timeouts {
		if _, ok := knownStages[key]; !ok {
			return fmt.Errorf("stages.timeouts: unknown stage %q", key)
		}
		if value <= 0 {
			return fmt.Errorf("stages.timeouts.%s must be positive", key)
		}
	}
	for key, value := range c.Stages.RatePerMinute {
		if _, ok := knownStages[key]; !ok {
			return fmt.Errorf("stages.rate_per_minute: unknown stage %q", key)
		}
		if value < 0 {
			return fmt.Errorf("stages.rate_per_minute.%s must be >= 0", key)
		}
	}
	return nil
}

func (c *Config) validateThumbnail() error {
	if c.Thumbnail.Width <= 0 || c.Thumbnail.Height <= 0 {
		return errors.New("thumbnail.width and thumbnail.height must be positive")
	}
	return nil
}

func (c *Config) validateYouTube() error {
	if _, ok := validPrivacy[c.YouTube.DefaultPrivacy]; !ok {
		return fmt.Errorf("youtube.default_privacy must be one of %s", strings.Join(privacyValues(), ", "))
	}
	return nil
}

// ValidPrivacy reports whether value is an accepted YouTube privacy status.
func ValidPrivacy(value string) bool {
	_, ok := validPrivacy[strings.ToLower(strings.TrimSpace(value))]
	return ok
}

func privacyValues() []string {
	values := make([]string, 0, len(validPrivacy))
	for key := range validPrivacy {
		values = append(values, key)
	}
	sort.Strings(values)
	return values
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
