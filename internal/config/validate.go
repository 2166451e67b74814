package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateWordPress(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	if strings.TrimSpace(c.Paths.PhotoDir) == "" {
		return errors.New("paths.photo_dir must be set")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.FeedPollInterval <= 0 {
		return errors.New("workflow.feed_poll_interval must be positive")
	}
	if c.Workflow.StepTimeout <= 0 {
		return errors.New("workflow.step_timeout must be positive")
	}
	if c.Workflow.DispatchWorkers <= 0 {
		return errors.New("workflow.dispatch_workers must be positive")
	}
	if c.Workflow.QueueSize <= 0 {
		return errors.New("workflow.queue_size must be positive")
	}
	if c.Workflow.RetryMax < 0 {
		return errors.New("workflow.retry_max must not be negative")
	}
	if c.Workflow.RetryBaseSeconds <= 0 {
		return errors.New("workflow.retry_base_seconds must be positive")
	}
	if c.Workflow.RetryMaxSeconds < c.Workflow.RetryBaseSeconds {
		return fmt.Errorf("workflow.retry_max_seconds must be at least retry_base_seconds (%d)", c.Workflow.RetryBaseSeconds)
	}
	return nil
}

func (c *Config) validateWordPress() error {
	// Credentials are optional: the publish step reports a configuration
	// failure at run time when they are missing. A partially filled section is
	// almost always a mistake, so reject it early.
	url := strings.TrimSpace(c.WordPress.URL)
	user := strings.TrimSpace(c.WordPress.Username)
	pass := strings.TrimSpace(c.WordPress.Password)
	if url == "" && user == "" && pass == "" {
		return nil
	}
	if url == "" || user == "" || pass == "" {
		return errors.New("wordpress.url, wordpress.username, and wordpress.password must all be set together")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "console", "json":
		return nil
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
}
