package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateHub(); err != nil {
		return err
	}
	if err := c.validateAgent(); err != nil {
		return err
	}
	if err := c.validateStreaming(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateHub() error {
	if c.Hub.ServerURI == "" {
		return nil
	}
	parsed, err := url.Parse(c.Hub.ServerURI)
	if err != nil {
		return fmt.Errorf("hub.server_uri: %w", err)
	}
	switch parsed.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("hub.server_uri must use http, https, ws, or wss (got %q)", parsed.Scheme)
	}
	if parsed.Host == "" {
		return errors.New("hub.server_uri must include a host")
	}
	return nil
}

func (c *Config) validateAgent() error {
	if strings.ContainsAny(c.Agent.InstanceID, `/\:`) {
		return fmt.Errorf("agent.instance_id %q must not contain path separators", c.Agent.InstanceID)
	}
	if c.Agent.Development && c.Agent.DevelopmentDir == "" {
		return errors.New("agent.development_dir must be set when agent.development is true")
	}
	return nil
}

func (c *Config) validateStreaming() error {
	if c.Streaming.MaxChunkBytes < 1024 {
		return errors.New("streaming.max_chunk_bytes must be at least 1024")
	}
	if c.Streaming.MaxChunkBytes > c.IPC.MaxFrameBytes {
		return fmt.Errorf("streaming.max_chunk_bytes (%d) must not exceed ipc.max_frame_bytes (%d)", c.Streaming.MaxChunkBytes, c.IPC.MaxFrameBytes)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json (got %q)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error", "critical":
	default:
		return fmt.Errorf("logging.level %q is not supported", c.Logging.Level)
	}
	return nil
}
