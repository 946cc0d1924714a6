package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"example.com/panelstages/internal/config"
	"example.com/panelstages/internal/domain"
	"example.com/panelstages/internal/panelapi"
	"example.com/panelstages/internal/stage"
)

// commandContext carries flag values and injectable collaborators shared by subcommands.
type commandContext struct {
	atFlag     string
	localeFlag string
	jsonFlag   bool

	upstreamFlag string
	tokenFlag    string

	now        func() time.Time
	stdin      io.Reader
	loadConfig func() (config.Config, error)

	cfg    *config.Config
	cfgErr error
}

func newCommandContext() *commandContext {
	return &commandContext{
		now:        func() time.Time { return time.Now().UTC() },
		stdin:      os.Stdin,
		loadConfig: config.Parse,
	}
}

// config loads the service configuration once per invocation.
func (c *commandContext) config() (config.Config, error) {
	if c.cfg == nil && c.cfgErr == nil {
		cfg, err := c.loadConfig()
		c.cfg, c.cfgErr = &cfg, err
	}
	if c.cfgErr != nil {
		return config.Config{}, c.cfgErr
	}
	return *c.cfg, nil
}

// instant is the --at time or the current clock.
func (c *commandContext) instant() (time.Time, error) {
	if c.atFlag == "" {
		return c.now(), nil
	}
	t, ok := domain.ParseTimestamp(c.atFlag)
	if !ok {
		return time.Time{}, usageError{fmt.Errorf("--at %q: expected an ISO-8601 timestamp", c.atFlag)}
	}
	return t, nil
}

// locale is --locale, else DEFAULT_LOCALE from the configuration.
func (c *commandContext) locale() (string, error) {
	if c.localeFlag != "" {
		return c.localeFlag, nil
	}
	cfg, err := c.config()
	if err != nil {
		return "", err
	}
	if cfg.DefaultLocale == "" {
		return stage.DefaultLocale, nil
	}
	return cfg.DefaultLocale, nil
}

// readPanel decodes a panel record from path, or stdin when path is "-".
func (c *commandContext) readPanel(path string) (domain.Panel, error) {
	var r io.Reader
	if path == "-" {
		r = c.stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return domain.Panel{}, fmt.Errorf("open panel: %w", err)
		}
		defer f.Close()
		r = f
	}
	var p domain.Panel
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return domain.Panel{}, fmt.Errorf("decode panel: %w", err)
	}
	return p, nil
}

// client builds an upstream client from flags, falling back to the service config.
func (c *commandContext) client() (*panelapi.Client, error) {
	base, token := c.upstreamFlag, c.tokenFlag
	timeout := 10 * time.Second
	if base == "" || token == "" {
		cfg, err := c.config()
		if err != nil {
			return nil, err
		}
		if base == "" {
			base = cfg.UpstreamBaseURL
		}
		if token == "" {
			token = cfg.UpstreamToken
		}
		timeout = cfg.UpstreamTimeout
	}
	if base == "" {
		return nil, usageError{errors.New("no upstream configured: pass --upstream or set UPSTREAM_BASE_URL")}
	}
	return panelapi.New(base, token, timeout)
}

func (c *commandContext) fetch(ctx context.Context, id string) (domain.Panel, error) {
	client, err := c.client()
	if err != nil {
		return domain.Panel{}, err
	}
	return client.GetPanel(ctx, id)
}
