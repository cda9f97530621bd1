package main

import (
	"strings"
	"sync"

	"clarion/internal/client"
	"clarion/internal/config"
)

// commandContext lazily resolves configuration and the daemon client so
// commands that never touch the daemon do not require one.
type commandContext struct {
	addrFlag   *string
	configFlag *string

	mu  sync.Mutex
	cfg *config.Config
}

func newCommandContext(addrFlag, configFlag *string) *commandContext {
	return &commandContext{addrFlag: addrFlag, configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg != nil {
		return c.cfg, nil
	}

	path := ""
	if c.configFlag != nil {
		path = strings.TrimSpace(*c.configFlag)
	}
	cfg, _, _, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	c.cfg = cfg
	return cfg, nil
}

func (c *commandContext) client() (*client.Client, error) {
	if c.addrFlag != nil && strings.TrimSpace(*c.addrFlag) != "" {
		return client.New(strings.TrimSpace(*c.addrFlag)), nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return client.New(cfg.Paths.APIBind), nil
}
