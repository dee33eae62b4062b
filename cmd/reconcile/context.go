package main

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"reconcile/internal/client"
	"reconcile/internal/config"
)

type commandContext struct {
	configFlag *string
	serverFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, serverFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		serverFlag: serverFlag,
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
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) serverURL() string {
	if c.serverFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.serverFlag)
}

func (c *commandContext) newClient() (*client.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	if url := c.serverURL(); url != "" {
		return client.New(url, cfg.Paths.APIToken, client.WithMinQueryLength(cfg.Reconcile.SearchMinLength))
	}
	return client.NewFromConfig(cfg)
}

func (c *commandContext) withClient(fn func(*client.Client) error) error {
	api, err := c.newClient()
	if err != nil {
		return err
	}
	return wrapDialError(fn(api), c)
}

// wrapDialError turns connection failures into a hint to start the daemon.
func wrapDialError(err error, ctx *commandContext) error {
	if err == nil {
		return nil
	}
	var opErr *net.OpError
	if errors.Is(err, syscall.ECONNREFUSED) || (errors.As(err, &opErr) && opErr.Op == "dial") {
		target := ctx.serverURL()
		if target == "" {
			if cfg, cfgErr := ctx.ensureConfig(); cfgErr == nil {
				target = cfg.APIBaseURL()
			}
		}
		return fmt.Errorf("connect to daemon at %s: %w; start it with `reconcile serve`", target, err)
	}
	return err
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
