package main

import (
	"fmt"

	"github.com/toolink/quota/limiter"
)

// ValidateCmd checks a config file without starting anything.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := limiter.LoadConfig(cli.Config)
	if err != nil {
		return err
	}
	fmt.Printf("%s: ok (storage=%s, policy=%s, global=%d/h, tenants=%d, users=%d/h)\n",
		cli.Config, cfg.StorageType, cfg.FailurePolicy, cfg.Global.LimitPerHour, len(cfg.Tenants), cfg.Users.DefaultPerTenant)
	return nil
}
