package app

import (
	"fmt"

	"inkwell/pkg/config"
	"inkwell/pkg/logger"
)

// validateEffective applies canonical defaults and fails fast on
// combinations the server cannot run with.
func validateEffective(eff *config.EffectiveConfigResult) error {
	if eff.Config == nil {
		return fmt.Errorf("no effective config resolved")
	}
	cfg := eff.Config
	config.ValidateConfig(cfg)

	if eff.DBPath == "" {
		eff.DBPath = cfg.Server.DBPath
	}
	if eff.DBPath == "" {
		return fmt.Errorf("database path not configured")
	}
	if eff.Addr == "" {
		eff.Addr = cfg.Addr()
	}

	if cfg.IsProduction() {
		if len(cfg.APIKeys.Admin) == 0 {
			return fmt.Errorf("production requires at least one admin api key")
		}
		if cfg.Server.BaseURL == "" {
			return fmt.Errorf("production requires server.base_url")
		}
		if cfg.CDN.Endpoint == "" {
			logger.Warn("cdn_not_configured_in_production")
		}
	}
	return nil
}
