// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for luna.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, validation and hot reload.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - ServerConfig: Luna server URL and reconnect behavior
//   - ChatConfig: Per-turn settings (search, idle timeout)
//   - LogConfig: Log file rotation
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (LUNA_*)
//   - ~/.luna/config.toml
//   - ~/.luna/config.json
//   - Built-in defaults
//
// LUNA_HOME moves the whole directory.
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Warn(err)
//	}
//
// Reload on change:
//
//	config.Watch(ctx, path, log, func(cfg *config.Config) { ... })
package config
