/*
Package config provides host configuration management.

Configuration is loaded from environment variables with sensible defaults,
optionally overlaid with a TOML file:

	cfg := config.LoadOrDefault()

	// or with a file
	cfg, err := config.LoadFile("host.toml")

Environment variables use flat names (PORT, UPDATE_RATE, LOG_LEVEL); the
TOML file mirrors the structure by section:

	[engine]
	update_rate = 60
	debug_hooks = true
*/
package config
