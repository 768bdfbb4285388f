// Package config loads engine settings.
//
// Settings come from three layers, later layers overriding earlier ones:
//
//	┌─────────────────────────────┐
//	│  3. DBGENGINE_* variables   │  ← Highest priority
//	├─────────────────────────────┤
//	│  2. Settings file           │  ← TOML or YAML, chosen by extension
//	├─────────────────────────────┤
//	│  1. Built-in defaults       │  ← Lowest priority
//	└─────────────────────────────┘
//
// # Example
//
//	# dbgctl.toml
//	framing = "header"
//
//	[timeouts]
//	request = "10s"
//	handshake = "30s"
//
//	[logging]
//	level = "debug"
//	file = "/tmp/dbgctl.log"
//
// Durations are written as Go duration strings. A missing file is not an
// error; Load then returns the defaults with environment overrides applied.
package config
