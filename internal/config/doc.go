// Package config handles configuration loading for coven-bot.
//
// # Configuration File
//
// Locations (in order):
//
//  1. Path given with --config
//  2. Path from COVEN_BOT_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/coven/bot.toml (~/.config/coven/bot.toml)
//
// Files ending in .yaml or .yml are read as YAML; everything else as TOML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	[matrix]
//	password = "${COVEN_BOT_PASSWORD}"
//
// # Configuration Sections
//
//	[matrix]
//	homeserver = "https://matrix.example.org"
//	username = "mybot"
//	password = ""              # prompted for on login when empty
//	device_name = "coven-bot"
//
//	[bot]
//	name = "mybot"             # defaults to the username
//	allow_list = "@.*:example\\.org"
//	state_dir = "~/.local/state/mybot"
//	command_prefix = "!"       # defaults to "!<name> "
//	room_size_limit = 0        # 0 disables the check
//	disable_encryption = false
//
//	[autojoin]
//	enabled = true
//	initial_delay = "2s"
//	max_delay = "1h"
//
//	[logging]
//	level = "info"             # debug, info, warn, error
//	format = "text"            # text, json
//
// Duration values use Go's time.ParseDuration syntax.
package config
