// ABOUTME: Interactive config file creation for coven-bot
// ABOUTME: Asks for the account and policy settings and writes a TOML config

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/2389/coven-bot/internal/config"
	"github.com/2389/coven-bot/internal/prompt"
)

func runInit(in io.Reader, out io.Writer, outputFile string) error {
	reader := bufio.NewReader(in)

	fmt.Fprintln(out, "coven-bot configuration setup")
	fmt.Fprintln(out, "=============================")
	fmt.Fprintln(out)

	outputFile = prompt.Line(reader, out, "Config file path", outputFile)
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt.Line(reader, out, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	cfg := askConfig(reader, out)

	data, err := encodeConfig(cfg)
	if err != nil {
		return err
	}
	if _, err := config.Parse(string(data), config.FormatTOML); err != nil {
		return fmt.Errorf("generated config is invalid: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	// The file may hold a password.
	if err := os.WriteFile(outputFile, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", outputFile)
	fmt.Fprintln(out, "\nTo log in and start the bot:")
	fmt.Fprintf(out, "  coven-bot run --config %s\n", outputFile)
	return nil
}

func askConfig(reader *bufio.Reader, out io.Writer) *config.Config {
	var cfg config.Config

	fmt.Fprintln(out, "\n--- Matrix Account ---")
	cfg.Matrix.Homeserver = prompt.Line(reader, out, "Homeserver URL", "https://matrix.org")
	cfg.Matrix.Username = prompt.Line(reader, out, "Username", "")
	cfg.Matrix.Password = prompt.Line(reader, out, "Password (empty to be asked at login, or ${ENV_VAR})", "")
	cfg.Matrix.DeviceName = prompt.Line(reader, out, "Device name", "coven-bot")

	fmt.Fprintln(out, "\n--- Bot ---")
	cfg.Bot.Name = prompt.Line(reader, out, "Bot name", cfg.Matrix.Username)
	cfg.Bot.AllowList = prompt.Line(reader, out, "Allow list (regex of user IDs the bot answers)", "")
	cfg.Bot.CommandPrefix = prompt.Line(reader, out, "Command prefix (empty for \"!<name> \")", "")
	limit, err := strconv.Atoi(prompt.Line(reader, out, "Room size limit (0 for none)", "0"))
	if err == nil && limit > 0 {
		cfg.Bot.RoomSizeLimit = limit
	}

	fmt.Fprintln(out, "\n--- Autojoin ---")
	cfg.Autojoin.Enabled = isYes(prompt.Line(reader, out, "Join rooms when invited?", "yes"))

	fmt.Fprintln(out, "\n--- Logging ---")
	cfg.Logging.Level = prompt.Line(reader, out, "Log level (debug/info/warn/error)", "info")
	cfg.Logging.Format = prompt.Line(reader, out, "Log format (text/json)", "text")

	return &cfg
}

func encodeConfig(cfg *config.Config) ([]byte, error) {
	var buf strings.Builder
	buf.WriteString("# coven-bot configuration\n")
	buf.WriteString("# Generated by coven-bot init\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return []byte(buf.String()), nil
}

func isYes(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "yes" || s == "y"
}
