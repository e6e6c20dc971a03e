// ABOUTME: Tests for coven-bot wiring: config mapping, init output, demo tag command, and log handler
// ABOUTME: Nothing here talks to a homeserver

package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-bot/internal/config"
	"github.com/2389/coven-bot/tags"
)

type memTags struct {
	tags []string
}

func (m *memTags) RoomTags(ctx context.Context, roomID string) ([]string, error) {
	return append([]string(nil), m.tags...), nil
}

func (m *memTags) AddRoomTag(ctx context.Context, roomID, tag string) error {
	m.tags = append(m.tags, tag)
	return nil
}

func (m *memTags) RemoveRoomTag(ctx context.Context, roomID, tag string) error {
	kept := m.tags[:0]
	for _, t := range m.tags {
		if t != tag {
			kept = append(kept, t)
		}
	}
	m.tags = kept
	return nil
}

func TestRunTag(t *testing.T) {
	store := &memTags{tags: []string{tagNamespace + ".old", "m.favourite"}}
	ctx := context.Background()

	step := func(args ...string) string {
		set, err := tags.Load(ctx, store, "!r:example.org", tagNamespace)
		require.NoError(t, err)
		reply := runTag(set, args)
		require.NoError(t, set.Close(ctx))
		return reply
	}

	assert.Equal(t, "`old`", step("list"))
	assert.Equal(t, "added `new`", step("add", "new"))
	assert.Equal(t, "removed `old`", step("rm", "old"))
	assert.Equal(t, "no tag `old`", step("rm", "old"))
	assert.Equal(t, "`mode` = `very quiet`", step("set", "mode", "very", "quiet"))
	assert.Equal(t, "`mode` = `very quiet`", step("get", "mode"))
	assert.Equal(t, "`colour` is not set", step("get", "colour"))
	assert.Equal(t, "`mode=very quiet`\n`new`", step("list"))
	assert.Equal(t, tagUsage, step())
	assert.Equal(t, tagUsage, step("frobnicate"))

	assert.ElementsMatch(t, []string{"m.favourite", tagNamespace + ".new", tagNamespace + ".mode=very quiet"}, store.tags)
}

func TestBotConfig(t *testing.T) {
	cfg := &config.Config{
		Matrix:   config.MatrixConfig{Homeserver: "https://hs", Username: "u", Password: "p", DeviceName: "d"},
		Bot:      config.BotConfig{Name: "n", AllowList: "a", StateDir: "/s", CommandPrefix: "!", RoomSizeLimit: 4, DisableEncryption: true},
		Autojoin: config.AutojoinConfig{InitialDelay: time.Second, MaxDelay: time.Minute},
		Logging:  config.LoggingConfig{Level: "debug"},
	}

	bc := botConfig(cfg, slog.Default())

	assert.Equal(t, "https://hs", bc.Homeserver)
	assert.Equal(t, "u", bc.Username)
	assert.Equal(t, "p", bc.Password)
	assert.Equal(t, "d", bc.DeviceName)
	assert.Equal(t, "n", bc.Name)
	assert.Equal(t, "a", bc.AllowList)
	assert.Equal(t, "/s", bc.StateDir)
	assert.Equal(t, "!", bc.CommandPrefix)
	assert.Equal(t, 4, bc.RoomSizeLimit)
	assert.True(t, bc.DisableEncryption)
	assert.Equal(t, time.Second, bc.JoinInitialDelay)
	assert.Equal(t, time.Minute, bc.JoinMaxDelay)
	assert.Equal(t, "debug", bc.TransportLogLevel)
}

func TestRunInit_WritesLoadableConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coven", "bot.toml")
	answers := strings.Join([]string{
		"",                           // config path: keep default
		"https://matrix.example.org", // homeserver
		"helper",                     // username
		"${HELPER_PASSWORD}",         // password
		"",                           // device name
		"",                           // bot name
		`@alice:example\.org`,        // allow list
		"!",                          // prefix
		"5",                          // room size limit
		"y",                          // autojoin
		"debug",                      // log level
		"",                           // log format
	}, "\n") + "\n"

	var out bytes.Buffer
	require.NoError(t, runInit(strings.NewReader(answers), &out, path))
	assert.Contains(t, out.String(), "Config written to "+path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	t.Setenv("HELPER_PASSWORD", "hunter2")
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://matrix.example.org", cfg.Matrix.Homeserver)
	assert.Equal(t, "helper", cfg.Matrix.Username)
	assert.Equal(t, "hunter2", cfg.Matrix.Password)
	assert.Equal(t, "coven-bot", cfg.Matrix.DeviceName)
	assert.Equal(t, "helper", cfg.Bot.Name)
	assert.Equal(t, `@alice:example\.org`, cfg.Bot.AllowList)
	assert.Equal(t, "!", cfg.Bot.CommandPrefix)
	assert.Equal(t, 5, cfg.Bot.RoomSizeLimit)
	assert.True(t, cfg.Autojoin.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestRunInit_KeepsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.toml")
	require.NoError(t, os.WriteFile(path, []byte("keep me"), 0600))

	var out bytes.Buffer
	require.NoError(t, runInit(strings.NewReader("\nno\n"), &out, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(data))
	assert.Contains(t, out.String(), "Aborted.")
}

func TestColorHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newColorHandler(&buf, slog.LevelInfo)).With("component", "dispatch").WithGroup("req")

	logger.Debug("hidden")
	logger.Warn("handler failed", "command", "ping")

	line := buf.String()
	assert.NotContains(t, line, "hidden")
	assert.Contains(t, line, "handler failed")
	assert.Contains(t, line, "component=")
	assert.Contains(t, line, "req.command=")
	assert.Equal(t, 1, strings.Count(line, "\n"))
}
