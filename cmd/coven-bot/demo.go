// ABOUTME: Demo commands registered by coven-bot
// ABOUTME: ping, echo, and tag show off command routing and the per-room tag store

package main

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/2389/coven-bot/bot"
	"github.com/2389/coven-bot/internal/dispatch"
	"github.com/2389/coven-bot/tags"
)

// tagNamespace scopes the demo's room tags.
const tagNamespace = "chat.coven.bot"

const tagUsage = "usage: tag list | add <tag> | rm <tag> | set <key> <value> | get <key>"

func registerDemoCommands(b *bot.Bot, logger *slog.Logger) {
	b.RegisterTextCommand("ping", "", "Check the bot is alive", func(ctx context.Context, sender, body string, room bot.Room) error {
		return room.SendText(ctx, "pong")
	})

	b.RegisterTextCommand("echo", "<text>", "Repeat text back", func(ctx context.Context, sender, body string, room bot.Room) error {
		text := dispatch.Args(b.CommandPrefix(), body)
		if text == "" {
			return room.SendText(ctx, "usage: echo <text>")
		}
		return room.SendText(ctx, text)
	})

	b.RegisterTextCommand("tag", "list|add|rm|set|get", "Manage this room's tags", func(ctx context.Context, sender, body string, room bot.Room) error {
		set, err := b.Tags(ctx, room.ID(), tagNamespace)
		if err != nil {
			return err
		}
		reply := runTag(set, strings.Fields(dispatch.Args(b.CommandPrefix(), body)))
		if err := set.Close(ctx); err != nil {
			return fmt.Errorf("saving tags: %w", err)
		}
		return room.SendMarkdown(ctx, reply)
	})

	b.RegisterTextHandler(func(ctx context.Context, sender, body string, room bot.Room) error {
		logger.Info("message", "room", room.ID(), "sender", sender, "body", body)
		return nil
	})
}

// runTag applies one tag subcommand to set and returns the reply text.
func runTag(set *tags.Set, args []string) string {
	if len(args) == 0 {
		return tagUsage
	}

	switch args[0] {
	case "list":
		all := set.Tags()
		if len(all) == 0 {
			return "no tags"
		}
		sort.Strings(all)
		return "`" + strings.Join(all, "`\n`") + "`"
	case "add":
		if len(args) != 2 {
			return tagUsage
		}
		set.Add(args[1])
		return "added `" + args[1] + "`"
	case "rm":
		if len(args) != 2 {
			return tagUsage
		}
		if !set.Has(args[1]) {
			return "no tag `" + args[1] + "`"
		}
		set.Remove(args[1])
		return "removed `" + args[1] + "`"
	case "set":
		if len(args) < 3 {
			return tagUsage
		}
		value := strings.Join(args[2:], " ")
		set.ReplaceKV(args[1], value)
		return fmt.Sprintf("`%s` = `%s`", args[1], value)
	case "get":
		if len(args) != 2 {
			return tagUsage
		}
		v, ok := set.Value(args[1])
		if !ok {
			return "`" + args[1] + "` is not set"
		}
		return fmt.Sprintf("`%s` = `%s`", args[1], v)
	default:
		return tagUsage
	}
}
