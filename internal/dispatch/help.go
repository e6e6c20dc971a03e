// ABOUTME: Built-in help command listing every registered command
// ABOUTME: Output is markdown, one line per command in registration order

package dispatch

import (
	"context"
	"strings"
)

// HelpCommand is the name of the built-in help command.
const HelpCommand = "help"

// HelpText renders the help listing for commands.
func HelpText(prefix string, commands []Command) string {
	var b strings.Builder
	b.WriteString("`" + prefix + HelpCommand + "`\n\nAvailable commands:")
	for _, c := range commands {
		b.WriteString("\n`" + prefix + c.Name)
		if c.ArgsHint != "" {
			b.WriteString(" " + c.ArgsHint)
		}
		b.WriteString("`")
		if c.ShortHelp != "" {
			b.WriteString(" - " + c.ShortHelp)
		}
	}
	return b.String()
}

// RegisterHelp adds the help command to d. The listing is rendered on
// each call so commands registered later still appear.
func (d *Dispatcher) RegisterHelp() {
	d.Register(Command{
		Name:      HelpCommand,
		ShortHelp: "Show this message",
		Handler: func(ctx context.Context, req Request) error {
			return req.Room.SendMarkdown(ctx, HelpText(d.prefix, d.Commands()))
		},
	})
}
