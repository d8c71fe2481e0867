package client

import (
	"fmt"
	"strings"
	"time"

	"github.com/Tyrowin/relaychat/internal/protocol"
)

// CommandKind classifies an input line.
type CommandKind int

const (
	CommandNone CommandKind = iota
	CommandSay
	CommandNick
	CommandQuit
)

// Command is a parsed input line.
type Command struct {
	Kind CommandKind
	Arg  string
}

// ParseLine turns a line of user input into a command. "/nick NAME" registers,
// "/quit" exits, blank lines do nothing and anything else is said.
func ParseLine(line string) Command {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Command{Kind: CommandNone}
	}

	switch {
	case trimmed == "/quit":
		return Command{Kind: CommandQuit}
	case trimmed == "/nick" || strings.HasPrefix(trimmed, "/nick "):
		return Command{Kind: CommandNick, Arg: strings.TrimSpace(strings.TrimPrefix(trimmed, "/nick"))}
	}
	return Command{Kind: CommandSay, Arg: line}
}

// Render formats a server frame for the terminal. Frames that are not
// envelopes are shown as they arrived.
func Render(frame []byte, loc *time.Location) string {
	env, err := protocol.Decode(frame)
	if err != nil {
		return string(frame)
	}

	switch env.Kind {
	case protocol.KindUsers:
		if len(env.DataArray) == 0 {
			return "* online: (none)"
		}
		return "* online: " + strings.Join(env.DataArray, ", ")
	case protocol.KindMessage:
		msg, err := protocol.DecodeChat(env)
		if err != nil {
			return string(frame)
		}
		at := protocol.Time(msg.Time).In(loc).Format("15:04:05")
		return fmt.Sprintf("[%s] %s: %s", at, msg.From, msg.Message)
	}
	return string(frame)
}
