// Package endpoint turns inbound transport messages into handler invocations
// against the shared index and fans replies back out.
package endpoint

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

var (
	// ErrMalformedCommand is returned for structured commands that cannot be split.
	ErrMalformedCommand = errors.New("malformed command message")
	// ErrPoolClosed is returned by Submit after Close.
	ErrPoolClosed = errors.New("worker pool closed")
	// ErrEditorNotConnected is returned when sending to an absent editor.
	ErrEditorNotConnected = errors.New("editor not connected")
)

// MessageArgs is one inbound message. ClientID is uuid.Nil for messages that
// did not arrive from a TCP client.
type MessageArgs struct {
	ClientID uuid.UUID
	Message  string
}

// FromClient reports whether the message came from a TCP client.
func (m MessageArgs) FromClient() bool {
	return m.ClientID != uuid.Nil
}

// CommandMessage is a command name plus its arguments.
type CommandMessage struct {
	Command   string
	Arguments []string
}

// ParseCommandMessage splits text on whitespace. Single or double quotes group
// an argument containing whitespace. Inside double quotes a backslash escapes
// a following '"' or '\'; any other backslash is kept as is.
func ParseCommandMessage(text string) (CommandMessage, error) {
	var (
		tokens  []string
		current strings.Builder
		quote   rune
		inToken bool
	)
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote == '"' && r == '\\' && i+1 < len(runes) && (runes[i+1] == '"' || runes[i+1] == '\\'):
			i++
			current.WriteRune(runes[i])
		case quote != 0:
			if r == quote {
				quote = 0
				continue
			}
			current.WriteRune(r)
		case r == '"' || r == '\'':
			quote = r
			inToken = true
		case unicode.IsSpace(r):
			if inToken {
				tokens = append(tokens, current.String())
				current.Reset()
				inToken = false
			}
		default:
			current.WriteRune(r)
			inToken = true
		}
	}
	if quote != 0 {
		return CommandMessage{}, fmt.Errorf("%w: unterminated %c in %q", ErrMalformedCommand, quote, text)
	}
	if inToken {
		tokens = append(tokens, current.String())
	}
	if len(tokens) == 0 {
		return CommandMessage{}, nil
	}
	return CommandMessage{Command: tokens[0], Arguments: tokens[1:]}, nil
}

// Empty reports whether no command was given.
func (m CommandMessage) Empty() bool {
	return m.Command == ""
}

// String reconstitutes the normalized command text. Arguments containing
// whitespace or quotes are quoted so ParseCommandMessage round-trips them.
func (m CommandMessage) String() string {
	parts := make([]string, 0, len(m.Arguments)+1)
	if m.Command != "" {
		parts = append(parts, quoteArgument(m.Command))
	}
	for _, a := range m.Arguments {
		parts = append(parts, quoteArgument(a))
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

var argumentEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func quoteArgument(arg string) string {
	if arg == "" {
		return `""`
	}
	if !strings.ContainsFunc(arg, func(r rune) bool { return unicode.IsSpace(r) || r == '"' || r == '\'' }) {
		return arg
	}
	return `"` + argumentEscaper.Replace(arg) + `"`
}
