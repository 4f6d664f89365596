package sshclient

import (
	"strings"

	"flightplan/internal/types"
)

// SudoPrefix reads the password from stdin and prints no prompt.
const SudoPrefix = "sudo -S -p ''"

// Prepared is a command ready for transmission. Every entry of Commands
// runs in its own session, in order.
type Prepared struct {
	Commands []string
	Sudo     types.SudoMode
}

// String renders the prepared command for display.
func (p Prepared) String() string {
	return strings.Join(p.Commands, "\n")
}

// shellEscape escapes a string for safe single-quoted inclusion in a shell command.
func shellEscape(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "'\\''") + "'"
}

// WrapInterpreter runs code through interpreter as `<interpreter> -c '<code>'`.
func WrapInterpreter(interpreter, code string) string {
	interpreter = strings.TrimSpace(interpreter)
	if interpreter == "" {
		return code
	}
	return interpreter + " -c " + shellEscape(code)
}

// SplitCommands splits a shell line on && and ; that appear outside quotes.
// Backslash-newline continuations are joined first; empty parts are dropped.
func SplitCommands(line string) []string {
	line = strings.ReplaceAll(line, "\\\n", " ")

	var parts []string
	var cur strings.Builder
	var quote rune
	escaped := false
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			parts = append(parts, s)
		}
		cur.Reset()
	}

	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case escaped:
			escaped = false
		case r == '\\' && quote != '\'':
			escaped = true
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == ';':
			flush()
			continue
		case r == '&' && i+1 < len(runes) && runes[i+1] == '&':
			flush()
			i++
			continue
		}
		cur.WriteRune(r)
	}
	flush()
	return parts
}

// PrepareCommand applies the working directory and sudo mode to code.
//
// Without sudo the code runs as is. With sudo "n" every sub-command gets the
// sudo prefix and the parts are rejoined with &&. With sudo "p" the parts stay
// separate so each can receive the password on stdin; the directory change
// becomes a standalone first command.
func PrepareCommand(code, path string, sudo types.SudoMode) Prepared {
	path = strings.TrimSpace(path)
	cd := ""
	if path != "" {
		cd = "cd " + path
	}

	if sudo == types.SudoNone {
		cmd := code
		if cd != "" {
			cmd = cd + " && " + cmd
		}
		return Prepared{Commands: []string{cmd}, Sudo: sudo}
	}

	parts := SplitCommands(code)
	if len(parts) == 0 {
		parts = []string{strings.TrimSpace(code)}
	}
	for i, p := range parts {
		parts[i] = SudoPrefix + " " + p
	}

	if sudo == types.SudoNoPassword {
		cmd := strings.Join(parts, " && ")
		if cd != "" {
			cmd = cd + " && " + cmd
		}
		return Prepared{Commands: []string{cmd}, Sudo: sudo}
	}

	if cd != "" {
		parts = append([]string{cd}, parts...)
	}
	return Prepared{Commands: parts, Sudo: sudo}
}

// AggregateStatus returns the last non-zero status, or 0 when all succeeded.
// For [0, 1, 0, 4, 0] the result is 4.
func AggregateStatus(statuses []int) int {
	final := 0
	for _, st := range statuses {
		if st != 0 {
			final = st
		}
	}
	return final
}
