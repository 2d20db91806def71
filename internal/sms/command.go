package sms

import "strings"

const (
	cmdStart   = "START"
	cmdLock    = "LOCK"
	cmdUnlock  = "UNLOCK"
	cmdRelease = "RELEASE"
	cmdLocker  = "LOCKER"

	// metric labels for messages that are not a known command
	labelName    = "NAME"
	labelUnknown = "UNKNOWN"
)

const (
	usageLock    = "LOCK <pin>"
	usageUnlock  = "UNLOCK <pin>"
	usageRelease = "RELEASE <locker number>"
)

// command is a parsed inbound message.
type command struct {
	name string   // first token, upper-cased
	args []string // remaining tokens
	text string   // whole trimmed message
}

func parseCommand(body string) command {
	text := strings.TrimSpace(body)
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return command{text: text}
	}
	return command{name: strings.ToUpper(tokens[0]), args: tokens[1:], text: text}
}

// label bounds metric cardinality to the known command set.
func (c command) label() string {
	switch c.name {
	case cmdStart, cmdLock, cmdUnlock, cmdRelease, cmdLocker:
		return c.name
	default:
		return labelUnknown
	}
}
