package ota

import (
	"strconv"
	"strings"
)

// CommandType identifies an operator command.
type CommandType int

const (
	CommandNone CommandType = iota
	CommandUpload
	CommandPrint
	CommandCancel
	CommandHash
	CommandRestart
	CommandRollback
	CommandDebug
	CommandSign
)

var commandNames = map[CommandType]string{
	CommandNone:     "none",
	CommandUpload:   "upload",
	CommandPrint:    "print",
	CommandCancel:   "cancel",
	CommandHash:     "hash",
	CommandRestart:  "restart",
	CommandRollback: "rollback",
	CommandDebug:    "debug",
	CommandSign:     "sign",
}

func (c CommandType) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return "unknown"
}

// commandTags maps the character after '{' to a command.
var commandTags = map[byte]CommandType{
	'u': CommandUpload,
	'p': CommandPrint,
	'c': CommandCancel,
	'h': CommandHash,
	'r': CommandRestart,
	'b': CommandRollback,
	'd': CommandDebug,
	's': CommandSign,
}

// Confirmation words typed after the tag of destructive commands.
var confirmWords = map[CommandType]string{
	CommandCancel:   "ancel",
	CommandRestart:  "estart",
	CommandRollback: "ack",
}

// ParseRange parses "<length>[ <offset>]". When length is missing the
// result is defLength, or a parse error if defLength is negative. The
// offset defaults to 0.
func ParseRange(text string, defLength int64) (length, offset int64, err error) {
	fields := strings.Fields(text)
	if len(fields) > 2 {
		return 0, 0, newError(ErrBadArgs, "too many arguments %q", text)
	}

	length = defLength
	if len(fields) == 0 {
		if defLength < 0 {
			return 0, 0, newError(ErrBadArgs, "length required")
		}
		return length, 0, nil
	}

	if length, err = parseUint(fields[0], 10); err != nil {
		return 0, 0, err
	}
	if len(fields) == 2 {
		if offset, err = parseUint(fields[1], 10); err != nil {
			return 0, 0, err
		}
	}
	return length, offset, nil
}

// DebugRequest is a parsed "{d" line.
type DebugRequest struct {
	Target byte // 'm' memory, 'f' flash image
	Addr   int64
	Length int64
}

// ParseDebug parses "<m|f><addr>[ <len>]". Numbers take Go prefixes, so
// 0x1000 is accepted; length defaults to 1.
func ParseDebug(text string) (*DebugRequest, error) {
	if text == "" || (text[0] != 'm' && text[0] != 'f') {
		return nil, newError(ErrUnknownCommand, "debug target %q", text)
	}
	fields := strings.Fields(text[1:])
	if len(fields) == 0 || len(fields) > 2 {
		return nil, newError(ErrBadArgs, "debug arguments %q", text)
	}

	req := &DebugRequest{Target: text[0], Length: 1}
	var err error
	if req.Addr, err = parseUint(fields[0], 0); err != nil {
		return nil, err
	}
	if len(fields) == 2 {
		if req.Length, err = parseUint(fields[1], 0); err != nil {
			return nil, err
		}
	}
	return req, nil
}

func parseUint(s string, base int) (int64, error) {
	v, err := strconv.ParseUint(s, base, 63)
	if err != nil {
		return 0, newError(ErrBadArgs, "bad number %q", s)
	}
	return int64(v), nil
}
