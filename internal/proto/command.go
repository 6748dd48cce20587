package proto

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// FieldSeparator delimits the fields of a command payload.
const FieldSeparator = ":"

// CommandName identifies an operation requested by the messaging server.
type CommandName string

const (
	// CmdAuth verifies a password: auth:user:server:password.
	CmdAuth CommandName = "auth"
	// CmdIsUser checks that an account exists: isuser:user:server.
	CmdIsUser CommandName = "isuser"
	// CmdSetPass replaces a password: setpass:user:server:password.
	CmdSetPass CommandName = "setpass"
)

// fieldCount is the total number of fields, name included, per command.
var fieldCount = map[CommandName]int{
	CmdAuth:    4,
	CmdIsUser:  3,
	CmdSetPass: 4,
}

var (
	// ErrInvalidEncoding means a payload is not valid UTF-8.
	ErrInvalidEncoding = errors.New("proto: payload is not valid utf-8")
	// ErrUnknownCommand means the first field names no known command.
	ErrUnknownCommand = errors.New("proto: unknown command")
	// ErrArity means a known command arrived with the wrong number of fields.
	ErrArity = errors.New("proto: wrong number of fields")
)

// ParseCommand decodes payload as UTF-8 and splits it on FieldSeparator.
// Empty fields are kept, so "a::b" yields three fields. The result always
// has at least one element; field count checks happen in NewCommand.
func ParseCommand(payload []byte) ([]string, error) {
	if !utf8.Valid(payload) {
		return nil, ErrInvalidEncoding
	}
	return strings.Split(string(payload), FieldSeparator), nil
}

// Command is a validated request.
type Command struct {
	Name   CommandName
	User   string
	Server string
	// Password is the password for auth and the new password for setpass.
	Password string
}

// NewCommand validates the name and arity of fields.
func NewCommand(fields []string) (Command, error) {
	if len(fields) == 0 {
		return Command{}, ErrUnknownCommand
	}
	name := CommandName(fields[0])
	want, ok := fieldCount[name]
	if !ok {
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, fields[0])
	}
	if len(fields) != want {
		return Command{}, fmt.Errorf("%w: %s wants %d, got %d", ErrArity, name, want, len(fields))
	}

	cmd := Command{Name: name, User: fields[1], Server: fields[2]}
	if want == 4 {
		cmd.Password = fields[3]
	}
	return cmd, nil
}

// String renders the command for logs with the password redacted.
func (c Command) String() string {
	if c.Name == CmdIsUser {
		return strings.Join([]string{string(c.Name), c.User, c.Server}, FieldSeparator)
	}
	return strings.Join([]string{string(c.Name), c.User, c.Server, "***"}, FieldSeparator)
}
