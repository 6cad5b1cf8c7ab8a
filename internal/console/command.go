package console

import (
	"fmt"
	"strings"

	"github.com/nerrad567/homebus/internal/device"
)

// Prefix marks a line as a command.
const Prefix = "!"

// Op names a console command.
type Op string

// Console commands.
const (
	OpDevices   Op = "devices"
	OpAddDevice Op = "add_device"
	OpDelDevice Op = "del_device"
	OpSensor    Op = "sensor"
	OpWatch     Op = "watch"
	OpSwitch    Op = "switch"
	OpQuery     Op = "query"
	OpStatus    Op = "status"
	OpHelp      Op = "help"
)

// commandSpec describes the arguments a command takes.
type commandSpec struct {
	args  []string // Argument names, in order
	usage string
	help  string
}

var commands = map[Op]commandSpec{
	OpDevices:   {help: "list devices"},
	OpAddDevice: {args: []string{"kind"}, help: "add a device (sensor/switch/watch)"},
	OpDelDevice: {args: []string{"id"}, help: "remove a device"},
	OpSensor:    {help: "read every sensor"},
	OpWatch:     {help: "read every clock"},
	OpSwitch:    {args: []string{"id"}, help: "toggle a switch"},
	OpQuery:     {args: []string{"kind", "id"}, help: "send the default request to one device"},
	OpStatus:    {help: "show the last value seen from each device"},
	OpHelp:      {help: "show this help"},
}

// helpOrder is the order commands are listed in by !help.
var helpOrder = []Op{
	OpSensor, OpSwitch, OpWatch, OpQuery, OpStatus,
	OpAddDevice, OpDelDevice, OpDevices, OpHelp,
}

func init() {
	for op, spec := range commands {
		usage := Prefix + string(op)
		for _, a := range spec.args {
			usage += " <" + a + ">"
		}
		spec.usage = usage
		commands[op] = spec
	}
}

// Command is a parsed console line.
type Command struct {
	Op   Op
	Kind string
	ID   string
}

// Parse turns a console line into a Command.
//
// Leading and trailing whitespace is ignored and arguments are separated by
// any run of spaces. Errors: ErrNotCommand, ErrUnknownCommand, ErrUsage (its
// message carries the expected form) or device.ErrInvalidKind for !query.
func Parse(line string) (Command, error) {
	line = strings.TrimSpace(line)
	rest, ok := strings.CutPrefix(line, Prefix)
	if !ok {
		return Command{}, ErrNotCommand
	}

	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return Command{}, ErrUnknownCommand
	}

	op := Op(fields[0])
	spec, known := commands[op]
	if !known {
		return Command{}, ErrUnknownCommand
	}

	args := fields[1:]
	if len(args) != len(spec.args) {
		return Command{}, fmt.Errorf("%w: %s", ErrUsage, spec.usage)
	}

	cmd := Command{Op: op}
	for i, name := range spec.args {
		switch name {
		case "kind":
			cmd.Kind = args[i]
		case "id":
			cmd.ID = args[i]
		}
	}

	if op == OpQuery {
		kind, err := device.ParseKind(cmd.Kind)
		if err != nil {
			return Command{}, err
		}
		cmd.Kind = string(kind)
	}

	return cmd, nil
}

// Help returns the command summary shown by !help.
func Help() string {
	var b strings.Builder
	b.WriteString("commands:\n")
	for _, op := range helpOrder {
		spec := commands[op]
		fmt.Fprintf(&b, "  %-20s %s\n", spec.usage, spec.help)
	}
	return strings.TrimRight(b.String(), "\n")
}
