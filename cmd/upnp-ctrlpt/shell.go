package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/upnpsdk/upnpsdk-go/pkg/soap"
)

type command struct {
	name  string
	args  string
	help  string
	nargs int
	run   func(s *Shell, args []string) error
}

// setter builds a command sending Set<Var> to a service.
func setter(svc ServiceIndex, variable string) command {
	return command{
		name:  "Set" + variable,
		args:  "<devnum> <" + strings.ToLower(variable) + " (int)>",
		help:  "Sends the Set" + variable + " action to the " + svc.String() + " service of a device.",
		nargs: 2,
		run: func(s *Shell, args []string) error {
			n, err := devnum(args[0])
			if err != nil {
				return err
			}
			if _, err := strconv.Atoi(args[1]); err != nil {
				return fmt.Errorf("invalid %s %q", strings.ToLower(variable), args[1])
			}
			return s.cp.SendAction(n, svc, "Set"+variable, soap.Argument{Name: variable, Value: args[1]})
		},
	}
}

// commands is filled in init since the help commands list it.
var commands []command

func init() {
	commands = []command{
		{name: "Help", help: "Prints the list of commands.", run: func(s *Shell, _ []string) error {
			s.printHelp(false)
			return nil
		}},
		{name: "HelpFull", help: "Prints the commands with a description.", run: func(s *Shell, _ []string) error {
			s.printHelp(true)
			return nil
		}},
		{name: "ToggleVerbose", help: "Switches logging of every received event.", run: func(s *Shell, _ []string) error {
			s.cp.SetVerbose(!s.cp.Verbose())
			fmt.Fprintf(s.out, "Verbose: %t\n", s.cp.Verbose())
			return nil
		}},
		{name: "ListDev", help: "Lists the known devices.", run: func(s *Shell, _ []string) error {
			s.listDevices()
			return nil
		}},
		{name: "Refresh", help: "Forgets all devices and searches again.", run: func(s *Shell, _ []string) error {
			return s.cp.Refresh(s.ctx)
		}},
		{name: "PrintDev", args: "<devnum>", nargs: 1, help: "Prints the state of a device.", run: func(s *Shell, args []string) error {
			n, err := devnum(args[0])
			if err != nil {
				return err
			}
			return s.printDevice(n)
		}},
		{name: "PowerOn", args: "<devnum>", nargs: 1, help: "Sends the PowerOn action to the Control service of a device.", run: func(s *Shell, args []string) error {
			n, err := devnum(args[0])
			if err != nil {
				return err
			}
			return s.cp.SendAction(n, ServiceControl, "PowerOn")
		}},
		{name: "PowerOff", args: "<devnum>", nargs: 1, help: "Sends the PowerOff action to the Control service of a device.", run: func(s *Shell, args []string) error {
			n, err := devnum(args[0])
			if err != nil {
				return err
			}
			return s.cp.SendAction(n, ServiceControl, "PowerOff")
		}},
		setter(ServiceControl, "Channel"),
		setter(ServiceControl, "Volume"),
		setter(ServicePicture, "Color"),
		setter(ServicePicture, "Tint"),
		setter(ServicePicture, "Contrast"),
		setter(ServicePicture, "Brightness"),
		{name: "CtrlAction", args: "<devnum> <action>", nargs: 2, help: "Sends an action without arguments to the Control service (e.g. \"CtrlAction 1 IncreaseChannel\").", run: func(s *Shell, args []string) error {
			return s.rawAction(ServiceControl, args)
		}},
		{name: "PictAction", args: "<devnum> <action>", nargs: 2, help: "Sends an action without arguments to the Picture service (e.g. \"PictAction 1 DecreaseContrast\").", run: func(s *Shell, args []string) error {
			return s.rawAction(ServicePicture, args)
		}},
		{name: "CtrlGetVar", args: "<devnum> <varname>", nargs: 2, help: "Prints the last evented value of a Control service variable (e.g. \"CtrlGetVar 1 Volume\").", run: func(s *Shell, args []string) error {
			return s.getVar(ServiceControl, args)
		}},
		{name: "PictGetVar", args: "<devnum> <varname>", nargs: 2, help: "Prints the last evented value of a Picture service variable (e.g. \"PictGetVar 1 Tint\").", run: func(s *Shell, args []string) error {
			return s.getVar(ServicePicture, args)
		}},
		{name: "Exit", help: "Exits the control point."},
	}
}

func lookupCommand(name string) (command, bool) {
	for _, c := range commands {
		if strings.EqualFold(c.name, name) {
			return c, true
		}
	}
	return command{}, false
}

func devnum(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid device number %q", s)
	}
	return n, nil
}

// Shell is the interactive command line of the control point.
type Shell struct {
	ctx context.Context
	cp  *ControlPoint
	out io.Writer
	rl  *readline.Instance
}

// NewShell creates a shell reading from the terminal.
func NewShell(ctx context.Context, cp *ControlPoint) (*Shell, error) {
	var items []readline.PrefixCompleterInterface
	for _, c := range commands {
		items = append(items, readline.PcItem(c.name))
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          ">> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "Exit",
		AutoComplete:    readline.NewPrefixCompleter(items...),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Shell{ctx: ctx, cp: cp, out: rl.Stdout(), rl: rl}, nil
}

// Stdout returns a writer that keeps log output off the prompt line.
func (s *Shell) Stdout() io.Writer {
	return s.rl.Stdout()
}

// Run reads commands until Exit, EOF or ctx is done, then calls cancel.
func (s *Shell) Run(cancel context.CancelFunc) {
	defer s.rl.Close()
	defer cancel()

	s.printHelp(false)
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(s.out, "Exiting...")
			return
		}
		if s.Execute(line) {
			fmt.Fprintln(s.out, "Exiting...")
			return
		}
	}
}

// Execute runs one command line and reports whether it was Exit.
func (s *Shell) Execute(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	c, ok := lookupCommand(fields[0])
	if !ok {
		fmt.Fprintf(s.out, "Unknown command: %s (type 'Help' for commands)\n", fields[0])
		return false
	}
	if c.run == nil {
		return true
	}
	args := fields[1:]
	if len(args) < c.nargs {
		fmt.Fprintf(s.out, "Usage: %s %s\n", c.name, c.args)
		return false
	}
	if err := c.run(s, args); err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
	}
	return false
}

func (s *Shell) printHelp(full bool) {
	fmt.Fprintln(s.out, "\nValid commands:")
	for _, c := range commands {
		fmt.Fprintf(s.out, "  %-14s %s\n", c.name, c.args)
		if full {
			fmt.Fprintf(s.out, "       %s\n", c.help)
		}
	}
}

func (s *Shell) listDevices() {
	devices := s.cp.Devices()
	fmt.Fprintln(s.out, "\nDevices:")
	for i, d := range devices {
		fmt.Fprintf(s.out, "  %3d -- %s\n", i+1, d.UDN)
	}
	fmt.Fprintln(s.out)
}

func (s *Shell) printDevice(n int) error {
	d, err := s.cp.Device(n)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "\nDevice %d:\n", n)
	fmt.Fprintf(s.out, "    UDN           = %s\n", d.UDN)
	fmt.Fprintf(s.out, "    FriendlyName  = %s\n", d.FriendlyName)
	fmt.Fprintf(s.out, "    Location      = %s\n", d.Location)
	if !d.Expires.IsZero() {
		fmt.Fprintf(s.out, "    Expires       = %s\n", d.Expires.Format("15:04:05"))
	}
	for i, svc := range d.Services {
		if svc == nil {
			continue
		}
		idx := ServiceIndex(i)
		fmt.Fprintf(s.out, "    %s service:\n", idx)
		fmt.Fprintf(s.out, "      ServiceId   = %s\n", svc.ServiceID)
		fmt.Fprintf(s.out, "      ControlURL  = %s\n", svc.ControlURL)
		fmt.Fprintf(s.out, "      EventURL    = %s\n", svc.EventURL)
		fmt.Fprintf(s.out, "      SID         = %s\n", svc.SID)
		names := append([]string(nil), ServiceVars[idx]...)
		var extra []string
		for name := range svc.Vars {
			if !contains(names, name) {
				extra = append(extra, name)
			}
		}
		sort.Strings(extra)
		names = append(names, extra...)
		for _, name := range names {
			fmt.Fprintf(s.out, "      %-11s = %s\n", name, svc.Vars[name])
		}
	}
	return nil
}

func (s *Shell) rawAction(svc ServiceIndex, args []string) error {
	n, err := devnum(args[0])
	if err != nil {
		return err
	}
	return s.cp.SendAction(n, svc, args[1])
}

func (s *Shell) getVar(svc ServiceIndex, args []string) error {
	n, err := devnum(args[0])
	if err != nil {
		return err
	}
	v, err := s.cp.Var(n, svc, args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s = %s\n", args[1], v)
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
