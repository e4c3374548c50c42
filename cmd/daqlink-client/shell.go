package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chzyer/readline"

	"github.com/rcedaq/daqlink-go/pkg/client"
	"github.com/rcedaq/daqlink-go/pkg/mirror"
	"github.com/rcedaq/daqlink-go/pkg/model"
)

// errQuit ends the command loop.
var errQuit = errors.New("quit")

const defaultWait = 10 * time.Second

// Watch modes.
const (
	watchOff int32 = iota
	watchStatus
	watchReads
)

// Shell executes text commands against a Client.
type Shell struct {
	client *client.Client
	out    io.Writer
	watch  atomic.Int32
}

// NewShell creates a shell writing to out.
func NewShell(c *client.Client, out io.Writer) *Shell {
	s := &Shell{client: c, out: out}
	c.OnStatus(func(path, value string) error {
		if s.watch.Load() == watchStatus {
			fmt.Fprintf(s.out, "  status %s = %s\n", path, value)
		}
		return nil
	})
	c.OnRead(func(info mirror.ReadInfo) {
		if s.watch.Load() == watchReads {
			fmt.Fprintf(s.out, "  read %s %s = %s (#%d)\n", info.Category, info.Path, info.Value, info.Updates)
		}
	})
	c.OnError(func(msg string) error {
		fmt.Fprintf(s.out, "  device error: %s\n", msg)
		return nil
	})
	return s
}

// Run reads commands from rl until quit, EOF or ctx is done.
func (s *Shell) Run(ctx context.Context, rl *readline.Instance) {
	defer rl.Close()

	s.printHelp()
	for {
		if ctx.Err() != nil {
			return
		}

		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(s.out, "Exiting...")
			return
		}

		if err := s.Exec(ctx, line); err != nil {
			if errors.Is(err, errQuit) {
				fmt.Fprintln(s.out, "Exiting...")
				return
			}
			fmt.Fprintf(s.out, "Error: %v\n", err)
		}
	}
}

// Exec runs one command line.
func (s *Shell) Exec(ctx context.Context, line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		s.printHelp()
		return nil
	case "get", "g":
		return s.cmdGet(args)
	case "read", "r":
		return s.cmdRead(args)
	case "unread":
		return s.cmdUnread(args)
	case "reads":
		s.cmdReads()
		return nil
	case "set", "s":
		return s.cmdSet(args)
	case "cmd", "c":
		return s.cmdCommand(args)
	case "wait", "w":
		return s.cmdWait(ctx, args)
	case "find", "f":
		return s.cmdFind(args)
	case "vars":
		return s.cmdVars(args)
	case "cmds":
		s.cmdCmds()
		return nil
	case "refresh":
		return errors.Join(s.client.RequestConfig(), s.client.RequestStatus())
	case "reset":
		return s.cmdReset(args)
	case "watch":
		return s.cmdWatch(args)
	case "info":
		s.cmdInfo()
		return nil
	case "quit", "exit", "q":
		return errQuit
	default:
		return fmt.Errorf("unknown command: %s (type 'help' for commands)", cmd)
	}
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.out, `
daqlink Client Commands:
  State:
    get <path>           - Show a configuration or status value
    read <path>          - On-demand read (first call only registers the path)
    unread [path]        - Drop one on-demand read, or all of them
    reads                - List on-demand reads and their update counts
    wait <path> [dur]    - Wait for the next status change, then show path
    find <name>          - Show every value with a path segment called name
    vars [config|status] - List described variables
    cmds                 - List described commands

  Control:
    set <path> <value>   - Write a configuration value
    cmd <path> [arg]     - Issue a command
    refresh              - Ask for the full configuration and status
    reset soft|hard|defaults
    watch on|off|reads   - Print status changes or on-demand read updates

  Other:
    info                 - Show connection state and counters
    help                 - Show this help
    quit                 - Exit`)
}

func (s *Shell) cmdGet(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: get <path>")
	}
	if v, err := s.client.GetConfig(args[0]); err == nil {
		fmt.Fprintf(s.out, "config %s = %s\n", args[0], v)
		return nil
	}
	v, err := s.client.GetStatus(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "status %s = %s\n", args[0], v)
	return nil
}

func (s *Shell) cmdRead(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: read <path>")
	}
	if v, ok := s.client.ReadConfig(args[0]); ok {
		fmt.Fprintf(s.out, "config %s = %s\n", args[0], v)
		return nil
	}
	if v, ok := s.client.ReadStatus(args[0]); ok {
		fmt.Fprintf(s.out, "status %s = %s\n", args[0], v)
		return nil
	}
	fmt.Fprintf(s.out, "%s registered, no value yet\n", args[0])
	return nil
}

func (s *Shell) cmdUnread(args []string) error {
	switch len(args) {
	case 0:
		fmt.Fprintf(s.out, "dropped %d on-demand reads\n", s.client.UnreadAll())
		return nil
	case 1:
		return s.client.Unread(args[0])
	default:
		return errors.New("usage: unread [path]")
	}
}

func (s *Shell) cmdReads() {
	reads := s.client.Reads()
	if len(reads) == 0 {
		fmt.Fprintln(s.out, "no on-demand reads")
		return
	}
	for _, r := range reads {
		if !r.HasValue {
			fmt.Fprintf(s.out, "%-6s %s (no value yet)\n", r.Category, r.Path)
			continue
		}
		fmt.Fprintf(s.out, "%-6s %s = %s (updates %d, last %s)\n",
			r.Category, r.Path, r.Value, r.Updates, r.LastUpdate.Format(time.TimeOnly))
	}
}

func (s *Shell) cmdSet(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: set <path> <value>")
	}
	return s.client.SendConfig(args[0], strings.Join(args[1:], " "))
}

func (s *Shell) cmdCommand(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: cmd <path> [arg]")
	}
	return s.client.SendCommand(args[0], strings.Join(args[1:], " "))
}

func (s *Shell) cmdWait(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: wait <path> [duration]")
	}
	timeout := defaultWait
	if len(args) == 2 {
		d, err := time.ParseDuration(args[1])
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		timeout = d
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	v, err := s.client.WaitStatus(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "status %s = %s\n", args[0], v)
	return nil
}

func (s *Shell) cmdFind(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: find <name>")
	}
	matches := s.client.Find(args[0])
	if len(matches) == 0 {
		fmt.Fprintf(s.out, "no value named %s\n", args[0])
		return nil
	}
	for _, m := range matches {
		fmt.Fprintf(s.out, "%-6s %s = %s\n", m.Category, m.Path, m.Value)
	}
	return nil
}

func (s *Shell) cmdVars(args []string) error {
	kinds := []model.Kind{model.KindConfig, model.KindStatus}
	if len(args) == 1 {
		switch args[0] {
		case "config":
			kinds = kinds[:1]
		case "status":
			kinds = kinds[1:]
		default:
			return errors.New("usage: vars [config|status]")
		}
	}
	for _, k := range kinds {
		for _, v := range s.client.Structure().Variables(k) {
			if v.Hidden {
				continue
			}
			fmt.Fprintf(s.out, "%-6s %s", k, v.Path)
			if v.Type != "" {
				fmt.Fprintf(s.out, " type=%s", v.Type)
			}
			if len(v.Enums) > 0 {
				fmt.Fprintf(s.out, " enums=%s", v.EnumString())
			}
			if v.Min != "" || v.Max != "" {
				fmt.Fprintf(s.out, " range=[%s,%s]", v.Min, v.Max)
			}
			if v.CompUnits != "" {
				fmt.Fprintf(s.out, " units=%s", v.CompUnits)
			}
			fmt.Fprintln(s.out)
		}
	}
	return nil
}

func (s *Shell) cmdCmds() {
	for _, c := range s.client.Structure().Commands() {
		if c.Hidden {
			continue
		}
		if c.HasArg {
			fmt.Fprintf(s.out, "%s <arg>\n", c.Path)
		} else {
			fmt.Fprintln(s.out, c.Path)
		}
	}
}

func (s *Shell) cmdReset(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: reset soft|hard|defaults")
	}
	switch args[0] {
	case "soft":
		return s.client.SoftReset()
	case "hard":
		return s.client.HardReset()
	case "defaults":
		return s.client.SetDefaults()
	default:
		return errors.New("usage: reset soft|hard|defaults")
	}
}

func (s *Shell) cmdWatch(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: watch on|off|reads")
	}
	switch args[0] {
	case "on":
		s.watch.Store(watchStatus)
	case "off":
		s.watch.Store(watchOff)
	case "reads":
		s.watch.Store(watchReads)
	default:
		return errors.New("usage: watch on|off|reads")
	}
	return nil
}

func (s *Shell) cmdInfo() {
	st := s.client.Stats()
	fmt.Fprintf(s.out, "State:        %s\n", st.State)
	if st.Port != 0 {
		fmt.Fprintf(s.out, "Port:         %d\n", st.Port)
	}
	fmt.Fprintf(s.out, "Processed:    %d\n", st.Processed)
	fmt.Fprintf(s.out, "Parse errors: %d\n", st.ParseErrors)
	fmt.Fprintf(s.out, "Connects:     %d (failures %d, stalls %d, losses %d)\n",
		st.Connection.Connects, st.Connection.Failures, st.Connection.Stalls, st.Connection.Losses)
	if st.Connection.LastError != nil {
		fmt.Fprintf(s.out, "Last error:   %v\n", st.Connection.LastError)
	}
	vars, cmds := s.client.Structure().Len()
	fmt.Fprintf(s.out, "Structure:    %d variables, %d commands\n", vars, cmds)
	fmt.Fprintf(s.out, "On-demand:    %d reads\n", len(s.client.Reads()))
}
