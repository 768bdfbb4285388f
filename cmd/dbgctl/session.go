package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/shlex"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/dshills/debugengine/internal/config"
	"github.com/dshills/debugengine/internal/debug"
	"github.com/dshills/debugengine/internal/debug/adapters"
	"github.com/dshills/debugengine/internal/logging"
)

// sessionOptions are the flags of launch and attach.
type sessionOptions struct {
	name        string
	debugType   string
	adapter     string
	connect     string
	wsURL       string
	framing     string
	args        string
	breakpoints []string
}

func newSessionCommand(global *globalOptions, request string) *cobra.Command {
	so := &sessionOptions{}

	cmd := &cobra.Command{
		Use:   request + " [program [args...]]",
		Short: "Start a debug session with a " + request + " request",
		Long: `Start a debug session and read debugger commands from stdin.

The adapter is given with exactly one of --adapter, --connect or --ws.
Without any of them the built-in adapter for --type is started.

Commands:
  continue, c        resume the focused thread
  next, n            step over
  step, s            step in
  out                step out
  pause              pause the focused thread
  threads            list threads
  bt                 print the stack of the focused thread
  frame <n>          focus frame n of the stack
  scopes             print the variables of the focused frame
  eval <expr>        evaluate an expression
  break [file:line]  add a breakpoint (default: the focused frame)
  clear <file:line>  remove a breakpoint
  quit, q            end the session`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := so.configuration(request, args, adapters.NewRegistry())
			if err != nil {
				return err
			}
			return runSession(cmd.Context(), global, cfg, so.breakpoints)
		},
	}
	if request == debug.RequestAttach {
		cmd.Use = request
		cmd.Args = cobra.NoArgs
	}

	flags := cmd.Flags()
	flags.StringVar(&so.name, "name", "", "Session name")
	flags.StringVarP(&so.debugType, "type", "t", "", "Debug type (detected from the program when omitted)")
	flags.StringVarP(&so.adapter, "adapter", "a", "", `Adapter command line, e.g. "dlv dap"`)
	flags.StringVar(&so.connect, "connect", "", "Connect to an adapter listening on host:port")
	flags.StringVar(&so.wsURL, "ws", "", "Connect to an adapter over a WebSocket URL")
	flags.StringVar(&so.framing, "framing", "", "Message framing: header or line")
	flags.StringVar(&so.args, "args", "", "Launch or attach arguments as a JSON object")
	flags.StringArrayVarP(&so.breakpoints, "break", "b", nil, "Breakpoint as file:line (repeatable)")
	return cmd
}

// configuration resolves the flags and positional arguments into a session
// configuration.
func (so *sessionOptions) configuration(request string, positional []string, registry *adapters.Registry) (debug.Configuration, error) {
	args, err := so.arguments(positional)
	if err != nil {
		return debug.Configuration{}, err
	}

	debugType := so.debugType
	if debugType == "" {
		debugType = adapters.DetectType(gjson.GetBytes(args, "program").String())
	}
	if debugType == "" {
		return debug.Configuration{}, errors.New("cannot detect the debug type; use --type")
	}

	desc, err := so.descriptor(debugType, registry)
	if err != nil {
		return debug.Configuration{}, err
	}

	name := so.name
	if name == "" {
		name = debugType + " " + request
	}
	return debug.Configuration{
		Name:      name,
		Type:      debugType,
		Request:   request,
		Adapter:   desc,
		Arguments: args,
	}, nil
}

// arguments builds the request arguments from --args and an optional
// program with its own arguments.
func (so *sessionOptions) arguments(positional []string) (json.RawMessage, error) {
	args := []byte("{}")
	if so.args != "" {
		if !gjson.Valid(so.args) || !gjson.Parse(so.args).IsObject() {
			return nil, fmt.Errorf("--args must be a JSON object")
		}
		args = []byte(so.args)
	}
	if len(positional) == 0 {
		return args, nil
	}

	var err error
	if args, err = sjson.SetBytes(args, "program", positional[0]); err != nil {
		return nil, fmt.Errorf("set program: %w", err)
	}
	if len(positional) > 1 {
		if args, err = sjson.SetBytes(args, "args", positional[1:]); err != nil {
			return nil, fmt.Errorf("set program arguments: %w", err)
		}
	}
	return args, nil
}

// descriptor picks the adapter from --adapter, --connect or --ws, falling
// back to the registry entry for debugType.
func (so *sessionOptions) descriptor(debugType string, registry *adapters.Registry) (adapters.Descriptor, error) {
	given := 0
	for _, v := range []string{so.adapter, so.connect, so.wsURL} {
		if v != "" {
			given++
		}
	}
	if given > 1 {
		return adapters.Descriptor{}, errors.New("use only one of --adapter, --connect and --ws")
	}

	var (
		desc adapters.Descriptor
		err  error
	)
	switch {
	case so.adapter != "":
		desc, err = commandDescriptor(so.adapter)
	case so.connect != "":
		desc, err = serverDescriptor(so.connect)
	case so.wsURL != "":
		desc = adapters.Descriptor{Kind: adapters.KindWebSocket, URL: so.wsURL}
	default:
		desc, err = registry.Lookup(debugType)
	}
	if err != nil {
		return adapters.Descriptor{}, err
	}

	if so.framing != "" {
		if so.framing != config.FramingHeader && so.framing != config.FramingLine {
			return adapters.Descriptor{}, fmt.Errorf("--framing must be %q or %q", config.FramingHeader, config.FramingLine)
		}
		desc.Framing = so.framing
	}
	return desc, desc.Validate()
}

// commandDescriptor splits a shell-style command line into an executable
// adapter.
func commandDescriptor(command string) (adapters.Descriptor, error) {
	argv, err := shlex.Split(command)
	if err != nil {
		return adapters.Descriptor{}, fmt.Errorf("parse adapter command %q: %w", command, err)
	}
	if len(argv) == 0 {
		return adapters.Descriptor{}, errors.New("empty adapter command")
	}
	return adapters.Descriptor{Kind: adapters.KindExecutable, Command: argv[0], Args: argv[1:]}, nil
}

func serverDescriptor(address string) (adapters.Descriptor, error) {
	host, portText, err := net.SplitHostPort(address)
	if err != nil {
		return adapters.Descriptor{}, fmt.Errorf("--connect %q: %w", address, err)
	}
	port, err := strconv.Atoi(portText)
	if err != nil {
		return adapters.Descriptor{}, fmt.Errorf("--connect %q: invalid port", address)
	}
	return adapters.Descriptor{Kind: adapters.KindServer, Host: host, Port: port}, nil
}

// parseLocation splits "file:line". The last colon separates the line so
// Windows drive letters survive.
func parseLocation(loc string) (string, int, error) {
	i := strings.LastIndex(loc, ":")
	if i <= 0 || i == len(loc)-1 {
		return "", 0, fmt.Errorf("location %q must be file:line", loc)
	}
	line, err := strconv.Atoi(loc[i+1:])
	if err != nil || line < 1 {
		return "", 0, fmt.Errorf("location %q has an invalid line", loc)
	}
	return loc[:i], line, nil
}

func runSession(ctx context.Context, global *globalOptions, cfg debug.Configuration, breakpoints []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.WithComponent(logging.ComponentCLI)
	m := debug.NewManager(debug.WithSettings(global.settings))
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown", "error", err)
		}
	}()

	for _, spec := range breakpoints {
		file, line, err := parseLocation(spec)
		if err != nil {
			return err
		}
		if _, err := m.Breakpoints().AddBreakpoint(ctx, file, debug.BreakpointSpec{Line: line}); err != nil {
			return err
		}
	}

	r := newREPL(m, global.out)
	defer r.close()

	logger.Info("starting session", "type", cfg.Type, "request", cfg.Request, "adapter", cfg.Adapter.Kind)
	s, err := m.Launch(ctx, cfg)
	if err != nil {
		return err
	}
	return r.run(ctx, s, global.in)
}

func newAdaptersCommand(_ *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "adapters",
		Short: "List the built-in adapters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := adapters.NewRegistry()
			for _, t := range registry.Types() {
				d, err := registry.Lookup(t)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s\n", t, strings.Join(append([]string{d.Command}, d.Args...), " "))
			}
			return nil
		},
	}
}
