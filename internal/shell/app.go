package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/danmuck/streamshell/internal/client"
	"github.com/danmuck/streamshell/internal/payload"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

// ErrExit signals caller-intent to leave the shell.
var ErrExit = errors.New("shell: exit")

// Client is the session surface driven by the shell.
type Client interface {
	Login(ctx context.Context, username, password string) error
	Shutdown() error
	IsLoggedIn() bool
	RequestResponse(ctx context.Context) (payload.Message, error)
	FireAndForget(ctx context.Context) error
	Stream(ctx context.Context, obs client.Observer) (*client.Subscription, error)
	Channel(ctx context.Context, obs client.Observer) (*client.Subscription, error)
	Stop()
}

var _ Client = (*client.Session)(nil)

// PasswordReader prompts for a password without echo.
type PasswordReader func(prompt string) (string, error)

type Option func(*App)

func WithPasswordReader(r PasswordReader) Option {
	return func(a *App) { a.readPassword = r }
}

// WithUsername sets the user assumed when login is given no arguments.
func WithUsername(username string) Option {
	return func(a *App) { a.username = strings.TrimSpace(username) }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(a *App) { a.log = logger }
}

type command struct {
	name    string
	aliases []string
	usage   string
	help    string
	run     func(a *App, ctx context.Context, args []string) error
}

// App hosts the interactive command loop for one client session.
type App struct {
	client       Client
	reader       *bufio.Reader
	out          io.Writer
	readPassword PasswordReader
	username     string
	log          zerolog.Logger
	commands     map[string]*command
	ordered      []*command
}

func NewApp(c Client, in io.Reader, out io.Writer, opts ...Option) *App {
	a := &App{
		client:       c,
		reader:       bufio.NewReader(in),
		out:          out,
		readPassword: TerminalPassword(os.Stdin, out),
		log:          log.With().Str("component", "shell").Logger(),
		commands:     make(map[string]*command),
	}
	for _, opt := range opts {
		opt(a)
	}
	for _, cmd := range commands() {
		a.register(cmd)
	}
	return a
}

func (a *App) register(cmd *command) {
	a.ordered = append(a.ordered, cmd)
	a.commands[cmd.name] = cmd
	for _, alias := range cmd.aliases {
		a.commands[alias] = cmd
	}
}

func commands() []*command {
	return []*command{
		{
			name:  "login",
			usage: "login [username] [password] | login --username u [--password p]",
			help:  "Login with your username and password.",
			run:   (*App).login,
		},
		{
			name:    "request-response",
			aliases: []string{"requestResponse", "rr"},
			help:    "Send one request. One response will be printed.",
			run:     (*App).requestResponse,
		},
		{
			name:    "fire-and-forget",
			aliases: []string{"fireAndForget", "fnf"},
			help:    "Send one request. No response will be returned.",
			run:     (*App).fireAndForget,
		},
		{
			name: "stream",
			help: "Send one request. Many responses (stream) will be printed.",
			run:  (*App).stream,
		},
		{
			name: "channel",
			help: "Stream some settings to the server. Stream of responses will be printed.",
			run:  (*App).channel,
		},
		{
			name: "s",
			help: "Stops Streams or Channels.",
			run:  (*App).stop,
		},
		{
			name: "logout",
			help: "Close the connection and forget the credentials.",
			run:  (*App).logout,
		},
		{
			name: "help",
			help: "List available commands.",
			run:  (*App).help,
		},
		{
			name:    "exit",
			aliases: []string{"quit"},
			help:    "Close the connection and leave the shell.",
			run: func(*App, context.Context, []string) error {
				return ErrExit
			},
		},
	}
}

// Run reads commands until exit, end of input or ctx is done. The session is
// shut down before Run returns.
func (a *App) Run(ctx context.Context) error {
	defer func() {
		if err := a.client.Shutdown(); err != nil {
			a.log.Warn().Msgf("shell.App.Run shutdown err=%v", err)
		}
	}()

	// Lines are read only on request; a running command may read the same
	// input, as the password prompt does.
	next := make(chan struct{})
	lines := make(chan readResult, 1)
	defer close(next)
	go func() {
		for range next {
			line, err := a.reader.ReadString('\n')
			lines <- readResult{line: line, err: err}
			if err != nil {
				return
			}
		}
	}()

	for {
		a.prompt()
		next <- struct{}{}
		var res readResult
		select {
		case <-ctx.Done():
			fmt.Fprintln(a.out)
			return nil
		case res = <-lines:
		}
		if res.line != "" {
			err := a.Execute(ctx, res.line)
			if errors.Is(err, ErrExit) {
				return nil
			}
			if err != nil {
				fmt.Fprintf(a.out, "Error: %v\n", err)
			}
		}
		if res.err != nil {
			if errors.Is(res.err, io.EOF) {
				fmt.Fprintln(a.out)
				return nil
			}
			return res.err
		}
	}
}

type readResult struct {
	line string
	err  error
}

func (a *App) prompt() {
	fmt.Fprint(a.out, "shell:> ")
}

// Execute runs one command line. Blank lines are ignored.
func (a *App) Execute(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, ok := a.commands[fields[0]]
	if !ok {
		return fmt.Errorf("unknown command %q (type 'help')", fields[0])
	}
	return cmd.run(a, ctx, fields[1:])
}

func (a *App) login(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("login", pflag.ContinueOnError)
	flags.SetOutput(io.Discard)
	username := flags.StringP("username", "u", "", "username")
	password := flags.StringP("password", "p", "", "password")
	if err := flags.Parse(args); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	rest := flags.Args()
	if *username == "" && len(rest) > 0 {
		*username, rest = rest[0], rest[1:]
	}
	if !flags.Changed("password") && len(rest) > 0 {
		*password, rest = rest[0], rest[1:]
	}
	if len(rest) > 0 {
		return fmt.Errorf("login: unexpected argument %q", rest[0])
	}
	if *username == "" {
		*username = a.username
	}
	if *username == "" {
		return errors.New("login: username required")
	}
	if !flags.Changed("password") && *password == "" {
		pw, err := a.readPassword("Password: ")
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}
		*password = pw
	}
	return a.client.Login(ctx, *username, *password)
}

func (a *App) requestResponse(ctx context.Context, _ []string) error {
	_, err := a.client.RequestResponse(ctx)
	return quiet(err)
}

func (a *App) fireAndForget(ctx context.Context, _ []string) error {
	return quiet(a.client.FireAndForget(ctx))
}

func (a *App) stream(ctx context.Context, _ []string) error {
	_, err := a.client.Stream(ctx, client.Observer{})
	return quiet(err)
}

func (a *App) channel(ctx context.Context, _ []string) error {
	_, err := a.client.Channel(ctx, client.Observer{})
	return quiet(err)
}

func (a *App) stop(context.Context, []string) error {
	a.client.Stop()
	return nil
}

func (a *App) logout(context.Context, []string) error {
	if !a.client.IsLoggedIn() {
		a.log.Info().Msg("No connection. Did you login?")
		return nil
	}
	return a.client.Shutdown()
}

func (a *App) help(context.Context, []string) error {
	names := make([]string, 0, len(a.ordered))
	byName := make(map[string]*command, len(a.ordered))
	for _, cmd := range a.ordered {
		names = append(names, cmd.name)
		byName[cmd.name] = cmd
	}
	sort.Strings(names)
	fmt.Fprintln(a.out, "Available Commands")
	for _, name := range names {
		cmd := byName[name]
		label := cmd.name
		if len(cmd.aliases) > 0 {
			label += ", " + strings.Join(cmd.aliases, ", ")
		}
		fmt.Fprintf(a.out, "  %-45s %s\n", label, cmd.help)
		if cmd.usage != "" {
			fmt.Fprintf(a.out, "  %-45s usage: %s\n", "", cmd.usage)
		}
	}
	return nil
}

// quiet drops ErrNotConnected; the session already told the user to login.
func quiet(err error) error {
	if errors.Is(err, client.ErrNotConnected) {
		return nil
	}
	return err
}

// TerminalPassword reads a password from in with echo disabled. in must be a
// terminal.
func TerminalPassword(in *os.File, out io.Writer) PasswordReader {
	return func(prompt string) (string, error) {
		fd := int(in.Fd())
		if !term.IsTerminal(fd) {
			return "", errors.New("no terminal available for password prompt")
		}
		fmt.Fprint(out, prompt)
		pw, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(pw), nil
	}
}
