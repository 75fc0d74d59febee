package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/energizer-project/conduit/internal/events"
)

const consolePrompt = "conduit> "

// Console is the operator's command source on standard input. Until a
// PermissionsSetup handler says otherwise it holds every permission.
type Console struct {
	manager *Manager
	logger  zerolog.Logger

	mu          sync.Mutex
	out         io.Writer
	permissions events.PermissionFunc
}

// NewConsole creates a console writing command output to out.
func NewConsole(manager *Manager, out io.Writer) *Console {
	return &Console{
		manager:     manager,
		out:         out,
		logger:      log.With().Str("component", "console").Logger(),
		permissions: func(string) bool { return true },
	}
}

func (c *Console) Name() string { return "CONSOLE" }

func (c *Console) SendMessage(msg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintln(c.out, msg)
	return err
}

func (c *Console) HasPermission(permission string) bool {
	c.mu.Lock()
	fn := c.permissions
	c.mu.Unlock()
	return fn(permission)
}

// SetupPermissions fires PermissionsSetup for the console and installs the
// provider the handlers settle on.
func (c *Console) SetupPermissions(ctx context.Context, firer events.Firer) error {
	payload := &events.PermissionsSetupPayload{
		Subject:  c.Name(),
		Provider: func(string) bool { return true },
	}
	if firer != nil {
		if err := firer.EmitSync(ctx, events.Event{Type: events.EventPermissionsSetup, Source: "console", Payload: payload}); err != nil {
			return fmt.Errorf("console permission setup: %w", err)
		}
	}
	if payload.Provider == nil {
		payload.Provider = func(string) bool { return false }
	}
	c.mu.Lock()
	c.permissions = payload.Provider
	c.mu.Unlock()
	return nil
}

// RunCommand executes one line and reports problems to the console.
func (c *Console) RunCommand(ctx context.Context, line string) {
	line = strings.TrimPrefix(strings.TrimSpace(line), "/")
	if line == "" {
		return
	}
	handled, err := c.manager.Execute(ctx, c, line)
	if err != nil {
		c.logger.Error().Err(err).Msg("an error occurred while running this command")
		return
	}
	if !handled {
		_ = c.SendMessage("Command not found. Type 'help' for available commands.")
	}
}

// Run reads commands from stdin until ctx ends or input closes. On a terminal
// it uses line editing with tab completion.
func (c *Console) Run(ctx context.Context) error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return c.Serve(ctx, os.Stdin)
	}

	state, err := term.MakeRaw(fd)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to enter raw mode, falling back to plain input")
		return c.Serve(ctx, os.Stdin)
	}
	defer func() { _ = term.Restore(fd, state) }()

	t := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout}, consolePrompt)
	t.AutoCompleteCallback = c.autoComplete

	c.mu.Lock()
	c.out = t
	c.mu.Unlock()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		for {
			line, err := t.ReadLine()
			if err != nil {
				readErr <- err
				return
			}
			lines <- line
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case line := <-lines:
			c.RunCommand(ctx, line)
		}
	}
}

// Serve runs every line read from r as a command.
func (c *Console) Serve(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	lines := make(chan string)
	done := make(chan error, 1)
	go func() {
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		done <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-done:
			return err
		case line := <-lines:
			c.RunCommand(ctx, line)
		}
	}
}

// autoComplete handles tab. A single suggestion is filled in; several are
// printed and the line is left alone.
func (c *Console) autoComplete(line string, pos int, key rune) (string, int, bool) {
	if key != '\t' || pos != len(line) {
		return "", 0, false
	}
	suggestions := c.manager.Suggest(c, line)
	switch len(suggestions) {
	case 0:
		return "", 0, false
	case 1:
		cut := strings.LastIndexByte(line, ' ') + 1
		completed := line[:cut] + suggestions[0] + " "
		return completed, len(completed), true
	default:
		_ = c.SendMessage(strings.Join(suggestions, "  "))
		return line, pos, true
	}
}
