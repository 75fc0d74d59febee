// Package cli implements the proxy's commands and the interactive console
// that runs them. Players reach the same commands through chat.
package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/conduit/internal/admission"
	"github.com/energizer-project/conduit/internal/config"
	"github.com/energizer-project/conduit/internal/events"
	"github.com/energizer-project/conduit/internal/session"
	"github.com/energizer-project/conduit/internal/util"
)

// PermissionPrefix is prepended to a command name to form its permission.
const PermissionPrefix = "conduit.command."

// Command is one console command.
type Command struct {
	Name        string
	Aliases     []string
	Usage       string
	Description string
	// Permission is required to run the command; empty means anyone may.
	Permission string

	Run func(ctx context.Context, src session.CommandSource, args []string) error
	// Complete offers values for the argument being typed.
	Complete func(args []string) []string
}

// Deps are the collaborators the built-in commands act on.
type Deps struct {
	Config    *config.Config
	Players   *session.PlayerRegistry
	Whitelist *admission.Whitelist
	Events    events.Firer

	// Connections reports the number of open connections.
	Connections func() int
	// Shutdown stops the proxy.
	Shutdown  func()
	StartedAt time.Time
}

// Manager resolves command lines to commands. It implements
// session.CommandExecutor.
type Manager struct {
	deps     Deps
	commands map[string]*Command
	aliases  map[string]string
	logger   zerolog.Logger
}

// NewManager creates a manager with the built-in commands registered.
func NewManager(deps Deps) *Manager {
	if deps.StartedAt.IsZero() {
		deps.StartedAt = time.Now()
	}
	m := &Manager{
		deps:     deps,
		commands: make(map[string]*Command),
		aliases:  make(map[string]string),
		logger:   log.With().Str("component", "commands").Logger(),
	}
	m.registerBuiltins()
	return m
}

// Register adds cmd, replacing any command of the same name.
func (m *Manager) Register(cmd *Command) {
	name := strings.ToLower(cmd.Name)
	m.commands[name] = cmd
	for _, alias := range cmd.Aliases {
		m.aliases[strings.ToLower(alias)] = name
	}
}

func (m *Manager) lookup(name string) (*Command, bool) {
	name = strings.ToLower(name)
	if target, ok := m.aliases[name]; ok {
		name = target
	}
	cmd, ok := m.commands[name]
	return cmd, ok
}

func allowed(src session.CommandSource, cmd *Command) bool {
	return cmd.Permission == "" || src.HasPermission(cmd.Permission)
}

// Execute runs line on behalf of src. handled is false when no command has
// that name.
func (m *Manager) Execute(ctx context.Context, src session.CommandSource, line string) (bool, error) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false, nil
	}
	cmd, ok := m.lookup(parts[0])
	if !ok {
		return false, nil
	}
	if !allowed(src, cmd) {
		return true, src.SendMessage("You do not have permission to run this command.")
	}

	m.logger.Debug().Str("source", src.Name()).Str("command", cmd.Name).Msg("executing command")
	if err := cmd.Run(ctx, src, parts[1:]); err != nil {
		return true, fmt.Errorf("%s: %w", cmd.Name, err)
	}
	return true, nil
}

// Suggest completes partial for src: command names while the first word is
// being typed, then whatever the command offers for its arguments.
func (m *Manager) Suggest(src session.CommandSource, partial string) []string {
	parts := strings.Fields(partial)
	trailingSpace := strings.HasSuffix(partial, " ")

	if len(parts) == 0 || (len(parts) == 1 && !trailingSpace) {
		prefix := ""
		if len(parts) == 1 {
			prefix = strings.ToLower(parts[0])
		}
		var out []string
		for name, cmd := range m.commands {
			if strings.HasPrefix(name, prefix) && allowed(src, cmd) {
				out = append(out, name)
			}
		}
		sort.Strings(out)
		return out
	}

	cmd, ok := m.lookup(parts[0])
	if !ok || cmd.Complete == nil || !allowed(src, cmd) {
		return nil
	}
	args := parts[1:]
	if trailingSpace {
		args = append(args, "")
	}
	current := strings.ToLower(args[len(args)-1])

	var out []string
	for _, candidate := range cmd.Complete(args) {
		if strings.HasPrefix(strings.ToLower(candidate), current) {
			out = append(out, candidate)
		}
	}
	return out
}

func (m *Manager) registerBuiltins() {
	m.Register(&Command{
		Name:        "help",
		Aliases:     []string{"?"},
		Usage:       "help",
		Description: "Show the commands you can use",
		Run:         m.cmdHelp,
	})
	m.Register(&Command{
		Name:        "list",
		Aliases:     []string{"glist"},
		Usage:       "list",
		Description: "List online players",
		Permission:  PermissionPrefix + "list",
		Run:         m.cmdList,
	})
	m.Register(&Command{
		Name:        "status",
		Usage:       "status",
		Description: "Show proxy status and resource usage",
		Permission:  PermissionPrefix + "status",
		Run:         m.cmdStatus,
	})
	m.Register(&Command{
		Name:        "whitelist",
		Usage:       "whitelist [list|add <ip>|remove <ip>]",
		Description: "Inspect or edit the connection throttle whitelist",
		Permission:  PermissionPrefix + "whitelist",
		Run:         m.cmdWhitelist,
		Complete: func(args []string) []string {
			if len(args) == 1 {
				return []string{"list", "add", "remove"}
			}
			if len(args) == 2 && args[0] == "remove" && m.deps.Whitelist != nil {
				return m.deps.Whitelist.Addresses()
			}
			return nil
		},
	})
	m.Register(&Command{
		Name:        "kick",
		Usage:       "kick <player> [reason]",
		Description: "Disconnect a player",
		Permission:  PermissionPrefix + "kick",
		Run:         m.cmdKick,
		Complete:    m.completePlayer,
	})
	m.Register(&Command{
		Name:        "broadcast",
		Aliases:     []string{"alert"},
		Usage:       "broadcast <message>",
		Description: "Send a message to every player",
		Permission:  PermissionPrefix + "broadcast",
		Run:         m.cmdBroadcast,
	})
	m.Register(&Command{
		Name:        "shutdown",
		Aliases:     []string{"end", "stop"},
		Usage:       "shutdown",
		Description: "Stop the proxy",
		Permission:  PermissionPrefix + "shutdown",
		Run:         m.cmdShutdown,
	})
}

func (m *Manager) completePlayer(args []string) []string {
	if len(args) != 1 || m.deps.Players == nil {
		return nil
	}
	return m.deps.Players.Names()
}

// sendTable renders rows with tablewriter and sends them line by line.
func sendTable(src session.CommandSource, header []string, rows [][]string) error {
	var buf strings.Builder
	tw := tablewriter.NewWriter(&buf)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	tw.AppendBulk(rows)
	tw.Render()
	return sendLines(src, strings.TrimRight(buf.String(), "\n"))
}

func sendLines(src session.CommandSource, text string) error {
	for _, line := range strings.Split(text, "\n") {
		if err := src.SendMessage(line); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) cmdHelp(_ context.Context, src session.CommandSource, _ []string) error {
	names := make([]string, 0, len(m.commands))
	for name := range m.commands {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		cmd := m.commands[name]
		if !allowed(src, cmd) {
			continue
		}
		rows = append(rows, []string{cmd.Usage, cmd.Description})
	}
	return sendTable(src, []string{"Command", "Description"}, rows)
}

func (m *Manager) cmdList(_ context.Context, src session.CommandSource, _ []string) error {
	players := m.deps.Players.All()
	if len(players) == 0 {
		return src.SendMessage("No players are online.")
	}

	rows := make([][]string, 0, len(players))
	for _, p := range players {
		ping := "-"
		if d := p.Ping(); d >= 0 {
			ping = fmt.Sprintf("%dms", d.Milliseconds())
		}
		backend := "-"
		if link := p.Backend(); link != nil {
			backend = link.Addr()
		}
		rows = append(rows, []string{
			p.Name(),
			p.UUID().String(),
			p.RemoteIP(),
			p.ProtocolVersion().Name(),
			ping,
			backend,
			time.Since(p.JoinedAt()).Truncate(time.Second).String(),
		})
	}
	if err := sendTable(src, []string{"Name", "UUID", "Address", "Version", "Ping", "Backend", "Online"}, rows); err != nil {
		return err
	}
	return src.SendMessage(fmt.Sprintf("%d player(s) online.", len(players)))
}

func (m *Manager) cmdStatus(_ context.Context, src session.CommandSource, _ []string) error {
	proxy := m.deps.Config.GetProxy()
	usage := util.GetResourceUsage()

	connections := "-"
	if m.deps.Connections != nil {
		connections = fmt.Sprintf("%d", m.deps.Connections())
	}
	whitelisted := "-"
	if m.deps.Whitelist != nil {
		whitelisted = fmt.Sprintf("%d", len(m.deps.Whitelist.Addresses()))
	}

	rows := [][]string{
		{"Bind", proxy.Bind},
		{"Uptime", time.Since(m.deps.StartedAt).Truncate(time.Second).String()},
		{"Players", fmt.Sprintf("%d/%d", m.deps.Players.Count(), proxy.MaxPlayers)},
		{"Connections", connections},
		{"Online mode", fmt.Sprintf("%v", proxy.OnlineMode)},
		{"Backend", valueOr(proxy.Backend, "-")},
		{"Whitelisted", whitelisted},
		{"CPU", fmt.Sprintf("%.1f%%", usage.CPUPercent)},
		{"Memory", fmt.Sprintf("%.1f%% (process %d MB)", usage.MemoryUsedPercent, usage.ProcessRSSMB)},
		{"Goroutines", fmt.Sprintf("%d", usage.Goroutines)},
	}
	return sendTable(src, []string{"Property", "Value"}, rows)
}

func (m *Manager) cmdWhitelist(_ context.Context, src session.CommandSource, args []string) error {
	wl := m.deps.Whitelist
	if wl == nil {
		return src.SendMessage("The admission whitelist is not enabled.")
	}

	action := "list"
	if len(args) > 0 {
		action = strings.ToLower(args[0])
	}
	switch action {
	case "list":
		addrs := wl.Addresses()
		if len(addrs) == 0 {
			return src.SendMessage("The whitelist is empty.")
		}
		sort.Strings(addrs)
		rows := make([][]string, len(addrs))
		for i, addr := range addrs {
			rows[i] = []string{addr}
		}
		return sendTable(src, []string{fmt.Sprintf("Address (ttl %s)", wl.TTL())}, rows)
	case "add":
		if len(args) < 2 {
			return src.SendMessage("Usage: whitelist add <ip>")
		}
		wl.Add(args[1])
		return src.SendMessage(fmt.Sprintf("Whitelisted %s.", args[1]))
	case "remove":
		if len(args) < 2 {
			return src.SendMessage("Usage: whitelist remove <ip>")
		}
		if !wl.Remove(args[1]) {
			return src.SendMessage(fmt.Sprintf("%s is not whitelisted.", args[1]))
		}
		return src.SendMessage(fmt.Sprintf("Removed %s from the whitelist.", args[1]))
	default:
		return src.SendMessage("Usage: whitelist [list|add <ip>|remove <ip>]")
	}
}

func (m *Manager) cmdKick(_ context.Context, src session.CommandSource, args []string) error {
	if len(args) < 1 {
		return src.SendMessage("Usage: kick <player> [reason]")
	}
	player, ok := m.deps.Players.Get(args[0])
	if !ok {
		return src.SendMessage(fmt.Sprintf("Player %s is not online.", args[0]))
	}
	reason := "Kicked by an operator."
	if len(args) > 1 {
		reason = strings.Join(args[1:], " ")
	}
	player.Disconnect(reason)
	m.logger.Info().Str("source", src.Name()).Str("player", player.Name()).Str("reason", reason).Msg("player kicked")
	return src.SendMessage(fmt.Sprintf("Kicked %s.", player.Name()))
}

func (m *Manager) cmdBroadcast(_ context.Context, src session.CommandSource, args []string) error {
	if len(args) == 0 {
		return src.SendMessage("Usage: broadcast <message>")
	}
	sent := m.deps.Players.Broadcast(strings.Join(args, " "))
	return src.SendMessage(fmt.Sprintf("Message sent to %d player(s).", sent))
}

func (m *Manager) cmdShutdown(ctx context.Context, src session.CommandSource, _ []string) error {
	if m.deps.Shutdown == nil {
		return src.SendMessage("Shutdown is not available.")
	}
	m.logger.Info().Str("source", src.Name()).Msg("shutdown requested")
	if m.deps.Events != nil {
		m.deps.Events.Emit(ctx, events.Event{Type: events.EventShutdown, Source: "cli"})
	}
	if err := src.SendMessage("Shutting down..."); err != nil {
		m.logger.Debug().Err(err).Msg("could not confirm shutdown")
	}
	m.deps.Shutdown()
	return nil
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
