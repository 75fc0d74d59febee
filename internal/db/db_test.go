package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/conduit/internal/events"
	"github.com/energizer-project/conduit/internal/protocol"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "nested", "conduit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conduit.db")
	d, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, NewAuditLog(d).Record(AuditEntry{Type: "test"}))
	require.NoError(t, d.Close())

	d, err = Open(path)
	require.NoError(t, err)
	defer d.Close()

	var version int
	require.NoError(t, d.QueryRow("SELECT version FROM schema_version").Scan(&version))
	assert.Equal(t, len(migrations), version)

	entries, err := NewAuditLog(d).Recent(AuditFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, 1, "data survives reopening")
}

func TestAuditRecentFiltersAndOrders(t *testing.T) {
	audit := NewAuditLog(openTestDB(t))

	require.NoError(t, audit.Record(AuditEntry{Type: "post_login", Username: "Steve", RemoteIP: "10.0.0.1"}))
	require.NoError(t, audit.Record(AuditEntry{Type: "login_failed", Username: "Alex", Detail: "bad token"}))
	require.NoError(t, audit.Record(AuditEntry{Type: "disconnect", Username: "steve"}))

	all, err := audit.Recent(AuditFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "disconnect", all[0].Type, "newest first")

	steve, err := audit.Recent(AuditFilter{Username: "STEVE"})
	require.NoError(t, err)
	assert.Len(t, steve, 2)

	failed, err := audit.Recent(AuditFilter{Type: "login_failed"})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "bad token", failed[0].Detail)

	limited, err := audit.Recent(AuditFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestAuditPrune(t *testing.T) {
	audit := NewAuditLog(openTestDB(t))

	require.NoError(t, audit.Record(AuditEntry{Type: "old", CreatedAt: time.Now().Add(-48 * time.Hour)}))
	require.NoError(t, audit.Record(AuditEntry{Type: "new"}))

	removed, err := audit.Prune(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	left, err := audit.Recent(AuditFilter{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "new", left[0].Type)
}

func TestAuditSubscribesToEvents(t *testing.T) {
	audit := NewAuditLog(openTestDB(t))
	bus := events.NewEventBus()
	audit.Subscribe(bus)

	id := uuid.New()
	ctx := context.Background()
	bus.Emit(ctx, events.Event{Type: events.EventPostLogin, Payload: events.PostLoginPayload{
		Profile:  protocol.GameProfile{ID: id, Name: "Steve"},
		RemoteIP: "10.0.0.2",
		Version:  protocol.Version1_12_2,
	}})
	bus.Emit(ctx, events.Event{Type: events.EventConnectionDenied, Payload: events.ConnectionDeniedPayload{
		RemoteIP: "10.0.0.3",
		Reason:   "throttled",
	}})
	bus.Stop()

	login, err := audit.Recent(AuditFilter{Type: string(events.EventPostLogin)})
	require.NoError(t, err)
	require.Len(t, login, 1)
	assert.Equal(t, id.String(), login[0].UUID)
	assert.Equal(t, "protocol 1.12.2", login[0].Detail)

	denied, err := audit.Recent(AuditFilter{Type: string(events.EventConnectionDenied)})
	require.NoError(t, err)
	require.Len(t, denied, 1)
	assert.Equal(t, "throttled", denied[0].Detail)
}

func TestPermissionInheritance(t *testing.T) {
	store, err := NewPermissionStore(openTestDB(t))
	require.NoError(t, err)

	require.NoError(t, store.AssignRole("Mod", "moderator"))

	ok, err := store.HasPermission("mod", "conduit.command.kick")
	require.NoError(t, err)
	assert.True(t, ok, "subject names are case-insensitive")

	ok, err = store.HasPermission("Mod", "conduit.command.help")
	require.NoError(t, err)
	assert.True(t, ok, "moderator inherits player")

	ok, err = store.HasPermission("Mod", "conduit.command.shutdown")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.AssignRole("Boss", "admin"))
	ok, err = store.HasPermission("Boss", "conduit.command.shutdown")
	require.NoError(t, err)
	assert.True(t, ok, "wildcard")

	ok, err = store.HasPermission("Nobody", "conduit.command.help")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAssignUnknownRole(t *testing.T) {
	store, err := NewPermissionStore(openTestDB(t))
	require.NoError(t, err)
	assert.ErrorIs(t, store.AssignRole("Steve", "overlord"), ErrUnknownRole)
}

func TestSubjectsAndRoles(t *testing.T) {
	store, err := NewPermissionStore(openTestDB(t))
	require.NoError(t, err)

	require.NoError(t, store.AssignRole("Steve", "player"))
	require.NoError(t, store.AssignRole("Steve", "moderator"))
	require.NoError(t, store.RemoveRole("Steve", "player"))

	subjects, err := store.Subjects()
	require.NoError(t, err)
	require.Len(t, subjects, 1)
	assert.Equal(t, Subject{Name: "Steve", Roles: []string{"moderator"}}, subjects[0])

	roles, err := store.Roles()
	require.NoError(t, err)
	require.Len(t, roles, 3)
	assert.Equal(t, "admin", roles[2].Name)
	assert.Equal(t, []string{Wildcard}, roles[2].Permissions)
	assert.Equal(t, "moderator", roles[2].Inherits)
}

func TestPermissionStoreAnswersSetup(t *testing.T) {
	store, err := NewPermissionStore(openTestDB(t))
	require.NoError(t, err)
	require.NoError(t, store.AssignRole("Steve", "moderator"))

	bus := events.NewEventBus()
	defer bus.Stop()
	store.Subscribe(bus)

	payload := &events.PermissionsSetupPayload{Subject: "Steve"}
	require.NoError(t, bus.EmitSync(context.Background(), events.Event{
		Type: events.EventPermissionsSetup, Source: "session", Payload: payload,
	}))
	require.NotNil(t, payload.Provider)
	assert.True(t, payload.Provider("conduit.command.list"))
	assert.False(t, payload.Provider("conduit.command.whitelist"))

	console := &events.PermissionsSetupPayload{Subject: "CONSOLE", Provider: func(string) bool { return true }}
	require.NoError(t, bus.EmitSync(context.Background(), events.Event{
		Type: events.EventPermissionsSetup, Source: "console", Payload: console,
	}))
	assert.True(t, console.Provider("conduit.command.whitelist"))
}
