package db

import (
	"context"
	"fmt"
	"time"

	"github.com/energizer-project/conduit/internal/events"
)

// AuditEntry is one row of the login audit log.
type AuditEntry struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Username  string    `json:"username,omitempty"`
	UUID      string    `json:"uuid,omitempty"`
	RemoteIP  string    `json:"remote_ip,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AuditLog records logins, failures, denials and disconnects.
type AuditLog struct {
	db *Database
}

// NewAuditLog wraps an open database.
func NewAuditLog(db *Database) *AuditLog {
	return &AuditLog{db: db}
}

// Record stores e with the current time.
func (a *AuditLog) Record(e AuditEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := a.db.Exec(
		`INSERT INTO audit_log (type, username, uuid, remote_ip, detail, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.Type, e.Username, e.UUID, e.RemoteIP, e.Detail, e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

// AuditFilter narrows Recent. Zero values match everything.
type AuditFilter struct {
	Type     string
	Username string
	Limit    int
}

// Recent returns matching entries, newest first. The limit defaults to 100.
func (a *AuditLog) Recent(f AuditFilter) ([]AuditEntry, error) {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 100
	}
	rows, err := a.db.Query(`
		SELECT id, type, username, uuid, remote_ip, detail, created_at
		FROM audit_log
		WHERE (? = '' OR type = ?) AND (? = '' OR username = ? COLLATE NOCASE)
		ORDER BY id DESC
		LIMIT ?`,
		f.Type, f.Type, f.Username, f.Username, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.Type, &e.Username, &e.UUID, &e.RemoteIP, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to read audit entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes entries older than the retention period and returns how many
// went.
func (a *AuditLog) Prune(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC()
	res, err := a.db.Exec(`DELETE FROM audit_log WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit log: %w", err)
	}
	return res.RowsAffected()
}

// Subscribe records the proxy's connection events as they are emitted.
func (a *AuditLog) Subscribe(bus *events.EventBus) {
	for _, t := range []events.EventType{
		events.EventPostLogin,
		events.EventLoginFailed,
		events.EventDisconnect,
		events.EventConnectionDenied,
		events.EventBackendConnected,
	} {
		bus.Subscribe(t, "audit_log", a.handle)
	}
}

func (a *AuditLog) handle(_ context.Context, ev events.Event) error {
	entry, ok := auditEntryFor(ev)
	if !ok {
		return nil
	}
	if err := a.Record(entry); err != nil {
		a.db.logger.Warn().Err(err).Str("event", string(ev.Type)).Msg("audit write failed")
		return err
	}
	return nil
}

func auditEntryFor(ev events.Event) (AuditEntry, bool) {
	e := AuditEntry{Type: string(ev.Type)}
	switch p := ev.Payload.(type) {
	case events.PostLoginPayload:
		e.Username, e.UUID, e.RemoteIP = p.Profile.Name, p.Profile.ID.String(), p.RemoteIP
		e.Detail = "protocol " + p.Version.Name()
	case events.LoginFailedPayload:
		e.Username, e.RemoteIP, e.Detail = p.Username, p.RemoteIP, p.Reason
	case events.DisconnectPayload:
		e.Username, e.UUID, e.RemoteIP = p.Profile.Name, p.Profile.ID.String(), p.RemoteIP
		e.Detail = fmt.Sprintf("online %ds", p.Online)
	case events.ConnectionDeniedPayload:
		e.RemoteIP, e.Detail = p.RemoteIP, p.Reason
	case events.BackendConnectedPayload:
		e.Username, e.Detail = p.Username, p.Backend
	default:
		return AuditEntry{}, false
	}
	return e, true
}
