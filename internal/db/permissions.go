package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/energizer-project/conduit/internal/events"
)

// ErrUnknownRole is returned when a role name does not exist.
var ErrUnknownRole = errors.New("unknown role")

// Wildcard grants every permission.
const Wildcard = "*"

// Role is a named set of permissions, optionally extending another role.
type Role struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
	Inherits    string   `json:"inherits,omitempty"`
}

// Subject is a player (or the console) with assigned roles.
type Subject struct {
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
}

// PermissionStore keeps subjects, roles and their permissions.
type PermissionStore struct {
	db *Database
}

// NewPermissionStore seeds the default roles into db.
func NewPermissionStore(db *Database) (*PermissionStore, error) {
	s := &PermissionStore{db: db}
	if err := s.seedDefaults(); err != nil {
		return nil, fmt.Errorf("failed to seed default roles: %w", err)
	}
	return s, nil
}

var defaultRoles = []struct {
	name     string
	perms    []string
	inherits string
}{
	{name: "player", perms: []string{"conduit.command.help"}},
	{name: "moderator", perms: []string{
		"conduit.command.list",
		"conduit.command.status",
		"conduit.command.kick",
		"conduit.command.broadcast",
	}, inherits: "player"},
	{name: "admin", perms: []string{Wildcard}, inherits: "moderator"},
}

func (s *PermissionStore) seedDefaults() error {
	return s.db.Transaction(func(tx *sql.Tx) error {
		for _, role := range defaultRoles {
			if _, err := tx.Exec(
				"INSERT OR IGNORE INTO roles (name, inherits) VALUES (?, ?)",
				role.name, role.inherits); err != nil {
				return err
			}
			var roleID int64
			if err := tx.QueryRow("SELECT id FROM roles WHERE name = ?", role.name).Scan(&roleID); err != nil {
				return err
			}
			for _, perm := range role.perms {
				if err := grantTx(tx, roleID, perm); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func grantTx(tx *sql.Tx, roleID int64, permission string) error {
	if _, err := tx.Exec("INSERT OR IGNORE INTO permissions (name) VALUES (?)", permission); err != nil {
		return err
	}
	_, err := tx.Exec(`
		INSERT OR IGNORE INTO role_permissions (role_id, permission_id)
		SELECT ?, id FROM permissions WHERE name = ?`, roleID, permission)
	return err
}

// HasPermission reports whether subject holds permission through any of its
// roles or the roles they inherit.
func (s *PermissionStore) HasPermission(subject, permission string) (bool, error) {
	var count int
	err := s.db.QueryRow(`
		WITH RECURSIVE granted(role_id) AS (
			SELECT sr.role_id FROM subject_roles sr
			JOIN subjects sb ON sb.id = sr.subject_id
			WHERE sb.name = ?
			UNION
			SELECT parent.id FROM roles parent
			JOIN roles child ON child.inherits = parent.name
			JOIN granted g ON g.role_id = child.id
		)
		SELECT COUNT(*) FROM granted g
		JOIN role_permissions rp ON rp.role_id = g.role_id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE p.name = ? OR p.name = ?`,
		subject, permission, Wildcard).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("permission check failed: %w", err)
	}
	return count > 0, nil
}

// AssignRole gives subject a role, creating the subject on first use.
func (s *PermissionStore) AssignRole(subject, role string) error {
	return s.db.Transaction(func(tx *sql.Tx) error {
		var roleID int64
		if err := tx.QueryRow("SELECT id FROM roles WHERE name = ?", role).Scan(&roleID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %s", ErrUnknownRole, role)
			}
			return err
		}
		if _, err := tx.Exec("INSERT OR IGNORE INTO subjects (name) VALUES (?)", subject); err != nil {
			return fmt.Errorf("failed to create subject: %w", err)
		}
		_, err := tx.Exec(`
			INSERT OR IGNORE INTO subject_roles (subject_id, role_id)
			SELECT id, ? FROM subjects WHERE name = ?`, roleID, subject)
		if err == nil {
			s.db.logger.Info().Str("subject", subject).Str("role", role).Msg("role assigned")
		}
		return err
	})
}

// RemoveRole takes a role away from subject.
func (s *PermissionStore) RemoveRole(subject, role string) error {
	_, err := s.db.Exec(`
		DELETE FROM subject_roles
		WHERE subject_id = (SELECT id FROM subjects WHERE name = ?)
		AND role_id = (SELECT id FROM roles WHERE name = ?)`,
		subject, role)
	return err
}

// Subjects lists every subject with its directly assigned roles.
func (s *PermissionStore) Subjects() ([]Subject, error) {
	rows, err := s.db.Query(`
		SELECT sb.name, r.name FROM subjects sb
		JOIN subject_roles sr ON sr.subject_id = sb.id
		JOIN roles r ON r.id = sr.role_id
		ORDER BY sb.name, r.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Subject
	for rows.Next() {
		var name, role string
		if err := rows.Scan(&name, &role); err != nil {
			return nil, err
		}
		if n := len(out); n > 0 && strings.EqualFold(out[n-1].Name, name) {
			out[n-1].Roles = append(out[n-1].Roles, role)
			continue
		}
		out = append(out, Subject{Name: name, Roles: []string{role}})
	}
	return out, rows.Err()
}

// Roles lists every role with its own permissions.
func (s *PermissionStore) Roles() ([]Role, error) {
	rows, err := s.db.Query(`
		SELECT r.id, r.name, r.inherits, COALESCE(p.name, '') FROM roles r
		LEFT JOIN role_permissions rp ON rp.role_id = r.id
		LEFT JOIN permissions p ON p.id = rp.permission_id
		ORDER BY r.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Role
	for rows.Next() {
		var r Role
		var perm string
		if err := rows.Scan(&r.ID, &r.Name, &r.Inherits, &perm); err != nil {
			return nil, err
		}
		if n := len(out); n > 0 && out[n-1].ID == r.ID {
			if perm != "" {
				out[n-1].Permissions = append(out[n-1].Permissions, perm)
			}
			continue
		}
		if perm != "" {
			r.Permissions = []string{perm}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		sort.Strings(out[i].Permissions)
	}
	return out, nil
}

// Subscribe answers PermissionsSetup events for players with the store's
// grants. The console keeps whatever provider it was given.
func (s *PermissionStore) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventPermissionsSetup, "permission_store", func(_ context.Context, ev events.Event) error {
		payload, ok := ev.Payload.(*events.PermissionsSetupPayload)
		if !ok || ev.Source == "console" {
			return nil
		}
		payload.Provider = s.Provider(payload.Subject)
		return nil
	})
}

// Provider returns a permission function for subject backed by the store.
// Lookup errors deny.
func (s *PermissionStore) Provider(subject string) events.PermissionFunc {
	return func(permission string) bool {
		ok, err := s.HasPermission(subject, permission)
		if err != nil {
			s.db.logger.Warn().Err(err).Str("subject", subject).Msg("permission lookup failed")
			return false
		}
		return ok
	}
}
