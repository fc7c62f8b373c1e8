package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// CreateContext inserts a tenant.
func (s *Store) CreateContext(ctx context.Context, c *Context) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	pinned, _ := json.Marshal(c.PinnedFiles)
	members, _ := json.Marshal(c.Members)
	cfg, _ := json.Marshal(c.Config)

	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO contexts (id, name, type, owner, default_cwd, pinned_files, members, config, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		c.ID, c.Name, string(c.Type), c.Owner, c.DefaultCwd, string(pinned), string(members), string(cfg), c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create context %s: %w", c.ID, err)
	}
	return nil
}

// GetContext loads a tenant; missing contexts return (nil, nil).
func (s *Store) GetContext(ctx context.Context, id string) (*Context, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, name, type, owner, default_cwd, pinned_files, members, config, created_at
		 FROM contexts WHERE id = ?`), id)

	var c Context
	var typ, pinned, members, cfg string
	err := row.Scan(&c.ID, &c.Name, &typ, &c.Owner, &c.DefaultCwd, &pinned, &members, &cfg, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load context %s: %w", id, err)
	}
	c.Type = ContextType(typ)
	_ = json.Unmarshal([]byte(pinned), &c.PinnedFiles)
	_ = json.Unmarshal([]byte(members), &c.Members)
	_ = json.Unmarshal([]byte(cfg), &c.Config)
	return &c, nil
}

// DeleteContext removes a tenant and cascades to all child entities.
func (s *Store) DeleteContext(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	statements := []string{
		`DELETE FROM messages WHERE session_id IN (SELECT id FROM conversations WHERE context_id = ?)`,
		`DELETE FROM conversations WHERE context_id = ?`,
		`DELETE FROM tool_permissions WHERE context_id = ?`,
		`DELETE FROM oauth_tokens WHERE context_id = ?`,
		`DELETE FROM scheduled_jobs WHERE context_id = ?`,
		`DELETE FROM prices WHERE context_id = ?`,
		`DELETE FROM contexts WHERE id = ?`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, s.rebind(stmt), id); err != nil {
			return fmt.Errorf("failed to cascade delete context %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// ToolPermissions returns the permission rows for a context as a map.
func (s *Store) ToolPermissions(ctx context.Context, contextID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT tool_name, allowed FROM tool_permissions WHERE context_id = ?`), contextID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tool permissions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	perms := map[string]bool{}
	for rows.Next() {
		var name string
		var allowed bool
		if err := rows.Scan(&name, &allowed); err != nil {
			return nil, err
		}
		perms[name] = allowed
	}
	return perms, rows.Err()
}

// SetToolPermission upserts one permission row.
func (s *Store) SetToolPermission(ctx context.Context, contextID, tool string, allowed bool) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM tool_permissions WHERE context_id = ? AND tool_name = ?`), contextID, tool)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO tool_permissions (context_id, tool_name, allowed) VALUES (?, ?, ?)`),
		contextID, tool, allowed)
	return err
}

// SaveOAuthToken stores a provider token, encrypting both halves.
func (s *Store) SaveOAuthToken(ctx context.Context, contextID, provider, access, refresh string, expiresAt *time.Time, userID string) error {
	if s.crypto == nil {
		return fmt.Errorf("oauth tokens require an encryption key")
	}
	encAccess, err := s.crypto.Encrypt(access)
	if err != nil {
		return err
	}
	encRefresh := ""
	if refresh != "" {
		if encRefresh, err = s.crypto.Encrypt(refresh); err != nil {
			return err
		}
	}

	_, err = s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM oauth_tokens WHERE context_id = ? AND provider = ?`), contextID, provider)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO oauth_tokens (context_id, provider, encrypted_access, encrypted_refresh, expires_at, user_id)
		 VALUES (?, ?, ?, ?, ?, ?)`),
		contextID, provider, encAccess, encRefresh, expiresAt, userID)
	return err
}

// OAuthAccessToken loads and decrypts the access token for a provider.
// Missing tokens return ("", nil).
func (s *Store) OAuthAccessToken(ctx context.Context, contextID, provider string) (string, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT encrypted_access FROM oauth_tokens WHERE context_id = ? AND provider = ?`),
		contextID, provider)

	var encrypted string
	err := row.Scan(&encrypted)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load oauth token: %w", err)
	}
	if s.crypto == nil {
		return "", fmt.Errorf("oauth tokens require an encryption key")
	}
	return s.crypto.Decrypt(encrypted)
}

// SaveUserCredential stores an encrypted user credential.
func (s *Store) SaveUserCredential(ctx context.Context, userID, credType, value string) error {
	if s.crypto == nil {
		return fmt.Errorf("credentials require an encryption key")
	}
	encrypted, err := s.crypto.Encrypt(value)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM user_credentials WHERE user_id = ? AND credential_type = ?`), userID, credType)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO user_credentials (user_id, credential_type, encrypted_value, created_at)
		 VALUES (?, ?, ?, ?)`),
		userID, credType, encrypted, time.Now().UTC())
	return err
}

// UserCredential loads and decrypts one credential; missing returns ("", nil).
func (s *Store) UserCredential(ctx context.Context, userID, credType string) (string, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT encrypted_value FROM user_credentials WHERE user_id = ? AND credential_type = ?`),
		userID, credType)

	var encrypted string
	err := row.Scan(&encrypted)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load credential: %w", err)
	}
	return s.crypto.Decrypt(encrypted)
}
