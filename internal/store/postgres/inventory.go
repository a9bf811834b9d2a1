package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"opsplane/internal/store"

	"github.com/lib/pq"
)

func (s *Store) GetPlaybook(ctx context.Context, id int64) (*store.Playbook, error) {
	query := `
		SELECT id, name, path, entry_file, file_count, variables, is_active
		FROM playbooks WHERE id = $1
	`
	var p store.Playbook
	var varsJSON []byte
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.Name, &p.Path, &p.EntryFile, &p.FileCount, &varsJSON, &p.IsActive,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if len(varsJSON) > 0 {
		if err := json.Unmarshal(varsJSON, &p.Variables); err != nil {
			return nil, fmt.Errorf("failed to decode playbook variables: %w", err)
		}
	}
	return &p, nil
}

func (s *Store) GetServer(ctx context.Context, id int64) (*store.Server, error) {
	query := `
		SELECT id, hostname, ip_address, ssh_user, ssh_port, ssh_key_path, is_active
		FROM servers WHERE id = $1
	`
	var sv store.Server
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&sv.ID, &sv.Hostname, &sv.IPAddress, &sv.SSHUser, &sv.SSHPort, &sv.SSHKeyPath, &sv.IsActive,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &sv, nil
}

// GetServers returns servers in the order of the given ids.
func (s *Store) GetServers(ctx context.Context, ids []int64) ([]*store.Server, error) {
	query := `
		SELECT id, hostname, ip_address, ssh_user, ssh_port, ssh_key_path, is_active
		FROM servers WHERE id = ANY($1)
	`
	rows, err := s.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[int64]*store.Server, len(ids))
	for rows.Next() {
		var sv store.Server
		if err := rows.Scan(&sv.ID, &sv.Hostname, &sv.IPAddress, &sv.SSHUser, &sv.SSHPort, &sv.SSHKeyPath, &sv.IsActive); err != nil {
			return nil, err
		}
		byID[sv.ID] = &sv
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*store.Server, 0, len(ids))
	for _, id := range ids {
		sv, ok := byID[id]
		if !ok {
			return nil, store.ErrNotFound
		}
		out = append(out, sv)
	}
	return out, nil
}
