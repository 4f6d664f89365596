package store

import (
	"database/sql"

	apperrors "flightplan/internal/errors"
	"flightplan/internal/types"
)

const serverColumns = `s.id, s.reference, s.name, s.ipv4, s.ipv6, s.ssh_port, s.ssh_username,
	s.ssh_password, COALESCE(s.ssh_key_id, 0), COALESCE(k.reference, ''), s.ssh_auth_mode, s.use_sudo, s.partner`

const serverSelect = `SELECT ` + serverColumns + ` FROM servers s LEFT JOIN keys k ON k.id = s.ssh_key_id`

// UpsertServer inserts or updates a server by reference and sets srv.ID.
func (s *Store) UpsertServer(srv *types.Server) error {
	port := srv.SSHPort
	if port == "" {
		port = "22"
	}
	auth := srv.SSHAuthMode
	if auth == "" {
		auth = types.AuthPassword
	}
	err := s.db.QueryRow(`INSERT INTO servers(reference, name, ipv4, ipv6, ssh_port, ssh_username, ssh_password, ssh_key_id, ssh_auth_mode, use_sudo, partner)
		VALUES(?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(reference) DO UPDATE SET
			name=excluded.name, ipv4=excluded.ipv4, ipv6=excluded.ipv6, ssh_port=excluded.ssh_port,
			ssh_username=excluded.ssh_username, ssh_password=excluded.ssh_password, ssh_key_id=excluded.ssh_key_id,
			ssh_auth_mode=excluded.ssh_auth_mode, use_sudo=excluded.use_sudo, partner=excluded.partner
		RETURNING id`,
		srv.Reference, srv.Name, srv.IPv4, srv.IPv6, port, srv.SSHUsername, srv.SSHPassword,
		nullID(srv.SSHKeyID), string(auth), string(srv.UseSudo), srv.Partner,
	).Scan(&srv.ID)
	if err != nil {
		return storageErr("save server "+srv.Reference, err)
	}
	return nil
}

func scanServer(row scanner) (*types.Server, error) {
	var srv types.Server
	var auth, sudo string
	if err := row.Scan(&srv.ID, &srv.Reference, &srv.Name, &srv.IPv4, &srv.IPv6, &srv.SSHPort, &srv.SSHUsername,
		&srv.SSHPassword, &srv.SSHKeyID, &srv.SSHKeyRef, &auth, &sudo, &srv.Partner); err != nil {
		return nil, err
	}
	srv.SSHAuthMode = types.AuthMode(auth)
	srv.UseSudo = types.SudoMode(sudo)
	return &srv, nil
}

// GetServer loads a server by reference.
func (s *Store) GetServer(ref string) (*types.Server, error) {
	srv, err := scanServer(s.db.QueryRow(serverSelect+` WHERE s.reference = ?`, ref))
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("server", ref)
	}
	if err != nil {
		return nil, storageErr("load server "+ref, err)
	}
	return srv, nil
}

func (s *Store) ListServers() ([]types.Server, error) {
	rows, err := s.db.Query(serverSelect + ` ORDER BY s.reference`)
	if err != nil {
		return nil, storageErr("list servers", err)
	}
	defer rows.Close()

	var out []types.Server
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, storageErr("scan server", err)
		}
		out = append(out, *srv)
	}
	return out, rows.Err()
}
