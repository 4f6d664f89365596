package store

import (
	"database/sql"
	"fmt"

	apperrors "flightplan/internal/errors"
	"flightplan/internal/types"
)

const keySelect = `SELECT k.id, k.name, k.reference, k.type, k.secret_value, COALESCE(k.server_id, 0),
	COALESCE(s.reference, ''), COALESCE(k.partner, ''), k.note
	FROM keys k LEFT JOIN servers s ON s.id = k.server_id`

// UpsertKey saves a key identified by (reference, server, partner) and sets key.ID.
// A secret value already used by another secret in the same scope is a conflict.
func (s *Store) UpsertKey(key *types.Key) error {
	if key.Reference == "" {
		return apperrors.New(apperrors.ErrCodeValidation, "key reference cannot be empty")
	}
	if key.Type == "" {
		key.Type = types.KeyTypeSecret
	}
	err := s.withTx(func(tx *sql.Tx) error {
		var id int64
		err := tx.QueryRow(`SELECT id FROM keys WHERE reference = ? AND COALESCE(server_id, 0) = ? AND COALESCE(partner, '') = ?`,
			key.Reference, key.ServerID, key.Partner).Scan(&id)
		switch {
		case err == sql.ErrNoRows:
			res, err := tx.Exec(`INSERT INTO keys(name, reference, type, secret_value, server_id, partner, note) VALUES(?,?,?,?,?,?,?)`,
				key.Name, key.Reference, string(key.Type), key.SecretValue, nullID(key.ServerID), nullString(key.Partner), key.Note)
			if err != nil {
				return err
			}
			key.ID, err = res.LastInsertId()
			return err
		case err != nil:
			return err
		}
		key.ID = id
		_, err = tx.Exec(`UPDATE keys SET name=?, type=?, secret_value=?, note=? WHERE id=?`,
			key.Name, string(key.Type), key.SecretValue, key.Note, id)
		return err
	})
	if isUniqueViolation(err) {
		return apperrors.Wrap(apperrors.ErrCodeConflict,
			fmt.Sprintf("key %s: secret value must be unique within its server and partner scope", key.Reference), err)
	}
	if err != nil && apperrors.CodeOf(err) == "" {
		return storageErr("save key "+key.Reference, err)
	}
	return err
}

func scanKey(row scanner) (*types.Key, error) {
	var k types.Key
	var kt string
	if err := row.Scan(&k.ID, &k.Name, &k.Reference, &kt, &k.SecretValue, &k.ServerID, &k.ServerRef, &k.Partner, &k.Note); err != nil {
		return nil, err
	}
	k.Type = types.KeyType(kt)
	return &k, nil
}

func (s *Store) queryKeys(where string, args ...interface{}) ([]types.Key, error) {
	rows, err := s.db.Query(keySelect+` WHERE `+where+` ORDER BY k.id`, args...)
	if err != nil {
		return nil, storageErr("load keys", err)
	}
	defer rows.Close()
	var out []types.Key
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, storageErr("scan key", err)
		}
		out = append(out, *k)
	}
	return out, rows.Err()
}

// FindKeys returns every key of the given type sharing ref, in creation order.
func (s *Store) FindKeys(keyType types.KeyType, ref string) ([]types.Key, error) {
	return s.queryKeys(`k.type = ? AND k.reference = ?`, string(keyType), ref)
}

func (s *Store) GetKeyByID(id int64) (*types.Key, error) {
	k, err := scanKey(s.db.QueryRow(keySelect+` WHERE k.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("key", fmt.Sprint(id))
	}
	if err != nil {
		return nil, storageErr("load key", err)
	}
	return k, nil
}

// GetGlobalKey returns the unscoped key with the given reference.
func (s *Store) GetGlobalKey(ref string) (*types.Key, error) {
	k, err := scanKey(s.db.QueryRow(keySelect+` WHERE k.reference = ? AND k.server_id IS NULL AND k.partner IS NULL`, ref))
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("key", ref)
	}
	if err != nil {
		return nil, storageErr("load key "+ref, err)
	}
	return k, nil
}

func (s *Store) ListKeys() ([]types.Key, error) {
	return s.queryKeys(`1 = 1`)
}

// DeleteKey removes the key stored for exactly (ref, serverID, partner).
func (s *Store) DeleteKey(ref string, serverID int64, partner string) error {
	res, err := s.db.Exec(`DELETE FROM keys WHERE reference = ? AND COALESCE(server_id, 0) = ? AND COALESCE(partner, '') = ?`,
		ref, serverID, partner)
	if err != nil {
		return storageErr("delete key "+ref, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("key", ref)
	}
	return nil
}
