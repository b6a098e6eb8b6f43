package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/geeny-gateway/internal/protocol"
)

// Repository defines the persistence operations of the registration cache.
type Repository interface {
	// Get retrieves a thing by peripheral id.
	// Returns ErrNotFound if the thing does not exist.
	Get(ctx context.Context, peripheralID string) (Info, error)

	// List retrieves all stored things.
	List(ctx context.Context) ([]Info, error)

	// Save inserts or replaces a thing.
	Save(ctx context.Context, info Info) error

	// Delete removes a thing and its certificate paths.
	// Returns ErrNotFound if the thing does not exist.
	Delete(ctx context.Context, peripheralID string) error

	// SaveCertificates records the PEM locations issued to a thing.
	SaveCertificates(ctx context.Context, peripheralID string, paths CertificatePaths) error

	// Certificates returns the PEM locations issued to a thing.
	// Returns ErrNotFound if none were recorded.
	Certificates(ctx context.Context, peripheralID string) (CertificatePaths, error)

	// SetMessageType maps a characteristic id to a cloud message type id.
	SetMessageType(ctx context.Context, characteristicID, messageTypeID string) error

	// MessageTypes returns every characteristic → message type mapping.
	MessageTypes(ctx context.Context) (map[string]string, error)

	// SetThingType maps a thing type name to a cloud thing type id.
	SetThingType(ctx context.Context, name, thingTypeID string) error

	// ThingTypes returns every thing type name → id mapping.
	ThingTypes(ctx context.Context) (map[string]string, error)

	// DeleteAll wipes every table of the cache.
	DeleteAll(ctx context.Context) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection with migrations applied.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const thingColumns = `peripheral_id, family, name, user_given_name, cloud_id, is_native,
	protocol, characteristics, auto_publish`

// Get retrieves a thing by peripheral id.
func (r *SQLiteRepository) Get(ctx context.Context, peripheralID string) (Info, error) {
	query := `SELECT ` + thingColumns + ` FROM things WHERE peripheral_id = ?`

	info, err := scanInfo(r.db.QueryRowContext(ctx, query, peripheralID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Info{}, ErrNotFound
		}
		return Info{}, fmt.Errorf("querying thing: %w", err)
	}
	return info, nil
}

// List retrieves all stored things ordered by peripheral id.
func (r *SQLiteRepository) List(ctx context.Context) ([]Info, error) {
	query := `SELECT ` + thingColumns + ` FROM things ORDER BY peripheral_id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying things: %w", err)
	}
	defer rows.Close()

	var infos []Info
	for rows.Next() {
		info, err := scanInfo(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning thing: %w", err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating things: %w", err)
	}
	return infos, nil
}

// Save inserts or replaces a thing.
func (r *SQLiteRepository) Save(ctx context.Context, info Info) error {
	if err := ValidateInfo(info); err != nil {
		return err
	}

	charsJSON, err := marshalCharacteristics(info.Characteristics)
	if err != nil {
		return fmt.Errorf("marshalling characteristics: %w", err)
	}

	var protoJSON sql.NullString
	if info.Protocol != nil {
		b, err := json.Marshal(info.Protocol)
		if err != nil {
			return fmt.Errorf("marshalling protocol info: %w", err)
		}
		protoJSON = sql.NullString{String: string(b), Valid: true}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	query := `
		INSERT INTO things (` + thingColumns + `, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(peripheral_id) DO UPDATE SET
			family = excluded.family,
			name = excluded.name,
			user_given_name = excluded.user_given_name,
			cloud_id = excluded.cloud_id,
			is_native = excluded.is_native,
			protocol = excluded.protocol,
			characteristics = excluded.characteristics,
			auto_publish = excluded.auto_publish,
			updated_at = excluded.updated_at`

	_, err = r.db.ExecContext(ctx, query,
		info.PeripheralID,
		string(info.Family),
		info.Name,
		info.UserGivenName,
		info.CloudID,
		boolToInt(info.IsNative),
		protoJSON,
		charsJSON,
		boolToInt(info.AutoPublish),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("saving thing: %w", err)
	}
	return nil
}

// Delete removes a thing and its certificate paths.
func (r *SQLiteRepository) Delete(ctx context.Context, peripheralID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM thing_certificates WHERE peripheral_id = ?`, peripheralID); err != nil {
		return fmt.Errorf("deleting certificates: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM things WHERE peripheral_id = ?`, peripheralID)
	if err != nil {
		return fmt.Errorf("deleting thing: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// SaveCertificates records the PEM locations issued to a thing.
func (r *SQLiteRepository) SaveCertificates(ctx context.Context, peripheralID string, paths CertificatePaths) error {
	query := `
		INSERT INTO thing_certificates (peripheral_id, ca_path, cert_path, key_path)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(peripheral_id) DO UPDATE SET
			ca_path = excluded.ca_path,
			cert_path = excluded.cert_path,
			key_path = excluded.key_path`

	if _, err := r.db.ExecContext(ctx, query, peripheralID, paths.CA, paths.Cert, paths.Key); err != nil {
		return fmt.Errorf("saving certificates: %w", err)
	}
	return nil
}

// Certificates returns the PEM locations issued to a thing.
func (r *SQLiteRepository) Certificates(ctx context.Context, peripheralID string) (CertificatePaths, error) {
	var p CertificatePaths
	err := r.db.QueryRowContext(ctx,
		`SELECT ca_path, cert_path, key_path FROM thing_certificates WHERE peripheral_id = ?`,
		peripheralID,
	).Scan(&p.CA, &p.Cert, &p.Key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CertificatePaths{}, ErrNotFound
		}
		return CertificatePaths{}, fmt.Errorf("querying certificates: %w", err)
	}
	return p, nil
}

// SetMessageType maps a characteristic id to a cloud message type id.
func (r *SQLiteRepository) SetMessageType(ctx context.Context, characteristicID, messageTypeID string) error {
	query := `
		INSERT INTO message_types (characteristic_id, message_type_id) VALUES (?, ?)
		ON CONFLICT(characteristic_id) DO UPDATE SET message_type_id = excluded.message_type_id`
	if _, err := r.db.ExecContext(ctx, query, characteristicID, messageTypeID); err != nil {
		return fmt.Errorf("saving message type: %w", err)
	}
	return nil
}

// MessageTypes returns every characteristic → message type mapping.
func (r *SQLiteRepository) MessageTypes(ctx context.Context) (map[string]string, error) {
	return r.queryMapping(ctx, `SELECT characteristic_id, message_type_id FROM message_types`)
}

// SetThingType maps a thing type name to a cloud thing type id.
func (r *SQLiteRepository) SetThingType(ctx context.Context, name, thingTypeID string) error {
	query := `
		INSERT INTO thing_types (name, thing_type_id) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET thing_type_id = excluded.thing_type_id`
	if _, err := r.db.ExecContext(ctx, query, name, thingTypeID); err != nil {
		return fmt.Errorf("saving thing type: %w", err)
	}
	return nil
}

// ThingTypes returns every thing type name → id mapping.
func (r *SQLiteRepository) ThingTypes(ctx context.Context) (map[string]string, error) {
	return r.queryMapping(ctx, `SELECT name, thing_type_id FROM thing_types`)
}

// DeleteAll wipes every table of the cache.
func (r *SQLiteRepository) DeleteAll(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, table := range []string{"thing_certificates", "things", "message_types", "thing_types"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil { //nolint:gosec // fixed table names
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}
	return tx.Commit()
}

func (r *SQLiteRepository) queryMapping(ctx context.Context, query string) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying mapping: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scanning mapping: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanInfo(s rowScanner) (Info, error) {
	var info Info
	var family, charsJSON string
	var protoJSON sql.NullString
	var isNative, autoPublish int

	err := s.Scan(
		&info.PeripheralID,
		&family,
		&info.Name,
		&info.UserGivenName,
		&info.CloudID,
		&isNative,
		&protoJSON,
		&charsJSON,
		&autoPublish,
	)
	if err != nil {
		return Info{}, err
	}

	info.Family = Family(family)
	info.IsNative = isNative != 0
	info.AutoPublish = autoPublish != 0

	if protoJSON.Valid && protoJSON.String != "" {
		var p protocol.Info
		if err := json.Unmarshal([]byte(protoJSON.String), &p); err != nil {
			return Info{}, fmt.Errorf("unmarshalling protocol info: %w", err)
		}
		info.Protocol = &p
	}
	if err := json.Unmarshal([]byte(charsJSON), &info.Characteristics); err != nil {
		return Info{}, fmt.Errorf("unmarshalling characteristics: %w", err)
	}
	return info, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
