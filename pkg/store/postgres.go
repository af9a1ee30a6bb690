package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/agentlensai/agentlens/pkg/models"
)

// Postgres is the production Provider backed by PostgreSQL via pgx's
// database/sql driver. One provider shares a connection pool across tenants.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open database handle. Migrations are the caller's
// responsibility (pkg/database runs them at startup).
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// ForTenant returns a Store bound to the given tenant.
func (p *Postgres) ForTenant(tenantID string) Store {
	return &pgStore{db: p.db, tenantID: tenantID}
}

// APIKeys returns the key store.
func (p *Postgres) APIKeys() APIKeyStore { return &pgKeyStore{db: p.db} }

// Tenants lists distinct tenants from the API key table.
func (p *Postgres) Tenants(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT DISTINCT tenant_id FROM api_keys ORDER BY tenant_id`)
	if err != nil {
		return nil, storageErr("list tenants", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("list tenants", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list tenants", err)
	}
	return ids, nil
}

// Close closes the underlying pool.
func (p *Postgres) Close() error { return p.db.Close() }

type pgStore struct {
	db       *sql.DB
	tenantID string
}

// storageErr maps a database error onto the error taxonomy. Unique and
// serialization violations surface as conflict; everything else as storage.
func storageErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "40001": // unique_violation, serialization_failure
			return models.WrapError(models.KindConflict, op, err)
		case "23514", "23503": // check_violation, foreign_key_violation
			return models.WrapError(models.KindStorage, op+" (constraint)", err)
		}
	}
	return models.WrapError(models.KindStorage, op, err)
}

func notFoundOr(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return models.NewError(models.KindNotFound, op)
	}
	return storageErr(op, err)
}

// --- small codec helpers ---

func marshalJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return b
}

func rawOrNull(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// vectorToBytes encodes a float32 vector as little-endian bytes for a bytea
// column; vectorFromBytes reverses it.
func vectorToBytes(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func vectorFromBytes(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

func scanStringSlice(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	_ = json.Unmarshal(raw, &out)
	return out
}

// inPlaceholders renders $n placeholders for an IN clause starting at index
// start, and appends the values to args.
func inPlaceholders(args *[]any, start int, values []string) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("$%d", start+i)
		*args = append(*args, v)
	}
	return strings.Join(parts, ",")
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
