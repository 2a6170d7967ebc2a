package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS cached_balances (
    address    TEXT PRIMARY KEY,
    amount     BIGINT NOT NULL CHECK (amount >= 0),
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS transaction_records (
    seq            BIGSERIAL PRIMARY KEY,
    bank           TEXT NOT NULL,
    address        TEXT NOT NULL,
    id             TEXT NOT NULL,
    reference_code TEXT NOT NULL,
    type           TEXT NOT NULL,
    status         TEXT NOT NULL,
    from_address   TEXT NOT NULL,
    to_address     TEXT NOT NULL,
    amount         BIGINT NOT NULL,
    fee            BIGINT NOT NULL DEFAULT 0,
    description    TEXT NOT NULL DEFAULT '',
    occurred_at    TIMESTAMPTZ NOT NULL,
    from_bank      TEXT NOT NULL,
    to_bank        TEXT NOT NULL DEFAULT '',
    tx_hash        TEXT NOT NULL DEFAULT '',
    block_number   BIGINT,
    UNIQUE (bank, address, reference_code)
);`

const recordColumns = `seq, id, reference_code, type, status, from_address, to_address, amount, fee,
        description, occurred_at, from_bank, to_bank, tx_hash, block_number`

// PostgresStore persists balances and records in PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the store tables when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schema)
	return err
}

// CachedBalance returns the cached balance for an address.
func (s *PostgresStore) CachedBalance(ctx context.Context, address string) (CachedBalance, bool, error) {
	bal := CachedBalance{Address: NormalizeAddress(address)}
	err := s.db.QueryRow(ctx, `SELECT amount, updated_at FROM cached_balances WHERE address = $1`, bal.Address).
		Scan(&bal.Amount, &bal.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return CachedBalance{}, false, nil
	}
	if err != nil {
		return CachedBalance{}, false, err
	}
	bal.UpdatedAt = bal.UpdatedAt.UTC()
	return bal, true, nil
}

// PutBalance upserts the cached balance of an address.
func (s *PostgresStore) PutBalance(ctx context.Context, balance CachedBalance) error {
	if balance.Amount < 0 {
		return ErrNegativeBalance
	}
	_, err := s.db.Exec(ctx, `INSERT INTO cached_balances (address, amount, updated_at) VALUES ($1, $2, $3)
        ON CONFLICT (address) DO UPDATE SET amount = EXCLUDED.amount, updated_at = EXCLUDED.updated_at`,
		NormalizeAddress(balance.Address), balance.Amount, balance.UpdatedAt.UTC())
	return err
}

// Records returns the namespace's records ordered by insertion.
func (s *PostgresStore) Records(ctx context.Context, ns Namespace) ([]Record, error) {
	rows, err := s.db.Query(ctx, `SELECT `+recordColumns+` FROM transaction_records
        WHERE bank = $1 AND address = $2 ORDER BY seq`, ns.Bank, ns.Address)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		_, rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AppendRecord inserts a record; the unique constraint enforces reference uniqueness.
func (s *PostgresStore) AppendRecord(ctx context.Context, ns Namespace, r Record) error {
	_, err := s.db.Exec(ctx, `INSERT INTO transaction_records
        (bank, address, id, reference_code, type, status, from_address, to_address, amount, fee,
         description, occurred_at, from_bank, to_bank, tx_hash, block_number)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		ns.Bank, ns.Address, r.ID, r.ReferenceCode, string(r.Type), string(r.Status), r.From, r.To,
		r.AmountMinor, r.FeeMinor, r.Description, r.Timestamp.UTC(), r.FromBank, r.ToBank,
		r.ExternalTxHash, blockNumberParam(r.BlockNumber))
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateReference
	}
	return err
}

// UpdateRecord locks the namespace rows, applies mutate to the first match and writes it back.
func (s *PostgresStore) UpdateRecord(ctx context.Context, ns Namespace, match MatchFunc, mutate MutateFunc) (Record, bool, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Record{}, false, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	rows, err := tx.Query(ctx, `SELECT `+recordColumns+` FROM transaction_records
        WHERE bank = $1 AND address = $2 ORDER BY seq FOR UPDATE`, ns.Bank, ns.Address)
	if err != nil {
		return Record{}, false, err
	}

	var (
		found    bool
		foundSeq int64
		current  Record
	)
	for rows.Next() {
		seq, rec, err := scanRecord(rows)
		if err != nil {
			rows.Close()
			return Record{}, false, err
		}
		if !found && match(rec) {
			found, foundSeq, current = true, seq, rec
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Record{}, false, err
	}
	if !found {
		return Record{}, false, nil
	}

	if !mutate(&current) {
		return current, false, nil
	}

	if _, err := tx.Exec(ctx, `UPDATE transaction_records SET status = $1, tx_hash = $2, block_number = $3,
        description = $4 WHERE seq = $5`,
		string(current.Status), current.ExternalTxHash, blockNumberParam(current.BlockNumber), current.Description, foundSeq); err != nil {
		return Record{}, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Record{}, false, err
	}
	return current, true, nil
}

// DeleteRecord removes one record by id.
func (s *PostgresStore) DeleteRecord(ctx context.Context, ns Namespace, id string) (bool, error) {
	cmd, err := s.db.Exec(ctx, `DELETE FROM transaction_records WHERE bank = $1 AND address = $2 AND id = $3`,
		ns.Bank, ns.Address, id)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

// DeleteRecords removes every record of a namespace.
func (s *PostgresStore) DeleteRecords(ctx context.Context, ns Namespace) error {
	_, err := s.db.Exec(ctx, `DELETE FROM transaction_records WHERE bank = $1 AND address = $2`, ns.Bank, ns.Address)
	return err
}

func scanRecord(row pgx.Row) (int64, Record, error) {
	var (
		seq        int64
		r          Record
		typ        string
		status     string
		occurredAt time.Time
		block      *int64
	)
	if err := row.Scan(&seq, &r.ID, &r.ReferenceCode, &typ, &status, &r.From, &r.To, &r.AmountMinor,
		&r.FeeMinor, &r.Description, &occurredAt, &r.FromBank, &r.ToBank, &r.ExternalTxHash, &block); err != nil {
		return 0, Record{}, fmt.Errorf("scan record: %w", err)
	}
	r.Type = Type(typ)
	r.Status = Status(status)
	r.Timestamp = occurredAt.UTC()
	if block != nil {
		n := uint64(*block)
		r.BlockNumber = &n
	}
	return seq, r, nil
}

func blockNumberParam(n *uint64) *int64 {
	if n == nil {
		return nil
	}
	v := int64(*n)
	return &v
}
