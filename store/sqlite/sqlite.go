/*
Package sqlite provides a SQLite-backed implementation of credit.Store.

PURPOSE:
  Production persistence for the lending engine. The same patterns apply to
  PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  clients            client identity and portfolio tag
  credits            credit headers (renewed/label are the mutable columns)
  installments       the write-once schedule, one row per installment
  payments           capital/fine-targeted abonos
  fines              multas with an explicit related-installment column
  fine_payments      abonos de multa
  discounts          one-time discount records
  deferrals          (credit, installment) -> new due date, upsert/LWW
  collection_order   (date, client) -> manual rank
  not_found_markers  (date, client) exception queue

DERIVED STATE:
  None. No balance, status, or applied-amount column exists anywhere in the
  schema; every read path recomputes from the raw history. The schema being
  unable to hold stale derived values is the point.

WAL MODE:
  SQLite is opened with WAL for better concurrency: readers don't block,
  one writer at a time. The single-writer lock also serializes concurrent
  upserts to the same deferral key, which is the serialization the bulk
  operation relies on.

SEE ALSO:
  - credit/store.go: interface definitions
  - credit/store/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gesakro/prestamos/credit"
)

// Store implements credit.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a SQLite store. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		document TEXT,
		phone TEXT,
		address TEXT,
		portfolio TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS credits (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL REFERENCES clients(id),
		principal TEXT NOT NULL,
		installment_value TEXT NOT NULL,
		cadence TEXT NOT NULL,
		start_date TEXT NOT NULL,
		installment_count INTEGER NOT NULL,
		renewed BOOLEAN NOT NULL DEFAULT FALSE,
		label TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_credits_client ON credits(client_id);
	CREATE INDEX IF NOT EXISTS idx_credits_renewed ON credits(renewed);

	-- The schedule. scheduled_date is written at origination and never
	-- updated; due-date changes live in deferrals.
	CREATE TABLE IF NOT EXISTS installments (
		credit_id TEXT NOT NULL REFERENCES credits(id),
		number INTEGER NOT NULL,
		scheduled_date TEXT NOT NULL,
		paid_manually BOOLEAN NOT NULL DEFAULT FALSE,
		paid_date TEXT,
		PRIMARY KEY (credit_id, number)
	);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		credit_id TEXT NOT NULL REFERENCES credits(id),
		value TEXT NOT NULL,
		date TEXT NOT NULL,
		description TEXT,
		target_installment INTEGER,
		target_fine_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_credit ON payments(credit_id);
	CREATE INDEX IF NOT EXISTS idx_payments_date ON payments(date);

	CREATE TABLE IF NOT EXISTS fines (
		id TEXT PRIMARY KEY,
		credit_id TEXT NOT NULL REFERENCES credits(id),
		value TEXT NOT NULL,
		date TEXT NOT NULL,
		motive TEXT,
		related_installment INTEGER,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_fines_credit ON fines(credit_id);

	CREATE TABLE IF NOT EXISTS fine_payments (
		id TEXT PRIMARY KEY,
		fine_id TEXT NOT NULL REFERENCES fines(id) ON DELETE CASCADE,
		value TEXT NOT NULL,
		date TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_fine_payments_fine ON fine_payments(fine_id);
	CREATE INDEX IF NOT EXISTS idx_fine_payments_date ON fine_payments(date);

	CREATE TABLE IF NOT EXISTS discounts (
		id TEXT PRIMARY KEY,
		credit_id TEXT NOT NULL REFERENCES credits(id),
		kind TEXT NOT NULL,
		value TEXT NOT NULL,
		days INTEGER NOT NULL DEFAULT 0,
		description TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_discounts_credit ON discounts(credit_id);

	CREATE TABLE IF NOT EXISTS deferrals (
		credit_id TEXT NOT NULL,
		installment_number INTEGER NOT NULL,
		new_due_date TEXT NOT NULL,
		reason TEXT,
		created_at TEXT NOT NULL,
		PRIMARY KEY (credit_id, installment_number)
	);

	CREATE TABLE IF NOT EXISTS collection_order (
		date TEXT NOT NULL,
		client_id TEXT NOT NULL,
		display_rank INTEGER NOT NULL,
		PRIMARY KEY (date, client_id)
	);

	CREATE TABLE IF NOT EXISTS not_found_markers (
		date TEXT NOT NULL,
		client_id TEXT NOT NULL,
		PRIMARY KEY (date, client_id)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CREDIT STORE (credit.CreditStore interface)
// =============================================================================

func (s *Store) SaveClient(ctx context.Context, c credit.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clients (id, name, document, phone, address, portfolio)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			document = excluded.document,
			phone = excluded.phone,
			address = excluded.address,
			portfolio = excluded.portfolio
	`, c.ID, c.Name, c.Document, c.Phone, c.Address, c.Portfolio)
	if err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}
	return nil
}

func (s *Store) GetClient(ctx context.Context, id credit.ClientID) (*credit.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c credit.Client
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, document, phone, address, portfolio
		FROM clients WHERE id = ?
	`, id).Scan(&c.ID, &c.Name, &c.Document, &c.Phone, &c.Address, &c.Portfolio)
	if err == sql.ErrNoRows {
		return nil, credit.ErrClientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return &c, nil
}

func (s *Store) ListClients(ctx context.Context) ([]credit.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, document, phone, address, portfolio
		FROM clients ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()

	var clients []credit.Client
	for rows.Next() {
		var c credit.Client
		if err := rows.Scan(&c.ID, &c.Name, &c.Document, &c.Phone, &c.Address, &c.Portfolio); err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

// SaveCredit writes the credit header and its full installment set in one
// transaction. The two never exist separately.
func (s *Store) SaveCredit(ctx context.Context, c *credit.Credit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO credits
		(id, client_id, principal, installment_value, cadence, start_date,
		 installment_count, renewed, label, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID, c.ClientID, c.Principal.String(), c.InstallmentValue.String(),
		c.Cadence, c.StartDate.String(), c.InstallmentCount, c.Renewed,
		string(c.Label), c.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return credit.ErrDuplicateID
		}
		return fmt.Errorf("failed to insert credit: %w", err)
	}

	for _, inst := range c.Installments {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO installments (credit_id, number, scheduled_date, paid_manually, paid_date)
			VALUES (?, ?, ?, ?, ?)
		`, c.ID, inst.Number, inst.ScheduledDate.String(), inst.PaidManually, nullDate(inst.PaidDate))
		if err != nil {
			return fmt.Errorf("failed to insert installment %d: %w", inst.Number, err)
		}
	}

	return tx.Commit()
}

func (s *Store) GetCredit(ctx context.Context, id credit.CreditID) (*credit.Credit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getCredit(ctx, id)
}

func (s *Store) getCredit(ctx context.Context, id credit.CreditID) (*credit.Credit, error) {
	var (
		c          credit.Credit
		principal  string
		instValue  string
		startDate  string
		label      string
		createdAt  string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, client_id, principal, installment_value, cadence, start_date,
		       installment_count, renewed, label, created_at
		FROM credits WHERE id = ?
	`, id).Scan(&c.ID, &c.ClientID, &principal, &instValue, &c.Cadence,
		&startDate, &c.InstallmentCount, &c.Renewed, &label, &createdAt)
	if err == sql.ErrNoRows {
		return nil, credit.ErrCreditNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credit: %w", err)
	}

	c.Principal = credit.MustParseMoney(principal)
	c.InstallmentValue = credit.MustParseMoney(instValue)
	c.StartDate, _ = credit.ParseDate(startDate)
	c.Label = credit.Label(label)
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	c.Installments, err = s.loadInstallments(ctx, id)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) loadInstallments(ctx context.Context, id credit.CreditID) ([]credit.Installment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT number, scheduled_date, paid_manually, paid_date
		FROM installments WHERE credit_id = ? ORDER BY number ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load installments: %w", err)
	}
	defer rows.Close()

	var installments []credit.Installment
	for rows.Next() {
		var (
			inst      credit.Installment
			scheduled string
			paidDate  sql.NullString
		)
		if err := rows.Scan(&inst.Number, &scheduled, &inst.PaidManually, &paidDate); err != nil {
			return nil, err
		}
		inst.ScheduledDate, _ = credit.ParseDate(scheduled)
		if paidDate.Valid && paidDate.String != "" {
			d, err := credit.ParseDate(paidDate.String)
			if err == nil {
				inst.PaidDate = &d
			}
		}
		installments = append(installments, inst)
	}
	return installments, rows.Err()
}

func (s *Store) ListCredits(ctx context.Context) ([]*credit.Credit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM credits ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list credits: %w", err)
	}
	defer rows.Close()

	var ids []credit.CreditID
	for rows.Next() {
		var id credit.CreditID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	credits := make([]*credit.Credit, 0, len(ids))
	for _, id := range ids {
		c, err := s.getCredit(ctx, id)
		if err != nil {
			return nil, err
		}
		credits = append(credits, c)
	}
	return credits, nil
}

func (s *Store) SetRenewed(ctx context.Context, id credit.CreditID, renewed bool) error {
	return s.updateCreditFlag(ctx, `UPDATE credits SET renewed = ? WHERE id = ?`, renewed, id)
}

func (s *Store) SetLabel(ctx context.Context, id credit.CreditID, label credit.Label) error {
	return s.updateCreditFlag(ctx, `UPDATE credits SET label = ? WHERE id = ?`, string(label), id)
}

func (s *Store) updateCreditFlag(ctx context.Context, query string, value any, id credit.CreditID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, query, value, id)
	if err != nil {
		return fmt.Errorf("failed to update credit: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return credit.ErrCreditNotFound
	}
	return nil
}

func (s *Store) SetInstallmentSettled(ctx context.Context, id credit.CreditID, number int, settled bool, paidDate *credit.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE installments SET paid_manually = ?, paid_date = ?
		WHERE credit_id = ? AND number = ?
	`, settled, nullDate(paidDate), id, number)
	if err != nil {
		return fmt.Errorf("failed to settle installment: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return credit.ErrInstallmentOutOfRange
	}
	return nil
}

// =============================================================================
// LEDGER STORE (credit.LedgerStore interface)
// =============================================================================

func (s *Store) AppendPayment(ctx context.Context, p credit.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments
		(id, credit_id, value, date, description, target_installment, target_fine_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.CreditID, p.Value.String(), p.Date.String(), p.Description,
		nullInt(p.TargetInstallment), nullFineID(p.TargetFineID),
		p.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		if isUniqueConstraintError(err) {
			return credit.ErrDuplicateID
		}
		return fmt.Errorf("failed to append payment: %w", err)
	}
	return nil
}

func (s *Store) UpdatePayment(ctx context.Context, p credit.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE payments SET value = ?, date = ?, description = ?,
			target_installment = ?, target_fine_id = ?
		WHERE id = ?
	`, p.Value.String(), p.Date.String(), p.Description,
		nullInt(p.TargetInstallment), nullFineID(p.TargetFineID), p.ID)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return credit.ErrPaymentNotFound
	}
	return nil
}

func (s *Store) DeletePayment(ctx context.Context, id credit.PaymentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM payments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete payment: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return credit.ErrPaymentNotFound
	}
	return nil
}

func (s *Store) GetPayment(ctx context.Context, id credit.PaymentID) (*credit.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, credit_id, value, date, description, target_installment, target_fine_id, created_at
		FROM payments WHERE id = ?
	`, id)
	p, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, credit.ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) PaymentsByCredit(ctx context.Context, id credit.CreditID) ([]credit.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, credit_id, value, date, description, target_installment, target_fine_id, created_at
		FROM payments WHERE credit_id = ?
		ORDER BY date ASC, created_at ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []credit.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (credit.Payment, error) {
	var (
		p           credit.Payment
		value       string
		date        string
		description sql.NullString
		target      sql.NullInt64
		fineID      sql.NullString
		createdAt   string
	)
	err := row.Scan(&p.ID, &p.CreditID, &value, &date, &description, &target, &fineID, &createdAt)
	if err != nil {
		return p, err
	}
	p.Value = credit.MustParseMoney(value)
	p.Date, _ = credit.ParseDate(date)
	p.Description = description.String
	if target.Valid {
		n := int(target.Int64)
		p.TargetInstallment = &n
	}
	if fineID.Valid && fineID.String != "" {
		f := credit.FineID(fineID.String)
		p.TargetFineID = &f
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return p, nil
}

func (s *Store) AppendFine(ctx context.Context, f credit.Fine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fines (id, credit_id, value, date, motive, related_installment, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, f.ID, f.CreditID, f.Value.String(), f.Date.String(), f.Motive,
		nullInt(f.RelatedInstallment), f.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		if isUniqueConstraintError(err) {
			return credit.ErrDuplicateID
		}
		return fmt.Errorf("failed to append fine: %w", err)
	}
	return nil
}

func (s *Store) UpdateFine(ctx context.Context, f credit.Fine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE fines SET value = ?, date = ?, motive = ?, related_installment = ?
		WHERE id = ?
	`, f.Value.String(), f.Date.String(), f.Motive, nullInt(f.RelatedInstallment), f.ID)
	if err != nil {
		return fmt.Errorf("failed to update fine: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return credit.ErrFineNotFound
	}
	return nil
}

func (s *Store) DeleteFine(ctx context.Context, id credit.FineID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM fines WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete fine: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return credit.ErrFineNotFound
	}
	return nil
}

func (s *Store) GetFine(ctx context.Context, id credit.FineID) (*credit.Fine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, credit_id, value, date, motive, related_installment, created_at
		FROM fines WHERE id = ?
	`, id)
	f, err := scanFine(row)
	if err == sql.ErrNoRows {
		return nil, credit.ErrFineNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *Store) FinesByCredit(ctx context.Context, id credit.CreditID) ([]credit.Fine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, credit_id, value, date, motive, related_installment, created_at
		FROM fines WHERE credit_id = ?
		ORDER BY date ASC, created_at ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query fines: %w", err)
	}
	defer rows.Close()

	var fines []credit.Fine
	for rows.Next() {
		f, err := scanFine(rows)
		if err != nil {
			return nil, err
		}
		fines = append(fines, f)
	}
	return fines, rows.Err()
}

func scanFine(row rowScanner) (credit.Fine, error) {
	var (
		f       credit.Fine
		value   string
		date    string
		motive  sql.NullString
		related sql.NullInt64
		created string
	)
	err := row.Scan(&f.ID, &f.CreditID, &value, &date, &motive, &related, &created)
	if err != nil {
		return f, err
	}
	f.Value = credit.MustParseMoney(value)
	f.Date, _ = credit.ParseDate(date)
	f.Motive = motive.String
	if related.Valid {
		n := int(related.Int64)
		f.RelatedInstallment = &n
	}
	f.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return f, nil
}

func (s *Store) AppendFinePayment(ctx context.Context, fp credit.FinePayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fines WHERE id = ?`, fp.FineID).Scan(&count); err != nil {
		return fmt.Errorf("failed to check fine: %w", err)
	}
	if count == 0 {
		return credit.ErrFineNotFound
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fine_payments (id, fine_id, value, date, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, fp.ID, fp.FineID, fp.Value.String(), fp.Date.String(),
		fp.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		if isUniqueConstraintError(err) {
			return credit.ErrDuplicateID
		}
		return fmt.Errorf("failed to append fine payment: %w", err)
	}
	return nil
}

func (s *Store) FinePaymentsByFine(ctx context.Context, id credit.FineID) ([]credit.FinePayment, error) {
	return s.queryFinePayments(ctx, `
		SELECT id, fine_id, value, date, created_at
		FROM fine_payments WHERE fine_id = ?
		ORDER BY date ASC, created_at ASC
	`, id)
}

func (s *Store) FinePaymentsByCredit(ctx context.Context, id credit.CreditID) ([]credit.FinePayment, error) {
	return s.queryFinePayments(ctx, `
		SELECT fp.id, fp.fine_id, fp.value, fp.date, fp.created_at
		FROM fine_payments fp
		JOIN fines f ON f.id = fp.fine_id
		WHERE f.credit_id = ?
		ORDER BY fp.date ASC, fp.created_at ASC
	`, id)
}

func (s *Store) queryFinePayments(ctx context.Context, query string, arg any) ([]credit.FinePayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query fine payments: %w", err)
	}
	defer rows.Close()

	var fps []credit.FinePayment
	for rows.Next() {
		var (
			fp      credit.FinePayment
			value   string
			date    string
			created string
		)
		if err := rows.Scan(&fp.ID, &fp.FineID, &value, &date, &created); err != nil {
			return nil, err
		}
		fp.Value = credit.MustParseMoney(value)
		fp.Date, _ = credit.ParseDate(date)
		fp.CreatedAt, _ = time.Parse(time.RFC3339, created)
		fps = append(fps, fp)
	}
	return fps, rows.Err()
}

func (s *Store) AppendDiscount(ctx context.Context, d credit.Discount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO discounts (id, credit_id, kind, value, days, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.CreditID, string(d.Kind), d.Value.String(), d.Days, d.Description,
		d.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		if isUniqueConstraintError(err) {
			return credit.ErrDuplicateID
		}
		return fmt.Errorf("failed to append discount: %w", err)
	}
	return nil
}

func (s *Store) DiscountsByCredit(ctx context.Context, id credit.CreditID) ([]credit.Discount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, credit_id, kind, value, days, description, created_at
		FROM discounts WHERE credit_id = ? ORDER BY created_at ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query discounts: %w", err)
	}
	defer rows.Close()

	var discounts []credit.Discount
	for rows.Next() {
		var (
			d       credit.Discount
			kind    string
			value   string
			desc    sql.NullString
			created string
		)
		if err := rows.Scan(&d.ID, &d.CreditID, &kind, &value, &d.Days, &desc, &created); err != nil {
			return nil, err
		}
		d.Kind = credit.DiscountKind(kind)
		d.Value = credit.MustParseMoney(value)
		d.Description = desc.String
		d.CreatedAt, _ = time.Parse(time.RFC3339, created)
		discounts = append(discounts, d)
	}
	return discounts, rows.Err()
}

// =============================================================================
// OVERLAY STORE (credit.OverlayStore interface)
// =============================================================================

func (s *Store) UpsertDeferral(ctx context.Context, d credit.Deferral) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := d.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deferrals (credit_id, installment_number, new_due_date, reason, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(credit_id, installment_number) DO UPDATE SET
			new_due_date = excluded.new_due_date,
			reason = excluded.reason,
			created_at = excluded.created_at
	`, d.CreditID, d.InstallmentNumber, d.NewDueDate.String(), d.Reason,
		createdAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to upsert deferral: %w", err)
	}
	return nil
}

func (s *Store) DeleteDeferral(ctx context.Context, id credit.CreditID, installmentNumber int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM deferrals WHERE credit_id = ? AND installment_number = ?`,
		id, installmentNumber)
	if err != nil {
		return fmt.Errorf("failed to delete deferral: %w", err)
	}
	return nil
}

func (s *Store) DeferralsByCredit(ctx context.Context, id credit.CreditID) ([]credit.Deferral, error) {
	return s.queryDeferrals(ctx, `
		SELECT credit_id, installment_number, new_due_date, reason, created_at
		FROM deferrals WHERE credit_id = ?
		ORDER BY installment_number ASC
	`, id)
}

func (s *Store) ListDeferrals(ctx context.Context) ([]credit.Deferral, error) {
	return s.queryDeferrals(ctx, `
		SELECT credit_id, installment_number, new_due_date, reason, created_at
		FROM deferrals ORDER BY credit_id ASC, installment_number ASC
	`)
}

func (s *Store) queryDeferrals(ctx context.Context, query string, args ...any) ([]credit.Deferral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query deferrals: %w", err)
	}
	defer rows.Close()

	var deferrals []credit.Deferral
	for rows.Next() {
		var (
			d       credit.Deferral
			newDate string
			reason  sql.NullString
			created string
		)
		if err := rows.Scan(&d.CreditID, &d.InstallmentNumber, &newDate, &reason, &created); err != nil {
			return nil, err
		}
		d.NewDueDate, _ = credit.ParseDate(newDate)
		d.Reason = reason.String
		d.CreatedAt, _ = time.Parse(time.RFC3339, created)
		deferrals = append(deferrals, d)
	}
	return deferrals, rows.Err()
}

func (s *Store) UpsertCollectionOrder(ctx context.Context, o credit.CollectionOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collection_order (date, client_id, display_rank)
		VALUES (?, ?, ?)
		ON CONFLICT(date, client_id) DO UPDATE SET display_rank = excluded.display_rank
	`, o.Date.String(), o.ClientID, o.Rank)
	if err != nil {
		return fmt.Errorf("failed to upsert collection order: %w", err)
	}
	return nil
}

func (s *Store) DeleteCollectionOrder(ctx context.Context, date credit.Date, clientID credit.ClientID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM collection_order WHERE date = ? AND client_id = ?`,
		date.String(), clientID)
	if err != nil {
		return fmt.Errorf("failed to delete collection order: %w", err)
	}
	return nil
}

func (s *Store) CollectionOrderForDate(ctx context.Context, date credit.Date) ([]credit.CollectionOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT date, client_id, display_rank FROM collection_order
		WHERE date = ? ORDER BY display_rank ASC
	`, date.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query collection order: %w", err)
	}
	defer rows.Close()

	var orders []credit.CollectionOrder
	for rows.Next() {
		var (
			o credit.CollectionOrder
			d string
		)
		if err := rows.Scan(&d, &o.ClientID, &o.Rank); err != nil {
			return nil, err
		}
		o.Date, _ = credit.ParseDate(d)
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *Store) MarkNotFound(ctx context.Context, m credit.NotFoundMarker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO not_found_markers (date, client_id)
		VALUES (?, ?)
		ON CONFLICT(date, client_id) DO NOTHING
	`, m.Date.String(), m.ClientID)
	if err != nil {
		return fmt.Errorf("failed to mark not found: %w", err)
	}
	return nil
}

func (s *Store) ClearNotFound(ctx context.Context, date credit.Date, clientID credit.ClientID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM not_found_markers WHERE date = ? AND client_id = ?`,
		date.String(), clientID)
	if err != nil {
		return fmt.Errorf("failed to clear not found: %w", err)
	}
	return nil
}

func (s *Store) NotFoundForDate(ctx context.Context, date credit.Date) ([]credit.NotFoundMarker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT date, client_id FROM not_found_markers
		WHERE date = ? ORDER BY client_id ASC
	`, date.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query not-found markers: %w", err)
	}
	defer rows.Close()

	var markers []credit.NotFoundMarker
	for rows.Next() {
		var (
			m credit.NotFoundMarker
			d string
		)
		if err := rows.Scan(&d, &m.ClientID); err != nil {
			return nil, err
		}
		m.Date, _ = credit.ParseDate(d)
		markers = append(markers, m)
	}
	return markers, rows.Err()
}

// LatestNotFoundBefore relies on the YYYY-MM-DD storage format sorting the
// same as the calendar.
func (s *Store) LatestNotFoundBefore(ctx context.Context, date credit.Date) ([]credit.NotFoundMarker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT MAX(date), client_id FROM not_found_markers
		WHERE date < ? GROUP BY client_id ORDER BY client_id ASC
	`, date.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query carried not-found markers: %w", err)
	}
	defer rows.Close()

	var markers []credit.NotFoundMarker
	for rows.Next() {
		var (
			m credit.NotFoundMarker
			d string
		)
		if err := rows.Scan(&d, &m.ClientID); err != nil {
			return nil, err
		}
		m.Date, _ = credit.ParseDate(d)
		markers = append(markers, m)
	}
	return markers, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullDate(d *credit.Date) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func nullInt(n *int) any {
	if n == nil {
		return nil
	}
	return *n
}

func nullFineID(id *credit.FineID) any {
	if id == nil {
		return nil
	}
	return string(*id)
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
