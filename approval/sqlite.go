package approval

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ledgerflow/workflow/errs"
)

// SQLiteStore is the "embedded" backend, tuned the same way
// session.SQLiteStore and graph/store.SQLiteStore are.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the approvals database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, p := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, err
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) createTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS approvals (
			approval_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			workflow_type TEXT NOT NULL,
			request_data TEXT NOT NULL DEFAULT '{}',
			status TEXT NOT NULL,
			amount REAL NOT NULL DEFAULT 0,
			recipient TEXT,
			requested_at TIMESTAMP NOT NULL,
			approved_at TIMESTAMP,
			approver_id TEXT,
			rejection_reason TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_approvals_session ON approvals(session_id, requested_at);
		CREATE INDEX IF NOT EXISTS idx_approvals_status ON approvals(status);
	`)
	return err
}

func (s *SQLiteStore) Create(ctx context.Context, r *Request) error {
	var pendingCount int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM approvals WHERE session_id = ? AND status = ?`,
		r.SessionID, string(StatusPending)).Scan(&pendingCount); err != nil {
		return err
	}
	if pendingCount > 0 {
		return errs.Conflict(r.SessionID, "session already has a pending approval")
	}

	if r.ApprovalID == "" {
		r.ApprovalID = uuid.NewString()
	}
	if r.RequestedAt.IsZero() {
		r.RequestedAt = clock()
	}
	if r.Status == "" {
		r.Status = StatusPending
	}

	data, err := json.Marshal(r.RequestData)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO approvals (approval_id, session_id, workflow_type, request_data, status, amount, recipient, requested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ApprovalID, r.SessionID, r.WorkflowType, string(data), string(r.Status), r.Amount, r.Recipient, r.RequestedAt)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, approvalID string) (Request, error) {
	row := s.db.QueryRowContext(ctx, selectApprovalSQL+" WHERE approval_id = ?", approvalID)
	return scanApproval(row)
}

func (s *SQLiteStore) LatestForSession(ctx context.Context, sessionID string) (Request, error) {
	row := s.db.QueryRowContext(ctx, selectApprovalSQL+" WHERE session_id = ? ORDER BY requested_at DESC LIMIT 1", sessionID)
	return scanApproval(row)
}

func (s *SQLiteStore) Update(ctx context.Context, r *Request) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE approvals SET status=?, approved_at=?, approver_id=?, rejection_reason=?
		WHERE approval_id=?`,
		string(r.Status), r.ApprovedAt, r.ApproverID, r.RejectionReason, r.ApprovalID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListPending(ctx context.Context) ([]Request, error) {
	rows, err := s.db.QueryContext(ctx, selectApprovalSQL+" WHERE status = ? ORDER BY requested_at DESC", string(StatusPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanApprovals(rows)
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

const selectApprovalSQL = `SELECT approval_id, session_id, workflow_type, request_data, status, amount, recipient, requested_at, approved_at, approver_id, rejection_reason FROM approvals`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApproval(row rowScanner) (Request, error) {
	var r Request
	var status, data string
	var recipient, approverID, rejectionReason sql.NullString
	var approvedAt sql.NullTime

	if err := row.Scan(&r.ApprovalID, &r.SessionID, &r.WorkflowType, &data, &status, &r.Amount,
		&recipient, &r.RequestedAt, &approvedAt, &approverID, &rejectionReason); err != nil {
		if err == sql.ErrNoRows {
			return Request{}, ErrNotFound
		}
		return Request{}, err
	}
	r.Status = Status(status)
	r.Recipient = recipient.String
	r.ApproverID = approverID.String
	r.RejectionReason = rejectionReason.String
	if approvedAt.Valid {
		t := approvedAt.Time
		r.ApprovedAt = &t
	}
	if err := json.Unmarshal([]byte(data), &r.RequestData); err != nil {
		return Request{}, err
	}
	return r, nil
}

func scanApprovals(rows *sql.Rows) ([]Request, error) {
	var out []Request
	for rows.Next() {
		r, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
