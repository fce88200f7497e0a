package approval

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/ledgerflow/workflow/errs"
)

// MySQLStore is the "shared-cache" backend for multi-replica deployments.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore opens a pooled connection to dsn and ensures the
// approvals table exists.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &MySQLStore{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MySQLStore) createTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS approvals (
			approval_id VARCHAR(64) PRIMARY KEY,
			session_id VARCHAR(64) NOT NULL,
			workflow_type VARCHAR(64) NOT NULL,
			request_data JSON NOT NULL,
			status VARCHAR(32) NOT NULL,
			amount DECIMAL(18,2) NOT NULL DEFAULT 0,
			recipient VARCHAR(255),
			requested_at TIMESTAMP(6) NOT NULL,
			approved_at TIMESTAMP(6) NULL,
			approver_id VARCHAR(64),
			rejection_reason VARCHAR(1024),
			INDEX idx_approvals_session (session_id, requested_at),
			INDEX idx_approvals_status (status)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`)
	return err
}

func (s *MySQLStore) Create(ctx context.Context, r *Request) error {
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

func (s *MySQLStore) Get(ctx context.Context, approvalID string) (Request, error) {
	row := s.db.QueryRowContext(ctx, selectApprovalSQL+" WHERE approval_id = ?", approvalID)
	return scanApproval(row)
}

func (s *MySQLStore) LatestForSession(ctx context.Context, sessionID string) (Request, error) {
	row := s.db.QueryRowContext(ctx, selectApprovalSQL+" WHERE session_id = ? ORDER BY requested_at DESC LIMIT 1", sessionID)
	return scanApproval(row)
}

func (s *MySQLStore) Update(ctx context.Context, r *Request) error {
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

func (s *MySQLStore) ListPending(ctx context.Context) ([]Request, error) {
	rows, err := s.db.QueryContext(ctx, selectApprovalSQL+" WHERE status = ? ORDER BY requested_at DESC", string(StatusPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanApprovals(rows)
}

func (s *MySQLStore) Close() error { return s.db.Close() }
