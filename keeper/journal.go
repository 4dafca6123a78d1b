package keeper

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Status is the outcome of one task in a keeper round.
type Status string

const (
	StatusExecuted Status = "executed"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
)

// Payload is the part of an execution stored as JSON.
type Payload struct {
	ExecData hexutil.Bytes `json:"execData,omitempty"`
	Fee      string        `json:"fee,omitempty"`
	Attempts int           `json:"attempts,omitempty"`
}

// Execution is one journal row.
type Execution struct {
	ID        int64
	RoundID   string
	TaskID    common.Hash
	Creator   common.Address
	Status    Status
	Error     string
	Payload   Payload
	CreatedAt time.Time
}

// Journal records what the keeper did with every task it looked at.
// It is backed by SQLite in WAL mode.
type Journal struct {
	db *sql.DB
}

// OpenJournal creates or opens the journal database at path.
func OpenJournal(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to journal: %w", err)
	}

	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Record appends e and returns its row id.
func (j *Journal) Record(ctx context.Context, e Execution) (int64, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return 0, err
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	res, err := j.db.ExecContext(ctx,
		`INSERT INTO executions (round_id, task_id, creator, status, error, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.RoundID, e.TaskID.Hex(), e.Creator.Hex(), string(e.Status), e.Error, string(payload), e.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record execution of %s: %w", e.TaskID.Hex(), err)
	}
	return res.LastInsertId()
}

// ByTask returns the executions of task id, oldest first.
func (j *Journal) ByTask(ctx context.Context, id common.Hash) ([]Execution, error) {
	return j.query(ctx,
		`SELECT id, round_id, task_id, creator, status, error, payload, created_at
		 FROM executions WHERE task_id = ? ORDER BY id`, id.Hex())
}

// Round returns the executions recorded in round roundID.
func (j *Journal) Round(ctx context.Context, roundID string) ([]Execution, error) {
	return j.query(ctx,
		`SELECT id, round_id, task_id, creator, status, error, payload, created_at
		 FROM executions WHERE round_id = ? ORDER BY id`, roundID)
}

func (j *Journal) query(ctx context.Context, query string, args ...any) ([]Execution, error) {
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		var (
			e                     Execution
			taskID, creator, stat string
			payload               string
			createdAt             int64
		)
		if err := rows.Scan(&e.ID, &e.RoundID, &taskID, &creator, &stat, &e.Error, &payload, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("corrupt payload in execution %d: %w", e.ID, err)
		}
		e.TaskID = common.HexToHash(taskID)
		e.Creator = common.HexToAddress(creator)
		e.Status = Status(stat)
		e.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}
