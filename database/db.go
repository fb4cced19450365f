package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"github.com/scrumdash/boardsync/board"
)

// ErrNotFound is returned when a board, column or issue does not exist.
var ErrNotFound = errors.New("not found")

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create boards table
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS boards (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		project_id TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return nil, fmt.Errorf("failed to create boards table: %w", err)
	}

	// Create columns table. The workflow status is denormalized onto the
	// column row since a status backs exactly one column per board.
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS columns (
		id TEXT PRIMARY KEY,
		board_id TEXT NOT NULL,
		name TEXT NOT NULL,
		ord INTEGER NOT NULL,
		status_id TEXT NOT NULL,
		status_name TEXT NOT NULL,
		status_color TEXT NOT NULL DEFAULT '',
		is_initial INTEGER NOT NULL DEFAULT 0,
		is_final INTEGER NOT NULL DEFAULT 0,
		min_wip INTEGER,
		max_wip INTEGER,
		FOREIGN KEY (board_id) REFERENCES boards(id)
	)`)
	if err != nil {
		return nil, fmt.Errorf("failed to create columns table: %w", err)
	}

	// Create issues table (stores the JSON document for each issue)
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS issues (
		id TEXT PRIMARY KEY,
		board_id TEXT NOT NULL,
		issue_key TEXT NOT NULL,
		status_id TEXT NOT NULL,
		data TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (board_id) REFERENCES boards(id)
	)`)
	if err != nil {
		return nil, fmt.Errorf("failed to create issues table: %w", err)
	}

	log.Println("Database initialized successfully")
	return db, nil
}

// BoardService handles database operations for boards, columns and issues
type BoardService struct {
	db *sql.DB
}

func NewBoardService(db *sql.DB) *BoardService {
	return &BoardService{db: db}
}

// CreateBoard persists a board and its columns. Missing ids are assigned.
func (s *BoardService) CreateBoard(b *board.Board) error {
	if b.ID == "" {
		b.ID = ulid.Make().String()
	}
	if b.Type == "" {
		b.Type = board.TypeKanban
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec("INSERT INTO boards (id, name, type, project_id) VALUES (?, ?, ?, ?)",
		b.ID, b.Name, b.Type, b.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to insert board: %w", err)
	}

	for i := range b.Columns {
		if err := insertColumn(tx, b.ID, &b.Columns[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetBoard retrieves a board with its columns sorted ascending by order
func (s *BoardService) GetBoard(boardID string) (*board.Board, error) {
	row := s.db.QueryRow("SELECT id, name, type, project_id FROM boards WHERE id = ?", boardID)

	var b board.Board
	err := row.Scan(&b.ID, &b.Name, &b.Type, &b.ProjectID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query board: %w", err)
	}

	rows, err := s.db.Query(`SELECT id, name, ord, status_id, status_name, status_color,
		is_initial, is_final, min_wip, max_wip
		FROM columns WHERE board_id = ? ORDER BY ord ASC`, boardID)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns: %w", err)
	}
	defer rows.Close()

	b.Columns = []board.Column{}
	for rows.Next() {
		col, err := scanColumn(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		b.Columns = append(b.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	return &b, nil
}

// ListIssues retrieves all issues for a board
func (s *BoardService) ListIssues(boardID string) ([]board.Issue, error) {
	rows, err := s.db.Query("SELECT data FROM issues WHERE board_id = ?", boardID)
	if err != nil {
		return nil, fmt.Errorf("failed to query issues: %w", err)
	}
	defer rows.Close()

	issues := []board.Issue{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", err)
		}

		var issue board.Issue
		if err := json.Unmarshal([]byte(data), &issue); err != nil {
			return nil, fmt.Errorf("failed to unmarshal issue: %w", err)
		}
		issues = append(issues, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read issues: %w", err)
	}

	return issues, nil
}

// GetIssue retrieves a single issue and the id of the board that owns it
func (s *BoardService) GetIssue(issueID string) (*board.Issue, string, error) {
	row := s.db.QueryRow("SELECT board_id, data FROM issues WHERE id = ?", issueID)

	var boardID, data string
	err := row.Scan(&boardID, &data)
	if err == sql.ErrNoRows {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to query issue: %w", err)
	}

	var issue board.Issue
	if err := json.Unmarshal([]byte(data), &issue); err != nil {
		return nil, "", fmt.Errorf("failed to unmarshal issue: %w", err)
	}

	return &issue, boardID, nil
}

// CreateIssue persists an issue on a board. The issue's status must match
// one of the board's columns; an empty status defaults to the board's
// initial column.
func (s *BoardService) CreateIssue(boardID string, issue *board.Issue) error {
	b, err := s.GetBoard(boardID)
	if err != nil {
		return err
	}

	if issue.ID == "" {
		issue.ID = ulid.Make().String()
	}
	if issue.Key == "" {
		issue.Key = "ISS-" + issue.ID[len(issue.ID)-6:]
	}

	// Resolve the full status object from the board's columns
	status, ok := statusForID(b, issue.Status.ID)
	if !ok {
		for _, col := range b.Columns {
			if col.Status.IsInitial {
				status = col.Status
				ok = true
				break
			}
		}
		if !ok && len(b.Columns) > 0 {
			status = b.Columns[0].Status
			ok = true
		}
	}
	if !ok {
		return fmt.Errorf("board %s has no column for status %q", boardID, issue.Status.ID)
	}
	issue.Status = status

	data, err := json.Marshal(issue)
	if err != nil {
		return fmt.Errorf("failed to marshal issue: %w", err)
	}

	_, err = s.db.Exec("INSERT INTO issues (id, board_id, issue_key, status_id, data) VALUES (?, ?, ?, ?, ?)",
		issue.ID, boardID, issue.Key, issue.Status.ID, string(data))
	if err != nil {
		return fmt.Errorf("failed to insert issue: %w", err)
	}

	return nil
}

// UpdateIssue replaces an issue's document and returns the owning board id
func (s *BoardService) UpdateIssue(issueID string, issue *board.Issue) (string, error) {
	existing, boardID, err := s.GetIssue(issueID)
	if err != nil {
		return "", err
	}

	issue.ID = existing.ID
	if issue.Key == "" {
		issue.Key = existing.Key
	}
	if issue.Status.ID == "" {
		issue.Status = existing.Status
	}

	data, err := json.Marshal(issue)
	if err != nil {
		return "", fmt.Errorf("failed to marshal issue: %w", err)
	}

	_, err = s.db.Exec(`UPDATE issues SET issue_key = ?, status_id = ?, data = ?,
		updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		issue.Key, issue.Status.ID, string(data), issueID)
	if err != nil {
		return "", fmt.Errorf("failed to update issue: %w", err)
	}

	return boardID, nil
}

// DeleteIssue removes an issue and returns its board id and key for the
// deletion event payload
func (s *BoardService) DeleteIssue(issueID string) (string, string, error) {
	issue, boardID, err := s.GetIssue(issueID)
	if err != nil {
		return "", "", err
	}

	_, err = s.db.Exec("DELETE FROM issues WHERE id = ?", issueID)
	if err != nil {
		return "", "", fmt.Errorf("failed to delete issue: %w", err)
	}

	return boardID, issue.Key, nil
}

// MoveIssue moves an issue to the column identified by columnID and returns
// the updated issue plus the previous status id
func (s *BoardService) MoveIssue(boardID, issueID, columnID string) (*board.Issue, string, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(`SELECT id, name, ord, status_id, status_name, status_color,
		is_initial, is_final, min_wip, max_wip
		FROM columns WHERE id = ? AND board_id = ?`, columnID, boardID)
	col, err := scanColumn(row)
	if err == sql.ErrNoRows {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to scan column: %w", err)
	}

	var data string
	err = tx.QueryRow("SELECT data FROM issues WHERE id = ? AND board_id = ?", issueID, boardID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to query issue: %w", err)
	}

	var issue board.Issue
	if err := json.Unmarshal([]byte(data), &issue); err != nil {
		return nil, "", fmt.Errorf("failed to unmarshal issue: %w", err)
	}

	fromStatus := issue.Status.ID
	issue.Status = col.Status

	updated, err := json.Marshal(&issue)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal issue: %w", err)
	}

	_, err = tx.Exec(`UPDATE issues SET status_id = ?, data = ?,
		updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		issue.Status.ID, string(updated), issueID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to update issue: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, "", fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &issue, fromStatus, nil
}

// CreateColumn persists a column on a board. Missing ids are assigned.
func (s *BoardService) CreateColumn(boardID string, col *board.Column) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertColumn(tx, boardID, col); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// UpdateColumn replaces a column row and returns the owning board id
func (s *BoardService) UpdateColumn(columnID string, col *board.Column) (string, error) {
	var boardID string
	err := s.db.QueryRow("SELECT board_id FROM columns WHERE id = ?", columnID).Scan(&boardID)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query column: %w", err)
	}

	col.ID = columnID
	_, err = s.db.Exec(`UPDATE columns SET name = ?, ord = ?, status_id = ?, status_name = ?,
		status_color = ?, is_initial = ?, is_final = ?, min_wip = ?, max_wip = ?
		WHERE id = ?`,
		col.Name, col.Order, col.Status.ID, col.Status.Name, col.Status.Color,
		col.Status.IsInitial, col.Status.IsFinal, col.MinWIP, col.MaxWIP, columnID)
	if err != nil {
		return "", fmt.Errorf("failed to update column: %w", err)
	}

	return boardID, nil
}

// DeleteColumn removes a column and returns the owning board id
func (s *BoardService) DeleteColumn(columnID string) (string, error) {
	var boardID string
	err := s.db.QueryRow("SELECT board_id FROM columns WHERE id = ?", columnID).Scan(&boardID)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query column: %w", err)
	}

	_, err = s.db.Exec("DELETE FROM columns WHERE id = ?", columnID)
	if err != nil {
		return "", fmt.Errorf("failed to delete column: %w", err)
	}

	return boardID, nil
}

func insertColumn(tx *sql.Tx, boardID string, col *board.Column) error {
	if col.ID == "" {
		col.ID = ulid.Make().String()
	}
	if col.Status.ID == "" {
		col.Status.ID = col.ID
	}
	if col.Status.Name == "" {
		col.Status.Name = col.Name
	}

	_, err := tx.Exec(`INSERT INTO columns (id, board_id, name, ord, status_id, status_name,
		status_color, is_initial, is_final, min_wip, max_wip)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		col.ID, boardID, col.Name, col.Order, col.Status.ID, col.Status.Name,
		col.Status.Color, col.Status.IsInitial, col.Status.IsFinal, col.MinWIP, col.MaxWIP)
	if err != nil {
		return fmt.Errorf("failed to insert column: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanColumn(row rowScanner) (board.Column, error) {
	var col board.Column
	var minWIP, maxWIP sql.NullInt64
	err := row.Scan(&col.ID, &col.Name, &col.Order, &col.Status.ID, &col.Status.Name,
		&col.Status.Color, &col.Status.IsInitial, &col.Status.IsFinal, &minWIP, &maxWIP)
	if err != nil {
		return board.Column{}, err
	}
	if minWIP.Valid {
		v := int(minWIP.Int64)
		col.MinWIP = &v
	}
	if maxWIP.Valid {
		v := int(maxWIP.Int64)
		col.MaxWIP = &v
	}
	return col, nil
}

func statusForID(b *board.Board, statusID string) (board.WorkflowStatus, bool) {
	if statusID == "" {
		return board.WorkflowStatus{}, false
	}
	for _, col := range b.Columns {
		if col.Status.ID == statusID {
			return col.Status, true
		}
	}
	return board.WorkflowStatus{}, false
}
