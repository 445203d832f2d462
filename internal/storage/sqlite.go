package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/arenalive/arena/internal/core"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &SQLiteStorage{
		db:   db,
		path: dbPath,
	}, nil
}

// Initialize creates the database schema and seeds the flags row.
func (s *SQLiteStorage) Initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS debates (
		id TEXT PRIMARY KEY,
		topic TEXT NOT NULL,
		category TEXT NOT NULL,
		roster_json TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',
		current_turn_index INTEGER NOT NULL DEFAULT 0,
		current_model TEXT NOT NULL DEFAULT '',
		started_at DATETIME NOT NULL,
		last_activity_at DATETIME NOT NULL,
		ended_at DATETIME,
		winner TEXT NOT NULL DEFAULT '',
		winning_votes INTEGER NOT NULL DEFAULT 0,
		total_votes INTEGER NOT NULL DEFAULT 0,
		is_tie INTEGER NOT NULL DEFAULT 0,
		detail TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS turns (
		id TEXT PRIMARY KEY,
		debate_id TEXT NOT NULL,
		speaker TEXT NOT NULL,
		turn_index INTEGER NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		tokens INTEGER NOT NULL DEFAULT 0,
		ttft_ms INTEGER,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		FOREIGN KEY (debate_id) REFERENCES debates(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS votes (
		id TEXT PRIMARY KEY,
		debate_id TEXT NOT NULL,
		voter TEXT NOT NULL,
		vote_for TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		UNIQUE (debate_id, voter),
		FOREIGN KEY (debate_id) REFERENCES debates(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS flags (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		kill_switch INTEGER NOT NULL DEFAULT 0,
		paused INTEGER NOT NULL DEFAULT 0,
		abort INTEGER NOT NULL DEFAULT 0,
		enable_new_debates INTEGER NOT NULL DEFAULT 1,
		enable_voting INTEGER NOT NULL DEFAULT 1,
		enable_logging INTEGER NOT NULL DEFAULT 1,
		motion_to_end INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_turns_debate_id ON turns(debate_id);
	CREATE INDEX IF NOT EXISTS idx_votes_debate_id ON votes(debate_id);
	CREATE INDEX IF NOT EXISTS idx_debates_status ON debates(status);
	CREATE INDEX IF NOT EXISTS idx_debates_last_activity ON debates(last_activity_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	if _, err := s.db.Exec(`INSERT OR IGNORE INTO flags (id) VALUES (1)`); err != nil {
		return fmt.Errorf("failed to seed flags row: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

const debateColumns = `id, topic, category, roster_json, status, current_turn_index, current_model,
	started_at, last_activity_at, ended_at, winner, winning_votes, total_votes, is_tie, detail`

// CreateDebate creates a new debate.
func (s *SQLiteStorage) CreateDebate(debate *core.Debate) error {
	rosterJSON, err := json.Marshal(debate.Roster)
	if err != nil {
		return fmt.Errorf("failed to marshal roster: %w", err)
	}

	query := `
	INSERT INTO debates (` + debateColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.Exec(query,
		debate.ID,
		debate.Topic,
		debate.Category,
		string(rosterJSON),
		debate.Status,
		debate.CurrentTurnIndex,
		debate.CurrentModel,
		debate.StartedAt,
		debate.LastActivityAt,
		debate.EndedAt,
		debate.Winner,
		debate.WinningVotes,
		debate.TotalVotes,
		debate.IsTie,
		debate.Detail,
	)
	if err != nil {
		return fmt.Errorf("failed to insert debate: %w", err)
	}

	return nil
}

func scanDebate(row interface{ Scan(...any) error }) (*core.Debate, error) {
	var debate core.Debate
	var rosterJSON string
	var endedAt sql.NullTime

	err := row.Scan(
		&debate.ID,
		&debate.Topic,
		&debate.Category,
		&rosterJSON,
		&debate.Status,
		&debate.CurrentTurnIndex,
		&debate.CurrentModel,
		&debate.StartedAt,
		&debate.LastActivityAt,
		&endedAt,
		&debate.Winner,
		&debate.WinningVotes,
		&debate.TotalVotes,
		&debate.IsTie,
		&debate.Detail,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(rosterJSON), &debate.Roster); err != nil {
		return nil, fmt.Errorf("failed to unmarshal roster: %w", err)
	}
	if endedAt.Valid {
		debate.EndedAt = &endedAt.Time
	}

	return &debate, nil
}

// GetDebate retrieves a debate by ID. Returns (nil, nil) when not found.
func (s *SQLiteStorage) GetDebate(id string) (*core.Debate, error) {
	row := s.db.QueryRow(`SELECT `+debateColumns+` FROM debates WHERE id = ?`, id)
	debate, err := scanDebate(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get debate: %w", err)
	}
	return debate, nil
}

func (s *SQLiteStorage) queryDebates(query string, args ...any) ([]*core.Debate, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var debates []*core.Debate
	for rows.Next() {
		debate, err := scanDebate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan debate: %w", err)
		}
		debates = append(debates, debate)
	}
	return debates, rows.Err()
}

// ListDebates returns debates ordered by start time, newest first.
func (s *SQLiteStorage) ListDebates(limit, offset int) ([]*core.Debate, error) {
	debates, err := s.queryDebates(
		`SELECT `+debateColumns+` FROM debates ORDER BY started_at DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list debates: %w", err)
	}
	return debates, nil
}

// ActiveDebates returns debates in a non-terminal status.
func (s *SQLiteStorage) ActiveDebates() ([]*core.Debate, error) {
	debates, err := s.queryDebates(
		`SELECT `+debateColumns+` FROM debates WHERE status IN (?, ?)`,
		core.StatusRunning, core.StatusVoting,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query active debates: %w", err)
	}
	return debates, nil
}

// StaleDebates returns active debates whose heartbeat predates the cutoff.
func (s *SQLiteStorage) StaleDebates(olderThan time.Time) ([]*core.Debate, error) {
	debates, err := s.queryDebates(
		`SELECT `+debateColumns+` FROM debates WHERE status IN (?, ?) AND last_activity_at < ?`,
		core.StatusRunning, core.StatusVoting, olderThan,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale debates: %w", err)
	}
	return debates, nil
}

// ClaimDebate refreshes the heartbeat conditionally on the observed
// value, so only one process wins a concurrent resume.
func (s *SQLiteStorage) ClaimDebate(id string, seen, now time.Time) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE debates SET last_activity_at = ? WHERE id = ? AND last_activity_at = ?`,
		now, id, seen,
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim debate: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read claim result: %w", err)
	}
	return n == 1, nil
}

// AdvanceDebate moves the turn pointer and refreshes the heartbeat.
func (s *SQLiteStorage) AdvanceDebate(id string, nextTurnIndex int, nextModel string, at time.Time) error {
	_, err := s.db.Exec(
		`UPDATE debates SET current_turn_index = ?, current_model = ?, last_activity_at = ? WHERE id = ?`,
		nextTurnIndex, nextModel, at, id,
	)
	if err != nil {
		return fmt.Errorf("failed to advance debate: %w", err)
	}
	return nil
}

// SetDebateStatus updates the status and optional detail/ended_at fields.
func (s *SQLiteStorage) SetDebateStatus(id string, status core.DebateStatus, detail string, endedAt *time.Time) error {
	var err error
	if endedAt != nil {
		_, err = s.db.Exec(
			`UPDATE debates SET status = ?, detail = ?, ended_at = ?, last_activity_at = ? WHERE id = ?`,
			status, detail, endedAt, endedAt, id,
		)
	} else {
		_, err = s.db.Exec(
			`UPDATE debates SET status = ?, detail = ?, last_activity_at = ? WHERE id = ?`,
			status, detail, time.Now(), id,
		)
	}
	if err != nil {
		return fmt.Errorf("failed to set debate status: %w", err)
	}
	return nil
}

// FinalizeDebate commits the voting outcome and marks the debate ended.
func (s *SQLiteStorage) FinalizeDebate(id string, tally core.Tally, at time.Time) error {
	_, err := s.db.Exec(
		`UPDATE debates SET status = ?, winner = ?, winning_votes = ?, total_votes = ?, is_tie = ?,
			ended_at = ?, last_activity_at = ? WHERE id = ?`,
		core.StatusEnded, tally.Winner, tally.WinningVotes, tally.TotalVotes, tally.IsTie,
		at, at, id,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize debate: %w", err)
	}
	return nil
}

// FinalizeDebateMinimal writes only status and winner, the reduced
// fallback when the full finalize fails.
func (s *SQLiteStorage) FinalizeDebateMinimal(id string, winner string, at time.Time) error {
	_, err := s.db.Exec(
		`UPDATE debates SET status = ?, winner = ?, ended_at = ? WHERE id = ?`,
		core.StatusEnded, winner, at, id,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize debate (minimal): %w", err)
	}
	return nil
}

// CreateTurn inserts a turn row, typically empty and unfinished.
func (s *SQLiteStorage) CreateTurn(turn *core.Turn) error {
	query := `
	INSERT INTO turns (id, debate_id, speaker, turn_index, content, tokens, ttft_ms, started_at, finished_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		turn.ID,
		turn.DebateID,
		turn.Speaker,
		turn.TurnIndex,
		turn.Content,
		turn.Tokens,
		turn.TTFTMillis,
		turn.StartedAt,
		turn.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert turn: %w", err)
	}

	return nil
}

// UpdateTurnContent persists in-flight streaming progress.
func (s *SQLiteStorage) UpdateTurnContent(id, content string) error {
	_, err := s.db.Exec(`UPDATE turns SET content = ? WHERE id = ?`, content, id)
	if err != nil {
		return fmt.Errorf("failed to update turn content: %w", err)
	}
	return nil
}

// SetTurnFirstToken records the first-fragment latency.
func (s *SQLiteStorage) SetTurnFirstToken(id string, ttftMillis int64) error {
	_, err := s.db.Exec(`UPDATE turns SET ttft_ms = ? WHERE id = ?`, ttftMillis, id)
	if err != nil {
		return fmt.Errorf("failed to set turn ttft: %w", err)
	}
	return nil
}

// FinishTurn finalizes content, token count, and finished_at.
func (s *SQLiteStorage) FinishTurn(id, content string, tokens int, at time.Time) error {
	_, err := s.db.Exec(
		`UPDATE turns SET content = ?, tokens = ?, finished_at = ? WHERE id = ?`,
		content, tokens, at, id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish turn: %w", err)
	}
	return nil
}

// GetTurns returns all turns for a debate ordered by index, with system
// side-channel turns ordered by insertion within the same index.
func (s *SQLiteStorage) GetTurns(debateID string) ([]*core.Turn, error) {
	query := `
	SELECT id, debate_id, speaker, turn_index, content, tokens, ttft_ms, started_at, finished_at
	FROM turns
	WHERE debate_id = ?
	ORDER BY turn_index ASC, started_at ASC
	`

	rows, err := s.db.Query(query, debateID)
	if err != nil {
		return nil, fmt.Errorf("failed to get turns: %w", err)
	}
	defer rows.Close()

	var turns []*core.Turn
	for rows.Next() {
		var turn core.Turn
		var ttft sql.NullInt64
		var finishedAt sql.NullTime
		err := rows.Scan(
			&turn.ID,
			&turn.DebateID,
			&turn.Speaker,
			&turn.TurnIndex,
			&turn.Content,
			&turn.Tokens,
			&ttft,
			&turn.StartedAt,
			&finishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		if ttft.Valid {
			turn.TTFTMillis = &ttft.Int64
		}
		if finishedAt.Valid {
			turn.FinishedAt = &finishedAt.Time
		}
		turns = append(turns, &turn)
	}

	return turns, rows.Err()
}

// CreateVote inserts a ballot. One ballot per (debate, voter) is
// enforced by the schema.
func (s *SQLiteStorage) CreateVote(vote *core.Vote) error {
	query := `
	INSERT INTO votes (id, debate_id, voter, vote_for, created_at)
	VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		vote.ID,
		vote.DebateID,
		vote.Voter,
		vote.VoteFor,
		vote.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert vote: %w", err)
	}

	return nil
}

// GetVotes returns all ballots for a debate in creation order.
func (s *SQLiteStorage) GetVotes(debateID string) ([]*core.Vote, error) {
	query := `
	SELECT id, debate_id, voter, vote_for, created_at
	FROM votes
	WHERE debate_id = ?
	ORDER BY created_at ASC
	`

	rows, err := s.db.Query(query, debateID)
	if err != nil {
		return nil, fmt.Errorf("failed to get votes: %w", err)
	}
	defer rows.Close()

	var votes []*core.Vote
	for rows.Next() {
		var vote core.Vote
		err := rows.Scan(
			&vote.ID,
			&vote.DebateID,
			&vote.Voter,
			&vote.VoteFor,
			&vote.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vote: %w", err)
		}
		votes = append(votes, &vote)
	}

	return votes, rows.Err()
}

// GetFlags reads the operator flags row.
func (s *SQLiteStorage) GetFlags() (*core.FlagSnapshot, error) {
	query := `
	SELECT kill_switch, paused, abort, enable_new_debates, enable_voting, enable_logging, motion_to_end
	FROM flags WHERE id = 1
	`

	var flags core.FlagSnapshot
	err := s.db.QueryRow(query).Scan(
		&flags.KillSwitch,
		&flags.Paused,
		&flags.Abort,
		&flags.EnableNewDebates,
		&flags.EnableVoting,
		&flags.EnableLogging,
		&flags.MotionToEnd,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get flags: %w", err)
	}

	return &flags, nil
}

// SetFlags overwrites the operator flags row.
func (s *SQLiteStorage) SetFlags(flags *core.FlagSnapshot) error {
	query := `
	UPDATE flags SET kill_switch = ?, paused = ?, abort = ?,
		enable_new_debates = ?, enable_voting = ?, enable_logging = ?, motion_to_end = ?
	WHERE id = 1
	`

	_, err := s.db.Exec(query,
		flags.KillSwitch,
		flags.Paused,
		flags.Abort,
		flags.EnableNewDebates,
		flags.EnableVoting,
		flags.EnableLogging,
		flags.MotionToEnd,
	)
	if err != nil {
		return fmt.Errorf("failed to set flags: %w", err)
	}

	return nil
}

// DefaultDBPath returns the default database path.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "arena.db"
	}
	return filepath.Join(home, ".arena", "arena.db")
}
