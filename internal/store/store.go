// Package store is the bot's persistence layer on SQLite.
//
// DESIGN: Record-oriented access, no ORM. Each read-modify-write is its own
// short transaction. One schema:
//   - users:              profile, current dialog pointer, current model,
//     last interaction, patient registration attributes
//   - dialogs:            uuid-keyed dialogs; the user's current_dialog_id
//     is repointed by /new, prior dialogs are never mutated
//   - dialog_turns:       ordered turns of a dialog, appended only after a
//     completed answer
//   - usage_ledger:       per-user per-model token counts, add-only upsert
//   - prompt_completions: prompt/answer capture for the /extract export
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mayahealth/maya-bot/internal/history"
	"github.com/mayahealth/maya-bot/internal/usage"
)

// ErrNoDialog means the user has no current dialog to operate on.
var ErrNoDialog = errors.New("store: user has no current dialog")

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id                INTEGER PRIMARY KEY,
	chat_id           INTEGER NOT NULL,
	username          TEXT NOT NULL DEFAULT '',
	first_name        TEXT NOT NULL DEFAULT '',
	last_name         TEXT NOT NULL DEFAULT '',
	current_dialog_id TEXT,
	current_model     TEXT NOT NULL DEFAULT '',
	last_interaction  TIMESTAMP,
	created_at        TIMESTAMP NOT NULL,
	registered        INTEGER NOT NULL DEFAULT 0,
	age               INTEGER NOT NULL DEFAULT 0,
	gender            TEXT NOT NULL DEFAULT '',
	allergies         TEXT NOT NULL DEFAULT '',
	medical_history   TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS dialogs (
	id         TEXT PRIMARY KEY,
	user_id    INTEGER NOT NULL REFERENCES users(id),
	started_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS dialog_turns (
	dialog_id  TEXT NOT NULL REFERENCES dialogs(id),
	seq        INTEGER NOT NULL,
	user_text  TEXT NOT NULL,
	bot_text   TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (dialog_id, seq)
);
CREATE TABLE IF NOT EXISTS usage_ledger (
	user_id         INTEGER NOT NULL REFERENCES users(id),
	model           TEXT NOT NULL,
	n_input_tokens  INTEGER NOT NULL DEFAULT 0,
	n_output_tokens INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, model)
);
CREATE TABLE IF NOT EXISTS prompt_completions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	prompt     TEXT NOT NULL,
	completion TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
`

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating when needed) the database at path. ":memory:" gives
// an ephemeral database for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// SQLite serializes writers; a single connection avoids lock errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: set pragmas: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Profile is the Telegram-side identity of a user.
type Profile struct {
	ID        int64
	ChatID    int64
	Username  string
	FirstName string
	LastName  string
}

// Patient holds the registration attributes collected by /register.
type Patient struct {
	Age            int
	Gender         string
	Allergies      string
	MedicalHistory string
}

// UserExists reports whether the user is known.
func (s *Store) UserExists(userID int64) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM users WHERE id = ?`, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CreateUser inserts a new user row. The caller starts the first dialog.
func (s *Store) CreateUser(p Profile) error {
	_, err := s.db.Exec(
		`INSERT INTO users (id, chat_id, username, first_name, last_name, created_at, last_interaction)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ChatID, p.Username, p.FirstName, p.LastName, time.Now().UTC(), time.Now().UTC())
	return err
}

// StartNewDialog creates a fresh dialog and repoints the user's current
// dialog to it. Prior dialogs keep their history untouched.
func (s *Store) StartNewDialog(userID int64) (string, error) {
	dialogID := uuid.NewString()
	tx, err := s.db.Begin()
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(
		`INSERT INTO dialogs (id, user_id, started_at) VALUES (?, ?, ?)`,
		dialogID, userID, time.Now().UTC()); err != nil {
		return "", err
	}
	if _, err := tx.Exec(
		`UPDATE users SET current_dialog_id = ? WHERE id = ?`, dialogID, userID); err != nil {
		return "", err
	}
	return dialogID, tx.Commit()
}

// CurrentDialogID returns the user's current dialog id, empty when unset.
func (s *Store) CurrentDialogID(userID int64) (string, error) {
	var id sql.NullString
	err := s.db.QueryRow(`SELECT current_dialog_id FROM users WHERE id = ?`, userID).Scan(&id)
	if err != nil {
		return "", err
	}
	return id.String, nil
}

// CurrentModel returns the user's selected model, empty when unset.
func (s *Store) CurrentModel(userID int64) (string, error) {
	var model string
	err := s.db.QueryRow(`SELECT current_model FROM users WHERE id = ?`, userID).Scan(&model)
	return model, err
}

// SetCurrentModel updates the user's selected model.
func (s *Store) SetCurrentModel(userID int64, model string) error {
	_, err := s.db.Exec(`UPDATE users SET current_model = ? WHERE id = ?`, model, userID)
	return err
}

// LastInteraction returns when the user last talked to the bot.
func (s *Store) LastInteraction(userID int64) (time.Time, error) {
	var t sql.NullTime
	err := s.db.QueryRow(`SELECT last_interaction FROM users WHERE id = ?`, userID).Scan(&t)
	if err != nil {
		return time.Time{}, err
	}
	return t.Time, nil
}

// Touch records that the user interacted with the bot just now.
func (s *Store) Touch(userID int64) error {
	_, err := s.db.Exec(`UPDATE users SET last_interaction = ? WHERE id = ?`, time.Now().UTC(), userID)
	return err
}

// DialogTurns returns the turns of the user's current dialog in order.
func (s *Store) DialogTurns(userID int64) ([]history.Turn, error) {
	dialogID, err := s.CurrentDialogID(userID)
	if err != nil {
		return nil, err
	}
	if dialogID == "" {
		return nil, ErrNoDialog
	}

	rows, err := s.db.Query(
		`SELECT user_text, bot_text FROM dialog_turns WHERE dialog_id = ? ORDER BY seq`, dialogID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var turns []history.Turn
	for rows.Next() {
		var t history.Turn
		if err := rows.Scan(&t.User, &t.Bot); err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// AppendTurn appends a completed turn to the user's current dialog. Called
// only after the relay published a finished answer; never for partials.
func (s *Store) AppendTurn(userID int64, turn history.Turn) error {
	dialogID, err := s.CurrentDialogID(userID)
	if err != nil {
		return err
	}
	if dialogID == "" {
		return ErrNoDialog
	}
	_, err = s.db.Exec(
		`INSERT INTO dialog_turns (dialog_id, seq, user_text, bot_text, created_at)
		 VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM dialog_turns WHERE dialog_id = ?), ?, ?, ?)`,
		dialogID, dialogID, turn.User, turn.Bot, time.Now().UTC())
	return err
}

// DropLastTurn removes and returns the newest turn of the current dialog,
// used by /retry to re-ask the last question. ok is false when the dialog
// has no turns.
func (s *Store) DropLastTurn(userID int64) (history.Turn, bool, error) {
	dialogID, err := s.CurrentDialogID(userID)
	if err != nil {
		return history.Turn{}, false, err
	}
	if dialogID == "" {
		return history.Turn{}, false, ErrNoDialog
	}

	tx, err := s.db.Begin()
	if err != nil {
		return history.Turn{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	var seq int
	var turn history.Turn
	err = tx.QueryRow(
		`SELECT seq, user_text, bot_text FROM dialog_turns
		 WHERE dialog_id = ? ORDER BY seq DESC LIMIT 1`, dialogID).
		Scan(&seq, &turn.User, &turn.Bot)
	if errors.Is(err, sql.ErrNoRows) {
		return history.Turn{}, false, nil
	}
	if err != nil {
		return history.Turn{}, false, err
	}
	if _, err := tx.Exec(
		`DELETE FROM dialog_turns WHERE dialog_id = ? AND seq = ?`, dialogID, seq); err != nil {
		return history.Turn{}, false, err
	}
	return turn, true, tx.Commit()
}

// RecordUsage adds token counts to the user's ledger entry for model,
// creating the entry when absent. Called exactly once per request
// lifecycle, including cancelled requests.
func (s *Store) RecordUsage(userID int64, model string, inputTokens, outputTokens int) error {
	_, err := s.db.Exec(
		`INSERT INTO usage_ledger (user_id, model, n_input_tokens, n_output_tokens)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id, model) DO UPDATE SET
		   n_input_tokens  = n_input_tokens  + excluded.n_input_tokens,
		   n_output_tokens = n_output_tokens + excluded.n_output_tokens`,
		userID, model, inputTokens, outputTokens)
	return err
}

// UsageLedger returns the user's full per-model ledger.
func (s *Store) UsageLedger(userID int64) (usage.Ledger, error) {
	rows, err := s.db.Query(
		`SELECT model, n_input_tokens, n_output_tokens FROM usage_ledger WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	ledger := usage.Ledger{}
	for rows.Next() {
		var model string
		var in, out int
		if err := rows.Scan(&model, &in, &out); err != nil {
			return nil, err
		}
		ledger.Add(model, in, out)
	}
	return ledger, rows.Err()
}

// SetPatient stores the registration attributes and marks the user
// registered.
func (s *Store) SetPatient(userID int64, p Patient) error {
	_, err := s.db.Exec(
		`UPDATE users SET registered = 1, age = ?, gender = ?, allergies = ?, medical_history = ?
		 WHERE id = ?`,
		p.Age, p.Gender, p.Allergies, p.MedicalHistory, userID)
	return err
}

// PatientInfo returns the registration attributes; registered is false when
// the user has not completed /register.
func (s *Store) PatientInfo(userID int64) (Patient, bool, error) {
	var p Patient
	var registered int
	err := s.db.QueryRow(
		`SELECT registered, age, gender, allergies, medical_history FROM users WHERE id = ?`, userID).
		Scan(&registered, &p.Age, &p.Gender, &p.Allergies, &p.MedicalHistory)
	if err != nil {
		return Patient{}, false, err
	}
	return p, registered == 1, nil
}

// InsertPromptCompletion captures one prompt/answer pair for later export.
func (s *Store) InsertPromptCompletion(prompt, answer string) error {
	_, err := s.db.Exec(
		`INSERT INTO prompt_completions (prompt, completion, created_at) VALUES (?, ?, ?)`,
		prompt, answer, time.Now().UTC())
	return err
}

// ExportPromptCompletions renders every captured pair as JSON Lines, the
// format fine-tuning pipelines consume.
func (s *Store) ExportPromptCompletions() ([]byte, error) {
	rows, err := s.db.Query(`SELECT prompt, completion FROM prompt_completions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []byte
	for rows.Next() {
		var rec struct {
			Prompt     string `json:"prompt"`
			Completion string `json:"completion"`
		}
		if err := rows.Scan(&rec.Prompt, &rec.Completion); err != nil {
			return nil, err
		}
		line, err := json.Marshal(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, line...)
		out = append(out, '\n')
	}
	return out, rows.Err()
}
