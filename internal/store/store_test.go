package store

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mayahealth/maya-bot/internal/history"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func createTestUser(t *testing.T, s *Store, id int64) {
	t.Helper()
	require.NoError(t, s.CreateUser(Profile{ID: id, ChatID: id, Username: "u", FirstName: "U"}))
}

func TestUserLifecycle(t *testing.T) {
	s := openTestStore(t)

	exists, err := s.UserExists(1)
	require.NoError(t, err)
	assert.False(t, exists)

	createTestUser(t, s, 1)

	exists, err = s.UserExists(1)
	require.NoError(t, err)
	assert.True(t, exists)

	// Fresh user has no dialog and no model yet.
	dialogID, err := s.CurrentDialogID(1)
	require.NoError(t, err)
	assert.Empty(t, dialogID)

	model, err := s.CurrentModel(1)
	require.NoError(t, err)
	assert.Empty(t, model)

	require.NoError(t, s.SetCurrentModel(1, "gpt-4o"))
	model, err = s.CurrentModel(1)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", model)
}

func TestStartNewDialog_RepointsCurrentKeepsOldHistory(t *testing.T) {
	s := openTestStore(t)
	createTestUser(t, s, 1)

	first, err := s.StartNewDialog(1)
	require.NoError(t, err)
	require.NoError(t, s.AppendTurn(1, history.Turn{User: "q1", Bot: "a1"}))

	second, err := s.StartNewDialog(1)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	current, err := s.CurrentDialogID(1)
	require.NoError(t, err)
	assert.Equal(t, second, current)

	// New dialog starts empty; the old one is untouched but no longer read.
	turns, err := s.DialogTurns(1)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestAppendTurn_OrderPreserved(t *testing.T) {
	s := openTestStore(t)
	createTestUser(t, s, 1)
	_, err := s.StartNewDialog(1)
	require.NoError(t, err)

	require.NoError(t, s.AppendTurn(1, history.Turn{User: "q1", Bot: "a1"}))
	require.NoError(t, s.AppendTurn(1, history.Turn{User: "q2", Bot: "a2"}))
	require.NoError(t, s.AppendTurn(1, history.Turn{User: "q3", Bot: "a3"}))

	turns, err := s.DialogTurns(1)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "q1", turns[0].User)
	assert.Equal(t, "a3", turns[2].Bot)
}

func TestAppendTurn_NoDialog(t *testing.T) {
	s := openTestStore(t)
	createTestUser(t, s, 1)

	err := s.AppendTurn(1, history.Turn{User: "q", Bot: "a"})
	assert.ErrorIs(t, err, ErrNoDialog)

	_, err = s.DialogTurns(1)
	assert.ErrorIs(t, err, ErrNoDialog)
}

func TestDropLastTurn(t *testing.T) {
	s := openTestStore(t)
	createTestUser(t, s, 1)
	_, err := s.StartNewDialog(1)
	require.NoError(t, err)

	_, ok, err := s.DropLastTurn(1)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.AppendTurn(1, history.Turn{User: "q1", Bot: "a1"}))
	require.NoError(t, s.AppendTurn(1, history.Turn{User: "q2", Bot: "a2"}))

	turn, ok, err := s.DropLastTurn(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, history.Turn{User: "q2", Bot: "a2"}, turn)

	turns, err := s.DialogTurns(1)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "q1", turns[0].User)

	// Appending after a drop reuses the freed sequence slot.
	require.NoError(t, s.AppendTurn(1, history.Turn{User: "q2b", Bot: "a2b"}))
	turns, err = s.DialogTurns(1)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "q2b", turns[1].User)
}

func TestRecordUsage_UpsertAccumulates(t *testing.T) {
	s := openTestStore(t)
	createTestUser(t, s, 1)

	require.NoError(t, s.RecordUsage(1, "gpt-3.5-turbo", 10, 5))
	require.NoError(t, s.RecordUsage(1, "gpt-3.5-turbo", 3, 2))
	require.NoError(t, s.RecordUsage(1, "gpt-4", 7, 0))

	ledger, err := s.UsageLedger(1)
	require.NoError(t, err)
	assert.Equal(t, 13, ledger["gpt-3.5-turbo"].InputTokens)
	assert.Equal(t, 7, ledger["gpt-3.5-turbo"].OutputTokens)
	assert.Equal(t, 7, ledger["gpt-4"].InputTokens)
	assert.Equal(t, 27, ledger.TotalTokens())
}

func TestRecordUsage_IsolatedPerUser(t *testing.T) {
	s := openTestStore(t)
	createTestUser(t, s, 1)
	createTestUser(t, s, 2)

	require.NoError(t, s.RecordUsage(1, "gpt-4", 100, 50))

	ledger, err := s.UsageLedger(2)
	require.NoError(t, err)
	assert.Empty(t, ledger)
}

func TestTouchAndLastInteraction(t *testing.T) {
	s := openTestStore(t)
	createTestUser(t, s, 1)

	before := time.Now().UTC().Add(-time.Second)
	require.NoError(t, s.Touch(1))

	last, err := s.LastInteraction(1)
	require.NoError(t, err)
	assert.True(t, last.After(before))
}

func TestPatientRegistration(t *testing.T) {
	s := openTestStore(t)
	createTestUser(t, s, 1)

	_, registered, err := s.PatientInfo(1)
	require.NoError(t, err)
	assert.False(t, registered)

	p := Patient{Age: 34, Gender: "female", Allergies: "penicillin", MedicalHistory: "asthma"}
	require.NoError(t, s.SetPatient(1, p))

	got, registered, err := s.PatientInfo(1)
	require.NoError(t, err)
	assert.True(t, registered)
	assert.Equal(t, p, got)
}

func TestExportPromptCompletions_JSONL(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.InsertPromptCompletion("headache", "drink water"))
	require.NoError(t, s.InsertPromptCompletion(`with "quotes"`, "line\nbreak"))

	data, err := s.ExportPromptCompletions()
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"prompt":"headache","completion":"drink water"}`, lines[0])
	assert.JSONEq(t, `{"prompt":"with \"quotes\"","completion":"line\nbreak"}`, lines[1])
}
