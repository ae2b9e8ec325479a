package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/Korivash/Evocore-sub000/evocore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestInitCommand(t *testing.T) {
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "test.db")

	os.Setenv("EVO_DATABASE_TYPE", "sqlite")
	os.Setenv("EVO_DATABASE", dbPath)
	t.Cleanup(
		func() {
			os.Unsetenv("EVO_DATABASE_TYPE")
			os.Unsetenv("EVO_DATABASE")
		},
	)

	questionsFile := filepath.Join(tempDir, "questions.json")
	questionsJSON := `[
  {
    "question": "Which of these is a tank specialization?",
    "options": ["Protection", "Marksmanship", "Restoration"],
    "answer": 0
  },
  {
    "question": "What does RSVP stand for?",
    "options": ["Reply expected", "Random string"],
    "answer": 0
  }
]`
	require.NoError(t, os.WriteFile(questionsFile, []byte(questionsJSON), 0644))

	currentOut := rootCmd.OutOrStdout()
	currentErr := rootCmd.OutOrStderr()
	t.Cleanup(
		func() {
			rootCmd.SetOut(currentOut)
			rootCmd.SetErr(currentErr)
		},
	)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)

	rootCmd.SetArgs([]string{"init", "--trivia-questions", questionsFile})
	err := rootCmd.Execute()
	require.NoError(t, err)

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "Database file should exist")

	output := out.String()
	t.Logf("output: %s", output)
	assert.Contains(t, output, "Database initialized.")
	assert.Contains(t, output, "Seeded 2 trivia question(s).")

	// Verify the database contents
	db, err := gorm.Open(sqlite.Open(dbPath))
	require.NoError(t, err)

	t.Cleanup(
		func() {
			sqlDB, _ := db.DB()
			if sqlDB != nil {
				_ = sqlDB.Close()
			}
		},
	)

	mg := db.Migrator()
	assert.True(t, mg.HasTable(&evocore.User{}))
	assert.True(t, mg.HasTable(&evocore.GuildEvent{}))
	assert.True(t, mg.HasTable(&evocore.EventParticipant{}))
	assert.True(t, mg.HasTable(&evocore.ModerationAction{}))
	assert.True(t, mg.HasTable(&evocore.TriviaQuestion{}))
	assert.True(t, mg.HasTable(&evocore.TriviaRound{}))
	assert.True(t, mg.HasTable(&evocore.InteractionLog{}))

	var questions []evocore.TriviaQuestion
	require.NoError(t, db.Find(&questions).Error)
	require.Len(t, questions, 2)

	assert.Equal(
		t,
		[]string{"Protection", "Marksmanship", "Restoration"},
		questions[0].Options(),
	)
}
