package evocore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTrivia(t testing.TB) (*TriviaManager, *Leveling, DBI) {
	t.Helper()
	writeDB, _ := newTestDatabase(t)
	cfg := DefaultTestConfig(t)
	leveling := NewLeveling(writeDB, cfg.Leveling, nil)
	return NewTriviaManager(writeDB, leveling, cfg.Trivia, nil), leveling, writeDB
}

func TestAddQuestionValidation(t *testing.T) {
	t.Parallel()
	trivia, _, _ := newTestTrivia(t)
	ctx := context.Background()

	_, err := trivia.AddQuestion(ctx, "q?", []string{"only one"}, 0, "mod")
	require.Error(t, err)

	_, err = trivia.AddQuestion(ctx, "q?", []string{"a", "b"}, 2, "mod")
	require.Error(t, err)

	q, err := trivia.AddQuestion(ctx, "q?", []string{"a", "b", "c"}, 1, "mod")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, q.Options())
	assert.Equal(t, 1, q.CorrectIndex)
}

func TestStartRoundEmptyPool(t *testing.T) {
	t.Parallel()
	trivia, _, _ := newTestTrivia(t)

	_, _, err := trivia.StartRound(context.Background(), "g", "c", "u")
	require.ErrorIs(t, err, ErrNoTriviaQuestions)
}

func TestTriviaRoundLifecycle(t *testing.T) {
	t.Parallel()
	trivia, _, db := newTestTrivia(t)
	ctx := context.Background()

	_, err := trivia.AddQuestion(
		ctx,
		"What is the capital of France?",
		[]string{"Paris", "Lyon"},
		0,
		"mod",
	)
	require.NoError(t, err)

	round, question, err := trivia.StartRound(ctx, "guild1", "channel1", "starter")
	require.NoError(t, err)
	require.NotEmpty(t, round.RoundID)
	assert.Equal(t, question.ID, round.QuestionID)

	winner := createTestUser(t, db, "winner")
	loser := createTestUser(t, db, "loser")
	latecomer := createTestUser(t, db, "latecomer")

	// a wrong answer reports incorrect and doesn't close the round
	outcome, err := trivia.Answer(ctx, round.RoundID, loser, 1)
	require.NoError(t, err)
	assert.False(t, outcome.Correct)
	assert.False(t, outcome.Won)

	// the first correct answer wins and is rewarded
	outcome, err = trivia.Answer(ctx, round.RoundID, winner, 0)
	require.NoError(t, err)
	assert.True(t, outcome.Correct)
	assert.True(t, outcome.Won)
	assert.Equal(t, trivia.config.RewardXP, outcome.RewardXP)
	assert.Equal(t, int64(trivia.config.RewardXP), winner.XP)

	// a later correct answer is correct but not a win
	outcome, err = trivia.Answer(ctx, round.RoundID, latecomer, 0)
	require.NoError(t, err)
	assert.True(t, outcome.Correct)
	assert.False(t, outcome.Won)
	assert.Zero(t, latecomer.XP)

	var stored TriviaRound
	require.NoError(
		t,
		db.DB().Where("round_id = ?", round.RoundID).First(&stored).Error,
	)
	assert.Equal(t, winner.ID, stored.WinnerUserID.String())
	assert.NotZero(t, stored.WonAt)
}

func TestTriviaWinCountsInUserStats(t *testing.T) {
	t.Parallel()
	trivia, _, db := newTestTrivia(t)
	ctx := context.Background()

	_, err := trivia.AddQuestion(ctx, "2+2?", []string{"4", "5"}, 0, "mod")
	require.NoError(t, err)

	winner := createTestUser(t, db, "winner")

	for n := 0; n < 2; n++ {
		round, _, roundErr := trivia.StartRound(ctx, "g", "c", "starter")
		require.NoError(t, roundErr)
		_, err = trivia.Answer(ctx, round.RoundID, winner, 0)
		require.NoError(t, err)
	}

	stats, err := winner.getUserStats(ctx, db.DB())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TriviaWins)
}
