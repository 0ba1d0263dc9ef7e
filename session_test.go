package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubQuestions struct {
	q     *Question
	err   error
	calls int
}

func (s *stubQuestions) RandomQuestion(_ context.Context, _ []string) (*Question, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.q, nil
}

func testQuestion() *Question {
	return &Question{
		Text: "Name a programming language",
		Answers: []Answer{
			{Text: "Go", Points: 40},
			{Text: "Python", Points: 30},
			{Text: "Rust", Points: 20},
			{Text: "COBOL", Points: 10},
		},
	}
}

func testSession(t *testing.T, teamCount, totalRounds int) *GameSession {
	t.Helper()

	g, err := newGameSession("abcd1234", teamCount, nil, nil, []string{"easy"}, totalRounds)
	require.NoError(t, err)

	return g
}

func TestNewGameSessionValidation(t *testing.T) {
	for _, teamCount := range []int{-1, 0, 5, 99} {
		t.Run(fmt.Sprintf("teams=%d", teamCount), func(t *testing.T) {
			_, err := newGameSession("abcd1234", teamCount, nil, nil, nil, 5)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestNewGameSessionColors(t *testing.T) {
	custom := []string{"#111111", "#222222", "#333333", "#444444"}

	for teamCount := 1; teamCount <= 4; teamCount++ {
		t.Run(fmt.Sprintf("teams=%d", teamCount), func(t *testing.T) {
			g, err := newGameSession("abcd1234", teamCount,
				[]string{"Red", "Blue", "Green", "Gold"}, custom, nil, 5)
			require.NoError(t, err)

			state := g.Snapshot()

			require.Len(t, state.TeamColors, 4)
			for i := 0; i < 4; i++ {
				if i < teamCount {
					assert.Equal(t, custom[i], state.TeamColors[i])
				} else {
					assert.Equal(t, defaultTeamColors[i], state.TeamColors[i])
				}
			}
		})
	}
}

func TestNewGameSessionNamePadding(t *testing.T) {
	g, err := newGameSession("abcd1234", 3, []string{"Quizzards"}, nil, nil, 5)
	require.NoError(t, err)

	state := g.Snapshot()

	require.Len(t, state.TeamNames, 3)
	assert.Equal(t, "Quizzards", state.TeamNames[0])
	assert.Equal(t, "Team 2", state.TeamNames[1])
	assert.Equal(t, "Team 3", state.TeamNames[2])
}

func TestNewGameSessionTruncatesExtraNames(t *testing.T) {
	g, err := newGameSession("abcd1234", 2, []string{"A", "B", "C", "D"}, nil, nil, 5)
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B"}, g.Snapshot().TeamNames)
}

func TestNewGameSessionDefaultRounds(t *testing.T) {
	g, err := newGameSession("abcd1234", 2, nil, nil, nil, 0)
	require.NoError(t, err)

	assert.Equal(t, 5, g.Snapshot().TotalRounds)
}

func TestCurrentTeamRotation(t *testing.T) {
	qs := &stubQuestions{q: testQuestion()}

	g := testSession(t, 3, 4)
	require.NoError(t, g.Start(context.Background(), qs))

	for i := 0; i < 10; i++ {
		state := g.Snapshot()
		if state.QuestionNum > state.TotalRounds*state.NumTeams {
			break
		}
		assert.Equal(t, (state.QuestionNum-1)%3, state.CurrentTeam)

		// Someone other than the guessing team advances.
		_, ok, err := g.AdvanceTurn(context.Background(), (state.CurrentTeam+1)%3, qs)
		require.True(t, ok)
		require.NoError(t, err)
	}
}

func TestRevealScoresGuessingTeam(t *testing.T) {
	qs := &stubQuestions{q: testQuestion()}

	g := testSession(t, 2, 5)
	require.NoError(t, g.Start(context.Background(), qs))
	require.Equal(t, 0, g.Snapshot().CurrentTeam)

	points, ok := g.RevealAnswer(1, 0)
	require.True(t, ok)
	assert.Equal(t, 40, points)

	state := g.Snapshot()
	assert.Equal(t, 40, state.TeamScores[0])
	assert.Equal(t, 0, state.TeamScores[1])
	assert.Equal(t, []int{0}, state.Revealed)
}

func TestRevealGuards(t *testing.T) {
	qs := &stubQuestions{q: testQuestion()}

	g := testSession(t, 2, 5)
	require.NoError(t, g.Start(context.Background(), qs))

	tests := []struct {
		name  string
		team  int
		index int
	}{
		{"guessing team may not self-reveal", 0, 0},
		{"negative index", 1, -1},
		{"index past answer list", 1, 4},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			before := g.Snapshot()

			points, ok := g.RevealAnswer(tc.team, tc.index)
			assert.False(t, ok)
			assert.Zero(t, points)

			after := g.Snapshot()
			assert.Equal(t, before.TeamScores, after.TeamScores)
			assert.Equal(t, before.Revealed, after.Revealed)
		})
	}
}

func TestDuplicateRevealScoresOnce(t *testing.T) {
	qs := &stubQuestions{q: testQuestion()}

	g := testSession(t, 2, 5)
	require.NoError(t, g.Start(context.Background(), qs))

	_, ok := g.RevealAnswer(1, 2)
	require.True(t, ok)

	_, ok = g.RevealAnswer(1, 2)
	assert.False(t, ok)

	state := g.Snapshot()
	assert.Equal(t, 20, state.TeamScores[0])
	assert.Equal(t, []int{2}, state.Revealed)
}

func TestAdvanceGuard(t *testing.T) {
	qs := &stubQuestions{q: testQuestion()}

	g := testSession(t, 2, 5)
	require.NoError(t, g.Start(context.Background(), qs))

	_, ok, err := g.AdvanceTurn(context.Background(), 0, qs)
	assert.False(t, ok)
	assert.NoError(t, err)
	assert.Equal(t, 1, g.Snapshot().QuestionNum)

	_, ok, err = g.AdvanceTurn(context.Background(), 1, qs)
	assert.True(t, ok)
	assert.NoError(t, err)
	assert.Equal(t, 2, g.Snapshot().QuestionNum)
}

func TestGameOverAfterAllRounds(t *testing.T) {
	qs := &stubQuestions{q: testQuestion()}

	// 2 teams, 1 round each: exactly 2 turns in the whole game.
	g := testSession(t, 2, 1)
	require.NoError(t, g.Start(context.Background(), qs))
	assert.Equal(t, 1, g.Snapshot().QuestionNum)

	over, ok, err := g.AdvanceTurn(context.Background(), 1, qs)
	require.True(t, ok)
	require.NoError(t, err)
	assert.False(t, over)
	assert.Equal(t, 2, g.Snapshot().QuestionNum)

	over, ok, err = g.AdvanceTurn(context.Background(), 0, qs)
	require.True(t, ok)
	require.NoError(t, err)
	assert.True(t, over)
	assert.Equal(t, 3, g.Snapshot().QuestionNum)
}

func TestNoLoadPastGameOver(t *testing.T) {
	qs := &stubQuestions{q: testQuestion()}

	g := testSession(t, 2, 1)
	require.NoError(t, g.Start(context.Background(), qs))

	for team := 1; ; team = 1 - team {
		over, ok, err := g.AdvanceTurn(context.Background(), team, qs)
		require.True(t, ok)
		require.NoError(t, err)
		if over {
			break
		}
	}

	callsAtGameOver := qs.calls
	lastState := g.Snapshot()

	over, ok, err := g.AdvanceTurn(context.Background(), 1, qs)
	require.True(t, ok)
	require.NoError(t, err)
	assert.True(t, over)

	// Counter still increases, but no fetch happens and the question
	// fields remain as last set.
	state := g.Snapshot()
	assert.Equal(t, lastState.QuestionNum+1, state.QuestionNum)
	assert.Equal(t, callsAtGameOver, qs.calls)
	assert.Equal(t, lastState.QuestionText, state.QuestionText)
	assert.Equal(t, lastState.Answers, state.Answers)
}

func TestRestartResets(t *testing.T) {
	qs := &stubQuestions{q: testQuestion()}

	g := testSession(t, 2, 5)
	require.NoError(t, g.Start(context.Background(), qs))

	_, ok := g.RevealAnswer(1, 0)
	require.True(t, ok)
	_, ok, err := g.AdvanceTurn(context.Background(), 1, qs)
	require.True(t, ok)
	require.NoError(t, err)

	require.NoError(t, g.Restart(context.Background(), qs))

	state := g.Snapshot()
	assert.Equal(t, []int{0, 0, 0, 0}, state.TeamScores)
	assert.Equal(t, 1, state.QuestionNum) // restart loads the first question
	assert.Equal(t, 0, state.CurrentTeam)
	assert.Empty(t, state.Revealed)
	assert.True(t, state.Started)
}

func TestProviderFailureStallsTurn(t *testing.T) {
	qs := &stubQuestions{q: testQuestion()}

	g := testSession(t, 2, 5)
	require.NoError(t, g.Start(context.Background(), qs))

	_, ok := g.RevealAnswer(1, 1)
	require.True(t, ok)

	before := g.Snapshot()

	qs.err = errors.New("connection refused")

	_, ok, err := g.AdvanceTurn(context.Background(), 1, qs)
	require.True(t, ok)
	assert.Error(t, err)

	// Turn counters advanced atomically with the failed load; the
	// question payload and its reveals are left as they were.
	state := g.Snapshot()
	assert.Equal(t, before.QuestionNum+1, state.QuestionNum)
	assert.Equal(t, 1, state.CurrentTeam)
	assert.Equal(t, before.QuestionText, state.QuestionText)
	assert.Equal(t, before.Answers, state.Answers)
	assert.Equal(t, before.Revealed, state.Revealed)
}

func TestNoProviderFailsOpen(t *testing.T) {
	g := testSession(t, 2, 5)

	err := g.Start(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoQuestion)

	state := g.Snapshot()
	assert.True(t, state.Started)
	assert.Equal(t, 1, state.QuestionNum)
	assert.Empty(t, state.QuestionText)
}

func TestRevealedResetOnNextQuestion(t *testing.T) {
	qs := &stubQuestions{q: testQuestion()}

	g := testSession(t, 2, 5)
	require.NoError(t, g.Start(context.Background(), qs))

	_, ok := g.RevealAnswer(1, 0)
	require.True(t, ok)
	_, ok = g.RevealAnswer(1, 3)
	require.True(t, ok)

	_, ok, err := g.AdvanceTurn(context.Background(), 1, qs)
	require.True(t, ok)
	require.NoError(t, err)

	assert.Empty(t, g.Snapshot().Revealed)
}

func TestSnapshotSerializesEmptyLists(t *testing.T) {
	qs := &stubQuestions{q: testQuestion()}

	g := testSession(t, 2, 5)
	require.NoError(t, g.Start(context.Background(), qs))

	// A fresh question has no reveals yet; clients iterate the list
	// unconditionally, so it must serialize as [], never null.
	data, err := json.Marshal(g.Snapshot())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"revealed":[]`)
	assert.NotContains(t, string(data), "null")

	// Same for answers when no question could be loaded at all.
	g = testSession(t, 2, 5)
	require.ErrorIs(t, g.Start(context.Background(), nil), ErrNoQuestion)

	data, err = json.Marshal(g.Snapshot())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"answers":[]`)
	assert.NotContains(t, string(data), "null")
}

func TestAssign(t *testing.T) {
	g := testSession(t, 2, 5)

	assert.Equal(t, 0, g.Assign("alice"))
	assert.Equal(t, 1, g.Assign("bob"))

	// All teams occupied: everyone else lands on team 0.
	assert.Equal(t, 0, g.Assign("carol"))
	assert.Equal(t, 0, g.Assign("dave"))

	// Existing players keep their team.
	assert.Equal(t, 1, g.Assign("bob"))
	assert.Equal(t, 0, g.Assign("alice"))
}

func TestAssignFillsLowestFreeTeam(t *testing.T) {
	g := testSession(t, 4, 5)

	g.members["alice"] = 0
	g.members["carol"] = 2

	assert.Equal(t, 1, g.Assign("bob"))
	assert.Equal(t, 3, g.Assign("dave"))
}

func TestTeamDefaultsToZero(t *testing.T) {
	g := testSession(t, 2, 5)

	assert.Equal(t, 0, g.Team("nobody"))
}

func TestRoster(t *testing.T) {
	g, err := newGameSession("abcd1234", 3, []string{"Red", "Blue", "Green"}, nil, nil, 5)
	require.NoError(t, err)

	g.Assign("alice")
	g.Assign("bob")

	assert.Equal(t, map[int]string{0: "Red", 1: "Blue"}, g.Roster())
}
