package main

import (
	"context"
	"errors"
	"fmt"
)

// ErrValidation is returned when a game is created with unusable settings.
var ErrValidation = errors.New("invalid game settings")

// Fallback palette, also used to pad short color lists so clients can
// always index colors 0..3.
var defaultTeamColors = [4]string{"#3498db", "#e74c3c", "#f39c12", "#27ae60"}

// GameSession holds all mutable state for one game room: teams, scores,
// the round-robin turn pointer, the active question, and which of its
// answers have been revealed.
//
// A session does no I/O and no locking of its own; the owning Room's
// mutex serializes every call.
type GameSession struct {
	code         string
	teamCount    int
	teamNames    []string
	teamColors   [4]string
	teamScores   [4]int
	totalRounds  int
	difficulties []string

	questionNum  int
	currentTeam  int
	questionText string
	answers      []Answer
	revealed     []int
	started      bool

	members map[string]int // player ID -> team index
}

func newGameSession(code string, teamCount int, teamNames, teamColors, difficulties []string, totalRounds int) (*GameSession, error) {
	if teamCount < 1 || teamCount > 4 {
		return nil, fmt.Errorf("%w: team count must be between 1 and 4, got %d", ErrValidation, teamCount)
	}

	if totalRounds < 1 {
		totalRounds = 5
	}

	names := make([]string, teamCount)
	for i := range names {
		if i < len(teamNames) && teamNames[i] != "" {
			names[i] = teamNames[i]
		} else {
			names[i] = fmt.Sprintf("Team %d", i+1)
		}
	}

	colors := defaultTeamColors
	for i := 0; i < teamCount && i < len(teamColors); i++ {
		if teamColors[i] != "" {
			colors[i] = teamColors[i]
		}
	}

	return &GameSession{
		code:         code,
		teamCount:    teamCount,
		teamNames:    names,
		teamColors:   colors,
		totalRounds:  totalRounds,
		difficulties: append([]string(nil), difficulties...),
		members:      make(map[string]int),
	}, nil
}

// Assign maps a player to a team and returns the team index. Players
// already mapped keep their team. New players get the lowest team index
// with no members yet; once every team has at least one member, further
// players all land on team 0.
func (g *GameSession) Assign(playerID string) int {
	if team, ok := g.members[playerID]; ok {
		return team
	}

	taken := make(map[int]bool, len(g.members))
	for _, t := range g.members {
		taken[t] = true
	}

	team := 0
	for i := 0; i < g.teamCount; i++ {
		if !taken[i] {
			team = i
			break
		}
	}

	g.members[playerID] = team

	return team
}

// Team returns the team a player was assigned to, defaulting to 0 for
// unknown players.
func (g *GameSession) Team(playerID string) int {
	if team, ok := g.members[playerID]; ok {
		return team
	}
	return 0
}

// Roster maps each team index with at least one member to its team name.
func (g *GameSession) Roster() map[int]string {
	roster := make(map[int]string)
	for _, team := range g.members {
		roster[team] = g.teamNames[team]
	}
	return roster
}

// Start begins the game and loads the first question.
func (g *GameSession) Start(ctx context.Context, questions QuestionProvider) error {
	g.started = true
	return g.loadNextQuestion(ctx, questions)
}

// Restart zeroes all scores and counters, keeps teams and settings, and
// loads a fresh first question.
func (g *GameSession) Restart(ctx context.Context, questions QuestionProvider) error {
	g.teamScores = [4]int{}
	g.questionNum = 0
	g.currentTeam = 0
	g.questionText = ""
	g.answers = nil
	g.revealed = nil
	g.started = true

	return g.loadNextQuestion(ctx, questions)
}

// totalQuestions is how many turns the whole game lasts: each team gets
// totalRounds turns.
func (g *GameSession) totalQuestions() int {
	return g.totalRounds * g.teamCount
}

// Over reports whether the turn counter has run past the last question.
func (g *GameSession) Over() bool {
	return g.questionNum > g.totalQuestions()
}

// loadNextQuestion advances the turn counter and pointer, then asks the
// provider for a question. The counter always moves, even when the fetch
// fails; in that case the previous question and its revealed set stay in
// place and the error is returned for the caller to log. Past the last
// turn no fetch is attempted at all.
func (g *GameSession) loadNextQuestion(ctx context.Context, questions QuestionProvider) error {
	g.questionNum++

	if g.Over() {
		return nil
	}

	g.currentTeam = (g.questionNum - 1) % g.teamCount

	if questions == nil {
		return ErrNoQuestion
	}

	q, err := questions.RandomQuestion(ctx, g.difficulties)
	if err != nil {
		return err
	}

	g.questionText = q.Text
	g.answers = q.Answers
	g.revealed = nil

	return nil
}

// guessing is the shared guard for reveal and advance: the team whose
// turn it is may do neither, only the other teams score and drive the
// game forward.
func (g *GameSession) guessing(team int) bool {
	return team == g.currentTeam
}

// RevealAnswer uncovers one answer of the active question and credits
// its points to the guessing team. It reports the points awarded and
// whether anything happened; the guessing team itself, duplicate
// indices, and indices outside the answer list are all silently refused.
func (g *GameSession) RevealAnswer(team, index int) (int, bool) {
	if g.guessing(team) {
		return 0, false
	}

	if index < 0 || index >= len(g.answers) {
		return 0, false
	}

	for _, r := range g.revealed {
		if r == index {
			return 0, false
		}
	}

	g.revealed = append(g.revealed, index)

	points := g.answers[index].Points
	g.teamScores[g.currentTeam] += points

	return points, true
}

// AdvanceTurn moves the game to the next question, guarded the same way
// as RevealAnswer. It reports whether the game is now over, whether the
// request was accepted, and any provider failure from the load.
func (g *GameSession) AdvanceTurn(ctx context.Context, team int, questions QuestionProvider) (over, ok bool, err error) {
	if g.guessing(team) {
		return false, false, nil
	}

	err = g.loadNextQuestion(ctx, questions)

	return g.Over(), true, err
}

// GameState is the full snapshot broadcast to every client after each
// state change. Field names match the browser client's expectations.
type GameState struct {
	GameID       string   `json:"game_id"`
	NumTeams     int      `json:"num_teams"`
	TeamNames    []string `json:"team_names"`
	TeamColors   []string `json:"team_colors"`
	TeamScores   []int    `json:"team_scores"`
	CurrentTeam  int      `json:"current_team"`
	QuestionNum  int      `json:"question_num"`
	TotalRounds  int      `json:"total_rounds"`
	QuestionText string   `json:"question_text"`
	Answers      []Answer `json:"answers"`
	Revealed     []int    `json:"revealed"`
	Started      bool     `json:"started"`
}

// Snapshot copies the session into a GameState safe to hand off for
// serialization after the room lock is released. Answer and reveal
// lists are always non-nil so they serialize as [] rather than null;
// clients iterate them unconditionally.
func (g *GameSession) Snapshot() GameState {
	colors := g.teamColors
	scores := g.teamScores

	return GameState{
		GameID:       g.code,
		NumTeams:     g.teamCount,
		TeamNames:    append([]string(nil), g.teamNames...),
		TeamColors:   colors[:],
		TeamScores:   scores[:],
		CurrentTeam:  g.currentTeam,
		QuestionNum:  g.questionNum,
		TotalRounds:  g.totalRounds,
		QuestionText: g.questionText,
		Answers:      append([]Answer{}, g.answers...),
		Revealed:     append([]int{}, g.revealed...),
		Started:      g.started,
	}
}
