// Team trivia party game.
//
// One team guesses each question while the other teams see the answer
// board and click answers to reveal them; every reveal scores points for
// the guessing team. Turns rotate round-robin until each team has had
// totalRounds turns.
//
// Features:
// - Single WebSocket endpoint at $path/ws; events carry the game code,
//   so one connection can create or join any game
// - 1 to 4 teams with custom names and colors, falling back to a fixed
//   palette
// - Questions pulled at random from a Postgres store, filtered by
//   difficulty labels chosen at game creation
// - Full-state snapshot broadcast to the whole room on every change
// - Players identified by an HMAC-signed cookie, re-joining players keep
//   their team
// - Random 8-char game codes via crypto/rand, with server-side collision
//   check
// - In-browser QR button to share the current game, backed by go-qrcode
// - Games optionally auto-reaped after a configurable idle timeout

package main

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// Cap on how long a room lock may be held waiting on the question store.
const questionTimeout = 5 * time.Second

// Messages coming from clients
type ClientMessage struct {
	Type         string   `json:"type"`                   // "create_game", "join_game", "start_game", "restart_game", "reveal_answer", "next_question"
	GameID       string   `json:"game_id,omitempty"`      // all but create_game
	NumTeams     int      `json:"num_teams,omitempty"`    // create_game
	TeamNames    []string `json:"team_names,omitempty"`   // create_game
	TeamColors   []string `json:"team_colors,omitempty"`  // create_game
	Difficulties []string `json:"difficulties,omitempty"` // create_game
	TotalRounds  int      `json:"total_rounds,omitempty"` // create_game
	AnswerIndex  *int     `json:"answer_index,omitempty"` // reveal_answer; pointer so index 0 survives decoding
}

// GameCreatedMessage goes to the creator only.
type GameCreatedMessage struct {
	Type      string    `json:"type"` // "game_created"
	GameID    string    `json:"game_id"`
	TeamIndex int       `json:"team_index"`
	State     GameState `json:"state"`
}

// JoinedGameMessage goes to the joining client only.
type JoinedGameMessage struct {
	Type      string    `json:"type"` // "joined_game"
	GameID    string    `json:"game_id"`
	TeamIndex int       `json:"team_index"`
	State     GameState `json:"state"`
}

// PlayerJoinedMessage tells the room about a new roster entry.
type PlayerJoinedMessage struct {
	Type      string         `json:"type"` // "player_joined"
	TeamIndex int            `json:"team_index"`
	TeamName  string         `json:"team_name"`
	Players   map[int]string `json:"players"` // occupied team index -> team name
}

// StateMessage carries a bare snapshot for "game_started",
// "question_loaded", and "game_over".
type StateMessage struct {
	Type  string    `json:"type"`
	State GameState `json:"state"`
}

// AnswerRevealedMessage announces one reveal and the points it scored.
type AnswerRevealedMessage struct {
	Type        string    `json:"type"` // "answer_revealed"
	AnswerIndex int       `json:"answer_index"`
	Points      int       `json:"points"`
	State       GameState `json:"state"`
}

// ErrorMessage goes to a single requester; errors are never broadcast.
type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

type Client struct {
	conn     *websocket.Conn
	send     chan any
	playerID string
	code     string // game this connection is currently in, readPump goroutine only

	mu     sync.Mutex
	closed bool
}

// trySend queues msg without blocking. A full buffer marks the client
// closed, so a stalled reader can never wedge a room broadcast.
func (c *Client) trySend(msg any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- msg:
		return true
	default:
		c.closed = true
		close(c.send)
		return false
	}
}

// shutdown closes the send channel exactly once and drops the socket.
func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)

	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// triviaServer routes connection events into room operations and
// rebroadcasts the resulting snapshots.
type triviaServer struct {
	cfg       *Config
	games     *GameManager
	questions QuestionProvider
}

func (srv *triviaServer) handleMessage(c *Client, msg ClientMessage) {
	switch msg.Type {
	case "create_game":
		srv.handleCreate(c, msg)
	case "join_game":
		srv.handleJoin(c, msg)
	case "start_game":
		srv.handleStart(c, msg)
	case "restart_game":
		srv.handleRestart(c, msg)
	case "reveal_answer":
		srv.handleReveal(c, msg)
	case "next_question":
		srv.handleAdvance(c, msg)
	default:
		// ignore unknown types
	}
}

// leaveRoom detaches the client from the room it is in, if any.
func (srv *triviaServer) leaveRoom(c *Client) {
	if c.code == "" {
		return
	}

	if rm, ok := srv.games.room(c.code); ok {
		rm.mu.Lock()
		delete(rm.clients, c)
		rm.mu.Unlock()
	}

	c.code = ""
}

func (srv *triviaServer) handleCreate(c *Client, msg ClientMessage) {
	rm, err := srv.games.create(msg.NumTeams, msg.TeamNames, msg.TeamColors, msg.Difficulties, msg.TotalRounds)
	if err != nil {
		c.trySend(ErrorMessage{
			Type:    "error",
			Message: err.Error(),
		})
		return
	}

	srv.leaveRoom(c)

	rm.mu.Lock()
	rm.lastActive = time.Now()
	rm.clients[c] = true

	team := rm.session.Assign(c.playerID)
	state := rm.session.Snapshot()

	rm.sendLocked(c, GameCreatedMessage{
		Type:      "game_created",
		GameID:    state.GameID,
		TeamIndex: team,
		State:     state,
	})
	rm.mu.Unlock()

	c.code = state.GameID

	logf(srv.cfg, "GAMES: Created game %s with %d teams", state.GameID, state.NumTeams)
}

func (srv *triviaServer) handleJoin(c *Client, msg ClientMessage) {
	rm, ok := srv.games.room(msg.GameID)
	if !ok {
		c.trySend(ErrorMessage{
			Type:    "error",
			Message: "Game not found",
		})
		return
	}

	srv.leaveRoom(c)

	rm.mu.Lock()
	rm.lastActive = time.Now()
	rm.clients[c] = true

	team := rm.session.Assign(c.playerID)
	state := rm.session.Snapshot()
	roster := rm.session.Roster()

	rm.sendLocked(c, JoinedGameMessage{
		Type:      "joined_game",
		GameID:    msg.GameID,
		TeamIndex: team,
		State:     state,
	})

	rm.broadcastLocked(PlayerJoinedMessage{
		Type:      "player_joined",
		TeamIndex: team,
		TeamName:  state.TeamNames[team],
		Players:   roster,
	})
	rm.mu.Unlock()

	c.code = msg.GameID

	logf(srv.cfg, "GAMES: Player joined %s as team %d", msg.GameID, team)
}

func (srv *triviaServer) handleStart(c *Client, msg ClientMessage) {
	rm, ok := srv.games.room(msg.GameID)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), questionTimeout)
	defer cancel()

	rm.mu.Lock()
	rm.lastActive = time.Now()

	err := rm.session.Start(ctx, srv.questions)
	state := rm.session.Snapshot()

	rm.broadcastLocked(StateMessage{
		Type:  "game_started",
		State: state,
	})
	rm.mu.Unlock()

	if err != nil {
		logf(srv.cfg, "GAMES: Loading question for %s failed: %v", msg.GameID, err)
	}

	logf(srv.cfg, "GAMES: Game %s started", msg.GameID)
}

func (srv *triviaServer) handleRestart(c *Client, msg ClientMessage) {
	rm, ok := srv.games.room(msg.GameID)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), questionTimeout)
	defer cancel()

	rm.mu.Lock()
	rm.lastActive = time.Now()

	err := rm.session.Restart(ctx, srv.questions)
	state := rm.session.Snapshot()

	rm.broadcastLocked(StateMessage{
		Type:  "game_started",
		State: state,
	})
	rm.mu.Unlock()

	if err != nil {
		logf(srv.cfg, "GAMES: Loading question for %s failed: %v", msg.GameID, err)
	}

	logf(srv.cfg, "GAMES: Game %s restarted", msg.GameID)
}

// handleReveal uncovers one answer and rebroadcasts the room state. A
// request without an answer_index is treated as index -1 and refused by
// the same out-of-range guard as any other bad index.
func (srv *triviaServer) handleReveal(c *Client, msg ClientMessage) {
	rm, ok := srv.games.room(msg.GameID)
	if !ok {
		return
	}

	index := -1
	if msg.AnswerIndex != nil {
		index = *msg.AnswerIndex
	}

	rm.mu.Lock()
	rm.lastActive = time.Now()

	team := rm.session.Team(c.playerID)

	points, revealed := rm.session.RevealAnswer(team, index)
	if !revealed {
		rm.mu.Unlock()
		return
	}

	state := rm.session.Snapshot()

	rm.broadcastLocked(AnswerRevealedMessage{
		Type:        "answer_revealed",
		AnswerIndex: index,
		Points:      points,
		State:       state,
	})
	rm.mu.Unlock()

	logf(srv.cfg, "GAMES: Answer %d revealed in %s for %d points", index, msg.GameID, points)
}

func (srv *triviaServer) handleAdvance(c *Client, msg ClientMessage) {
	rm, ok := srv.games.room(msg.GameID)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), questionTimeout)
	defer cancel()

	rm.mu.Lock()
	rm.lastActive = time.Now()

	team := rm.session.Team(c.playerID)

	over, accepted, err := rm.session.AdvanceTurn(ctx, team, srv.questions)
	if !accepted {
		rm.mu.Unlock()
		return
	}

	state := rm.session.Snapshot()

	eventType := "question_loaded"
	if over {
		eventType = "game_over"
	}

	rm.broadcastLocked(StateMessage{
		Type:  eventType,
		State: state,
	})
	rm.mu.Unlock()

	if err != nil {
		logf(srv.cfg, "GAMES: Loading question for %s failed: %v", msg.GameID, err)
	}

	if over {
		logf(srv.cfg, "GAMES: Game %s over", msg.GameID)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const playerCookieName = "trivia_id"

// cookieSigner signs player IDs so a forged cookie can't impersonate
// another connection's team mapping.
type cookieSigner struct {
	key []byte
}

func newCookieSigner(secret string) *cookieSigner {
	if secret != "" {
		return &cookieSigner{key: []byte(secret)}
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}
	return &cookieSigner{key: buf}
}

func (s *cookieSigner) sign(id string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(id))
	return id + "." + hex.EncodeToString(mac.Sum(nil))
}

func (s *cookieSigner) verify(value string) (string, bool) {
	id, sig, ok := strings.Cut(value, ".")
	if !ok {
		return "", false
	}

	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(id))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return "", false
	}
	return id, true
}

func getOrSetPlayerID(signer *cookieSigner, w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil && c.Value != "" {
		if id, ok := signer.verify(c.Value); ok {
			return id
		}
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		log.Println("rand.Read error:", err)
		return ""
	}
	id := hex.EncodeToString(buf)

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    signer.sign(id),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

// WebSocket handler; game codes arrive in the events themselves.
func serveWS(srv *triviaServer, signer *cookieSigner) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		playerID := getOrSetPlayerID(signer, w, r)
		if playerID == "" {
			http.Error(w, "unable to assign player id", http.StatusInternalServerError)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn:     conn,
			send:     make(chan any, 8),
			playerID: playerID,
		}

		go client.writePump()
		client.readPump(srv)
	}
}

func (c *Client) readPump(srv *triviaServer) {
	defer func() {
		srv.leaveRoom(c)
		c.shutdown()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		srv.handleMessage(c, msg)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code for the current game URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	gameID := ps.ByName("gameid")
	if gameID == "" {
		http.Error(w, "missing game id", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../:gameid/qr; strip trailing "/qr" to get the game URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// ---- Static file paths ----

//go:embed trivia/index.html
var indexHTML []byte

//go:embed trivia/app.css
var triviaCSS []byte

//go:embed trivia/app.js
var triviaJS []byte

func getIndexHandler(cfg *Config, signer *cookieSigner) func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_ = getOrSetPlayerID(signer, w, r)

		_, _ = w.Write(indexHTML)
	}
}

func getCssHandler(cfg *Config) func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/css; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(triviaCSS)
	}
}

func getJsHandler(cfg *Config) func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(triviaJS)
	}
}

// registerTriviaGame sets up routes so that:
//   - $path                    → landing page (create or join a game)
//   - $path/ws                 → WebSocket shared by all games
//   - $path/game/:gameid       → game board
//   - $path/game/:gameid/qr    → PNG QR code for that game URL
func registerTriviaGame(cfg *Config, path string, mux *httprouter.Router, questions QuestionProvider) {
	gm := newGameManager(cfg.sessionTimeout)
	signer := newCookieSigner(cfg.secret)

	srv := &triviaServer{
		cfg:       cfg,
		games:     gm,
		questions: questions,
	}

	// Landing page (create/join forms)
	mux.GET(cfg.prefix+path, getIndexHandler(cfg, signer))

	// Shared websocket (events carry the game code)
	mux.GET(cfg.prefix+path+"/ws", serveWS(srv, signer))

	// Per-game board view
	mux.GET(cfg.prefix+path+"/game/:gameid", getIndexHandler(cfg, signer))

	// Per-game QR code
	mux.GET(cfg.prefix+path+"/game/:gameid/qr", qrHandler)

	// Shared assets (no gameid in route)
	mux.GET(cfg.prefix+"/assets/trivia/app.css", getCssHandler(cfg))
	mux.GET(cfg.prefix+"/assets/trivia/app.js", getJsHandler(cfg))
}
