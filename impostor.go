// Impostor Word Game
//
// Players gather in a four-letter room. The host provides a secret word and
// a category, and chooses how many impostors to hide among the players. The
// server deals out roles in secret: citizens learn the word, impostors only
// get the category and an optional hint. Everyone takes turns describing the
// word, then the host opens voting and the group eliminates suspects until
// either every impostor is gone or the impostors reach parity.
//
// Features:
// - WebSockets on a single endpoint: /path/ws, rooms addressed by code
// - Random 4-letter room codes via crypto/rand, with server-side collision check
// - Room creator becomes host; host authority for start/vote/reset
// - Host succession to the earliest-joined player when the host leaves
// - Disconnected players keep their seat for a grace period and can rejoin
//   by name, preserving their secret role mid-game
// - Duplicate player names prevented per room (case-insensitive)
// - Rejected operations reported only to the offending client
// - Rooms auto-reaped after a configurable idle timeout
// - In-browser QR button to share the current room, backed by go-qrcode

package main

import (
	"crypto/rand"
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

// Messages coming from clients
type ClientMessage struct {
	Type          string `json:"type"`                     // "create_room", "join_room", "rejoin_room", "leave_room", "start_game", "start_voting", "cast_vote", "reset_game", "send_chat"
	Code          string `json:"code,omitempty"`           // room code, all message types except create_room
	Name          string `json:"name,omitempty"`           // create_room / join_room / rejoin_room / send_chat
	Message       string `json:"message,omitempty"`        // send_chat
	TargetID      string `json:"target_id,omitempty"`      // cast_vote
	Word          string `json:"word,omitempty"`           // start_game
	Category      string `json:"category,omitempty"`       // start_game
	ImpostorHint  string `json:"impostor_hint,omitempty"`  // start_game
	ImpostorCount int    `json:"impostor_count,omitempty"` // start_game
}

// PlayerInfo is the public view of a player, safe to broadcast.
type PlayerInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	IsDead bool   `json:"is_dead"`
}

// RolePayload is a player's private role data. It is only ever delivered to
// the owning connection, never broadcast.
type RolePayload struct {
	Role           string `json:"role"` // "impostor" or "citizen"
	Word           string `json:"word,omitempty"`
	Category       string `json:"category"`
	ImpostorHint   string `json:"impostor_hint,omitempty"`
	StartingPlayer string `json:"starting_player"`
}

// Messages sent to clients
type RoomCreatedMessage struct {
	Type     string       `json:"type"` // "room_created"
	Code     string       `json:"code"`
	PlayerID string       `json:"player_id"`
	Players  []PlayerInfo `json:"players"`
	HostID   string       `json:"host_id"`
}

type JoinSuccessMessage struct {
	Type     string       `json:"type"` // "join_success"
	Code     string       `json:"code"`
	PlayerID string       `json:"player_id"`
	Players  []PlayerInfo `json:"players"`
	HostID   string       `json:"host_id"`
}

// Sent to a single client when an operation is rejected
type ErrorMessage struct {
	Type    string `json:"type"`    // "error_message"
	Reason  string `json:"reason"`  // machine-readable reason
	Message string `json:"message"` // user-facing text
}

type UpdatePlayersMessage struct {
	Type    string       `json:"type"` // "update_players"
	Players []PlayerInfo `json:"players"`
	HostID  string       `json:"host_id"`
}

type GameStartedMessage struct {
	Type     string      `json:"type"` // "game_started"
	RoleData RolePayload `json:"role_data"`
}

type GameResetMessage struct {
	Type    string       `json:"type"` // "game_reset"
	Players []PlayerInfo `json:"players"`
}

type VotingStartedMessage struct {
	Type       string       `json:"type"` // "voting_phase_started"
	Candidates []PlayerInfo `json:"candidates"`
}

type PlayerEliminatedMessage struct {
	Type         string `json:"type"` // "player_eliminated"
	EliminatedID string `json:"eliminated_id"`
	Name         string `json:"name"`
	IsYou        bool   `json:"is_you"`
	WasImpostor  bool   `json:"was_impostor"`
}

type GameOverMessage struct {
	Type          string   `json:"type"`   // "game_over"
	Winner        string   `json:"winner"` // "citizen" or "impostor"
	Reason        string   `json:"reason"`
	ImpostorNames []string `json:"impostor_names"`
}

type NextRoundMessage struct {
	Type           string `json:"type"` // "next_round"
	StartingPlayer string `json:"starting_player"`
}

type ChatMessage struct {
	Type    string `json:"type"` // "receive_chat"
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Rejection reasons surfaced in ErrorMessage.Reason
const (
	reasonRoomNotFound   = "room_not_found"
	reasonGameInProgress = "game_in_progress"
	reasonRoomFull       = "room_full"
	reasonNameTaken      = "name_taken"
	reasonInvalidInput   = "invalid_input"
	reasonUnauthorized   = "unauthorized"
	reasonRecoveryFailed = "recovery_failed"
)

type Client struct {
	conn *websocket.Conn
	send chan any
	id   string
}

// trySend queues a message for the client without blocking. Slow clients
// simply miss the message; the room-level broadcast path handles eviction.
func (c *Client) trySend(msg any) {
	select {
	case c.send <- msg:
	default:
	}
}

func sendError(c *Client, reason, text string) {
	c.trySend(ErrorMessage{
		Type:    "error_message",
		Reason:  reason,
		Message: text,
	})
}

// newConnectionID generates the volatile per-connection identity. A player
// who reconnects gets a fresh one; rejoining matches on name instead.
func newConnectionID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}
	return hex.EncodeToString(buf)
}

// GameManager owns the set of rooms keyed by room code, plus the reverse
// index from connection identity to room code, so disconnects never scan
// every room.
type GameManager struct {
	cfg *Config

	mu       sync.Mutex
	rooms    map[string]*Room
	byPlayer map[string]string // connection id -> room code

	evictions *evictionTable
}

func newGameManager(cfg *Config) *GameManager {
	gm := &GameManager{
		cfg:       cfg,
		rooms:     make(map[string]*Room),
		byPlayer:  make(map[string]string),
		evictions: newEvictionTable(),
	}
	if cfg.sessionTimeout > 0 {
		go gm.reaperLoop()
	}
	return gm
}

const (
	roomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	roomCodeLength   = 4
)

// newRoomCodeLocked generates a crypto-random room code and ensures it
// doesn't collide with a live room. Assumes gm.mu is held.
func (gm *GameManager) newRoomCodeLocked() string {
	for {
		buf := make([]byte, roomCodeLength)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, roomCodeLength)
		for i := range out {
			out[i] = roomCodeAlphabet[int(buf[i])%len(roomCodeAlphabet)]
		}
		code := string(out)

		if _, exists := gm.rooms[code]; !exists {
			return code
		}
	}
}

func (gm *GameManager) lookup(code string) (*Room, bool) {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	room, ok := gm.rooms[strings.ToUpper(strings.TrimSpace(code))]
	return room, ok
}

func (gm *GameManager) roomFor(c *Client) (*Room, bool) {
	gm.mu.Lock()
	code, ok := gm.byPlayer[c.id]
	if !ok {
		gm.mu.Unlock()
		return nil, false
	}
	room, ok := gm.rooms[code]
	gm.mu.Unlock()
	return room, ok
}

func (gm *GameManager) handleCreateRoom(c *Client, msg ClientMessage) {
	name := strings.TrimSpace(msg.Name)
	if name == "" {
		sendError(c, reasonInvalidInput, "Please enter a name before creating a room.")
		return
	}

	// A connection switching rooms abandons its old seat first.
	gm.leaveCurrentRoom(c)

	gm.mu.Lock()
	code := gm.newRoomCodeLocked()
	room := newRoom(code, gm.cfg)
	gm.rooms[code] = room
	gm.byPlayer[c.id] = code
	gm.mu.Unlock()

	room.addHost(c, name)

	logf(gm.cfg, "GAMES: Player %q created room %s", name, code)
}

func (gm *GameManager) handleJoinRoom(c *Client, msg ClientMessage) {
	name := strings.TrimSpace(msg.Name)
	if name == "" {
		sendError(c, reasonInvalidInput, "Please enter a name before joining a room.")
		return
	}

	room, ok := gm.lookup(msg.Code)
	if !ok {
		sendError(c, reasonRoomNotFound, "That room does not exist.")
		return
	}

	gm.leaveCurrentRoom(c)

	if err := room.join(c, name, gm.cfg.maxPlayers); err != nil {
		return
	}

	gm.mu.Lock()
	gm.byPlayer[c.id] = room.code
	gm.mu.Unlock()

	logf(gm.cfg, "GAMES: Player %q joined room %s", name, room.code)
}

func (gm *GameManager) handleRejoinRoom(c *Client, msg ClientMessage) {
	name := strings.TrimSpace(msg.Name)
	if name == "" {
		sendError(c, reasonInvalidInput, "Please enter a name before rejoining a room.")
		return
	}

	room, ok := gm.lookup(msg.Code)
	if !ok {
		sendError(c, reasonRoomNotFound, "That room does not exist.")
		return
	}

	// A connection still seated elsewhere abandons that seat first, the
	// same as the create and join paths. Otherwise its old room would keep
	// a ghost seat and a closed send channel in its broadcast set.
	gm.leaveCurrentRoom(c)

	oldID, err := room.rejoin(c, name)
	if err != nil {
		return
	}

	// Cancel-wins: a pending eviction for the stale identity is dropped. If
	// the timer already fired, the identity rewrite above made its removal a
	// no-op, so at most one outcome happens either way.
	gm.evictions.cancel(oldID)

	gm.mu.Lock()
	delete(gm.byPlayer, oldID)
	gm.byPlayer[c.id] = room.code
	gm.mu.Unlock()

	logf(gm.cfg, "GAMES: Player %q reclaimed their seat in room %s", name, room.code)
}

func (gm *GameManager) handleLeaveRoom(c *Client, msg ClientMessage) {
	gm.leaveCurrentRoom(c)
}

// leaveCurrentRoom removes the connection's player immediately, with no
// grace period, deleting the room if it empties.
func (gm *GameManager) leaveCurrentRoom(c *Client) {
	room, ok := gm.roomFor(c)
	if !ok {
		return
	}

	empty, removed := room.removeByID(c.id)

	gm.mu.Lock()
	delete(gm.byPlayer, c.id)
	if empty {
		delete(gm.rooms, room.code)
	}
	gm.mu.Unlock()

	if removed {
		logf(gm.cfg, "GAMES: Player left room %s", room.code)
	}
	if empty {
		logf(gm.cfg, "GAMES: Deleted empty room %s", room.code)
	}
}

// handleDisconnect is the transport's disconnect signal. The seat is held
// for the grace period keyed by the identity at disconnect time; only if no
// rejoin claims it does the removal run.
func (gm *GameManager) handleDisconnect(c *Client) {
	room, ok := gm.roomFor(c)
	if !ok {
		return
	}

	room.detach(c)

	id := c.id
	gm.evictions.schedule(id, gm.cfg.gracePeriod, func() {
		gm.evictPlayer(id)
	})

	logf(gm.cfg, "GAMES: Holding seat in room %s for %s", room.code, gm.cfg.gracePeriod)
}

// evictPlayer runs the leave logic for a stale identity once its grace
// period elapses without a rejoin.
func (gm *GameManager) evictPlayer(id string) {
	gm.mu.Lock()
	code, ok := gm.byPlayer[id]
	if !ok {
		gm.mu.Unlock()
		return
	}
	room, ok := gm.rooms[code]
	if !ok {
		delete(gm.byPlayer, id)
		gm.mu.Unlock()
		return
	}
	gm.mu.Unlock()

	empty, removed := room.removeByID(id)

	gm.mu.Lock()
	delete(gm.byPlayer, id)
	if empty {
		delete(gm.rooms, room.code)
	}
	gm.mu.Unlock()

	if removed {
		logf(gm.cfg, "GAMES: Evicted disconnected player from room %s", room.code)
	}
	if empty {
		logf(gm.cfg, "GAMES: Deleted empty room %s", room.code)
	}
}

// reaperLoop periodically removes rooms that have been idle longer than the
// configured session timeout.
func (gm *GameManager) reaperLoop() {
	ticker := time.NewTicker(gm.cfg.sessionTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-gm.cfg.sessionTimeout)

		gm.mu.Lock()
		stale := make([]*Room, 0)
		for code, room := range gm.rooms {
			if room.idleSince().Before(cutoff) {
				delete(gm.rooms, code)
				stale = append(stale, room)
			}
		}
		gm.mu.Unlock()

		for _, room := range stale {
			for _, id := range room.playerIDs() {
				gm.evictions.cancel(id)
				gm.mu.Lock()
				delete(gm.byPlayer, id)
				gm.mu.Unlock()
			}
			room.closeAll()
			logf(gm.cfg, "GAMES: Reaped idle room %s", room.code)
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// serveWSForManager upgrades the connection, assigns it a fresh identity,
// and pumps messages between the socket and the manager.
func serveWSForManager(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn: conn,
			send: make(chan any, 16),
			id:   newConnectionID(),
		}

		go client.writePump()
		client.readPump(gm)
	}
}

func (c *Client) readPump(gm *GameManager) {
	defer func() {
		gm.handleDisconnect(c)
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "create_room":
			gm.handleCreateRoom(c, msg)
		case "join_room":
			gm.handleJoinRoom(c, msg)
		case "rejoin_room":
			gm.handleRejoinRoom(c, msg)
		case "leave_room":
			gm.handleLeaveRoom(c, msg)
		case "start_game":
			if room, ok := gm.lookup(msg.Code); ok {
				room.startGame(c, msg)
			}
		case "start_voting":
			if room, ok := gm.lookup(msg.Code); ok {
				room.startVoting(c)
			}
		case "cast_vote":
			if room, ok := gm.lookup(msg.Code); ok {
				room.castVote(c.id, msg.TargetID)
			}
		case "reset_game":
			if room, ok := gm.lookup(msg.Code); ok {
				room.resetGame(c)
			}
		case "send_chat":
			if room, ok := gm.roomFor(c); ok {
				room.chat(c.id, msg.Message)
			}
		default:
			// ignore unknown types
		}
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

// QR handler: generates a PNG QR code for a room join URL using go-qrcode.
func qrHandler(cfg *Config, path string) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		code := strings.ToUpper(strings.TrimSpace(ps.ByName("code")))
		if code == "" {
			http.Error(w, "missing room code", http.StatusBadRequest)
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

		url := scheme + "://" + r.Host + cfg.prefix + path + "?room=" + code

		const qrSize = 320 // mobile-friendly size
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	}
}

func getIndexHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		data, err := assets.ReadFile("assets/impostor/index.html")
		if err != nil {
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(data)
	}
}

// registerImpostorGame sets up routes so that:
//   - $path            → HTML client (reads ?room= to prefill a join)
//   - $path/ws         → WebSocket shared by all rooms
//   - $path/qr/:code   → PNG QR code linking to a room join URL
func registerImpostorGame(cfg *Config, path string, mux *httprouter.Router, errs chan<- error) {
	gm := newGameManager(cfg)

	mux.GET(cfg.prefix+path, getIndexHandler(cfg))

	// Shared assets (no room code in route)
	mux.GET(cfg.prefix+"/assets/impostor/app.css", serveAssets(cfg, errs))
	mux.GET(cfg.prefix+"/assets/impostor/app.js", serveAssets(cfg, errs))

	mux.GET(cfg.prefix+path+"/ws", serveWSForManager(cfg, gm))

	mux.GET(cfg.prefix+path+"/qr/:code", qrHandler(cfg, path))
}
