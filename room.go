package main

import (
	"strings"
	"sync"
	"time"
)

type Phase int

const (
	phaseLobby Phase = iota
	phasePlaying
	phaseVoting
)

func (p Phase) String() string {
	switch p {
	case phasePlaying:
		return "playing"
	case phaseVoting:
		return "voting"
	default:
		return "lobby"
	}
}

// Player holds the data we store server-side. ID is the volatile connection
// identity; Name is the stable key used for rejoin matching.
type Player struct {
	ID     string
	Name   string
	IsDead bool
	Role   *RolePayload // nil while in lobby
}

// Room is one isolated game session. All state is read-modify-written under
// mu; unrelated rooms share nothing and proceed in parallel.
type Room struct {
	code string
	cfg  *Config

	mu       sync.RWMutex
	phase    Phase
	gameOver bool // terminal; set at game over, cleared by the lobby reset
	hostID   string
	players  []*Player
	votes    map[string]string // voter id -> target id, only during voting
	clients  map[*Client]bool

	createdAt  time.Time
	lastActive time.Time
}

func newRoom(code string, cfg *Config) *Room {
	now := time.Now()
	return &Room{
		code:       code,
		cfg:        cfg,
		phase:      phaseLobby,
		votes:      make(map[string]string),
		clients:    make(map[*Client]bool),
		createdAt:  now,
		lastActive: now,
	}
}

func (r *Room) touchLocked() {
	r.lastActive = time.Now()
}

func (r *Room) idleSince() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastActive
}

func (r *Room) playerIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.players))
	for _, p := range r.players {
		ids = append(ids, p.ID)
	}
	return ids
}

func (r *Room) playerByIDLocked(id string) *Player {
	for _, p := range r.players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (r *Room) rosterLocked() []PlayerInfo {
	roster := make([]PlayerInfo, 0, len(r.players))
	for _, p := range r.players {
		roster = append(roster, PlayerInfo{
			ID:     p.ID,
			Name:   p.Name,
			IsDead: p.IsDead,
		})
	}
	return roster
}

func (r *Room) livingLocked() []*Player {
	living := make([]*Player, 0, len(r.players))
	for _, p := range r.players {
		if !p.IsDead {
			living = append(living, p)
		}
	}
	return living
}

func (r *Room) sendLocked(c *Client, msg any) {
	select {
	case c.send <- msg:
	default:
		delete(r.clients, c)
		close(c.send)
	}
}

func (r *Room) sendToIDLocked(id string, msg any) {
	for client := range r.clients {
		if client.id == id {
			r.sendLocked(client, msg)
			return
		}
	}
}

func (r *Room) broadcastLocked(msg any) {
	for client := range r.clients {
		r.sendLocked(client, msg)
	}
}

func (r *Room) broadcastRosterLocked() {
	r.broadcastLocked(UpdatePlayersMessage{
		Type:    "update_players",
		Players: r.rosterLocked(),
		HostID:  r.hostID,
	})
}

// addHost seats the room's creator. Only ever called once, right after the
// room is inserted into the store.
func (r *Room) addHost(c *Client, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.touchLocked()

	r.players = append(r.players, &Player{ID: c.id, Name: name})
	r.hostID = c.id
	r.clients[c] = true

	r.sendLocked(c, RoomCreatedMessage{
		Type:     "room_created",
		Code:     r.code,
		PlayerID: c.id,
		Players:  r.rosterLocked(),
		HostID:   r.hostID,
	})
}

// join validates then seats a new player. The room is left unchanged on any
// rejection, and the rejection is reported only to the joiner.
func (r *Room) join(c *Client, name string, maxPlayers int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.touchLocked()

	if r.phase != phaseLobby {
		r.sendLocked(c, ErrorMessage{
			Type:    "error_message",
			Reason:  reasonGameInProgress,
			Message: "A game is already in progress in that room.",
		})
		return errGameInProgress
	}

	if len(r.players) >= maxPlayers {
		r.sendLocked(c, ErrorMessage{
			Type:    "error_message",
			Reason:  reasonRoomFull,
			Message: "That room is full.",
		})
		return errRoomFull
	}

	for _, p := range r.players {
		if strings.EqualFold(p.Name, name) {
			r.sendLocked(c, ErrorMessage{
				Type:    "error_message",
				Reason:  reasonNameTaken,
				Message: "That name is already taken. Please choose a different name.",
			})
			return errNameTaken
		}
	}

	r.players = append(r.players, &Player{ID: c.id, Name: name})
	r.clients[c] = true

	r.sendLocked(c, JoinSuccessMessage{
		Type:     "join_success",
		Code:     r.code,
		PlayerID: c.id,
		Players:  r.rosterLocked(),
		HostID:   r.hostID,
	})
	r.broadcastRosterLocked()

	return nil
}

// rejoin reclaims a seat by stable name, rewriting the player's identity to
// the new connection. Mid-game, the preserved role payload is redelivered to
// the new connection only.
func (r *Room) rejoin(c *Client, name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.touchLocked()

	var player *Player
	for _, p := range r.players {
		if strings.EqualFold(p.Name, name) {
			player = p
			break
		}
	}
	if player == nil {
		r.sendLocked(c, ErrorMessage{
			Type:    "error_message",
			Reason:  reasonRecoveryFailed,
			Message: "No seat is being held under that name.",
		})
		return "", errRecoveryFailed
	}

	// A seat with a live connection cannot be reclaimed out from under it.
	for client := range r.clients {
		if client.id == player.ID {
			r.sendLocked(c, ErrorMessage{
				Type:    "error_message",
				Reason:  reasonRecoveryFailed,
				Message: "That seat is still occupied.",
			})
			return "", errRecoveryFailed
		}
	}

	oldID := player.ID
	player.ID = c.id

	if r.hostID == oldID {
		r.hostID = c.id
	}

	// Keep any in-flight votes consistent with the rewritten identity.
	if target, ok := r.votes[oldID]; ok {
		delete(r.votes, oldID)
		r.votes[c.id] = target
	}
	for voter, target := range r.votes {
		if target == oldID {
			r.votes[voter] = c.id
		}
	}

	r.clients[c] = true

	if r.phase != phaseLobby && player.Role != nil {
		r.sendLocked(c, GameStartedMessage{
			Type:     "game_started",
			RoleData: *player.Role,
		})
	} else {
		r.sendLocked(c, JoinSuccessMessage{
			Type:     "join_success",
			Code:     r.code,
			PlayerID: c.id,
			Players:  r.rosterLocked(),
			HostID:   r.hostID,
		})
	}
	r.broadcastRosterLocked()

	return oldID, nil
}

// detach drops a dead connection from the broadcast set without touching the
// roster; the grace scheduler decides whether the seat is eventually freed.
func (r *Room) detach(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.touchLocked()

	if _, ok := r.clients[c]; ok {
		delete(r.clients, c)
		close(c.send)
	}
}

func (r *Room) removeClientByIDLocked(id string) {
	for client := range r.clients {
		if client.id == id {
			delete(r.clients, client)
			return
		}
	}
}

// removeByID is the shared removal path for explicit leaves and grace-period
// evictions. Reports whether the room emptied and whether anything changed.
// An emptied room is deleted by the caller, never broadcast to.
func (r *Room) removeByID(id string) (empty bool, removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.touchLocked()

	idx := -1
	for i, p := range r.players {
		if p.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return len(r.players) == 0, false
	}

	r.players = append(r.players[:idx], r.players[idx+1:]...)
	r.removeClientByIDLocked(id)

	if len(r.players) == 0 {
		return true, true
	}

	if r.hostID == id {
		r.hostID = r.players[0].ID
	}

	if r.phase == phaseVoting {
		delete(r.votes, id)
		for voter, target := range r.votes {
			if target == id {
				delete(r.votes, voter)
			}
		}
	}

	r.broadcastRosterLocked()

	// A departure mid-vote can be the last ballot the round was waiting on.
	r.maybeCloseVotingLocked()

	return false, true
}

// chat relays a message to the whole room, best-effort, any phase. The
// sender must hold a seat; the roster name is used, not client input.
func (r *Room) chat(id, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.touchLocked()

	message = strings.TrimSpace(message)
	if message == "" {
		return
	}

	player := r.playerByIDLocked(id)
	if player == nil {
		return
	}

	r.broadcastLocked(ChatMessage{
		Type:    "receive_chat",
		Name:    player.Name,
		Message: message,
	})
}

// closeAll disconnects all clients of this room (used by reaper).
func (r *Room) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for c := range r.clients {
		close(c.send)
		if c.conn != nil {
			_ = c.conn.Close()
		}
		delete(r.clients, c)
	}
	r.players = nil
}
