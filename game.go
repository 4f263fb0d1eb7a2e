package main

import (
	"crypto/rand"
	"math/big"
	"strings"
	"time"
)

const (
	roleImpostor = "impostor"
	roleCitizen  = "citizen"
)

// randomIndex returns a uniform index in [0, n) using crypto/rand.
func randomIndex(n int) int {
	j, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(j.Int64())
}

// clampImpostors bounds the requested impostor count to at least one and
// never the whole roster.
func clampImpostors(requested, playerCount int) int {
	if requested < 1 {
		return 1
	}
	if requested > playerCount-1 {
		return playerCount - 1
	}
	return requested
}

// startGame deals out secret roles and moves the room to the playing phase.
// Host-only, lobby-only; anything else is a no-op so the room state never
// changes on a rejected start.
func (r *Room) startGame(c *Client, msg ClientMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.touchLocked()

	if c.id != r.hostID || r.phase != phaseLobby {
		return
	}

	word := strings.TrimSpace(msg.Word)
	category := strings.TrimSpace(msg.Category)
	if word == "" || category == "" {
		r.sendLocked(c, ErrorMessage{
			Type:    "error_message",
			Reason:  reasonInvalidInput,
			Message: "A word and a category are both required to start.",
		})
		return
	}

	playerCount := len(r.players)
	if playerCount < 2 {
		r.sendLocked(c, ErrorMessage{
			Type:    "error_message",
			Reason:  reasonInvalidInput,
			Message: "At least two players are needed to start a game.",
		})
		return
	}

	impostorCount := clampImpostors(msg.ImpostorCount, playerCount)

	// Reject-and-retry on duplicate draws until the impostor set is full.
	impostors := make(map[int]bool, impostorCount)
	for len(impostors) < impostorCount {
		impostors[randomIndex(playerCount)] = true
	}

	// Independent draw; the starting player may or may not be an impostor.
	starter := r.players[randomIndex(playerCount)].Name

	r.phase = phasePlaying

	hint := strings.TrimSpace(msg.ImpostorHint)

	for i, p := range r.players {
		role := RolePayload{
			Category:       category,
			StartingPlayer: starter,
		}
		if impostors[i] {
			role.Role = roleImpostor
			role.ImpostorHint = hint
		} else {
			role.Role = roleCitizen
			role.Word = word
		}

		p.IsDead = false
		p.Role = &role

		// Each player's role data goes only to their own connection.
		r.sendToIDLocked(p.ID, GameStartedMessage{
			Type:     "game_started",
			RoleData: role,
		})
	}

	logf(r.cfg, "GAMES: Started game in room %s (%d players, %d impostors)", r.code, playerCount, impostorCount)
}

// startVoting opens a voting round over the living players. Host-only; a
// request outside the playing phase is dropped.
func (r *Room) startVoting(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.touchLocked()

	if c.id != r.hostID {
		r.sendLocked(c, ErrorMessage{
			Type:    "error_message",
			Reason:  reasonUnauthorized,
			Message: "Only the host can start a vote.",
		})
		return
	}

	if r.phase != phasePlaying {
		return
	}

	r.phase = phaseVoting
	r.votes = make(map[string]string)

	candidates := make([]PlayerInfo, 0, len(r.players))
	for _, p := range r.livingLocked() {
		candidates = append(candidates, PlayerInfo{ID: p.ID, Name: p.Name})
	}

	r.broadcastLocked(VotingStartedMessage{
		Type:       "voting_phase_started",
		Candidates: candidates,
	})

	logf(r.cfg, "GAMES: Voting opened in room %s (%d candidates)", r.code, len(candidates))
}

// castVote records one ballot. The first vote per voter per round wins;
// votes from dead players, for dead or unknown targets, or outside the
// voting phase are dropped. The round closes itself with the last ballot.
func (r *Room) castVote(voterID, targetID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.touchLocked()

	if r.phase != phaseVoting || r.gameOver {
		return
	}

	voter := r.playerByIDLocked(voterID)
	if voter == nil || voter.IsDead {
		return
	}

	if _, already := r.votes[voterID]; already {
		return
	}

	target := r.playerByIDLocked(targetID)
	if target == nil || target.IsDead {
		return
	}

	r.votes[voterID] = targetID

	r.maybeCloseVotingLocked()
}

// maybeCloseVotingLocked resolves the round once every living player has
// voted. Resolution is synchronous with the triggering ballot.
func (r *Room) maybeCloseVotingLocked() {
	if r.phase != phaseVoting || r.gameOver {
		return
	}

	living := len(r.livingLocked())
	if living == 0 || len(r.votes) < living {
		return
	}

	r.resolveVotesLocked()
}

// resolveVotesLocked tallies the round, eliminates the plurality target, and
// evaluates win conditions. Ties break toward the earliest-joined target.
func (r *Room) resolveVotesLocked() {
	counts := make(map[string]int)
	for _, target := range r.votes {
		counts[target]++
	}

	r.votes = make(map[string]string)

	var victim *Player
	best := 0
	for _, p := range r.players {
		if c := counts[p.ID]; c > best {
			best = c
			victim = p
		}
	}

	if victim == nil {
		// Guarded: nobody received a vote. Continue the round with the
		// first survivor starting.
		living := r.livingLocked()
		if len(living) > 0 {
			r.continueRoundLocked(living[0])
		}
		return
	}

	victim.IsDead = true
	wasImpostor := victim.Role != nil && victim.Role.Role == roleImpostor

	// The reveal is permanent and public, but each client learns whether
	// they themselves were the victim.
	for client := range r.clients {
		r.sendLocked(client, PlayerEliminatedMessage{
			Type:         "player_eliminated",
			EliminatedID: victim.ID,
			Name:         victim.Name,
			IsYou:        client.id == victim.ID,
			WasImpostor:  wasImpostor,
		})
	}

	logf(r.cfg, "GAMES: Player %q eliminated in room %s (impostor: %t)", victim.Name, r.code, wasImpostor)

	livingImpostors := 0
	livingCitizens := 0
	for _, p := range r.livingLocked() {
		if p.Role != nil && p.Role.Role == roleImpostor {
			livingImpostors++
		} else {
			livingCitizens++
		}
	}

	switch {
	case livingImpostors == 0:
		r.endGameLocked(roleCitizen, "Every impostor has been eliminated.")
	case livingImpostors >= livingCitizens:
		r.endGameLocked(roleImpostor, "The impostors have reached parity with the citizens.")
	default:
		living := r.livingLocked()
		r.continueRoundLocked(living[randomIndex(len(living))])
	}
}

// continueRoundLocked returns the room to the playing phase with a fresh
// starting player drawn from the survivors.
func (r *Room) continueRoundLocked(starter *Player) {
	r.phase = phasePlaying

	// Keep stored role payloads current so a rejoin mid-game redelivers
	// the right starting player.
	for _, p := range r.players {
		if p.Role != nil {
			p.Role.StartingPlayer = starter.Name
		}
	}

	r.broadcastLocked(NextRoundMessage{
		Type:           "next_round",
		StartingPlayer: starter.Name,
	})
}

// endGameLocked announces the winner, reveals every impostor living or
// dead, and schedules the return to lobby. The reset timer fires
// unconditionally; it only rewrites already-terminal state. The room is
// terminal until then, so no further ballots can trigger a second tally
// during the reveal pause.
func (r *Room) endGameLocked(winner, reason string) {
	r.gameOver = true

	names := make([]string, 0, len(r.players))
	for _, p := range r.players {
		if p.Role != nil && p.Role.Role == roleImpostor {
			names = append(names, p.Name)
		}
	}

	r.broadcastLocked(GameOverMessage{
		Type:          "game_over",
		Winner:        winner,
		Reason:        reason,
		ImpostorNames: names,
	})

	logf(r.cfg, "GAMES: Game over in room %s (winner: %s)", r.code, winner)

	time.AfterFunc(r.cfg.gameOverDelay, r.resetToLobby)
}

// resetGame is the host's manual return to lobby.
func (r *Room) resetGame(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.touchLocked()

	if c.id != r.hostID {
		r.sendLocked(c, ErrorMessage{
			Type:    "error_message",
			Reason:  reasonUnauthorized,
			Message: "Only the host can reset the game.",
		})
		return
	}

	r.resetToLobbyLocked()
}

func (r *Room) resetToLobby() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.resetToLobbyLocked()
}

// resetToLobbyLocked rehydrates the room for a new game: same roster, same
// code, all game state cleared.
func (r *Room) resetToLobbyLocked() {
	r.phase = phaseLobby
	r.gameOver = false
	r.votes = make(map[string]string)

	for _, p := range r.players {
		p.IsDead = false
		p.Role = nil
	}

	r.broadcastLocked(GameResetMessage{
		Type:    "game_reset",
		Players: r.rosterLocked(),
	})
}
