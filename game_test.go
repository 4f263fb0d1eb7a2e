package main

import (
	"testing"
	"time"
)

func TestClampImpostors(t *testing.T) {
	tests := []struct {
		requested   int
		playerCount int
		expected    int
	}{
		{0, 4, 1},
		{-3, 4, 1},
		{1, 4, 1},
		{2, 4, 2},
		{3, 4, 3},
		{4, 4, 3},
		{99, 4, 3},
		{1, 2, 1},
		{2, 2, 1},
	}

	for _, tt := range tests {
		if got := clampImpostors(tt.requested, tt.playerCount); got != tt.expected {
			t.Errorf("clampImpostors(%d, %d) = %d, expected %d", tt.requested, tt.playerCount, got, tt.expected)
		}
	}
}

func TestStartGameRoleDistribution(t *testing.T) {
	cfg := newTestConfig()
	room, clients := seatPlayers(t, cfg, "Ann", "Ben", "Cara", "Dave", "Eve")

	room.startGame(clients[0], ClientMessage{
		Word:          "volcano",
		Category:      "nature",
		ImpostorHint:  "it can erupt",
		ImpostorCount: 2,
	})

	impostors := 0
	for _, p := range room.players {
		if p.Role == nil {
			t.Fatalf("player %q has no role after start", p.Name)
		}
		switch p.Role.Role {
		case roleImpostor:
			impostors++
			if p.Role.Word != "" {
				t.Errorf("impostor %q received the word", p.Name)
			}
			if p.Role.ImpostorHint == "" {
				t.Errorf("impostor %q received no hint", p.Name)
			}
		case roleCitizen:
			if p.Role.Word != "volcano" {
				t.Errorf("citizen %q received word %q", p.Name, p.Role.Word)
			}
			if p.Role.ImpostorHint != "" {
				t.Errorf("citizen %q received an impostor hint", p.Name)
			}
		default:
			t.Errorf("player %q has unknown role %q", p.Name, p.Role.Role)
		}
		if p.Role.Category != "nature" {
			t.Errorf("player %q category %q", p.Name, p.Role.Category)
		}
		if p.Role.StartingPlayer == "" {
			t.Errorf("player %q has no starting player", p.Name)
		}
	}

	if impostors != 2 {
		t.Errorf("expected exactly 2 impostors, got %d", impostors)
	}

	// Role data is targeted: each client gets exactly one game_started,
	// and it is their own.
	for i, c := range clients {
		msg := awaitMessage(t, c, func(m any) bool {
			_, ok := m.(GameStartedMessage)
			return ok
		}).(GameStartedMessage)

		if msg.RoleData != *room.players[i].Role {
			t.Errorf("client %d received someone else's role payload", i)
		}
	}
}

func TestStartGameClampsImpostorCount(t *testing.T) {
	cfg := newTestConfig()
	room, clients := seatPlayers(t, cfg, "Ann", "Ben", "Cara", "Dave")

	room.startGame(clients[0], ClientMessage{
		Word:          "volcano",
		Category:      "nature",
		ImpostorCount: 99,
	})

	impostors := 0
	for _, p := range room.players {
		if p.Role != nil && p.Role.Role == roleImpostor {
			impostors++
		}
	}

	// clamp(99, 1, 3): never the whole roster.
	if impostors != 3 {
		t.Errorf("expected 3 impostors, got %d", impostors)
	}
}

func TestStartGameRequiresHost(t *testing.T) {
	cfg := newTestConfig()
	room, clients := seatPlayers(t, cfg, "Ann", "Ben")

	room.startGame(clients[1], ClientMessage{
		Word:     "volcano",
		Category: "nature",
	})

	if room.phase != phaseLobby {
		t.Errorf("non-host start moved phase to %s", room.phase)
	}
	for _, p := range room.players {
		if p.Role != nil {
			t.Error("non-host start assigned roles")
		}
	}
}

func TestStartGameRejectsMissingWordData(t *testing.T) {
	cfg := newTestConfig()
	room, clients := seatPlayers(t, cfg, "Ann", "Ben")

	room.startGame(clients[0], ClientMessage{
		Word:     "   ",
		Category: "nature",
	})

	if room.phase != phaseLobby {
		t.Errorf("invalid start moved phase to %s", room.phase)
	}

	msg := awaitMessage(t, clients[0], func(m any) bool {
		_, ok := m.(ErrorMessage)
		return ok
	}).(ErrorMessage)
	if msg.Reason != reasonInvalidInput {
		t.Errorf("expected invalid_input, got %q", msg.Reason)
	}
}

func TestStartVotingBroadcastsLivingCandidates(t *testing.T) {
	cfg := newTestConfig()
	room, clients := seatPlayers(t, cfg, "Ann", "Ben", "Cara", "Dave")
	startTestGame(t, room, clients[0], 1)

	// Dave died in a previous round.
	room.players[3].IsDead = true

	room.startVoting(clients[0])

	if room.phase != phaseVoting {
		t.Fatalf("expected voting phase, got %s", room.phase)
	}

	msg := awaitMessage(t, clients[1], func(m any) bool {
		_, ok := m.(VotingStartedMessage)
		return ok
	}).(VotingStartedMessage)

	if len(msg.Candidates) != 3 {
		t.Errorf("expected 3 living candidates, got %d", len(msg.Candidates))
	}
	for _, c := range msg.Candidates {
		if c.Name == "Dave" {
			t.Error("dead player listed as a voting candidate")
		}
	}
}

func TestStartVotingRequiresHost(t *testing.T) {
	cfg := newTestConfig()
	room, clients := seatPlayers(t, cfg, "Ann", "Ben")
	startTestGame(t, room, clients[0], 1)

	room.startVoting(clients[1])

	if room.phase != phasePlaying {
		t.Errorf("non-host vote start moved phase to %s", room.phase)
	}

	msg := awaitMessage(t, clients[1], func(m any) bool {
		_, ok := m.(ErrorMessage)
		return ok
	}).(ErrorMessage)
	if msg.Reason != reasonUnauthorized {
		t.Errorf("expected unauthorized, got %q", msg.Reason)
	}
}

func TestCastVoteRules(t *testing.T) {
	cfg := newTestConfig()
	room, clients := seatPlayers(t, cfg, "Ann", "Ben", "Cara", "Dave")
	startTestGame(t, room, clients[0], 1)

	// Votes outside the voting phase are dropped.
	room.castVote(clients[0].id, clients[1].id)
	if len(room.votes) != 0 {
		t.Error("vote recorded outside voting phase")
	}

	room.startVoting(clients[0])

	// First vote per voter wins; the second is ignored.
	room.castVote(clients[0].id, clients[1].id)
	room.castVote(clients[0].id, clients[2].id)
	if room.votes[clients[0].id] != clients[1].id {
		t.Error("duplicate vote overwrote the first ballot")
	}
	if len(room.votes) != 1 {
		t.Errorf("expected 1 recorded vote, got %d", len(room.votes))
	}

	// Unknown voters and unknown targets are dropped.
	room.castVote("stranger", clients[1].id)
	room.castVote(clients[1].id, "stranger")
	if len(room.votes) != 1 {
		t.Errorf("invalid ballots were recorded, votes=%d", len(room.votes))
	}
}

func TestVotingClosesExactlyAtLivingCount(t *testing.T) {
	cfg := newTestConfig()
	room, clients := seatPlayers(t, cfg, "Ann", "Ben", "Cara", "Dave")
	startTestGame(t, room, clients[0], 1)

	// Pin the roles so eliminating Dave always continues the round.
	for _, p := range room.players {
		p.Role.Role = roleCitizen
	}
	room.players[0].Role.Role = roleImpostor

	room.startVoting(clients[0])

	target := clients[3].id

	for i, c := range clients[:3] {
		room.castVote(c.id, target)
		if room.phase != phaseVoting {
			t.Fatalf("voting closed early after %d of 4 ballots", i+1)
		}
	}

	room.castVote(clients[3].id, target)

	if room.phase != phasePlaying {
		t.Error("voting did not close once every living player voted")
	}
	if !room.players[3].IsDead {
		t.Error("plurality target was not eliminated")
	}
	if len(room.votes) != 0 {
		t.Errorf("votes not cleared after resolution, %d remain", len(room.votes))
	}
}

func TestTieBreaksTowardEarliestJoined(t *testing.T) {
	cfg := newTestConfig()
	room, clients := seatPlayers(t, cfg, "Ann", "Ben", "Cara", "Dave")

	// Hand-build a 2-2 tie between Cara (joined third) and Dave (joined
	// fourth) with enough citizens that the game continues either way.
	room.phase = phasePlaying
	for _, p := range room.players {
		p.Role = &RolePayload{Role: roleCitizen, Word: "w", Category: "c", StartingPlayer: "Ann"}
	}
	room.players[2].Role.Role = roleImpostor

	room.startVoting(clients[0])
	room.castVote(clients[0].id, clients[2].id)
	room.castVote(clients[1].id, clients[2].id)
	room.castVote(clients[2].id, clients[3].id)
	room.castVote(clients[3].id, clients[3].id)

	if !room.players[2].IsDead {
		t.Error("tie did not eliminate the earliest-joined tied target")
	}
	if room.players[3].IsDead {
		t.Error("later-joined tied target was eliminated")
	}
}

func TestEliminationBroadcastIsPerRecipient(t *testing.T) {
	cfg := newTestConfig()
	room, clients := seatPlayers(t, cfg, "Ann", "Ben", "Cara", "Dave")
	startTestGame(t, room, clients[0], 1)
	room.startVoting(clients[0])

	for _, c := range clients {
		room.castVote(c.id, clients[3].id)
	}

	for i, c := range clients {
		msg := awaitMessage(t, c, func(m any) bool {
			_, ok := m.(PlayerEliminatedMessage)
			return ok
		}).(PlayerEliminatedMessage)

		if msg.EliminatedID != clients[3].id || msg.Name != "Dave" {
			t.Errorf("client %d saw victim %q (%s)", i, msg.Name, msg.EliminatedID)
		}
		if msg.IsYou != (i == 3) {
			t.Errorf("client %d is_you=%t", i, msg.IsYou)
		}
	}
}

func TestCitizenWinCondition(t *testing.T) {
	cfg := newTestConfig()
	room, clients := seatPlayers(t, cfg, "Ann", "Ben", "Cara", "Dave")
	startTestGame(t, room, clients[0], 1)

	var impostorID string
	var impostorName string
	for _, p := range room.players {
		if p.Role.Role == roleImpostor {
			impostorID = p.ID
			impostorName = p.Name
		}
	}

	room.startVoting(clients[0])
	for _, c := range clients {
		room.castVote(c.id, impostorID)
	}

	msg := awaitMessage(t, clients[0], func(m any) bool {
		_, ok := m.(GameOverMessage)
		return ok
	}).(GameOverMessage)

	if msg.Winner != roleCitizen {
		t.Errorf("winner %q, expected citizen", msg.Winner)
	}
	if len(msg.ImpostorNames) != 1 || msg.ImpostorNames[0] != impostorName {
		t.Errorf("impostor reveal %v, expected [%s]", msg.ImpostorNames, impostorName)
	}
}

func TestImpostorWinAtParity(t *testing.T) {
	cfg := newTestConfig()
	room, clients := seatPlayers(t, cfg, "Ann", "Ben", "Cara", "Dave")

	// 1 impostor, 3 citizens, with one citizen already eliminated: the
	// next citizen elimination reaches parity.
	room.phase = phasePlaying
	for _, p := range room.players {
		p.Role = &RolePayload{Role: roleCitizen, Word: "w", Category: "c", StartingPlayer: "Ann"}
	}
	room.players[0].Role.Role = roleImpostor
	room.players[3].IsDead = true

	room.startVoting(clients[0])
	room.castVote(clients[0].id, clients[1].id)
	room.castVote(clients[1].id, clients[1].id)
	room.castVote(clients[2].id, clients[0].id)

	msg := awaitMessage(t, clients[2], func(m any) bool {
		_, ok := m.(GameOverMessage)
		return ok
	}).(GameOverMessage)

	if msg.Winner != roleImpostor {
		t.Errorf("winner %q, expected impostor", msg.Winner)
	}
	if len(msg.ImpostorNames) != 1 || msg.ImpostorNames[0] != "Ann" {
		t.Errorf("impostor reveal %v, expected [Ann]", msg.ImpostorNames)
	}
}

func TestRoundContinuesWithSurvivorStarting(t *testing.T) {
	cfg := newTestConfig()
	room, clients := seatPlayers(t, cfg, "Ann", "Ben", "Cara", "Dave", "Eve")
	startTestGame(t, room, clients[0], 1)

	// Make Eve a citizen so her elimination cannot end the game.
	var victim *Player
	for _, p := range room.players {
		p.Role.Role = roleCitizen
		p.Role.Word = "volcano"
		p.Role.ImpostorHint = ""
	}
	room.players[0].Role.Role = roleImpostor
	victim = room.players[4]

	room.startVoting(clients[0])
	for _, c := range clients {
		room.castVote(c.id, victim.ID)
	}

	if room.phase != phasePlaying {
		t.Fatalf("expected round continuation into playing, got %s", room.phase)
	}

	msg := awaitMessage(t, clients[0], func(m any) bool {
		_, ok := m.(NextRoundMessage)
		return ok
	}).(NextRoundMessage)

	if msg.StartingPlayer == victim.Name {
		t.Error("eliminated player chosen as next starting player")
	}

	found := false
	for _, name := range livingNames(room) {
		if name == msg.StartingPlayer {
			found = true
		}
	}
	if !found {
		t.Errorf("starting player %q is not a survivor", msg.StartingPlayer)
	}

	// Stored role payloads follow the new starting player for rejoins.
	for _, p := range room.players {
		if p.Role.StartingPlayer != msg.StartingPlayer {
			t.Errorf("stored payload starting player %q, expected %q", p.Role.StartingPlayer, msg.StartingPlayer)
		}
	}
}

func TestGameOverResetsToLobbyAfterDelay(t *testing.T) {
	cfg := newTestConfig()
	room, clients := seatPlayers(t, cfg, "Ann", "Ben", "Cara", "Dave")
	startTestGame(t, room, clients[0], 1)

	var impostorID string
	for _, p := range room.players {
		if p.Role.Role == roleImpostor {
			impostorID = p.ID
		}
	}

	room.startVoting(clients[0])
	for _, c := range clients {
		room.castVote(c.id, impostorID)
	}

	deadline := time.Now().Add(time.Second)
	for {
		room.mu.RLock()
		phase := room.phase
		room.mu.RUnlock()
		if phase == phaseLobby {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("room never returned to lobby after game over")
		}
		time.Sleep(5 * time.Millisecond)
	}

	room.mu.RLock()
	defer room.mu.RUnlock()
	for _, p := range room.players {
		if p.IsDead {
			t.Errorf("player %q still dead after reset", p.Name)
		}
		if p.Role != nil {
			t.Errorf("player %q still holds role data after reset", p.Name)
		}
	}
	if len(room.votes) != 0 {
		t.Error("votes not cleared by reset")
	}
}

func TestManualResetRequiresHost(t *testing.T) {
	cfg := newTestConfig()
	room, clients := seatPlayers(t, cfg, "Ann", "Ben")
	startTestGame(t, room, clients[0], 1)

	room.resetGame(clients[1])
	if room.phase != phasePlaying {
		t.Error("non-host reset changed the phase")
	}

	room.resetGame(clients[0])
	if room.phase != phaseLobby {
		t.Error("host reset did not return the room to lobby")
	}
	for _, p := range room.players {
		if p.Role != nil {
			t.Error("reset left role data behind")
		}
	}
}

func TestLeaverBallotsDropMidVote(t *testing.T) {
	cfg := newTestConfig()
	room, clients := seatPlayers(t, cfg, "Ann", "Ben", "Cara", "Dave")
	startTestGame(t, room, clients[0], 1)

	// Keep the outcome round-continuing regardless of who leaves.
	for _, p := range room.players {
		p.Role.Role = roleCitizen
	}
	room.players[1].Role.Role = roleImpostor

	room.startVoting(clients[0])
	room.castVote(clients[0].id, clients[2].id)
	room.castVote(clients[2].id, clients[0].id)

	// Cara leaves mid-vote: her ballot and ballots for her are dropped,
	// and the round is re-checked against the shrunken living count.
	room.removeByID(clients[2].id)

	if _, ok := room.votes[clients[2].id]; ok {
		t.Error("leaver's ballot survived their departure")
	}
	for voter, target := range room.votes {
		if target == clients[2].id {
			t.Errorf("ballot from %q still targets the leaver", voter)
		}
	}
}

func TestNoTallyDuringGameOverPause(t *testing.T) {
	cfg := newTestConfig()
	cfg.gameOverDelay = time.Minute // keep the room in the reveal pause
	room, clients := seatPlayers(t, cfg, "Ann", "Ben", "Cara")
	startTestGame(t, room, clients[0], 1)

	for _, p := range room.players {
		p.Role.Role = roleCitizen
	}
	room.players[2].Role.Role = roleImpostor

	room.startVoting(clients[0])
	for _, c := range clients {
		room.castVote(c.id, clients[2].id)
	}

	if !room.gameOver {
		t.Fatal("voting out the only impostor did not end the game")
	}
	for _, c := range clients {
		drainMessages(c)
	}

	// Both survivors vote again during the reveal pause; the round is
	// over, so the ballots must not run a second tally.
	room.castVote(clients[0].id, clients[1].id)
	room.castVote(clients[1].id, clients[0].id)

	if len(room.votes) != 0 {
		t.Error("ballots accepted after the game ended")
	}
	if room.players[0].IsDead || room.players[1].IsDead {
		t.Error("a survivor was eliminated after the game ended")
	}

	for _, c := range clients {
		for {
			var done bool
			select {
			case msg := <-c.send:
				switch msg.(type) {
				case PlayerEliminatedMessage:
					t.Error("second elimination broadcast after the game ended")
				case GameOverMessage:
					t.Error("second game_over broadcast after the game ended")
				}
			default:
				done = true
			}
			if done {
				break
			}
		}
	}
}

func TestResetClearsGameOver(t *testing.T) {
	cfg := newTestConfig()
	room, clients := seatPlayers(t, cfg, "Ann", "Ben", "Cara")
	startTestGame(t, room, clients[0], 1)

	for _, p := range room.players {
		p.Role.Role = roleCitizen
	}
	room.players[2].Role.Role = roleImpostor

	room.startVoting(clients[0])
	for _, c := range clients {
		room.castVote(c.id, clients[2].id)
	}
	if !room.gameOver {
		t.Fatal("voting out the only impostor did not end the game")
	}

	room.resetToLobby()

	if room.gameOver {
		t.Error("lobby reset left the room terminal")
	}

	// A fresh game must run a full round again.
	startTestGame(t, room, clients[0], 1)
	room.startVoting(clients[0])
	room.castVote(clients[0].id, clients[1].id)
	if _, ok := room.votes[clients[0].id]; !ok {
		t.Error("ballot rejected in a fresh round after reset")
	}
}
