package main

import (
	"testing"
	"time"
)

func newTestConfig() *Config {
	return &Config{
		bind:           "127.0.0.1",
		gameOverDelay:  25 * time.Millisecond,
		gracePeriod:    50 * time.Millisecond,
		maxPlayers:     12,
		port:           8080,
		sessionTimeout: 0,
	}
}

func newTestClient(id string) *Client {
	return &Client{
		send: make(chan any, 64),
		id:   id,
	}
}

// nextMessage pops the next queued message for a client, failing the test
// if none arrives in time.
func nextMessage(t *testing.T, c *Client) any {
	t.Helper()

	select {
	case msg := <-c.send:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a message")
		return nil
	}
}

// awaitMessage discards queued messages until one satisfies match.
func awaitMessage(t *testing.T, c *Client, match func(any) bool) any {
	t.Helper()

	deadline := time.After(time.Second)
	for {
		select {
		case msg := <-c.send:
			if match(msg) {
				return msg
			}
		case <-deadline:
			t.Fatal("timed out waiting for a matching message")
			return nil
		}
	}
}

func drainMessages(c *Client) {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}

// seatPlayers builds a lobby room with the given names, first name hosting.
func seatPlayers(t *testing.T, cfg *Config, names ...string) (*Room, []*Client) {
	t.Helper()

	room := newRoom("TEST", cfg)
	clients := make([]*Client, 0, len(names))

	for i, name := range names {
		c := newTestClient(name + "-conn")
		if i == 0 {
			room.addHost(c, name)
		} else {
			if err := room.join(c, name, cfg.maxPlayers); err != nil {
				t.Fatalf("join %q: %v", name, err)
			}
		}
		clients = append(clients, c)
	}

	for _, c := range clients {
		drainMessages(c)
	}

	return room, clients
}

// startTestGame moves a seated room into the playing phase.
func startTestGame(t *testing.T, room *Room, host *Client, impostorCount int) {
	t.Helper()

	room.startGame(host, ClientMessage{
		Type:          "start_game",
		Word:          "lighthouse",
		Category:      "buildings",
		ImpostorHint:  "it stands near water",
		ImpostorCount: impostorCount,
	})

	if room.phase != phasePlaying {
		t.Fatalf("expected playing phase after start, got %s", room.phase)
	}
}

func livingNames(room *Room) []string {
	room.mu.RLock()
	defer room.mu.RUnlock()

	names := make([]string, 0, len(room.players))
	for _, p := range room.players {
		if !p.IsDead {
			names = append(names, p.Name)
		}
	}
	return names
}
