// Package games holds design notes for game modes.
package games

// Impostor: a social deduction word game.
//
// - One player creates a room and becomes the host; others join with the 4-letter code
// - The host picks a secret word, a category, an optional hint, and an impostor count
// - Citizens are shown the word; impostors only see the category (and the hint, if set)
// - A random starting player is announced, and everyone takes turns describing the word
// - When the host opens voting, every living player votes for a suspect
// - The plurality target is eliminated and their allegiance revealed
// - Citizens win when every impostor is out; impostors win at parity
//
// Display formats:
// - Lobby roster with host marker and the shareable room code / QR
// - Private role card, shown only on the owning device
// - Voting grid of living players
//
// Implementation details:
// - One websocket endpoint for all rooms; rooms addressed by code in each message
// - Connection identity is per-socket; a reload rejoins by name within the grace window
// - The server is trusted with all secrets; clients only ever receive their own role
