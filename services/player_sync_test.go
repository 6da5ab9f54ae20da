package services

import (
	"context"
	"testing"
	"time"

	"github.com/Tae5567/trivparty-server/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newBarePlayerSync builds a sync without a transport, enough for
// exercising the cache and store paths directly.
func newBarePlayerSync(t *testing.T, sessionID string) *PlayerSync {
	t.Helper()
	return &PlayerSync{
		db:        newTestDB(t),
		sessionID: sessionID,
		online:    make(map[string]*PlayerPresence),
	}
}

func presenceFor(playerID, nickname string) PlayerPresence {
	now := time.Now().UTC()
	return PlayerPresence{
		PlayerID: playerID,
		Nickname: nickname,
		JoinedAt: now,
		LastSeen: now,
		IsOnline: true,
	}
}

func TestApplyTrackFirstSightingIsJoin(t *testing.T) {
	sync := newBarePlayerSync(t, uuid.NewString())

	var joins []string
	sync.OnPlayerJoin(func(p PlayerPresence) { joins = append(joins, p.PlayerID) })

	sync.applyTrack(presenceFor("p1", "alice"))

	assert.Equal(t, []string{"p1"}, joins)
	assert.True(t, sync.IsPlayerOnline("p1"))
	require.Len(t, sync.GetOnlinePlayers(), 1)
}

func TestApplyTrackRefreshDoesNotRejoin(t *testing.T) {
	sync := newBarePlayerSync(t, uuid.NewString())

	joinCount := 0
	sync.OnPlayerJoin(func(PlayerPresence) { joinCount++ })

	first := presenceFor("p1", "alice")
	sync.applyTrack(first)

	refresh := first
	refresh.LastSeen = first.LastSeen.Add(30 * time.Second)
	sync.applyTrack(refresh)

	assert.Equal(t, 1, joinCount, "a heartbeat re-track is not a join")

	presence, ok := sync.GetPlayerPresence("p1")
	require.True(t, ok)
	assert.Equal(t, refresh.LastSeen, presence.LastSeen)
}

func TestApplyTrackRevivesSoftDisconnectedPlayer(t *testing.T) {
	sync := newBarePlayerSync(t, uuid.NewString())

	sync.applyTrack(presenceFor("p1", "alice"))
	sync.handlePlayerDisconnection("p1")
	require.False(t, sync.IsPlayerOnline("p1"))

	sync.applyTrack(presenceFor("p1", "alice"))
	assert.True(t, sync.IsPlayerOnline("p1"))
}

func TestApplyLeaveRemovesEntry(t *testing.T) {
	sync := newBarePlayerSync(t, uuid.NewString())

	var leaves []string
	sync.OnPlayerLeave(func(playerID string) { leaves = append(leaves, playerID) })

	sync.applyTrack(presenceFor("p1", "alice"))
	sync.applyLeave("p1")

	assert.Equal(t, []string{"p1"}, leaves)
	assert.False(t, sync.IsPlayerOnline("p1"))
	_, ok := sync.GetPlayerPresence("p1")
	assert.False(t, ok, "hard disconnect removes the cached entry")

	// Leaving an unknown player fires nothing.
	sync.applyLeave("ghost")
	assert.Equal(t, []string{"p1"}, leaves)
}

func TestSoftDisconnectKeepsEntryOffline(t *testing.T) {
	sync := newBarePlayerSync(t, uuid.NewString())

	var leaves []string
	sync.OnPlayerLeave(func(playerID string) { leaves = append(leaves, playerID) })

	sync.applyTrack(presenceFor("p1", "alice"))
	sync.handlePlayerDisconnection("p1")

	assert.Equal(t, []string{"p1"}, leaves)
	assert.False(t, sync.IsPlayerOnline("p1"))

	presence, ok := sync.GetPlayerPresence("p1")
	require.True(t, ok, "soft disconnect keeps the cached entry")
	assert.False(t, presence.IsOnline)
	assert.Empty(t, sync.GetOnlinePlayers())
}

func TestGetPlayersWithStatusJoinsStoreAndCache(t *testing.T) {
	sessionID := uuid.NewString()
	sync := newBarePlayerSync(t, sessionID)

	quiz := models.Quiz{ID: uuid.NewString(), UserID: uuid.NewString(), Title: "Test Quiz"}
	require.NoError(t, sync.db.Create(&quiz).Error)
	session := models.Session{
		ID:       sessionID,
		QuizID:   quiz.ID,
		HostID:   quiz.UserID,
		JoinCode: generateJoinCode(),
		Status:   models.SessionStatusActive,
	}
	require.NoError(t, sync.db.Create(&session).Error)

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	alice := createTestPlayer(t, sync.db, sessionID, "alice", 300, base)
	bob := createTestPlayer(t, sync.db, sessionID, "bob", 100, base.Add(time.Minute))

	sync.applyTrack(presenceFor(alice.ID, "alice"))

	players, err := sync.GetPlayersWithStatus(context.Background())
	require.NoError(t, err)
	require.Len(t, players, 2)

	assert.Equal(t, alice.ID, players[0].ID, "store rows come back best score first")
	assert.True(t, players[0].IsOnline)
	assert.Equal(t, bob.ID, players[1].ID)
	assert.False(t, players[1].IsOnline, "players absent from the cache read as offline")
}

func TestRemovePlayerScopedToSession(t *testing.T) {
	sessionID := uuid.NewString()
	sync := newBarePlayerSync(t, sessionID)

	quiz := models.Quiz{ID: uuid.NewString(), UserID: uuid.NewString(), Title: "Test Quiz"}
	require.NoError(t, sync.db.Create(&quiz).Error)
	for _, id := range []string{sessionID, uuid.NewString()} {
		session := models.Session{
			ID:       id,
			QuizID:   quiz.ID,
			HostID:   quiz.UserID,
			JoinCode: generateJoinCode(),
			Status:   models.SessionStatusActive,
		}
		require.NoError(t, sync.db.Create(&session).Error)
	}

	var otherSession models.Session
	require.NoError(t, sync.db.Where("id <> ?", sessionID).First(&otherSession).Error)

	mine := createTestPlayer(t, sync.db, sessionID, "alice", 0, time.Now())
	theirs := createTestPlayer(t, sync.db, otherSession.ID, "alice", 0, time.Now())

	require.NoError(t, sync.RemovePlayer(context.Background(), mine.ID))
	require.NoError(t, sync.RemovePlayer(context.Background(), theirs.ID), "wrong-session delete is a no-op, not an error")

	var count int64
	require.NoError(t, sync.db.Model(&models.Player{}).Count(&count).Error)
	assert.Equal(t, int64(1), count, "only the player belonging to this session is removed")

	// The removal leaves no tombstone, so the nickname frees up for a new
	// player in the same session.
	createTestPlayer(t, sync.db, sessionID, "alice", 0, time.Now())
}
