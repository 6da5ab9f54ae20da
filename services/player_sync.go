package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Tae5567/trivparty-server/models"

	"gorm.io/gorm"
)

const heartbeatInterval = 30 * time.Second

// PlayerPresence is the liveness record tracked per player on the
// session's presence channel.
type PlayerPresence struct {
	PlayerID string    `json:"player_id"`
	Nickname string    `json:"nickname"`
	JoinedAt time.Time `json:"joined_at"`
	LastSeen time.Time `json:"last_seen"`
	IsOnline bool      `json:"is_online"`
}

// PlayerWithStatus joins a persisted player row with its liveness flag.
type PlayerWithStatus struct {
	models.Player
	IsOnline bool `json:"is_online"`
}

// DisconnectPayload is the payload of EventPlayerDisconnected.
type DisconnectPayload struct {
	PlayerID string `json:"player_id"`
	Reason   string `json:"reason,omitempty"`
}

// PlayerSync tracks per-session player presence on its own channel,
// separate from the game-state channel so presence churn stays out of the
// gameplay broadcast volume. Presence queries hit the in-memory cache
// only; GetPlayersWithStatus is the single read touching both store and
// cache.
type PlayerSync struct {
	db        *gorm.DB
	channel   *Channel
	sessionID string

	selfID   string
	nickname string
	joinedAt time.Time

	mu        sync.RWMutex
	online    map[string]*PlayerPresence
	joinFns   []func(PlayerPresence)
	leaveFns  []func(playerID string)
	changeFns []func([]PlayerPresence)

	heartbeatDone chan struct{}
	initialized   bool
}

func NewPlayerSync(db *gorm.DB, realtime *Realtime, sessionID string) *PlayerSync {
	return &PlayerSync{
		db:        db,
		channel:   realtime.Channel("session:" + sessionID + ":presence"),
		sessionID: sessionID,
		online:    make(map[string]*PlayerPresence),
	}
}

// Initialize opens the presence channel for the given player, tracks the
// player's own presence record and starts the heartbeat.
func (s *PlayerSync) Initialize(ctx context.Context, playerID, nickname string) error {
	s.selfID = playerID
	s.nickname = nickname
	s.joinedAt = time.Now().UTC()

	s.channel.On(EventPresence, s.handlePresenceEvent)
	s.channel.On(EventPlayerDisconnected, func(raw json.RawMessage) {
		var payload DisconnectPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			log.Printf("malformed %s payload: %v", EventPlayerDisconnected, err)
			return
		}
		s.handlePlayerDisconnection(payload.PlayerID)
	})

	if err := s.channel.Subscribe(ctx); err != nil {
		return err
	}

	if err := s.trackSelf(ctx); err != nil {
		return err
	}

	// The full snapshot is authoritative; incremental join/leave events
	// only supplement it.
	if err := s.Resync(ctx); err != nil {
		log.Printf("initial presence resync for session %s failed: %v", s.sessionID, err)
	}

	s.heartbeatDone = make(chan struct{})
	go s.heartbeat()

	s.initialized = true
	return nil
}

func (s *PlayerSync) trackSelf(ctx context.Context) error {
	return s.channel.Track(ctx, s.selfID, PlayerPresence{
		PlayerID: s.selfID,
		Nickname: s.nickname,
		JoinedAt: s.joinedAt,
		LastSeen: time.Now().UTC(),
		IsOnline: true,
	})
}

func (s *PlayerSync) heartbeat() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.trackSelf(ctx); err != nil {
				log.Printf("presence heartbeat for player %s failed: %v", s.selfID, err)
			}
			cancel()
		case <-s.heartbeatDone:
			return
		}
	}
}

func (s *PlayerSync) handlePresenceEvent(raw json.RawMessage) {
	var event PresenceEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		log.Printf("malformed %s payload: %v", EventPresence, err)
		return
	}

	switch event.Action {
	case PresenceTrack:
		var presence PlayerPresence
		if err := json.Unmarshal(event.State, &presence); err != nil {
			log.Printf("malformed presence state for %s: %v", event.Key, err)
			return
		}
		s.applyTrack(presence)
	case PresenceUntrack:
		s.applyLeave(event.Key)
	}
}

// applyTrack upserts a presence entry. A first sighting is a join; a
// re-track is a heartbeat refresh.
func (s *PlayerSync) applyTrack(presence PlayerPresence) {
	s.mu.Lock()
	existing, known := s.online[presence.PlayerID]
	if known {
		existing.LastSeen = presence.LastSeen
		existing.IsOnline = true
	} else {
		copied := presence
		s.online[presence.PlayerID] = &copied
	}
	joinFns := s.joinFns
	s.mu.Unlock()

	if !known {
		for _, fn := range joinFns {
			fn(presence)
		}
	}
}

// applyLeave is the hard-disconnect path: the transport observed the
// connection drop, so the entry is removed outright.
func (s *PlayerSync) applyLeave(playerID string) {
	s.mu.Lock()
	_, known := s.online[playerID]
	delete(s.online, playerID)
	leaveFns := s.leaveFns
	s.mu.Unlock()

	if known {
		for _, fn := range leaveFns {
			fn(playerID)
		}
	}
}

// handlePlayerDisconnection is the soft-disconnect path: the client
// announced a failure itself. The entry stays cached but goes offline,
// converging with applyLeave on the same "not online" answer.
func (s *PlayerSync) handlePlayerDisconnection(playerID string) {
	s.mu.Lock()
	presence, known := s.online[playerID]
	if known {
		presence.IsOnline = false
	}
	leaveFns := s.leaveFns
	s.mu.Unlock()

	if known {
		for _, fn := range leaveFns {
			fn(playerID)
		}
	}
}

// Resync rebuilds the online cache from the channel's full presence
// snapshot and notifies presence-change subscribers. The snapshot is
// authoritative over any incremental state.
func (s *PlayerSync) Resync(ctx context.Context) error {
	state, err := s.channel.PresenceState(ctx)
	if err != nil {
		return err
	}

	rebuilt := make(map[string]*PlayerPresence, len(state))
	for key, raw := range state {
		var presence PlayerPresence
		if err := json.Unmarshal(raw, &presence); err != nil {
			log.Printf("skipping malformed presence entry %s: %v", key, err)
			continue
		}
		rebuilt[presence.PlayerID] = &presence
	}

	s.mu.Lock()
	s.online = rebuilt
	changeFns := s.changeFns
	s.mu.Unlock()

	snapshot := s.GetOnlinePlayers()
	for _, fn := range changeFns {
		fn(snapshot)
	}
	return nil
}

func (s *PlayerSync) OnPlayerJoin(fn func(PlayerPresence)) {
	s.mu.Lock()
	s.joinFns = append(s.joinFns, fn)
	s.mu.Unlock()
}

func (s *PlayerSync) OnPlayerLeave(fn func(playerID string)) {
	s.mu.Lock()
	s.leaveFns = append(s.leaveFns, fn)
	s.mu.Unlock()
}

func (s *PlayerSync) OnPresenceChange(fn func([]PlayerPresence)) {
	s.mu.Lock()
	s.changeFns = append(s.changeFns, fn)
	s.mu.Unlock()
}

// GetOnlinePlayers returns the currently online players from the cache.
func (s *PlayerSync) GetOnlinePlayers() []PlayerPresence {
	s.mu.RLock()
	defer s.mu.RUnlock()

	players := make([]PlayerPresence, 0, len(s.online))
	for _, presence := range s.online {
		if presence.IsOnline {
			players = append(players, *presence)
		}
	}
	return players
}

func (s *PlayerSync) IsPlayerOnline(playerID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	presence, ok := s.online[playerID]
	return ok && presence.IsOnline
}

func (s *PlayerSync) GetPlayerPresence(playerID string) (PlayerPresence, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	presence, ok := s.online[playerID]
	if !ok {
		return PlayerPresence{}, false
	}
	return *presence, true
}

// GetPlayersWithStatus joins persisted player rows (best score first)
// with the in-memory online cache.
func (s *PlayerSync) GetPlayersWithStatus(ctx context.Context) ([]PlayerWithStatus, error) {
	var players []models.Player
	err := s.db.WithContext(ctx).
		Where("session_id = ?", s.sessionID).
		Order("score DESC, joined_at ASC").
		Find(&players).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch session players: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	combined := make([]PlayerWithStatus, len(players))
	for i, player := range players {
		presence, ok := s.online[player.ID]
		combined[i] = PlayerWithStatus{
			Player:   player,
			IsOnline: ok && presence.IsOnline,
		}
	}
	return combined, nil
}

// RemovePlayer deletes the player's row permanently. The hard delete
// frees the nickname under the (session, nickname) unique index, which a
// soft-delete tombstone would keep occupied. The caller is responsible
// for the corresponding channel leave.
func (s *PlayerSync) RemovePlayer(ctx context.Context, playerID string) error {
	err := s.db.WithContext(ctx).Unscoped().
		Where("id = ? AND session_id = ?", playerID, s.sessionID).
		Delete(&models.Player{}).Error
	if err != nil {
		return fmt.Errorf("failed to remove player: %w", err)
	}
	return nil
}

// BroadcastDisconnection announces this client's own disconnect to all
// session participants.
func (s *PlayerSync) BroadcastDisconnection(ctx context.Context, reason string) error {
	if !s.initialized {
		return ErrNotInitialized
	}
	return s.channel.Publish(ctx, EventPlayerDisconnected, DisconnectPayload{
		PlayerID: s.selfID,
		Reason:   reason,
	})
}

// Cleanup stops the heartbeat, removes the channel and clears the cache
// and every registered callback so nothing leaks across session changes.
func (s *PlayerSync) Cleanup() {
	if s.heartbeatDone != nil {
		close(s.heartbeatDone)
		s.heartbeatDone = nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if s.selfID != "" {
		if err := s.channel.Untrack(ctx, s.selfID); err != nil {
			log.Printf("failed to untrack player %s on cleanup: %v", s.selfID, err)
		}
	}
	cancel()

	s.channel.Close()

	s.mu.Lock()
	s.online = make(map[string]*PlayerPresence)
	s.joinFns = nil
	s.leaveFns = nil
	s.changeFns = nil
	s.mu.Unlock()

	s.initialized = false
}
