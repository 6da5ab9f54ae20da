package services

import (
	"sync"

	"gorm.io/gorm"
)

// FlowRegistry holds the live GameFlowManager for each running session.
// Flow managers are stateful (retained question list, timers, phase), so
// HTTP handlers look them up here instead of constructing them per
// request.
type FlowRegistry struct {
	db       *gorm.DB
	realtime *Realtime
	powerUps *PowerUpService
	cfg      GameFlowConfig

	mu    sync.RWMutex
	flows map[string]*GameFlowManager
}

func NewFlowRegistry(db *gorm.DB, realtime *Realtime, powerUps *PowerUpService, cfg GameFlowConfig) *FlowRegistry {
	return &FlowRegistry{
		db:       db,
		realtime: realtime,
		powerUps: powerUps,
		cfg:      cfg,
		flows:    make(map[string]*GameFlowManager),
	}
}

// Get returns the session's flow manager if one is running.
func (r *FlowRegistry) Get(sessionID string) (*GameFlowManager, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	flow, ok := r.flows[sessionID]
	return flow, ok
}

// GetOrCreate returns the session's flow manager, constructing one over a
// fresh GameStateSync on first use. The second return reports whether the
// manager was just created and still needs Initialize.
func (r *FlowRegistry) GetOrCreate(sessionID string) (*GameFlowManager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if flow, ok := r.flows[sessionID]; ok {
		return flow, false
	}

	stateSync := NewGameStateSync(r.db, r.realtime, sessionID)
	flow := NewGameFlowManager(stateSync, r.powerUps, r.cfg)
	r.flows[sessionID] = flow
	return flow, true
}

// Remove tears down and forgets the session's flow manager.
func (r *FlowRegistry) Remove(sessionID string) {
	r.mu.Lock()
	flow, ok := r.flows[sessionID]
	delete(r.flows, sessionID)
	r.mu.Unlock()

	if ok {
		flow.Cleanup()
	}
}
