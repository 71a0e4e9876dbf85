package bot

import (
	"sync"
	"time"
)

// Step tags what input a conversation is waiting for.
type Step int

const (
	StepNone Step = iota

	StepLoginPhone
	StepLoginCode

	StepManageChoose
	StepManageAction
	StepManageMonths
	StepManageConfirmDelete

	StepAdminMenu
	StepAdminBulkMonths
	StepAdminUserID
	StepAdminAccountChoice
	StepAdminMonths

	StepAdjustScope
	StepAdjustUserID
	StepAdjustAccountChoice
	StepAdjustDays

	StepCleanConfirm
)

// ConversationState is one in-flight multi-turn command. Sessions live in
// memory only and expire after a few idle minutes.
type ConversationState struct {
	Step       Step
	Phone      string
	Accounts   []string // snapshot of the numbered list last shown
	AccountID  string
	TargetUser string

	deadline time.Time
}

const sessionTTL = 5 * time.Minute

// StateStore holds conversation state per chat scope.
type StateStore struct {
	mu       sync.Mutex
	sessions map[string]ConversationState
	now      func() time.Time
}

func NewStateStore() *StateStore {
	return &StateStore{
		sessions: make(map[string]ConversationState),
		now:      time.Now,
	}
}

func (s *StateStore) Get(key string) (ConversationState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.sessions[key]
	if !ok {
		return ConversationState{}, false
	}
	if s.now().After(state.deadline) {
		delete(s.sessions, key)
		return ConversationState{}, false
	}
	return state, true
}

// Set stores the state and refreshes its idle deadline.
func (s *StateStore) Set(key string, state ConversationState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state.deadline = s.now().Add(sessionTTL)
	s.sessions[key] = state
}

func (s *StateStore) Clear(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key)
}
