package client

import (
	"fmt"
	"sync"
	"time"
)

// TxState is the lifecycle state of a transaction.
type TxState int

const (
	// TxIdle is a transaction whose connection is held but not yet begun.
	TxIdle TxState = iota
	// TxActive accepts statements.
	TxActive
	// TxCommitted is terminal.
	TxCommitted
	// TxRolledBack is terminal.
	TxRolledBack
)

// String returns the string representation of the transaction state.
func (s TxState) String() string {
	switch s {
	case TxIdle:
		return "idle"
	case TxActive:
		return "active"
	case TxCommitted:
		return "committed"
	case TxRolledBack:
		return "rolled back"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s TxState) Terminal() bool {
	return s == TxCommitted || s == TxRolledBack
}

// canTransition checks a transaction state change.
//
// Legal transitions:
//   - idle → active
//   - idle → rolled back (begin failed)
//   - active → committed
//   - active → rolled back
func (s TxState) canTransition(to TxState) bool {
	switch s {
	case TxIdle:
		return to == TxActive || to == TxRolledBack
	case TxActive:
		return to == TxCommitted || to == TxRolledBack
	default:
		return false
	}
}

// ConnectionState represents the current state of the client connection.
type ConnectionState int

const (
	// Disconnected indicates no pool or connection is held.
	Disconnected ConnectionState = iota
	// Connecting indicates the retry loop is running.
	Connecting
	// Connected indicates a pool or single connection is ready.
	Connected
	// Closing indicates Close is releasing resources.
	Closing
)

// String returns the string representation of the connection state.
func (cs ConnectionState) String() string {
	switch cs {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case Closing:
		return "CLOSING"
	default:
		return "UNKNOWN"
	}
}

// StateTransition represents a change in connection state.
type StateTransition struct {
	From      ConnectionState
	To        ConnectionState
	Timestamp time.Time
	// Error is set for failed connection attempts.
	Error error
	// Duration is how long the previous state was held.
	Duration time.Duration
}

// StateChangeHandler is called when the connection state changes.
type StateChangeHandler func(transition StateTransition)

// stateManager guards connection state transitions.
type stateManager struct {
	current        ConnectionState
	lastTransition time.Time
	handlers       []StateChangeHandler
	mu             sync.RWMutex
}

func newStateManager() *stateManager {
	return &stateManager{
		current:        Disconnected,
		lastTransition: time.Now(),
	}
}

// transitionTo moves to newState or returns an error if the move is illegal.
//
// Legal transitions:
//   - DISCONNECTED → CONNECTING
//   - CONNECTING → CONNECTED
//   - CONNECTING → DISCONNECTED (retries exhausted)
//   - CONNECTED → CLOSING
//   - CLOSING → DISCONNECTED
func (sm *stateManager) transitionTo(newState ConnectionState, err error) error {
	sm.mu.Lock()
	if !legalConnTransition(sm.current, newState) {
		from := sm.current
		sm.mu.Unlock()
		return fmt.Errorf("illegal state transition: %s → %s", from, newState)
	}

	now := time.Now()
	transition := StateTransition{
		From:      sm.current,
		To:        newState,
		Timestamp: now,
		Error:     err,
		Duration:  now.Sub(sm.lastTransition),
	}
	sm.current = newState
	sm.lastTransition = now

	handlers := make([]StateChangeHandler, len(sm.handlers))
	copy(handlers, sm.handlers)
	sm.mu.Unlock()

	// Handlers run without the lock so they may read the state.
	for _, h := range handlers {
		h(transition)
	}
	return nil
}

func legalConnTransition(from, to ConnectionState) bool {
	switch from {
	case Disconnected:
		return to == Connecting
	case Connecting:
		return to == Connected || to == Disconnected
	case Connected:
		return to == Closing
	case Closing:
		return to == Disconnected
	default:
		return false
	}
}

func (sm *stateManager) onStateChange(h StateChangeHandler) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.handlers = append(sm.handlers, h)
}

func (sm *stateManager) state() ConnectionState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}
