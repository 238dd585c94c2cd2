package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jrmarin/energy-server/internal/analysis"
)

// AlertState tracks the alert lifecycle for one meter
type AlertState struct {
	Status          string           `json:"status"` // CLEAR, ALERTING
	Date            string           `json:"date"`   // analyzed day, "2006-01-02"
	State           string           `json:"state"`  // engine classification at raise time
	MaxAbsDeviation analysis.Percent `json:"max_abs_deviation"`
	RaisedAt        time.Time        `json:"raised_at"`
	LastSeen        time.Time        `json:"last_seen"`
}

const (
	AlertStateClear  = "CLEAR"
	AlertStateActive = "ALERTING"
)

// StateManager manages alert states in Redis. The state is what keeps a
// meter that stays anomalous across repeated analyses from raising a fresh
// alert every run.
type StateManager struct {
	redis *redis.Client
}

// NewStateManager creates a new state manager
func NewStateManager(redisClient *redis.Client) *StateManager {
	return &StateManager{redis: redisClient}
}

// GetState retrieves the alert state for a meter
func (sm *StateManager) GetState(ctx context.Context, deviceID string) (*AlertState, error) {
	key := fmt.Sprintf("alert_state:%s", deviceID)

	data, err := sm.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		// No state exists, return CLEAR state
		return &AlertState{
			Status: AlertStateClear,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get state from Redis: %w", err)
	}

	var state AlertState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	return &state, nil
}

// SetState saves the alert state for a meter
func (sm *StateManager) SetState(ctx context.Context, deviceID string, state *AlertState) error {
	key := fmt.Sprintf("alert_state:%s", deviceID)

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	// Set with expiration (e.g., 7 days) to auto-cleanup stale states
	if err := sm.redis.Set(ctx, key, data, 7*24*time.Hour).Err(); err != nil {
		return fmt.Errorf("failed to set state in Redis: %w", err)
	}

	return nil
}

// DeleteState removes the alert state (returns to CLEAR)
func (sm *StateManager) DeleteState(ctx context.Context, deviceID string) error {
	key := fmt.Sprintf("alert_state:%s", deviceID)
	return sm.redis.Del(ctx, key).Err()
}

// GetAllStates returns all active alert states (for monitoring)
func (sm *StateManager) GetAllStates(ctx context.Context) (map[string]*AlertState, error) {
	pattern := "alert_state:*"

	keys, err := sm.redis.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, err
	}

	states := make(map[string]*AlertState)
	for _, key := range keys {
		data, err := sm.redis.Get(ctx, key).Result()
		if err != nil {
			continue
		}

		var state AlertState
		if err := json.Unmarshal([]byte(data), &state); err != nil {
			continue
		}

		states[key] = &state
	}

	return states, nil
}
