package connection

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// MeterInfo holds information about a connected meter
type MeterInfo struct {
	ConnectionID  string
	DeviceID      string
	Description   string
	ConnectedAt   time.Time
	LastHeardFrom time.Time
	Conn          net.Conn
	mu            sync.RWMutex
}

// UpdateLastHeardFrom updates the last activity timestamp
func (c *MeterInfo) UpdateLastHeardFrom() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LastHeardFrom = time.Now()
}

// GetLastHeardFrom returns the last activity timestamp
func (c *MeterInfo) GetLastHeardFrom() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.LastHeardFrom
}

// Manager manages all active meter connections
type Manager struct {
	meters   map[string]*MeterInfo // key: connection_id
	byDevice map[string][]string   // key: device_id, value: []connection_id
	mu       sync.RWMutex
	maxConns int
}

// NewManager creates a new connection manager
func NewManager(maxConnections int) *Manager {
	return &Manager{
		meters:   make(map[string]*MeterInfo),
		byDevice: make(map[string][]string),
		maxConns: maxConnections,
	}
}

// Register adds a new meter connection
func (m *Manager) Register(connectionID, deviceID, description string, conn net.Conn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check max connections
	if len(m.meters) >= m.maxConns {
		return ErrMaxConnectionsReached
	}

	// Check if connection ID already exists
	if _, exists := m.meters[connectionID]; exists {
		return fmt.Errorf("connection ID %s already registered", connectionID)
	}

	now := time.Now()
	meterInfo := &MeterInfo{
		ConnectionID:  connectionID,
		DeviceID:      deviceID,
		Description:   description,
		ConnectedAt:   now,
		LastHeardFrom: now,
		Conn:          conn,
	}

	m.meters[connectionID] = meterInfo
	m.byDevice[deviceID] = append(m.byDevice[deviceID], connectionID)

	return nil
}

// Unregister removes a meter connection
func (m *Manager) Unregister(connectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	meter, exists := m.meters[connectionID]
	if !exists {
		return fmt.Errorf("connection ID %s not found", connectionID)
	}

	// Remove from device map
	deviceID := meter.DeviceID
	if connIDs, ok := m.byDevice[deviceID]; ok {
		// Remove this connection ID from the slice
		for i, id := range connIDs {
			if id == connectionID {
				m.byDevice[deviceID] = append(connIDs[:i], connIDs[i+1:]...)
				break
			}
		}
		// Clean up empty device entries
		if len(m.byDevice[deviceID]) == 0 {
			delete(m.byDevice, deviceID)
		}
	}

	// Remove from meters map
	delete(m.meters, connectionID)

	return nil
}

// Get retrieves meter information by connection ID
func (m *Manager) Get(connectionID string) (*MeterInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	meter, exists := m.meters[connectionID]
	return meter, exists
}

// GetByDevice retrieves all connection IDs for a device
func (m *Manager) GetByDevice(deviceID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	connIDs := m.byDevice[deviceID]
	// Return a copy to avoid race conditions
	result := make([]string, len(connIDs))
	copy(result, connIDs)
	return result
}

// UpdateActivity updates the last heard from timestamp for a connection
func (m *Manager) UpdateActivity(connectionID string) error {
	m.mu.RLock()
	meter, exists := m.meters[connectionID]
	m.mu.RUnlock()

	if !exists {
		return fmt.Errorf("connection ID %s not found", connectionID)
	}

	meter.UpdateLastHeardFrom()
	return nil
}

// GetInactiveConnections returns connection IDs that haven't been heard from in the given duration
func (m *Manager) GetInactiveConnections(timeout time.Duration) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	var inactive []string

	for connID, meter := range m.meters {
		lastHeard := meter.GetLastHeardFrom()
		if now.Sub(lastHeard) > timeout {
			inactive = append(inactive, connID)
		}
	}

	return inactive
}

// Count returns the total number of active connections
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.meters)
}

// CountByDevice returns the number of active connections per device
func (m *Manager) CountByDevice() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]int)
	for deviceID, connIDs := range m.byDevice {
		result[deviceID] = len(connIDs)
	}
	return result
}

// GetAllConnections returns all connection IDs
func (m *Manager) GetAllConnections() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	connIDs := make([]string, 0, len(m.meters))
	for connID := range m.meters {
		connIDs = append(connIDs, connID)
	}
	return connIDs
}

// Stats returns statistics about the connection manager
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return ManagerStats{
		TotalConnections: len(m.meters),
		UniqueDevices:    len(m.byDevice),
		MaxConnections:   m.maxConns,
	}
}

// ManagerStats contains statistics about the connection manager
type ManagerStats struct {
	TotalConnections int
	UniqueDevices    int
	MaxConnections   int
}

var (
	ErrMaxConnectionsReached = &ConnectionError{"maximum connections reached"}
)

// ConnectionError represents a connection error
type ConnectionError struct {
	msg string
}

func (e *ConnectionError) Error() string {
	return e.msg
}
