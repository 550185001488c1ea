// Package hardware keeps the registry of campus devices and talks to ESP32
// camera nodes.
package hardware

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

type Type string

const (
	TypeESP32Cam        Type = "ESP32_CAM"
	TypeDoorLock        Type = "DOOR_LOCK"
	TypeBiometricReader Type = "BIOMETRIC_READER"
)

func (t Type) Valid() bool {
	return t == TypeESP32Cam || t == TypeDoorLock || t == TypeBiometricReader
}

type Status string

const (
	StatusOnline  Status = "ONLINE"
	StatusOffline Status = "OFFLINE"
)

// DefaultOfflineAfter is how long a node may stay silent and still count as online.
const DefaultOfflineAfter = 2 * time.Minute

var (
	ErrNotFound    = errors.New("hardware node not found")
	ErrInvalidNode = errors.New("invalid hardware node")
	ErrNotCamera   = errors.New("hardware node is not a camera")
)

type Node struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Type      Type       `json:"type"`
	IPAddress string     `json:"ipAddress"`
	Status    Status     `json:"status"`
	LastSeen  *time.Time `json:"lastSeen,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// NodeSpec is the input for registering a node.
type NodeSpec struct {
	Name      string `json:"name"`
	Type      Type   `json:"type"`
	IPAddress string `json:"ipAddress"`
}

func (s NodeSpec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: name required", ErrInvalidNode)
	}
	if !s.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidNode, s.Type)
	}
	host := s.IPAddress
	if h, _, err := net.SplitHostPort(s.IPAddress); err == nil {
		host = h
	}
	if net.ParseIP(host) == nil {
		return fmt.Errorf("%w: ip address %q", ErrInvalidNode, s.IPAddress)
	}
	return nil
}

// statusAt derives the node status from its last heartbeat.
func statusAt(lastSeen *time.Time, now time.Time, offlineAfter time.Duration) Status {
	if lastSeen == nil || now.Sub(*lastSeen) > offlineAfter {
		return StatusOffline
	}
	return StatusOnline
}
