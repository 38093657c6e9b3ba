package store

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// PortCallRequest is the parent entity the checklist hangs off. This service
// reads it; creating requests belongs to the surrounding operations system.
type PortCallRequest struct {
	ID               string
	VesselName       string
	PortName         string
	ETA              *time.Time
	DueDate          *time.Time
	ShipContactEmail string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
