package models

import "fmt"

// Stage identifies one of the five workflow containers.
type Stage string

const (
	StageOrders  Stage = "orders"
	StageMain    Stage = "main"
	StageCall    Stage = "call"
	StageBooking Stage = "booking"
	StageArchive Stage = "archive"
)

// Stages lists every stage in workflow order.
var Stages = []Stage{StageOrders, StageMain, StageCall, StageBooking, StageArchive}

// Status labels mirrored on the record for display.
const (
	StatusOrdered  = "Ordered"
	StatusPending  = "Pending"
	StatusCall     = "Call"
	StatusBooked   = "Booked"
	StatusArchived = "Archived"
	StatusReorder  = "Reorder"
)

// IsValidStage checks if a stage is one of the five containers
func IsValidStage(stage Stage) bool {
	switch stage {
	case StageOrders, StageMain, StageCall, StageBooking, StageArchive:
		return true
	default:
		return false
	}
}

// ParseStage converts a raw path or query value into a Stage.
func ParseStage(raw string) (Stage, error) {
	s := Stage(raw)
	if !IsValidStage(s) {
		return "", fmt.Errorf("unknown stage %q", raw)
	}
	return s, nil
}

// TrackingPrefix returns the label prefix used for records held in the stage.
func (s Stage) TrackingPrefix() string {
	switch s {
	case StageOrders:
		return "ORD-"
	case StageMain:
		return "MAIN-"
	case StageCall:
		return "CALL-"
	case StageBooking:
		return "BOOK-"
	case StageArchive:
		return "ARCH-"
	default:
		return ""
	}
}

// TrackingID builds the human-readable label for a record of this stage.
func (s Stage) TrackingID(baseID string) string {
	return s.TrackingPrefix() + baseID
}
