package models

import (
	"strings"
	"time"
)

// ActivityKind is the coarse activity reported by the platform's transition API
type ActivityKind string

// ActivityKind constants
const (
	ActivityUnknown   ActivityKind = "UNKNOWN"
	ActivityStill     ActivityKind = "STILL"
	ActivityInVehicle ActivityKind = "IN_VEHICLE"
	ActivityRunning   ActivityKind = "RUNNING"
	ActivityWalking   ActivityKind = "WALKING"
	ActivityOnBicycle ActivityKind = "ON_BICYCLE"
	ActivityOnFoot    ActivityKind = "ON_FOOT"
)

// Platform detected-activity codes
const (
	codeInVehicle = 0
	codeOnBicycle = 1
	codeOnFoot    = 2
	codeStill     = 3
	codeUnknown   = 4
	codeTilting   = 5
	codeWalking   = 7
	codeRunning   = 8
)

// IsMovement reports whether the kind is a locomotion activity
func (k ActivityKind) IsMovement() bool {
	switch k {
	case ActivityInVehicle, ActivityRunning, ActivityWalking, ActivityOnBicycle, ActivityOnFoot:
		return true
	default:
		return false
	}
}

// String returns the platform name of the kind
func (k ActivityKind) String() string {
	return string(k)
}

// NormalizeActivityKind maps UNKNOWN and anything unrecognized to STILL
func NormalizeActivityKind(k ActivityKind) ActivityKind {
	if k.IsMovement() {
		return k
	}
	return ActivityStill
}

// ParseActivityKind parses a platform activity name (case-insensitive).
// Unrecognized names normalize to STILL.
func ParseActivityKind(s string) ActivityKind {
	name := strings.ToUpper(strings.TrimSpace(s))
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, " ", "_")

	switch ActivityKind(name) {
	case ActivityInVehicle, ActivityRunning, ActivityWalking, ActivityOnBicycle, ActivityOnFoot:
		return ActivityKind(name)
	}

	// Aliases seen from different platform bridges
	switch name {
	case "VEHICLE", "AUTOMOTIVE", "DRIVING":
		return ActivityInVehicle
	case "BICYCLE", "CYCLING":
		return ActivityOnBicycle
	case "WALK":
		return ActivityWalking
	case "RUN":
		return ActivityRunning
	}

	return ActivityStill
}

// ActivityKindFromCode maps the platform's numeric detected-activity code.
// UNKNOWN, TILTING and unrecognized codes normalize to STILL.
func ActivityKindFromCode(code int) ActivityKind {
	switch code {
	case codeInVehicle:
		return ActivityInVehicle
	case codeOnBicycle:
		return ActivityOnBicycle
	case codeOnFoot:
		return ActivityOnFoot
	case codeWalking:
		return ActivityWalking
	case codeRunning:
		return ActivityRunning
	case codeStill, codeUnknown, codeTilting:
		return ActivityStill
	default:
		return ActivityStill
	}
}

// PollingInterval returns the location polling interval suggested for an activity
func PollingInterval(k ActivityKind) time.Duration {
	switch NormalizeActivityKind(k) {
	case ActivityInVehicle, ActivityRunning:
		return 5 * time.Second
	case ActivityOnBicycle, ActivityWalking, ActivityOnFoot:
		return 10 * time.Second
	default:
		return time.Minute
	}
}

// ActivityState is the current activity as seen by the tracker
type ActivityState struct {
	Kind            ActivityKind  `json:"kind"`
	IsEntering      bool          `json:"is_entering"`
	PollingInterval time.Duration `json:"polling_interval"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// ActivityTransitionEvent is one enter/exit callback from the activity source
type ActivityTransitionEvent struct {
	Kind      ActivityKind `json:"kind"`
	IsEnter   bool         `json:"is_enter"`
	Timestamp time.Time    `json:"timestamp"` // zero means "now"
}
