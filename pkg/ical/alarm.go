package ical

import "time"

// AlarmAction is VALARM's ACTION property.
type AlarmAction int

const (
	ActionAudio AlarmAction = iota
	ActionDisplay
	ActionEmail
	ActionProcedure
)

func (a AlarmAction) String() string {
	switch a {
	case ActionAudio:
		return "AUDIO"
	case ActionEmail:
		return "EMAIL"
	case ActionProcedure:
		return "PROCEDURE"
	default:
		return "DISPLAY"
	}
}

// ParseAlarmAction maps an ACTION token, ok=false if unrecognized.
func ParseAlarmAction(s string) (AlarmAction, bool) {
	switch s {
	case "AUDIO":
		return ActionAudio, true
	case "DISPLAY":
		return ActionDisplay, true
	case "EMAIL":
		return ActionEmail, true
	case "PROCEDURE":
		return ActionProcedure, true
	default:
		return 0, false
	}
}

// Proximity is the RFC 9074 PROXIMITY parameter.
type Proximity int

const (
	ProximityNone Proximity = iota
	ProximityArrive
	ProximityDepart
	ProximityConnect
	ProximityDisconnect
)

func (p Proximity) String() string {
	switch p {
	case ProximityArrive:
		return "ARRIVE"
	case ProximityDepart:
		return "DEPART"
	case ProximityConnect:
		return "CONNECT"
	case ProximityDisconnect:
		return "DISCONNECT"
	default:
		return ""
	}
}

// Trigger is VALARM's TRIGGER: either a signed duration relative to the
// event's start or end, or an absolute instant.
type Trigger struct {
	Absolute    bool
	At          DateTime      // meaningful iff Absolute
	Offset      time.Duration // meaningful iff !Absolute; may be negative
	RelatedToEnd bool          // RELATED=END
}

// Alarm is the RFC 5545 VALARM component plus RFC 9074 extensions (§3.3).
type Alarm struct {
	Action  AlarmAction
	Trigger Trigger

	Description string // required (defaulted) for ActionDisplay on generate

	RepeatCount    int // >=0
	RepeatDuration time.Duration // required iff RepeatCount>0

	// RFC 9074
	UID          string
	Acknowledged *DateTime
	RelatedTo    string
	DefaultAlarm bool
	Proximity    Proximity
}

// EffectiveDescription returns Description, defaulting to a generic
// reminder text for DISPLAY alarms that omitted one, per spec §3.3's
// invariant that DISPLAY alarms always emit a description.
func (a *Alarm) EffectiveDescription() string {
	if a.Description != "" {
		return a.Description
	}
	if a.Action == ActionDisplay {
		return "Reminder"
	}
	return a.Description
}
