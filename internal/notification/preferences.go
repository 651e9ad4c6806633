package notification

import (
	"time"
)

// Permits decides whether a notification of the given type, scheduled at the
// given instant, may be delivered under the user's preferences. Pure function;
// the gate never mutates the preference record.
//
// It returns false when the channel routed for the type is toggled off, when
// the type is not in the opted-in set, or when scheduledFor falls inside the
// user's quiet hours evaluated in their own timezone.
func Permits(p *Preference, t NotificationType, scheduledFor time.Time) bool {
	if p == nil {
		return false
	}

	switch ChannelForType(t) {
	case ChannelEmail:
		if !p.EmailEnabled {
			return false
		}
	case ChannelPush:
		if !p.PushEnabled {
			return false
		}
	}

	if !p.OptedIn(t) {
		return false
	}

	return !inQuietHours(p, scheduledFor)
}

// inQuietHours reports whether at falls within [QuietHoursStart, QuietHoursEnd)
// in the preference's timezone. Start > end means the window wraps midnight.
func inQuietHours(p *Preference, at time.Time) bool {
	if p.QuietHoursStart == "" || p.QuietHoursEnd == "" {
		return false
	}

	start, err := parseClock(p.QuietHoursStart)
	if err != nil {
		return false
	}
	end, err := parseClock(p.QuietHoursEnd)
	if err != nil {
		return false
	}
	if start == end {
		return false
	}

	loc := time.UTC
	if p.Timezone != "" {
		if l, err := time.LoadLocation(p.Timezone); err == nil {
			loc = l
		}
	}

	local := at.In(loc)
	minute := local.Hour()*60 + local.Minute()

	if start < end {
		return minute >= start && minute < end
	}
	// Wraps midnight, e.g. 22:00-08:00.
	return minute >= start || minute < end
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// ValidatePreference checks the fields the orchestrator requires before
// persisting a preference update.
func ValidatePreference(p *Preference) error {
	if p == nil {
		return &ValidationError{Field: "preference", Reason: "missing"}
	}
	if p.UserID == "" {
		return &ValidationError{Field: "user_id", Reason: "required"}
	}
	if len(p.Types) == 0 {
		return &ValidationError{Field: "types", Reason: "at least one type required"}
	}
	for _, t := range p.Types {
		if !t.Valid() {
			return &ValidationError{Field: "types", Reason: "unknown type " + string(t)}
		}
	}
	if p.QuietHoursStart != "" || p.QuietHoursEnd != "" {
		if _, err := parseClock(p.QuietHoursStart); err != nil {
			return &ValidationError{Field: "quiet_hours_start", Reason: "must be HH:MM"}
		}
		if _, err := parseClock(p.QuietHoursEnd); err != nil {
			return &ValidationError{Field: "quiet_hours_end", Reason: "must be HH:MM"}
		}
	}
	if p.Timezone != "" {
		if _, err := time.LoadLocation(p.Timezone); err != nil {
			return &ValidationError{Field: "timezone", Reason: "unresolvable IANA identifier"}
		}
	}
	return nil
}
