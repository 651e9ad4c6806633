package notification

import (
	"testing"
	"time"
)

func optedInPref(types ...NotificationType) *Preference {
	return &Preference{
		UserID:       "u1",
		EmailEnabled: true,
		PushEnabled:  true,
		Types:        types,
		Timezone:     "UTC",
	}
}

func TestPermits(t *testing.T) {
	noon := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		pref *Preference
		typ  NotificationType
		at   time.Time
		want bool
	}{
		{
			name: "opted in, no quiet hours",
			pref: optedInPref(TypeHabitReminder),
			typ:  TypeHabitReminder,
			at:   noon,
			want: true,
		},
		{
			name: "type not opted in",
			pref: optedInPref(TypeWeeklySummary),
			typ:  TypeHabitReminder,
			at:   noon,
			want: false,
		},
		{
			name: "email channel disabled",
			pref: func() *Preference {
				p := optedInPref(TypeHabitReminder)
				p.EmailEnabled = false
				return p
			}(),
			typ:  TypeHabitReminder,
			at:   noon,
			want: false,
		},
		{
			name: "push channel disabled blocks push-routed type",
			pref: func() *Preference {
				p := optedInPref(TypeStreakWarning)
				p.PushEnabled = false
				return p
			}(),
			typ:  TypeStreakWarning,
			at:   noon,
			want: false,
		},
		{
			name: "push disabled does not block email-routed type",
			pref: func() *Preference {
				p := optedInPref(TypeHabitReminder)
				p.PushEnabled = false
				return p
			}(),
			typ:  TypeHabitReminder,
			at:   noon,
			want: true,
		},
		{
			name: "inside quiet hours",
			pref: func() *Preference {
				p := optedInPref(TypeHabitReminder)
				p.QuietHoursStart = "11:00"
				p.QuietHoursEnd = "13:00"
				return p
			}(),
			typ:  TypeHabitReminder,
			at:   noon,
			want: false,
		},
		{
			name: "quiet hours end is exclusive",
			pref: func() *Preference {
				p := optedInPref(TypeHabitReminder)
				p.QuietHoursStart = "10:00"
				p.QuietHoursEnd = "12:00"
				return p
			}(),
			typ:  TypeHabitReminder,
			at:   noon,
			want: true,
		},
		{
			name: "quiet hours wrap midnight, late evening",
			pref: func() *Preference {
				p := optedInPref(TypeHabitReminder)
				p.QuietHoursStart = "22:00"
				p.QuietHoursEnd = "08:00"
				return p
			}(),
			typ:  TypeHabitReminder,
			at:   time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC),
			want: false,
		},
		{
			name: "quiet hours wrap midnight, early morning",
			pref: func() *Preference {
				p := optedInPref(TypeHabitReminder)
				p.QuietHoursStart = "22:00"
				p.QuietHoursEnd = "08:00"
				return p
			}(),
			typ:  TypeHabitReminder,
			at:   time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC),
			want: false,
		},
		{
			name: "quiet hours wrap midnight, daytime allowed",
			pref: func() *Preference {
				p := optedInPref(TypeHabitReminder)
				p.QuietHoursStart = "22:00"
				p.QuietHoursEnd = "08:00"
				return p
			}(),
			typ:  TypeHabitReminder,
			at:   noon,
			want: true,
		},
		{
			name: "quiet hours evaluated in user timezone",
			pref: func() *Preference {
				p := optedInPref(TypeHabitReminder)
				p.QuietHoursStart = "22:00"
				p.QuietHoursEnd = "08:00"
				p.Timezone = "America/New_York"
				return p
			}(),
			typ: TypeHabitReminder,
			// 03:00 UTC is 22:00 or 23:00 in New York depending on DST;
			// either way inside the quiet window.
			at:   time.Date(2026, 3, 10, 3, 30, 0, 0, time.UTC),
			want: false,
		},
		{
			name: "nil preference denies",
			pref: nil,
			typ:  TypeHabitReminder,
			at:   noon,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Permits(tt.pref, tt.typ, tt.at); got != tt.want {
				t.Errorf("Permits() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidatePreference(t *testing.T) {
	tests := []struct {
		name    string
		pref    *Preference
		wantErr bool
	}{
		{"valid", optedInPref(TypeHabitReminder), false},
		{"missing user id", &Preference{Types: []NotificationType{TypeHabitReminder}}, true},
		{"empty types", &Preference{UserID: "u1"}, true},
		{"unknown type", &Preference{UserID: "u1", Types: []NotificationType{"BOGUS"}}, true},
		{
			"bad quiet hours",
			&Preference{UserID: "u1", Types: []NotificationType{TypeHabitReminder}, QuietHoursStart: "25:99", QuietHoursEnd: "08:00"},
			true,
		},
		{
			"bad timezone",
			&Preference{UserID: "u1", Types: []NotificationType{TypeHabitReminder}, Timezone: "Mars/Olympus"},
			true,
		},
		{
			"valid quiet hours and timezone",
			&Preference{UserID: "u1", Types: []NotificationType{TypeHabitReminder}, QuietHoursStart: "22:00", QuietHoursEnd: "08:00", Timezone: "Europe/Berlin"},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePreference(tt.pref)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePreference() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
