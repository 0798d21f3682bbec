package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(hour, minute int) time.Time {
	// 2025-03-12 is a Wednesday.
	return time.Date(2025, 3, 12, hour, minute, 0, 0, time.UTC)
}

func TestInMaintenanceWindow(t *testing.T) {
	t.Parallel()

	business := MaintenanceWindow{StartTime: "09:00", EndTime: "17:00", Timezone: "UTC"}
	overnight := MaintenanceWindow{StartTime: "22:00", EndTime: "02:00", Timezone: "UTC"}

	tests := []struct {
		name    string
		windows []MaintenanceWindow
		now     time.Time
		want    bool
	}{
		{name: "before_business_hours", windows: []MaintenanceWindow{business}, now: at(3, 0), want: false},
		{name: "during_business_hours", windows: []MaintenanceWindow{business}, now: at(12, 0), want: true},
		{name: "start_inclusive", windows: []MaintenanceWindow{business}, now: at(9, 0), want: true},
		{name: "end_inclusive", windows: []MaintenanceWindow{business}, now: at(17, 0), want: true},
		{name: "after_end", windows: []MaintenanceWindow{business}, now: at(17, 1), want: false},
		{name: "overnight_before_midnight", windows: []MaintenanceWindow{overnight}, now: at(23, 30), want: true},
		{name: "overnight_after_midnight", windows: []MaintenanceWindow{overnight}, now: at(1, 0), want: true},
		{name: "overnight_daytime", windows: []MaintenanceWindow{overnight}, now: at(10, 0), want: false},
		{name: "or_combined", windows: []MaintenanceWindow{business, overnight}, now: at(23, 0), want: true},
		{name: "or_combined_outside_all", windows: []MaintenanceWindow{business, overnight}, now: at(5, 0), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := InMaintenanceWindow("p", tt.windows, tt.now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInMaintenanceWindow_DayOfWeek(t *testing.T) {
	t.Parallel()

	wednesday := at(12, 0)

	tests := []struct {
		filter string
		want   bool
	}{
		{filter: "wed", want: true},
		{filter: "Wednesday", want: true},
		{filter: "MON,WED,FRI", want: true},
		{filter: "mon-fri", want: false},
		{filter: "sat", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			t.Parallel()
			w := MaintenanceWindow{DayOfWeek: tt.filter, StartTime: "00:00", EndTime: "23:59:59", Timezone: "UTC"}
			got, err := InMaintenanceWindow("p", []MaintenanceWindow{w}, wednesday)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInMaintenanceWindow_Timezone(t *testing.T) {
	t.Parallel()

	// 14:00 UTC is 09:00 in New York during daylight saving time.
	now := time.Date(2025, 7, 1, 14, 0, 0, 0, time.UTC)
	w := MaintenanceWindow{StartTime: "09:00", EndTime: "10:00", Timezone: "America/New_York"}

	got, err := InMaintenanceWindow("p", []MaintenanceWindow{w}, now)
	require.NoError(t, err)
	assert.True(t, got)

	// The day filter applies to the local day: 01:00 UTC Thursday is still
	// Wednesday evening in Los Angeles.
	thursdayUTC := time.Date(2025, 3, 13, 1, 0, 0, 0, time.UTC)
	la := MaintenanceWindow{DayOfWeek: "wed", StartTime: "17:00", EndTime: "19:00", Timezone: "America/Los_Angeles"}
	got, err = InMaintenanceWindow("p", []MaintenanceWindow{la}, thursdayUTC)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestInMaintenanceWindow_Malformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		w     MaintenanceWindow
		field string
	}{
		{name: "bad_timezone", w: MaintenanceWindow{StartTime: "09:00", EndTime: "10:00", Timezone: "Mars/Olympus"}, field: "timezone"},
		{name: "empty_timezone", w: MaintenanceWindow{StartTime: "09:00", EndTime: "10:00"}, field: "timezone"},
		{name: "bad_start", w: MaintenanceWindow{StartTime: "9am", EndTime: "10:00", Timezone: "UTC"}, field: "start_time"},
		{name: "bad_end", w: MaintenanceWindow{StartTime: "09:00", EndTime: "25:00", Timezone: "UTC"}, field: "end_time"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := InMaintenanceWindow("nightly", []MaintenanceWindow{tt.w}, at(9, 30))
			var pe *PatternError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.field, pe.Field)
			assert.Equal(t, "nightly", pe.PolicyName)
		})
	}
}

func TestInMaintenanceWindow_MalformedAfterMatch(t *testing.T) {
	t.Parallel()

	windows := []MaintenanceWindow{
		{StartTime: "00:00", EndTime: "23:59", Timezone: "UTC"},
		{StartTime: "bogus", EndTime: "10:00", Timezone: "UTC"},
	}
	_, err := InMaintenanceWindow("p", windows, at(12, 0))
	assert.Error(t, err)
}
