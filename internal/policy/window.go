package policy

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"
)

// timeOfDay is a duration since local midnight.
type timeOfDay time.Duration

var timeOfDayLayouts = []string{"15:04:05", "15:04"}

func parseTimeOfDay(s string) (timeOfDay, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeOfDayLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return timeOfDay(time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second), nil
		}
	}
	return 0, fmt.Errorf("expected HH:MM or HH:MM:SS")
}

func clockOf(t time.Time) timeOfDay {
	h, m, s := t.Clock()
	return timeOfDay(time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second +
		time.Duration(t.Nanosecond()))
}

var weekdayTokens = map[time.Weekday]string{
	time.Monday:    "mon",
	time.Tuesday:   "tue",
	time.Wednesday: "wed",
	time.Thursday:  "thu",
	time.Friday:    "fri",
	time.Saturday:  "sat",
	time.Sunday:    "sun",
}

// matchesWeekday is a case-insensitive substring test, so "mon,wed" and
// "Monday" both match Monday.
func matchesWeekday(filter string, day time.Weekday) bool {
	return strings.Contains(strings.ToLower(filter), weekdayTokens[day])
}

// compiledWindow is a MaintenanceWindow with its fields parsed.
type compiledWindow struct {
	dayOfWeek string
	start     timeOfDay
	end       timeOfDay
	location  *time.Location
}

func compileWindow(policyName string, w MaintenanceWindow) (*compiledWindow, error) {
	if strings.TrimSpace(w.Timezone) == "" {
		return nil, &PatternError{PolicyName: policyName, Field: "timezone", Value: w.Timezone,
			Err: fmt.Errorf("timezone is required")}
	}
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return nil, &PatternError{PolicyName: policyName, Field: "timezone", Value: w.Timezone, Err: err}
	}
	start, err := parseTimeOfDay(w.StartTime)
	if err != nil {
		return nil, &PatternError{PolicyName: policyName, Field: "start_time", Value: w.StartTime, Err: err}
	}
	end, err := parseTimeOfDay(w.EndTime)
	if err != nil {
		return nil, &PatternError{PolicyName: policyName, Field: "end_time", Value: w.EndTime, Err: err}
	}
	return &compiledWindow{
		dayOfWeek: w.DayOfWeek,
		start:     start,
		end:       end,
		location:  loc,
	}, nil
}

// contains reports whether now falls inside the window. Bounds are
// inclusive; a window whose start is after its end wraps past midnight.
// The day filter applies to the local day of now.
func (w *compiledWindow) contains(now time.Time) bool {
	local := now.In(w.location)
	if w.dayOfWeek != "" && !matchesWeekday(w.dayOfWeek, local.Weekday()) {
		return false
	}

	current := clockOf(local)
	if w.start <= w.end {
		return current >= w.start && current <= w.end
	}
	return current >= w.start || current <= w.end
}

// InMaintenanceWindow reports whether now falls inside any window. Every
// window is validated, even after a match, so a malformed entry is always
// reported.
func InMaintenanceWindow(policyName string, windows []MaintenanceWindow, now time.Time) (bool, error) {
	inside := false
	for _, w := range windows {
		cw, err := compileWindow(policyName, w)
		if err != nil {
			return false, err
		}
		if cw.contains(now) {
			inside = true
		}
	}
	return inside, nil
}
