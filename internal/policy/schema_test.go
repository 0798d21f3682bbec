package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRulesJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		wantErr string
	}{
		{name: "empty_rules", raw: `{}`},
		{name: "full_rules", raw: `{
			"rotation_limits": {"soft_limit": 5, "hard_limit": 10, "period": "30d"},
			"maintenance_windows": [{"day_of_week": "mon-fri", "start_time": "09:00", "end_time": "17:00:00", "timezone": "UTC"}],
			"preview_first": true,
			"require_approval": false,
			"auto_redeploy": true,
			"allowed_environments": ["production"]
		}`},
		{name: "null_lists", raw: `{"maintenance_windows": null, "allowed_environments": null}`},
		{name: "empty_lists", raw: `{"maintenance_windows": [], "allowed_environments": []}`},
		{name: "unknown_rule", raw: `{"max_rotations": 3}`, wantErr: "schema validation failed"},
		{name: "negative_limit", raw: `{"rotation_limits": {"hard_limit": -1, "period": "30d"}}`, wantErr: "schema validation failed"},
		{name: "missing_period", raw: `{"rotation_limits": {"hard_limit": 1}}`, wantErr: "period"},
		{name: "bad_time_format", raw: `{"maintenance_windows": [{"start_time": "9am", "end_time": "17:00", "timezone": "UTC"}]}`, wantErr: "schema validation failed"},
		{name: "missing_timezone", raw: `{"maintenance_windows": [{"start_time": "09:00", "end_time": "17:00"}]}`, wantErr: "timezone"},
		{name: "approval_not_bool", raw: `{"require_approval": "yes"}`, wantErr: "schema validation failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateRulesJSON([]byte(tt.raw))
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() *Policy {
		return &Policy{
			Name:            "nightly",
			Scope:           ScopeSecret,
			ProviderPattern: "aws",
			SecretPattern:   "prod-*",
			Rules: Rules{
				RotationLimits:     &RotationLimits{HardLimit: intPtr(10), Period: "30d"},
				MaintenanceWindows: []MaintenanceWindow{{StartTime: "22:00", EndTime: "02:00", Timezone: "Europe/Berlin"}},
			},
		}
	}

	t.Run("valid", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, Validate(valid()))
	})

	t.Run("bad_scope", func(t *testing.T) {
		t.Parallel()
		p := valid()
		p.Scope = "global"
		assert.ErrorContains(t, Validate(p), "invalid policy scope")
	})

	t.Run("missing_name", func(t *testing.T) {
		t.Parallel()
		p := valid()
		p.Name = "  "
		assert.ErrorContains(t, Validate(p), "name is required")
	})

	t.Run("schema_violation", func(t *testing.T) {
		t.Parallel()
		p := valid()
		p.Rules.RotationLimits.Period = ""
		err := Validate(p)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `policy "nightly"`)
	})

	t.Run("unknown_timezone", func(t *testing.T) {
		t.Parallel()
		p := valid()
		p.Rules.MaintenanceWindows[0].Timezone = "Atlantis/Capital"
		var pe *PatternError
		require.ErrorAs(t, Validate(p), &pe)
		assert.Equal(t, "timezone", pe.Field)
	})

	t.Run("out_of_range_hour", func(t *testing.T) {
		t.Parallel()
		p := valid()
		// Passes the schema pattern but is not a valid clock time.
		p.Rules.MaintenanceWindows[0].EndTime = "29:00"
		var pe *PatternError
		require.ErrorAs(t, Validate(p), &pe)
		assert.Equal(t, "end_time", pe.Field)
	})
}
