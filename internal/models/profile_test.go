package models

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

const sampleProfile = `{
	"dia": 5,
	"carbratio": [{"time": "00:00", "value": 10, "timeAsSeconds": 0}, {"time": "12:00", "value": 8, "timeAsSeconds": 43200}],
	"sens": [{"time": "00:00", "value": 50, "timeAsSeconds": 0}],
	"basal": [{"time": "00:00", "value": 0.8, "timeAsSeconds": 0}, {"time": "06:30", "value": 1.1, "timeAsSeconds": 23400}],
	"target_low": [{"time": "00:00", "value": 90, "timeAsSeconds": 0}],
	"target_high": [{"time": "00:00", "value": 120, "timeAsSeconds": 0}],
	"timezone": "Europe/Vienna",
	"units": "mg/dL",
	"carbs_hr": 20
}`

func TestDecodeProfileStore(t *testing.T) {
	profile, err := DecodeProfileStore([]byte(sampleProfile))
	if err != nil {
		t.Fatalf("DecodeProfileStore() error = %v", err)
	}
	if len(profile.Basal) != 2 || profile.Basal[1].TimeAsSeconds != 23400 {
		t.Errorf("Basal = %+v", profile.Basal)
	}
	if string(profile.Extra["carbs_hr"]) != "20" {
		t.Errorf("Extra[carbs_hr] = %s, want 20", profile.Extra["carbs_hr"])
	}

	out, err := json.Marshal(profile)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(out), `"carbs_hr":20`) {
		t.Errorf("marshalled profile lost carbs_hr: %s", out)
	}
}

func TestValidateProfile_Violations(t *testing.T) {
	base, err := DecodeProfileStore([]byte(sampleProfile))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		mutate    func(p *ProfileStore)
		wantField string
	}{
		{"zero dia", func(p *ProfileStore) { p.DIA = 0 }, "dia"},
		{"zero carb ratio", func(p *ProfileStore) { p.CarbRatio[1].Value = 0 }, "carbratio[1].value"},
		{"negative isf", func(p *ProfileStore) { p.Sens[0].Value = -5 }, "sens[0].value"},
		{"negative basal", func(p *ProfileStore) { p.Basal[0].Value = -0.1 }, "basal[0].value"},
		{"bad clock", func(p *ProfileStore) { p.Basal[1].Time = "6:30" }, "basal[1].time"},
		{"signed clock", func(p *ProfileStore) { p.Basal[1].Time = "+6:30" }, "basal[1].time"},
		{"seconds mismatch", func(p *ProfileStore) { p.Basal[1].TimeAsSeconds = 100 }, "basal[1].timeAsSeconds"},
		{"empty basal", func(p *ProfileStore) { p.Basal = []ScheduleEntry{} }, "basal"},
		{"missing units", func(p *ProfileStore) { p.Units = "" }, "units"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base.Clone()
			tt.mutate(&p)

			var sv *SchemaViolation
			if err := ValidateProfile(p); !errors.As(err, &sv) {
				t.Fatalf("ValidateProfile() error = %v, want *SchemaViolation", err)
			}
			if sv.Field != tt.wantField {
				t.Errorf("Field = %q, want %q (%v)", sv.Field, tt.wantField, sv)
			}
		})
	}
}

func TestProfileStore_CloneIsIndependent(t *testing.T) {
	low := 80.0
	original := ProfileStore{
		DIA:       5,
		CarbRatio: []ScheduleEntry{{Time: "00:00", Value: 10}},
		TargetLow: []TargetEntry{{Time: "00:00", Value: 90, Low: &low}},
		Extra:     map[string]json.RawMessage{"delay": json.RawMessage("20")},
	}

	clone := original.Clone()
	clone.CarbRatio[0].Value = 99
	*clone.TargetLow[0].Low = 1
	clone.Extra["delay"] = json.RawMessage("0")

	if original.CarbRatio[0].Value != 10 {
		t.Error("clone shares carb ratio slice")
	}
	if *original.TargetLow[0].Low != 80 {
		t.Error("clone shares target pointer")
	}
	if string(original.Extra["delay"]) != "20" {
		t.Error("clone shares extra map")
	}
}

func TestProfileDocument_PreservesUnknownFields(t *testing.T) {
	raw := `{"_id":"abc","defaultProfile":"Default","enteredBy":"loop","store":{"Default":` + sampleProfile + `},"mills":1}`

	doc, err := DecodeProfileDocument([]byte(raw))
	if err != nil {
		t.Fatalf("DecodeProfileDocument() error = %v", err)
	}
	if doc.DefaultProfile != "Default" || doc.ID != "abc" {
		t.Errorf("doc = %+v", doc)
	}

	updated := doc.WithProfile("Sport", doc.Store["Default"])
	if len(doc.Store) != 1 {
		t.Errorf("WithProfile mutated the original store: %v", doc.ProfileNames())
	}
	if got := updated.ProfileNames(); len(got) != 2 || got[0] != "Default" || got[1] != "Sport" {
		t.Errorf("ProfileNames() = %v", got)
	}

	out, err := json.Marshal(updated)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["enteredBy"] != "loop" {
		t.Errorf("enteredBy lost: %s", out)
	}
	if decoded["_id"] != "abc" {
		t.Errorf("_id lost: %s", out)
	}
}

func TestDecodeProfileDocument_MissingStore(t *testing.T) {
	_, err := DecodeProfileDocument([]byte(`{"defaultProfile":"Default"}`))
	var sv *SchemaViolation
	if !errors.As(err, &sv) || sv.Field != "store" {
		t.Errorf("DecodeProfileDocument() error = %v, want violation on store", err)
	}
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in          string
		withSeconds bool
		wantSeconds int
		wantErr     bool
	}{
		{"00:00", false, 0, false},
		{"06:30", false, 23400, false},
		{"23:59", false, 86340, false},
		{"06:30:45", true, 23400, false},
		{"24:00", false, 0, true},
		{"12:60", false, 0, true},
		{"6:30", false, 0, true},
		{"06:30", true, 0, true},
		{"06:30:00", false, 0, true},
		{"ab:cd", false, 0, true},
		{"+6:00", false, 0, true},
		{"-1:00", false, 0, true},
		{"06:+5", false, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			c, err := ParseClock(tt.in, tt.withSeconds)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseClock(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err == nil && c.Seconds() != tt.wantSeconds {
				t.Errorf("Seconds() = %d, want %d", c.Seconds(), tt.wantSeconds)
			}
		})
	}
}

func TestDecodeAutotuneResult(t *testing.T) {
	raw := `{"basalprofile":[{"start":"00:00:00","minutes":60,"rate":1.1}],"carb_ratio":12,"sens":55}`
	result, err := DecodeAutotuneResult([]byte(raw))
	if err != nil {
		t.Fatalf("DecodeAutotuneResult() error = %v", err)
	}
	if result.DIA != nil {
		t.Errorf("DIA = %v, want nil", *result.DIA)
	}

	bad := map[string]string{
		"zero carb ratio": `{"basalprofile":[],"carb_ratio":0,"sens":55}`,
		"zero dia":        `{"basalprofile":[],"carb_ratio":12,"sens":55,"dia":0}`,
		"bad start":       `{"basalprofile":[{"start":"00:00","minutes":60,"rate":1}],"carb_ratio":12,"sens":55}`,
		"negative rate":   `{"basalprofile":[{"start":"00:00:00","minutes":60,"rate":-1}],"carb_ratio":12,"sens":55}`,
		"missing basal":   `{"carb_ratio":12,"sens":55}`,
	}
	for name, raw := range bad {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeAutotuneResult([]byte(raw)); !errors.Is(err, ErrSchemaViolation) {
				t.Errorf("DecodeAutotuneResult() error = %v, want schema violation", err)
			}
		})
	}
}
