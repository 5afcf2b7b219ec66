package models

import (
	"encoding/json"
	"maps"
	"slices"
	"sort"
)

// ScheduleEntry is one slot of a day-partitioned schedule (basal, carb ratio, ISF)
type ScheduleEntry struct {
	Time          string  `json:"time" validate:"required,clock"`
	Value         float64 `json:"value" validate:"gte=0"`
	TimeAsSeconds int     `json:"timeAsSeconds" validate:"gte=0"`
}

// NewScheduleEntry builds an entry whose timeAsSeconds is derived from c
func NewScheduleEntry(c Clock, value float64) ScheduleEntry {
	return ScheduleEntry{
		Time:          c.String(),
		Value:         value,
		TimeAsSeconds: c.Seconds(),
	}
}

// TargetEntry is one slot of the target_low / target_high schedules
type TargetEntry struct {
	Time          string   `json:"time" validate:"required,clock"`
	Value         float64  `json:"value" validate:"gt=0"`
	Low           *float64 `json:"low,omitempty" validate:"omitnil,gt=0"`
	High          *float64 `json:"high,omitempty" validate:"omitnil,gt=0"`
	TimeAsSeconds int      `json:"timeAsSeconds" validate:"gte=0"`
}

// ProfileStore is a single named profile within a profile document
type ProfileStore struct {
	DIA        float64         `json:"dia" validate:"gt=0"`
	CarbRatio  []ScheduleEntry `json:"carbratio" validate:"required,dive"`
	Sens       []ScheduleEntry `json:"sens" validate:"required,dive"`
	Basal      []ScheduleEntry `json:"basal" validate:"required,min=1,dive"`
	TargetLow  []TargetEntry   `json:"target_low" validate:"required,dive"`
	TargetHigh []TargetEntry   `json:"target_high" validate:"required,dive"`
	Timezone   string          `json:"timezone" validate:"required"`
	Units      string          `json:"units" validate:"required"`

	// Extra holds fields such as carbs_hr or delay that pass through unchanged
	Extra map[string]json.RawMessage `json:"-"`
}

type profileStoreFields ProfileStore

var profileKeys = []string{"dia", "carbratio", "sens", "basal", "target_low", "target_high", "timezone", "units"}

// UnmarshalJSON decodes the schedules and remembers unmodelled fields
func (p *ProfileStore) UnmarshalJSON(data []byte) error {
	var fields profileStoreFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	extra, err := unknownFields(data, profileKeys)
	if err != nil {
		return err
	}
	fields.Extra = extra
	*p = ProfileStore(fields)
	return nil
}

// MarshalJSON writes the schedules over any preserved fields
func (p ProfileStore) MarshalJSON() ([]byte, error) {
	return mergeFields(profileStoreFields(p), p.Extra)
}

// Clone returns a deep copy that shares no slices with p
func (p ProfileStore) Clone() ProfileStore {
	out := p
	out.CarbRatio = slices.Clone(p.CarbRatio)
	out.Sens = slices.Clone(p.Sens)
	out.Basal = slices.Clone(p.Basal)
	out.TargetLow = cloneTargets(p.TargetLow)
	out.TargetHigh = cloneTargets(p.TargetHigh)
	out.Extra = maps.Clone(p.Extra)
	return out
}

func cloneTargets(in []TargetEntry) []TargetEntry {
	if in == nil {
		return nil
	}
	out := make([]TargetEntry, len(in))
	for i, e := range in {
		out[i] = e
		if e.Low != nil {
			v := *e.Low
			out[i].Low = &v
		}
		if e.High != nil {
			v := *e.High
			out[i].High = &v
		}
	}
	return out
}

// ProfileDocument is the top-level document served by /api/v1/profile.
// Fields this package does not model are kept in Extra and written back untouched.
type ProfileDocument struct {
	ID             string                  `json:"_id,omitempty"`
	DefaultProfile string                  `json:"defaultProfile,omitempty"`
	Store          map[string]ProfileStore `json:"store" validate:"required"`
	StartDate      string                  `json:"startDate,omitempty"`
	Mills          int64                   `json:"mills,omitempty"`
	Units          string                  `json:"units,omitempty"`
	CreatedAt      string                  `json:"created_at,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

type profileDocumentFields ProfileDocument

var documentKeys = []string{"_id", "defaultProfile", "store", "startDate", "mills", "units", "created_at"}

// UnmarshalJSON decodes the known fields and remembers the rest
func (d *ProfileDocument) UnmarshalJSON(data []byte) error {
	var fields profileDocumentFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	extra, err := unknownFields(data, documentKeys)
	if err != nil {
		return err
	}
	fields.Extra = extra
	*d = ProfileDocument(fields)
	return nil
}

// MarshalJSON writes the known fields over any preserved ones
func (d ProfileDocument) MarshalJSON() ([]byte, error) {
	return mergeFields(profileDocumentFields(d), d.Extra)
}

// ProfileNames returns the store keys in sorted order
func (d ProfileDocument) ProfileNames() []string {
	names := make([]string, 0, len(d.Store))
	for name := range d.Store {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WithProfile returns a copy of d whose store maps name to p
func (d ProfileDocument) WithProfile(name string, p ProfileStore) ProfileDocument {
	out := d
	out.Store = make(map[string]ProfileStore, len(d.Store)+1)
	for k, v := range d.Store {
		out.Store[k] = v.Clone()
	}
	out.Store[name] = p.Clone()
	out.Extra = maps.Clone(d.Extra)
	return out
}

// unknownFields returns the members of a JSON object whose keys are not in known
func unknownFields(data []byte, known []string) (map[string]json.RawMessage, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for _, k := range known {
		delete(all, k)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

// mergeFields marshals v and lays its members over extra
func mergeFields(v any, extra map[string]json.RawMessage) ([]byte, error) {
	known, err := json.Marshal(v)
	if err != nil || len(extra) == 0 {
		return known, err
	}
	merged := maps.Clone(extra)
	var members map[string]json.RawMessage
	if err := json.Unmarshal(known, &members); err != nil {
		return nil, err
	}
	maps.Copy(merged, members)
	return json.Marshal(merged)
}
