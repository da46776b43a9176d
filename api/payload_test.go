package api

import (
	"reflect"
	"testing"
)

func TestTimeWindowIsZero(t *testing.T) {
	if !(TimeWindow{}).IsZero() {
		t.Fatalf("TimeWindow{}.IsZero() = false, want true")
	}
	tw := TimeWindow{Start: "2016-01-01 00:00:00", End: "2016-01-01 11:59:59"}
	if tw.IsZero() {
		t.Fatalf("%v.IsZero() = true, want false", tw)
	}
}

func TestFields(t *testing.T) {
	p := UploadPayload{
		Type:         "RAW",
		ExperimentID: "70",
		StartTime:    "2016-01-01 00:00:00",
		EndTime:      "2016-01-01 11:59:59",
		Description:  "flux tower A",
		Format:       "TOA5",
	}
	want := []FormField{
		{"type", "RAW"},
		{"experiment_id", "70"},
		{"start_time", "2016-01-01 00:00:00"},
		{"end_time", "2016-01-01 11:59:59"},
		{"description", "flux tower A"},
		{"format", "TOA5"},
	}
	if got := p.Fields(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Fields() = %+v, want %+v", got, want)
	}
}
