// Package api defines the data structures exchanged with the HIEv data
// repository service.
package api

// TimeWindow defines the time span covered by a data file.  The zero
// value means the file has no known time span and its start and end
// times are sent as empty strings.
type TimeWindow struct {
	Start string // yyyy-mm-dd hh:mm:ss
	End   string // yyyy-mm-dd hh:mm:ss
}

// IsZero reports whether tw carries no time span.
func (tw TimeWindow) IsZero() bool {
	return tw.Start == "" && tw.End == ""
}

// UploadPayload defines the metadata sent as form fields along with the
// contents of a data file.
type UploadPayload struct {
	Type         string // file type (e.g., RAW)
	ExperimentID string // HIEv experiment the file belongs to
	StartTime    string // start of the time span covered by the file
	EndTime      string // end of the time span covered by the file
	Description  string // free text description
	Format       string // file format (e.g., TOA5)
}

// FormField is a single name/value pair of an upload request.
type FormField struct {
	Name  string
	Value string
}

// Fields returns the form fields of the payload in a fixed order.
func (p UploadPayload) Fields() []FormField {
	return []FormField{
		{"type", p.Type},
		{"experiment_id", p.ExperimentID},
		{"start_time", p.StartTime},
		{"end_time", p.EndTime},
		{"description", p.Description},
		{"format", p.Format},
	}
}
