// Package models defines the data structures shared across the harvester.
package models

import "strings"

// FacilityRecord is one care facility in canonical form.
type FacilityRecord struct {
	Region         string `json:"prefecture"`
	RegistryNumber string `json:"jigyoushoNumber"`
	Name           string `json:"name"`
	PostalCode     string `json:"postalCode"`
	Address        string `json:"address"`
	Phone          string `json:"phone"`
	Fax            string `json:"fax"`
	ServiceType    string `json:"serviceType"`
	OperatorName   string `json:"corporateName"`
	OperatorType   string `json:"corporateType"`
	UserCount      string `json:"userCount"`

	// Sources is a comma-joined set of source tags the record was seen in.
	Sources string `json:"sourceSite"`
}

// HasIdentity reports whether the record carries at least one identifying field.
// Records without one are empty shells and are never emitted.
func (r FacilityRecord) HasIdentity() bool {
	return r.Name != "" || r.Address != "" || r.RegistryNumber != "" ||
		r.Phone != "" || r.Fax != "" || r.UserCount != ""
}

// SourceList splits Sources into its individual tags.
func (r FacilityRecord) SourceList() []string {
	var out []string
	for _, part := range strings.Split(r.Sources, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// RawRow is one decoded tabular row. Headers keeps the source column order
// and Values is keyed by header name.
type RawRow struct {
	Headers []string
	Values  map[string]string
}

// RowOf builds a row from header/value pairs, in order. A trailing header
// without a value is ignored.
func RowOf(pairs ...string) RawRow {
	var r RawRow
	for i := 0; i+1 < len(pairs); i += 2 {
		r.Set(pairs[i], pairs[i+1])
	}
	return r
}

// Set stores value under header, appending header on first use.
func (r *RawRow) Set(header, value string) {
	if r.Values == nil {
		r.Values = make(map[string]string)
	}
	if _, ok := r.Values[header]; !ok {
		r.Headers = append(r.Headers, header)
	}
	r.Values[header] = value
}

// Get returns the value under header and whether the column exists.
func (r RawRow) Get(header string) (string, bool) {
	v, ok := r.Values[header]
	return v, ok
}

// SourceStatus is the outcome of one source adapter run.
type SourceStatus string

const (
	SourceOK    SourceStatus = "ok"
	SourceEmpty SourceStatus = "empty"
	SourceError SourceStatus = "error"
)

// SourceStat records how one source contributed to a job.
type SourceStat struct {
	Source string       `json:"source"`
	Label  string       `json:"label,omitempty"`
	Count  int          `json:"count"`
	Status SourceStatus `json:"status"`
	Error  string       `json:"error,omitempty"`
}
