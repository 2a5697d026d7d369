package models

import (
	"testing"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

func TestRecordIDString(t *testing.T) {
	id := surrealmodels.RecordID{Table: "harvest_job", ID: "abc123"}
	got, err := RecordIDString(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "abc123" {
		t.Errorf("RecordIDString = %q, want %q", got, "abc123")
	}

	if _, err := RecordIDString(surrealmodels.RecordID{Table: "harvest_job", ID: 42}); err == nil {
		t.Error("expected error for numeric id")
	}
}

func TestHasIdentity(t *testing.T) {
	tests := []struct {
		name string
		rec  FacilityRecord
		want bool
	}{
		{"empty", FacilityRecord{}, false},
		{"only region and service", FacilityRecord{Region: "東京都", ServiceType: "訪問介護", Sources: "x"}, false},
		{"name", FacilityRecord{Name: "さくら"}, true},
		{"fax only", FacilityRecord{Fax: "03-1111-2222"}, true},
		{"user count only", FacilityRecord{UserCount: "12"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.HasIdentity(); got != tt.want {
				t.Errorf("HasIdentity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSourceList(t *testing.T) {
	r := FacilityRecord{Sources: "mhlw.go.jp, data.go.jp,,"}
	got := r.SourceList()
	if len(got) != 2 || got[0] != "mhlw.go.jp" || got[1] != "data.go.jp" {
		t.Errorf("SourceList() = %v", got)
	}
}
