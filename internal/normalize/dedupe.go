package normalize

import (
	"strings"
	"unicode/utf8"

	"github.com/raphaelgruber/kaigo-harvest/internal/models"
)

// DedupeKey identifies a facility across sources: the registry number when
// present, otherwise a normalized composite of region, name, address and service.
func DedupeKey(r models.FacilityRecord) string {
	if r.RegistryNumber != "" {
		return "num:" + r.RegistryNumber
	}
	return "fallback:" + strings.Join([]string{
		NormalizeKey(r.Region),
		NormalizeKey(r.Name),
		NormalizeKey(r.Address),
		NormalizeKey(r.ServiceType),
	}, "|")
}

// Merge combines two records with the same key. Each field keeps the longer
// non-empty value, ties keep a. Sources are unioned.
func Merge(a, b models.FacilityRecord) models.FacilityRecord {
	return models.FacilityRecord{
		Region:         pickLonger(a.Region, b.Region),
		RegistryNumber: pickLonger(a.RegistryNumber, b.RegistryNumber),
		Name:           pickLonger(a.Name, b.Name),
		PostalCode:     pickLonger(a.PostalCode, b.PostalCode),
		Address:        pickLonger(a.Address, b.Address),
		Phone:          pickLonger(a.Phone, b.Phone),
		Fax:            pickLonger(a.Fax, b.Fax),
		ServiceType:    pickLonger(a.ServiceType, b.ServiceType),
		OperatorName:   pickLonger(a.OperatorName, b.OperatorName),
		OperatorType:   pickLonger(a.OperatorType, b.OperatorType),
		UserCount:      pickLonger(a.UserCount, b.UserCount),
		Sources:        MergeSources(a.Sources, b.Sources),
	}
}

// MergeSources unions two comma-joined tag lists, preserving first-seen order.
func MergeSources(a, b string) string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range []string{a, b} {
		for _, part := range strings.Split(list, ",") {
			tag := strings.TrimSpace(part)
			if tag == "" || seen[tag] {
				continue
			}
			seen[tag] = true
			out = append(out, tag)
		}
	}
	return strings.Join(out, ", ")
}

func pickLonger(current, next string) string {
	current = strings.TrimSpace(current)
	next = strings.TrimSpace(next)
	if current == "" {
		return next
	}
	if next == "" {
		return current
	}
	if utf8.RuneCountInString(next) > utf8.RuneCountInString(current) {
		return next
	}
	return current
}

// Dedupe collapses records sharing a DedupeKey, keeping first-seen order.
// Dedupe(Dedupe(x)) equals Dedupe(x).
func Dedupe(records []models.FacilityRecord) []models.FacilityRecord {
	index := make(map[string]int, len(records))
	out := make([]models.FacilityRecord, 0, len(records))
	for _, r := range records {
		key := DedupeKey(r)
		if i, ok := index[key]; ok {
			out[i] = Merge(out[i], r)
			continue
		}
		index[key] = len(out)
		out = append(out, r)
	}
	return out
}
