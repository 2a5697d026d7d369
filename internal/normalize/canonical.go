package normalize

import (
	"strings"

	"github.com/raphaelgruber/kaigo-harvest/internal/models"
	"github.com/raphaelgruber/kaigo-harvest/internal/reference"
)

// ToCanonical maps raw rows to facility records tagged with sourceTag.
// serviceLabel is used when a row has no service type column. Empty shells are dropped.
func ToCanonical(rows []models.RawRow, serviceLabel, sourceTag string) []models.FacilityRecord {
	sourceTag = strings.TrimSpace(sourceTag)
	out := make([]models.FacilityRecord, 0, len(rows))
	for _, row := range rows {
		rec := canonicalize(NewLookup(row), serviceLabel, sourceTag)
		if rec.HasIdentity() {
			out = append(out, rec)
		}
	}
	return out
}

func canonicalize(l *Lookup, serviceLabel, sourceTag string) models.FacilityRecord {
	address := l.Find(FieldAddress)
	region := l.Find(FieldRegion)
	if region == "" {
		if p, ok := reference.PrefectureNamed(address); ok {
			region = p.Name
		}
	}
	service := l.Find(FieldServiceType)
	if service == "" {
		service = serviceLabel
	}
	return models.FacilityRecord{
		Region:         region,
		RegistryNumber: DigitsOnly(l.Find(FieldRegistryNumber)),
		Name:           l.Find(FieldName),
		PostalCode:     NormalizePostalCode(l.Find(FieldPostalCode)),
		Address:        address,
		Phone:          NormalizePhone(l.Find(FieldPhone)),
		Fax:            NormalizePhone(l.Find(FieldFax)),
		ServiceType:    service,
		OperatorName:   l.Find(FieldOperatorName),
		OperatorType:   l.Find(FieldOperatorType),
		UserCount:      DigitsOnly(l.Find(FieldUserCount)),
		Sources:        sourceTag,
	}
}

// FilterByRegion keeps rows that belong to one of prefs. A row matches when its
// region column names the prefecture, its registry number starts with the
// prefecture code or its address starts with the prefecture name. Only rows
// with none of those three columns fall back to any cell mentioning the name.
// No prefs means no filtering.
func FilterByRegion(rows []models.RawRow, prefs []reference.Prefecture) []models.RawRow {
	if len(prefs) == 0 {
		return rows
	}
	codes := make(map[string]bool, len(prefs))
	for _, p := range prefs {
		codes[p.Code] = true
	}

	out := make([]models.RawRow, 0, len(rows))
	for _, row := range rows {
		if rowInRegion(NewLookup(row), prefs, codes) {
			out = append(out, row)
		}
	}
	return out
}

func rowInRegion(l *Lookup, prefs []reference.Prefecture, codes map[string]bool) bool {
	region := l.Find(FieldRegion)
	for _, p := range prefs {
		if strings.Contains(region, p.Name) {
			return true
		}
	}

	num := DigitsOnly(l.Find(FieldRegistryNumber))
	if len(num) >= 2 && codes[num[:2]] {
		return true
	}

	address := l.Find(FieldAddress)
	for _, p := range prefs {
		if strings.HasPrefix(address, p.Name) {
			return true
		}
	}

	if region != "" || num != "" || address != "" {
		return false
	}
	all := l.joined()
	for _, p := range prefs {
		if strings.Contains(all, p.Name) {
			return true
		}
	}
	return false
}
