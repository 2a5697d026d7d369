// Package normalize maps heterogeneous registry rows onto FacilityRecord and
// collapses duplicates across sources.
package normalize

import (
	"regexp"
	"strings"

	"github.com/raphaelgruber/kaigo-harvest/internal/models"
	"golang.org/x/text/unicode/norm"
)

// Field names a canonical FacilityRecord attribute.
type Field string

const (
	FieldRegion         Field = "region"
	FieldRegistryNumber Field = "registryNumber"
	FieldName           Field = "name"
	FieldPostalCode     Field = "postalCode"
	FieldAddress        Field = "address"
	FieldPhone          Field = "phone"
	FieldFax            Field = "fax"
	FieldServiceType    Field = "serviceType"
	FieldOperatorName   Field = "operatorName"
	FieldOperatorType   Field = "operatorType"
	FieldUserCount      Field = "userCount"
)

// Synonyms lists the header spellings seen in the wild for each field, most specific first.
var Synonyms = map[Field][]string{
	FieldRegion: {
		"都道府県", "都道府県名", "所在地都道府県", "都道府県コード", "所在地（都道府県）",
		"prefecture", "pref",
	},
	FieldRegistryNumber: {
		"事業所番号", "指定事業所番号", "介護保険事業所番号", "事業所コード",
		"jigyoushoNumber", "jigyousho_number", "businessNumber", "business_number", "facilityCode",
	},
	FieldName: {
		"事業所の名称", "事業所名", "事業所名称", "施設名", "名称", "name",
	},
	FieldPostalCode: {
		"郵便番号", "〒", "postcode", "postalCode", "zip",
	},
	FieldAddress: {
		"事業所の所在地", "事業所所在地", "住所", "所在地", "address",
	},
	FieldPhone: {
		"電話番号", "電話", "TEL", "tel", "phone",
	},
	FieldFax: {
		"FAX番号", "FAX", "ＦＡＸ番号", "ファックス番号", "fax",
	},
	FieldServiceType: {
		"サービス種別", "サービス種類", "serviceType",
	},
	FieldOperatorName: {
		"法人の名称", "法人名", "運営法人名", "法人名称", "corporateName",
	},
	FieldOperatorType: {
		"法人の種別", "法人種別", "法人区分", "corporateType",
	},
	FieldUserCount: {
		"利用者人数", "利用者数", "TotalUserNum", "totalUserNum", "userCount", "user_count",
	},
}

var keyStrip = regexp.MustCompile(`[\s\p{Zs}_\-/\\()（）［］\[\]{}「」『』【】:：・･.,，。]`)

// NormalizeKey folds a header or value for comparison: NFKC, lower case,
// whitespace and common punctuation removed.
func NormalizeKey(s string) string {
	return keyStrip.ReplaceAllString(strings.ToLower(norm.NFKC.String(s)), "")
}

// Lookup indexes a raw row by normalized header.
type Lookup struct {
	values map[string][]string
	keys   []string
}

// NewLookup builds a lookup over row in header order, so when several columns
// fold to the same key the leftmost one wins. Blank headers are skipped,
// blank values are kept out.
func NewLookup(row models.RawRow) *Lookup {
	l := &Lookup{values: make(map[string][]string, len(row.Headers))}
	for _, header := range row.Headers {
		value := row.Values[header]
		key := NormalizeKey(header)
		if key == "" {
			continue
		}
		if _, ok := l.values[key]; !ok {
			l.keys = append(l.keys, key)
			l.values[key] = nil
		}
		if v := strings.TrimSpace(value); v != "" {
			l.values[key] = append(l.values[key], v)
		}
	}
	return l
}

// Find returns the first non-empty value for field. Exact header matches win
// over substring matches in either direction.
func (l *Lookup) Find(field Field) string {
	candidates := Synonyms[field]
	for _, c := range candidates {
		if vals := l.values[NormalizeKey(c)]; len(vals) > 0 {
			return vals[0]
		}
	}
	for _, c := range candidates {
		nc := NormalizeKey(c)
		if nc == "" {
			continue
		}
		for _, key := range l.keys {
			if strings.Contains(key, nc) || strings.Contains(nc, key) {
				if vals := l.values[key]; len(vals) > 0 {
					return vals[0]
				}
			}
		}
	}
	return ""
}

// joined returns every non-empty value in the row separated by spaces.
func (l *Lookup) joined() string {
	var parts []string
	for _, k := range l.keys {
		parts = append(parts, l.values[k]...)
	}
	return strings.Join(parts, " ")
}
