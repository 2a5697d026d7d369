// Package reference holds the read-only lookup tables for prefectures and care service types.
package reference

// Prefecture is one of the 47 administrative regions the registry is partitioned by.
type Prefecture struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Region string `json:"region"`
}

// ServiceType describes a care service category and how each upstream source identifies it.
type ServiceType struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	OpendataFile string   `json:"opendataFile"`
	CatalogCodes []string `json:"catalogCodes"`

	// DirectoryCode is the two-digit prefix the directory API uses for this category.
	DirectoryCode string `json:"directoryCode"`
}

var prefectures = []Prefecture{
	{Code: "01", Name: "北海道", Region: "北海道"},
	{Code: "02", Name: "青森県", Region: "東北"},
	{Code: "03", Name: "岩手県", Region: "東北"},
	{Code: "04", Name: "宮城県", Region: "東北"},
	{Code: "05", Name: "秋田県", Region: "東北"},
	{Code: "06", Name: "山形県", Region: "東北"},
	{Code: "07", Name: "福島県", Region: "東北"},
	{Code: "08", Name: "茨城県", Region: "関東"},
	{Code: "09", Name: "栃木県", Region: "関東"},
	{Code: "10", Name: "群馬県", Region: "関東"},
	{Code: "11", Name: "埼玉県", Region: "関東"},
	{Code: "12", Name: "千葉県", Region: "関東"},
	{Code: "13", Name: "東京都", Region: "関東"},
	{Code: "14", Name: "神奈川県", Region: "関東"},
	{Code: "15", Name: "新潟県", Region: "中部"},
	{Code: "16", Name: "富山県", Region: "中部"},
	{Code: "17", Name: "石川県", Region: "中部"},
	{Code: "18", Name: "福井県", Region: "中部"},
	{Code: "19", Name: "山梨県", Region: "中部"},
	{Code: "20", Name: "長野県", Region: "中部"},
	{Code: "21", Name: "岐阜県", Region: "中部"},
	{Code: "22", Name: "静岡県", Region: "中部"},
	{Code: "23", Name: "愛知県", Region: "中部"},
	{Code: "24", Name: "三重県", Region: "近畿"},
	{Code: "25", Name: "滋賀県", Region: "近畿"},
	{Code: "26", Name: "京都府", Region: "近畿"},
	{Code: "27", Name: "大阪府", Region: "近畿"},
	{Code: "28", Name: "兵庫県", Region: "近畿"},
	{Code: "29", Name: "奈良県", Region: "近畿"},
	{Code: "30", Name: "和歌山県", Region: "近畿"},
	{Code: "31", Name: "鳥取県", Region: "中国"},
	{Code: "32", Name: "島根県", Region: "中国"},
	{Code: "33", Name: "岡山県", Region: "中国"},
	{Code: "34", Name: "広島県", Region: "中国"},
	{Code: "35", Name: "山口県", Region: "中国"},
	{Code: "36", Name: "徳島県", Region: "四国"},
	{Code: "37", Name: "香川県", Region: "四国"},
	{Code: "38", Name: "愛媛県", Region: "四国"},
	{Code: "39", Name: "高知県", Region: "四国"},
	{Code: "40", Name: "福岡県", Region: "九州・沖縄"},
	{Code: "41", Name: "佐賀県", Region: "九州・沖縄"},
	{Code: "42", Name: "長崎県", Region: "九州・沖縄"},
	{Code: "43", Name: "熊本県", Region: "九州・沖縄"},
	{Code: "44", Name: "大分県", Region: "九州・沖縄"},
	{Code: "45", Name: "宮崎県", Region: "九州・沖縄"},
	{Code: "46", Name: "鹿児島県", Region: "九州・沖縄"},
	{Code: "47", Name: "沖縄県", Region: "九州・沖縄"},
}

var regions = []string{"北海道", "東北", "関東", "中部", "近畿", "中国", "四国", "九州・沖縄"}

var serviceTypes = []ServiceType{
	{ID: "houmon_kaigo", Name: "訪問介護", OpendataFile: "jigyousyo_houmonkaigo", CatalogCodes: []string{"110"}, DirectoryCode: "11"},
	{ID: "houmon_nyuyoku", Name: "訪問入浴介護", OpendataFile: "jigyousyo_houmonnyuyoku", CatalogCodes: []string{"120"}, DirectoryCode: "12"},
	{ID: "houmon_kango", Name: "訪問看護", OpendataFile: "jigyousyo_houmonkango", CatalogCodes: []string{"130"}, DirectoryCode: "13"},
	{ID: "houmon_rehab", Name: "訪問リハビリテーション", OpendataFile: "jigyousyo_houmonreha", CatalogCodes: []string{"140"}, DirectoryCode: "14"},
	{ID: "tsusho_kaigo", Name: "通所介護", OpendataFile: "jigyousyo_tsushokaigo", CatalogCodes: []string{"150", "155"}, DirectoryCode: "15"},
	{ID: "tsusho_rehab", Name: "通所リハビリテーション", OpendataFile: "jigyousyo_tsushoreha", CatalogCodes: []string{"160"}, DirectoryCode: "16"},
	{ID: "tanki_seikatsu", Name: "短期入所生活介護", OpendataFile: "jigyousyo_tankiseikatsu", CatalogCodes: []string{"210"}, DirectoryCode: "21"},
	{ID: "tanki_ryoyo", Name: "短期入所療養介護", OpendataFile: "jigyousyo_tankiryoyo", CatalogCodes: []string{"220", "230", "551"}, DirectoryCode: "22"},
	{ID: "tokutei_shisetsu", Name: "特定施設入居者生活介護", OpendataFile: "jigyousyo_tokutei", CatalogCodes: []string{"331", "332", "334", "335", "336", "337", "361", "362", "364"}, DirectoryCode: "33"},
	{ID: "fukushi_yogu", Name: "福祉用具貸与", OpendataFile: "jigyousyo_fukushiyougu", CatalogCodes: []string{"170"}, DirectoryCode: "17"},
	{ID: "kaigo_rojin_fukushi", Name: "介護老人福祉施設", OpendataFile: "jigyousyo_tokuyou", CatalogCodes: []string{"510", "540"}, DirectoryCode: "54"},
	{ID: "kaigo_rojin_hoken", Name: "介護老人保健施設", OpendataFile: "jigyousyo_rouken", CatalogCodes: []string{"520"}, DirectoryCode: "55"},
	{ID: "kaigo_iryoin", Name: "介護医療院", OpendataFile: "jigyousyo_iryouin", CatalogCodes: []string{"550"}, DirectoryCode: "56"},
	{ID: "ninchi_group", Name: "認知症対応型共同生活介護", OpendataFile: "jigyousyo_ninchigroup", CatalogCodes: []string{"320"}, DirectoryCode: "32"},
	{ID: "kyotaku_shien", Name: "居宅介護支援", OpendataFile: "jigyousyo_kyotaku", CatalogCodes: []string{"430"}, DirectoryCode: "46"},
	// The primary catalog publishes no file for support centers.
	{ID: "chiiki_houkatsu", Name: "地域包括支援センター", OpendataFile: "jigyousyo_houkatsu", CatalogCodes: nil, DirectoryCode: "60"},
}

// Prefectures returns a copy of the prefecture table in code order.
func Prefectures() []Prefecture {
	return append([]Prefecture(nil), prefectures...)
}

// Regions returns the regional groupings used by the selector UI.
func Regions() []string {
	return append([]string(nil), regions...)
}

// ServiceTypes returns a copy of the service type table.
func ServiceTypes() []ServiceType {
	out := make([]ServiceType, len(serviceTypes))
	for i, s := range serviceTypes {
		s.CatalogCodes = append([]string(nil), s.CatalogCodes...)
		out[i] = s
	}
	return out
}

// LookupPrefecture finds a prefecture by its two-digit code.
func LookupPrefecture(code string) (Prefecture, bool) {
	for _, p := range prefectures {
		if p.Code == code {
			return p, true
		}
	}
	return Prefecture{}, false
}

// LookupServiceType finds a service type by id.
func LookupServiceType(id string) (ServiceType, bool) {
	for _, s := range ServiceTypes() {
		if s.ID == id {
			return s, true
		}
	}
	return ServiceType{}, false
}

// PrefecturesByCodes resolves codes in table order. Unknown codes are ignored.
func PrefecturesByCodes(codes []string) []Prefecture {
	want := make(map[string]bool, len(codes))
	for _, c := range codes {
		want[c] = true
	}
	var out []Prefecture
	for _, p := range prefectures {
		if want[p.Code] {
			out = append(out, p)
		}
	}
	return out
}

// ServiceTypesByIDs resolves ids in table order. Unknown ids are ignored.
func ServiceTypesByIDs(ids []string) []ServiceType {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []ServiceType
	for _, s := range ServiceTypes() {
		if want[s.ID] {
			out = append(out, s)
		}
	}
	return out
}

// PrefectureNamed finds the prefecture whose name prefixes the given address.
func PrefectureNamed(address string) (Prefecture, bool) {
	for _, p := range prefectures {
		if len(address) >= len(p.Name) && address[:len(p.Name)] == p.Name {
			return p, true
		}
	}
	return Prefecture{}, false
}
