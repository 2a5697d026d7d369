package fetch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/japanese"
)

const sampleCSV = "事業所番号,事業所名,住所\n1370000001,さくら苑,東京都新宿区1-2-3\n1370000002,ひまわり,東京都港区4-5-6\n"

func TestDecodeText(t *testing.T) {
	sjis, err := japanese.ShiftJIS.NewEncoder().String(sampleCSV)
	require.NoError(t, err)
	euc, err := japanese.EUCJP.NewEncoder().String(sampleCSV)
	require.NoError(t, err)

	tests := []struct {
		name string
		in   []byte
	}{
		{"utf-8", []byte(sampleCSV)},
		{"shift_jis", []byte(sjis)},
		{"euc-jp", []byte(euc)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, sampleCSV, DecodeText(tt.in))
		})
	}
}

func TestDecodeTextASCII(t *testing.T) {
	assert.Equal(t, "a,b\n1,2\n", DecodeText([]byte("a,b\n1,2\n")))
}

func TestDetectDelimiter(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want rune
	}{
		{"comma", "a,b,c\n1,2,3", ','},
		{"tab", "a\tb\tc\n1\t2\t3", '\t'},
		{"semicolon", "a;b;c\n1;2;3", ';'},
		{"skips blank lines", "\n\n  \na;b\n1;2", ';'},
		{"empty defaults to comma", "", ','},
		{"tie prefers comma", "a", ','},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectDelimiter(tt.in))
		})
	}
}

func TestParseDelimited(t *testing.T) {
	text := "\ufeff事業所名;住所;電話番号\r\n さくら ; 東京都新宿区 ;03-1111-2222\r\n\r\nひまわり;大阪府大阪市\r\n;;\r\nあおば;神奈川県;045-000-0000;extra\r\n"

	rows := ParseDelimited(text)
	require.Len(t, rows, 3)

	assert.Equal(t, "さくら", rows[0].Values["事業所名"])
	assert.Equal(t, "東京都新宿区", rows[0].Values["住所"])
	assert.Equal(t, "03-1111-2222", rows[0].Values["電話番号"])

	assert.Equal(t, "ひまわり", rows[1].Values["事業所名"])
	_, hasPhone := rows[1].Values["電話番号"]
	assert.False(t, hasPhone, "short rows only carry the columns present")

	assert.Equal(t, "045-000-0000", rows[2].Values["電話番号"])
}

func TestParseDelimitedQuoted(t *testing.T) {
	rows := ParseDelimited("name,address\n\"さくら, 本館\",\"東京都\"\n")
	require.Len(t, rows, 1)
	assert.Equal(t, "さくら, 本館", rows[0].Values["name"])
}

func TestParseDelimitedHeaderOnly(t *testing.T) {
	assert.Empty(t, ParseDelimited("a,b,c\n"))
	assert.Empty(t, ParseDelimited(""))
}
