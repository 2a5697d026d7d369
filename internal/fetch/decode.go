package fetch

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/raphaelgruber/kaigo-harvest/internal/models"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"
)

var textEncodings = []encoding.Encoding{
	unicode.UTF8,
	japanese.ShiftJIS,
	japanese.EUCJP,
}

// DecodeText decodes b with whichever candidate encoding yields the most
// plausible Japanese text. Ties go to UTF-8.
func DecodeText(b []byte) string {
	best, bestScore, found := "", 0, false
	for _, enc := range textEncodings {
		out, err := enc.NewDecoder().Bytes(b)
		if err != nil {
			continue
		}
		s := string(out)
		if score := textScore(s); !found || score > bestScore {
			best, bestScore, found = s, score, true
		}
	}
	return best
}

// textScore rewards kana, kanji, digits and line breaks and heavily penalizes replacement characters.
func textScore(s string) int {
	score := 0
	for _, r := range s {
		switch {
		case r >= 'ぁ' && r <= 'ん', r >= 'ァ' && r <= 'ン', r >= '一' && r <= '龠':
			score += 2
		case r >= '0' && r <= '9', r == '\n':
			score++
		case r == '\uFFFD':
			score -= 20
		}
	}
	return score
}

var delimiters = []rune{',', '\t', ';'}

// DetectDelimiter picks the candidate that splits the first few non-blank lines into the most fields.
func DetectDelimiter(text string) rune {
	var sample []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		sample = append(sample, line)
		if len(sample) == 4 {
			break
		}
	}

	best, bestScore := ',', -1
	for _, d := range delimiters {
		score := 0
		for _, line := range sample {
			score += strings.Count(line, string(d)) + 1
		}
		if score > bestScore {
			best, bestScore = d, score
		}
	}
	return best
}

// ParseDelimited parses header-first delimited text. Ragged rows are
// tolerated, values are trimmed and blank lines skipped.
func ParseDelimited(text string) []models.RawRow {
	text = strings.TrimPrefix(text, "\ufeff")
	text = strings.ReplaceAll(text, "\r\n", "\n")

	r := csv.NewReader(strings.NewReader(text))
	r.Comma = DetectDelimiter(text)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var header []string
	var rows []models.RawRow
	failures := 0
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if failures++; failures > 100 {
				break
			}
			continue
		}
		if blankRecord(rec) {
			continue
		}
		if header == nil {
			header = make([]string, len(rec))
			for i, h := range rec {
				header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
			}
			continue
		}

		var row models.RawRow
		for i, h := range header {
			if h == "" || i >= len(rec) {
				continue
			}
			v := strings.TrimSpace(rec[i])
			if prev, ok := row.Get(h); ok && prev != "" {
				continue
			}
			row.Set(h, v)
		}
		rows = append(rows, row)
	}
	return rows
}

func blankRecord(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

var zipMagic = []byte("PK\x03\x04")

func looksLikeZip(b []byte) bool {
	return bytes.HasPrefix(b, zipMagic)
}
