// Package export serializes facility records for download.
package export

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/raphaelgruber/kaigo-harvest/internal/models"
)

// Format is a download format.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatXLSX    Format = "xlsx"
	FormatParquet Format = "parquet"
)

// ParseFormat resolves a format name. "excel" is accepted for xlsx.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv":
		return FormatCSV, nil
	case "xlsx", "excel":
		return FormatXLSX, nil
	case "parquet":
		return FormatParquet, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	switch f {
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatParquet:
		return "application/vnd.apache.parquet"
	}
	return "text/csv; charset=utf-8"
}

// Filename is the suggested download name for f.
func (f Format) Filename() string {
	return "kaigo_data." + string(f)
}

// Write serializes records to w in format f.
func Write(w io.Writer, f Format, records []models.FacilityRecord) error {
	switch f {
	case FormatCSV:
		return WriteCSV(w, records)
	case FormatXLSX:
		return WriteXLSX(w, records)
	case FormatParquet:
		return WriteParquet(w, records)
	}
	return fmt.Errorf("unsupported export format %q", f)
}

// Headers are the export column titles in canonical order.
var Headers = []string{
	"都道府県", "事業所番号", "事業所名", "郵便番号", "住所", "電話番号",
	"FAX番号", "利用者人数", "サービス種別", "法人名", "法人種別",
}

func row(r models.FacilityRecord) []string {
	return []string{
		r.Region, r.RegistryNumber, r.Name, r.PostalCode, r.Address, r.Phone,
		r.Fax, r.UserCount, r.ServiceType, r.OperatorName, r.OperatorType,
	}
}

const bom = "\uFEFF"

// WriteCSV writes a BOM-prefixed UTF-8 CSV with every field quoted.
// Lines are separated by "\n" with no trailing newline.
func WriteCSV(w io.Writer, records []models.FacilityRecord) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(bom)
	writeQuoted(bw, Headers)
	for _, r := range records {
		bw.WriteByte('\n')
		writeQuoted(bw, row(r))
	}
	return bw.Flush()
}

func writeQuoted(bw *bufio.Writer, fields []string) {
	for i, f := range fields {
		if i > 0 {
			bw.WriteByte(',')
		}
		bw.WriteByte('"')
		bw.WriteString(strings.ReplaceAll(f, `"`, `""`))
		bw.WriteByte('"')
	}
}
