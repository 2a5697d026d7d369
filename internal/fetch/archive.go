package fetch

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/raphaelgruber/kaigo-harvest/internal/models"
)

// ExtractArchive decodes and parses every .csv member of a zip archive.
func ExtractArchive(b []byte) ([]models.RawRow, error) {
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	var rows []models.RawRow
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.HasSuffix(strings.ToLower(f.Name), ".csv") {
			continue
		}
		data, err := readMember(f)
		if err != nil {
			slog.Warn("skipping archive member", "member", f.Name, "error", err)
			continue
		}
		rows = append(rows, ParseDelimited(DecodeText(data))...)
	}
	return rows, nil
}

func readMember(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, maxBodyBytes))
}
