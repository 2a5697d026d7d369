package export

import (
	"fmt"
	"io"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/raphaelgruber/kaigo-harvest/internal/models"
)

// parquetRow is the columnar layout of one record.
type parquetRow struct {
	Region         string `parquet:"name=prefecture, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	RegistryNumber string `parquet:"name=jigyousho_number, type=BYTE_ARRAY, convertedtype=UTF8"`
	Name           string `parquet:"name=name, type=BYTE_ARRAY, convertedtype=UTF8"`
	PostalCode     string `parquet:"name=postal_code, type=BYTE_ARRAY, convertedtype=UTF8"`
	Address        string `parquet:"name=address, type=BYTE_ARRAY, convertedtype=UTF8"`
	Phone          string `parquet:"name=phone, type=BYTE_ARRAY, convertedtype=UTF8"`
	Fax            string `parquet:"name=fax, type=BYTE_ARRAY, convertedtype=UTF8"`
	UserCount      string `parquet:"name=user_count, type=BYTE_ARRAY, convertedtype=UTF8"`
	ServiceType    string `parquet:"name=service_type, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	OperatorName   string `parquet:"name=corporate_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	OperatorType   string `parquet:"name=corporate_type, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Sources        string `parquet:"name=source_site, type=BYTE_ARRAY, convertedtype=UTF8"`
}

const parquetParallelism = 4

// WriteParquet writes records as a snappy-compressed Parquet file.
func WriteParquet(w io.Writer, records []models.FacilityRecord) (err error) {
	pw, err := writer.NewParquetWriterFromWriter(w, new(parquetRow), parquetParallelism)
	if err != nil {
		return fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, r := range records {
		if err := pw.Write(parquetRow{
			Region:         r.Region,
			RegistryNumber: r.RegistryNumber,
			Name:           r.Name,
			PostalCode:     r.PostalCode,
			Address:        r.Address,
			Phone:          r.Phone,
			Fax:            r.Fax,
			UserCount:      r.UserCount,
			ServiceType:    r.ServiceType,
			OperatorName:   r.OperatorName,
			OperatorType:   r.OperatorType,
			Sources:        r.Sources,
		}); err != nil {
			return fmt.Errorf("write parquet row: %w", err)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("finalize parquet: %v", r)
		}
	}()
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("finalize parquet: %w", err)
	}
	return nil
}
