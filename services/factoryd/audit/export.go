package audit

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// Report describes the files written by Export.
type Report struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Count       int       `json:"count"`
	CSVPath     string    `json:"csvPath"`
	ParquetPath string    `json:"parquetPath"`
}

// Between returns the records created in [start, end), oldest first.
func (s *Store) Between(ctx context.Context, start, end time.Time) ([]Record, error) {
	if !end.After(start) {
		return nil, errors.New("audit: window end must be after start")
	}
	var records []Record
	err := s.db.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", start.UTC(), end.UTC()).
		Order("created_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Export writes the records in [start, end) to a CSV and a Parquet file under
// dir. Attribute maps are flattened into one column per attribute key.
func (s *Store) Export(ctx context.Context, dir string, start, end time.Time) (*Report, error) {
	records, err := s.Between(ctx, start, end)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: create export dir: %w", err)
	}
	base := fmt.Sprintf("factory-events-%s-%s", start.UTC().Format("20060102T150405"), end.UTC().Format("20060102T150405"))
	report := &Report{
		Start:       start.UTC(),
		End:         end.UTC(),
		Count:       len(records),
		CSVPath:     filepath.Join(dir, base+".csv"),
		ParquetPath: filepath.Join(dir, base+".parquet"),
	}
	if err := writeCSV(report.CSVPath, records); err != nil {
		return nil, err
	}
	if err := writeParquet(report.ParquetPath, records); err != nil {
		_ = os.Remove(report.CSVPath)
		return nil, err
	}
	s.logger.Info("audit export written", "records", len(records), "csv", report.CSVPath, "parquet", report.ParquetPath)
	return report, nil
}

func writeCSV(path string, records []Record) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audit: create csv: %w", err)
	}
	defer func() {
		file.Close()
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	decoded := make([]map[string]string, len(records))
	keySet := make(map[string]struct{})
	for i, record := range records {
		attrs, err := record.Decode()
		if err != nil {
			return fmt.Errorf("audit: record %s: %w", record.ID, err)
		}
		decoded[i] = attrs
		for key := range attrs {
			keySet[key] = struct{}{}
		}
	}
	keys := make([]string, 0, len(keySet))
	for key := range keySet {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	w := csv.NewWriter(file)
	header := append([]string{"id", "type", "channel", "created_at"}, keys...)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("audit: write csv header: %w", err)
	}
	for i, record := range records {
		row := []string{record.ID.String(), record.Type, record.Channel, record.CreatedAt.UTC().Format(time.RFC3339Nano)}
		for _, key := range keys {
			row = append(row, decoded[i][key])
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("audit: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("audit: flush csv: %w", err)
	}
	return nil
}

type parquetRow struct {
	ID         string `parquet:"name=id, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Type       string `parquet:"name=type, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Channel    string `parquet:"name=channel, type=UTF8, encoding=PLAIN_DICTIONARY"`
	CreatedAt  string `parquet:"name=created_at, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Attributes string `parquet:"name=attributes, type=UTF8, encoding=PLAIN_DICTIONARY"`
}

func writeParquet(path string, records []Record) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audit: create parquet: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(path)
		}
	}()
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("audit: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, record := range records {
		row := &parquetRow{
			ID:         record.ID.String(),
			Type:       record.Type,
			Channel:    record.Channel,
			CreatedAt:  record.CreatedAt.UTC().Format(time.RFC3339Nano),
			Attributes: strings.TrimSpace(record.Attributes),
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("audit: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("audit: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("audit: close parquet file: %w", err)
	}
	return nil
}
