package export

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/inferload/inferload/internal/metrics"
)

// WriteRecordsParquet saves the per-request records as a parquet file, the
// format downstream analysis notebooks consume.
func WriteRecordsParquet(path string, records []*metrics.RequestOutput) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create parquet file: %w", err)
	}
	defer file.Close()

	writer := parquet.NewGenericWriter[RecordRow](file)
	rows := make([]RecordRow, 0, len(records))
	for _, r := range records {
		rows = append(rows, rowFromRecord(r))
	}
	if _, err := writer.Write(rows); err != nil {
		return fmt.Errorf("failed to write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}

	slog.Info("saved parquet records", "path", path, "rows", len(rows))
	return nil
}
