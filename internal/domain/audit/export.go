package audit

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

var csvHeader = []string{
	"seq", "id", "timestamp", "accessor", "action_type", "data_hash", "description",
}

// ExportCSV writes the patient's entries matching f as CSV, header first.
func (s *Service) ExportCSV(ctx context.Context, patientID string, f Filter, w io.Writer) error {
	entries, err := s.Search(ctx, patientID, f)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("audit export csv: write header: %w", err)
	}
	for _, e := range entries {
		row := []string{
			strconv.FormatInt(e.Seq, 10),
			e.ID.String(),
			time.Unix(e.Timestamp, 0).UTC().Format(time.RFC3339),
			e.Accessor.String(),
			e.ActionType.String(),
			e.DataHash,
			e.Description,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("audit export csv: write row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("audit export csv: flush: %w", err)
	}
	return nil
}
