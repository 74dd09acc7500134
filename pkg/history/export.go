package history

import (
	"context"
	"io"

	"github.com/gocarina/gocsv"
)

// ExportCSV writes the records matching filter as CSV with a header row.
func ExportCSV(ctx context.Context, store Store, filter QueryFilter, writer io.Writer) (int, error) {
	records, err := store.Query(ctx, filter)
	if err != nil {
		return 0, err
	}

	if err := gocsv.Marshal(records, writer); err != nil {
		return 0, err
	}

	return len(records), nil
}
