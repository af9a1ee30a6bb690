// Package export streams a tenant's event log to CSV or JSON for compliance
// requests. Rows are fetched in fixed-size batches so peak memory stays
// O(batch) regardless of range size.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/agentlensai/agentlens/pkg/models"
	"github.com/agentlensai/agentlens/pkg/store"
)

// BatchSize is the number of rows fetched per store query.
const BatchSize = 5000

// Formats accepted by Export.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

var csvHeader = []string{
	"id", "timestamp", "sessionId", "agentId", "eventType", "severity",
	"payload", "metadata", "prevHash", "hash",
}

// Export streams every event in [from, to] to w in the requested format.
func Export(ctx context.Context, st store.EventReader, from, to time.Time, format string, w io.Writer) error {
	switch format {
	case FormatCSV:
		return exportCSV(ctx, st, from, to, w)
	case FormatJSON:
		return exportJSON(ctx, st, from, to, w)
	}
	return models.ValidationError("unknown export format: " + format)
}

// forEachBatch pages through the range in ascending time order.
func forEachBatch(ctx context.Context, st store.EventReader, from, to time.Time, fn func([]*models.Event) error) error {
	offset := 0
	for {
		page, err := st.QueryEvents(ctx, store.EventFilter{
			From:   &from,
			To:     &to,
			Limit:  BatchSize,
			Offset: offset,
			Order:  store.OrderAsc,
		})
		if err != nil {
			return err
		}
		if len(page.Events) > 0 {
			if err := fn(page.Events); err != nil {
				return err
			}
		}
		if !page.HasMore {
			return nil
		}
		offset += len(page.Events)
	}
}

func exportCSV(ctx context.Context, st store.EventReader, from, to time.Time, w io.Writer) error {
	// UTF-8 BOM so spreadsheet tools detect the encoding.
	if _, err := w.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}

	err := forEachBatch(ctx, st, from, to, func(events []*models.Event) error {
		for _, ev := range events {
			prevHash := ""
			if ev.PrevHash != nil {
				prevHash = *ev.PrevHash
			}
			row := []string{
				ev.ID,
				ev.Timestamp.UTC().Format(time.RFC3339Nano),
				ev.SessionID,
				ev.AgentID,
				string(ev.EventType),
				string(ev.Severity),
				string(ev.Payload),
				string(ev.Metadata),
				prevHash,
				ev.Hash,
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

func exportJSON(ctx context.Context, st store.EventReader, from, to time.Time, w io.Writer) error {
	if _, err := fmt.Fprintf(w, `{"exportedAt":%s,"range":{"from":%s,"to":%s},"events":[`,
		jsonTime(time.Now().UTC()), jsonTime(from.UTC()), jsonTime(to.UTC())); err != nil {
		return err
	}

	total := int64(0)
	err := forEachBatch(ctx, st, from, to, func(events []*models.Event) error {
		for _, ev := range events {
			data, err := json.Marshal(ev)
			if err != nil {
				return err
			}
			if total > 0 {
				if _, err := w.Write([]byte{','}); err != nil {
					return err
				}
			}
			if _, err := w.Write(data); err != nil {
				return err
			}
			total++
		}
		return nil
	})
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, `],"totalEvents":%d}`, total)
	return err
}

func jsonTime(t time.Time) string {
	return strconv.Quote(t.Format(time.RFC3339Nano))
}
