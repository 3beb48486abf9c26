package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Export renders entries in the given format
func Export(entries []*Entry, format ExportFormat) ([]byte, error) {
	switch format {
	case ExportFormatJSON, "":
		return exportJSON(entries)
	case ExportFormatNDJSON:
		return exportNDJSON(entries)
	case ExportFormatCSV:
		return exportCSV(entries)
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

// exportJSON exports audit entries as JSON array
func exportJSON(entries []*Entry) ([]byte, error) {
	return json.MarshalIndent(entries, "", "  ")
}

// exportNDJSON exports audit entries as newline-delimited JSON
func exportNDJSON(entries []*Entry) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)

	for _, entry := range entries {
		if err := encoder.Encode(entry); err != nil {
			return nil, fmt.Errorf("failed to encode entry: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// exportCSV exports audit entries as CSV. Changes are flattened to
// "field:old->new" pairs separated by semicolons.
func exportCSV(entries []*Entry) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	header := []string{
		"ID",
		"CreatedAt",
		"Action",
		"ActorID",
		"ActorTenantID",
		"ImpersonatorID",
		"SubjectType",
		"SubjectID",
		"TenantID",
		"RequestID",
		"IPAddress",
		"Device",
		"RecentReauth",
		"Changes",
	}

	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, entry := range entries {
		row := []string{
			strconv.FormatInt(entry.ID, 10),
			entry.CreatedAt.Format(time.RFC3339),
			string(entry.Action),
			formatInt64Ptr(entry.ActorID),
			formatInt64Ptr(entry.Meta.ActorTenantID),
			formatInt64Ptr(entry.Meta.ImpersonatorID),
			string(entry.SubjectType),
			entry.SubjectID,
			formatInt64Ptr(entry.Meta.TenantID),
			entry.Meta.RequestID,
			entry.Meta.IPAddress,
			entry.Meta.Device,
			strconv.FormatBool(entry.Meta.RecentReauth),
			formatChanges(entry.Meta.Changes),
		}

		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// formatInt64Ptr formats an int64 pointer as string, returning empty string for nil
func formatInt64Ptr(val *int64) string {
	if val == nil {
		return ""
	}
	return strconv.FormatInt(*val, 10)
}

func formatChanges(changes map[string]Change) string {
	if len(changes) == 0 {
		return ""
	}
	fields := make([]string, 0, len(changes))
	for f := range changes {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		c := changes[f]
		parts = append(parts, fmt.Sprintf("%s:%v->%v", f, c.Old, c.New))
	}
	return strings.Join(parts, ";")
}
