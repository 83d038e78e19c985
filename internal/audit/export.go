package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// ExportFormat defines supported export encodings.
type ExportFormat string

const (
	// ExportFormatCSV exports entries as comma-separated values.
	ExportFormatCSV ExportFormat = "csv"
	// ExportFormatJSON exports entries as a JSON array.
	ExportFormatJSON ExportFormat = "json"
	// ExportFormatCBOR exports entries as a CBOR array, for compact
	// machine ingestion by downstream evidence collectors.
	ExportFormatCBOR ExportFormat = "cbor"
)

// exportEntry is the flattened wire shape shared by the JSON and CBOR encoders.
type exportEntry struct {
	ID             string         `json:"id" cbor:"id"`
	Timestamp      string         `json:"timestamp" cbor:"timestamp"` // ISO 8601
	ActorID        string         `json:"actor_id" cbor:"actor_id"`
	ActorRole      string         `json:"actor_role" cbor:"actor_role"`
	OrganizationID string         `json:"organization_id,omitempty" cbor:"organization_id,omitempty"`
	SessionID      string         `json:"session_id,omitempty" cbor:"session_id,omitempty"`
	Action         string         `json:"action" cbor:"action"`
	Resource       string         `json:"resource" cbor:"resource"`
	ResourceID     string         `json:"resource_id,omitempty" cbor:"resource_id,omitempty"`
	Details        map[string]any `json:"details,omitempty" cbor:"details,omitempty"`
	ClientIP       string         `json:"client_ip,omitempty" cbor:"client_ip,omitempty"`
	UserAgent      string         `json:"user_agent,omitempty" cbor:"user_agent,omitempty"`
	Hash           string         `json:"hash" cbor:"hash"`
	PreviousHash   string         `json:"previous_hash" cbor:"previous_hash"`
	Signature      string         `json:"signature,omitempty" cbor:"signature,omitempty"`
	RetentionYears int            `json:"retention_years" cbor:"retention_years"`
	LegalHold      bool           `json:"legal_hold" cbor:"legal_hold"`
	Classification string         `json:"classification" cbor:"classification"`
}

// EncodeEntries serializes entries (typically from Export or Search) in the
// requested format.
func EncodeEntries(entries []*Entry, format ExportFormat) ([]byte, error) {
	switch format {
	case ExportFormatCSV:
		return encodeCSV(entries)
	case ExportFormatJSON:
		return encodeJSON(entries)
	case ExportFormatCBOR:
		return encodeCBOR(entries)
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

// ContentType returns the MIME type for an export format.
func (f ExportFormat) ContentType() string {
	switch f {
	case ExportFormatCSV:
		return "text/csv; charset=utf-8"
	case ExportFormatCBOR:
		return "application/cbor"
	default:
		return "application/json; charset=utf-8"
	}
}

func flatten(entries []*Entry) []exportEntry {
	out := make([]exportEntry, len(entries))
	for i, e := range entries {
		out[i] = exportEntry{
			ID:             e.ID,
			Timestamp:      e.Timestamp.UTC().Format(time.RFC3339Nano),
			ActorID:        e.ActorID,
			ActorRole:      e.ActorRole,
			OrganizationID: e.OrganizationID,
			SessionID:      e.SessionID,
			Action:         e.Action,
			Resource:       e.Resource,
			ResourceID:     e.ResourceID,
			Details:        e.Details,
			ClientIP:       e.ClientIP,
			UserAgent:      e.UserAgent,
			Hash:           e.Hash,
			PreviousHash:   e.PreviousHash,
			Signature:      e.Signature,
			RetentionYears: e.RetentionYears,
			LegalHold:      e.LegalHold,
			Classification: string(e.Classification),
		}
	}
	return out
}

func encodeCSV(entries []*Entry) ([]byte, error) {
	buf := new(bytes.Buffer)
	writer := csv.NewWriter(buf)

	header := []string{
		"ID",
		"Timestamp (UTC)",
		"Actor ID",
		"Actor Role",
		"Organization ID",
		"Session ID",
		"Action",
		"Resource",
		"Resource ID",
		"Client IP",
		"User Agent",
		"Hash",
		"Previous Hash",
		"Signature",
		"Retention Years",
		"Legal Hold",
		"Classification",
	}
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, e := range entries {
		row := []string{
			e.ID,
			e.Timestamp.UTC().Format(time.RFC3339),
			e.ActorID,
			e.ActorRole,
			e.OrganizationID,
			e.SessionID,
			e.Action,
			e.Resource,
			e.ResourceID,
			e.ClientIP,
			e.UserAgent,
			e.Hash,
			e.PreviousHash,
			e.Signature,
			strconv.Itoa(e.RetentionYears),
			strconv.FormatBool(e.LegalHold),
			string(e.Classification),
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

func encodeJSON(entries []*Entry) ([]byte, error) {
	data, err := json.MarshalIndent(flatten(entries), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return data, nil
}

func encodeCBOR(entries []*Entry) ([]byte, error) {
	data, err := cbor.Marshal(flatten(entries))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal CBOR: %w", err)
	}
	return data, nil
}
