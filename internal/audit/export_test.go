package audit

import (
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

func exportFixture() []*Entry {
	e1 := testEntry("entry-1", "")
	e2 := testEntry("entry-2", e1.Hash)
	e2.ActorID = "user-2"
	e2.LegalHold = true
	return []*Entry{e2, e1} // newest-first, as Search returns them
}

func TestEncodeEntries_CSV(t *testing.T) {
	data, err := EncodeEntries(exportFixture(), ExportFormatCSV)
	if err != nil {
		t.Fatalf("EncodeEntries() error = %v", err)
	}

	records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	if err != nil {
		t.Fatalf("parsing exported CSV: %v", err)
	}
	if len(records) != 3 { // header + 2 rows
		t.Fatalf("len(records) = %d, want 3", len(records))
	}
	if records[0][0] != "ID" {
		t.Errorf("header[0] = %q, want ID", records[0][0])
	}
	if records[1][0] != "entry-2" {
		t.Errorf("first row ID = %q, want entry-2 (newest-first preserved)", records[1][0])
	}
	if records[1][15] != "true" {
		t.Errorf("legal hold column = %q, want true", records[1][15])
	}
}

func TestEncodeEntries_JSON(t *testing.T) {
	entries := exportFixture()
	data, err := EncodeEntries(entries, ExportFormatJSON)
	if err != nil {
		t.Fatalf("EncodeEntries() error = %v", err)
	}

	var decoded []map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("parsing exported JSON: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("len(decoded) = %d, want 2", len(decoded))
	}
	if decoded[0]["id"] != "entry-2" {
		t.Errorf("first element id = %v, want entry-2", decoded[0]["id"])
	}
	if decoded[0]["previous_hash"] != entries[0].PreviousHash {
		t.Errorf("previous_hash not exported")
	}
}

func TestEncodeEntries_CBOR(t *testing.T) {
	data, err := EncodeEntries(exportFixture(), ExportFormatCBOR)
	if err != nil {
		t.Fatalf("EncodeEntries() error = %v", err)
	}

	var decoded []exportEntry
	if err := cbor.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("parsing exported CBOR: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("len(decoded) = %d, want 2", len(decoded))
	}
	if decoded[0].ID != "entry-2" {
		t.Errorf("first element id = %q, want entry-2", decoded[0].ID)
	}
	if decoded[0].Hash == "" {
		t.Error("hash not exported")
	}
}

func TestEncodeEntries_UnsupportedFormat(t *testing.T) {
	if _, err := EncodeEntries(exportFixture(), ExportFormat("xml")); err == nil {
		t.Error("EncodeEntries() should reject unsupported formats")
	}
}

func TestExportFormat_ContentType(t *testing.T) {
	tests := []struct {
		format ExportFormat
		want   string
	}{
		{ExportFormatCSV, "text/csv; charset=utf-8"},
		{ExportFormatJSON, "application/json; charset=utf-8"},
		{ExportFormatCBOR, "application/cbor"},
	}
	for _, tt := range tests {
		if got := tt.format.ContentType(); got != tt.want {
			t.Errorf("ContentType(%s) = %q, want %q", tt.format, got, tt.want)
		}
	}
}
