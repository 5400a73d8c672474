package queue

import "testing"

func TestParseStatus(t *testing.T) {
	for _, status := range AllStatuses() {
		got, ok := ParseStatus(" " + string(status) + " ")
		if !ok || got != status {
			t.Fatalf("ParseStatus(%q) = %q, %v", status, got, ok)
		}
	}
	if _, ok := ParseStatus("processing"); ok {
		t.Fatal("expected unknown status to be rejected")
	}
	if got, _ := ParseStatus("SYNCED"); got != StatusSynced {
		t.Fatalf("expected case-insensitive parse, got %q", got)
	}
}

func TestParseOutcomeKind(t *testing.T) {
	tests := map[string]OutcomeKind{
		"OK":    OutcomeOK,
		"ok":    OutcomeOK,
		"NOT":   OutcomeRejected,
		"ERROR": OutcomeError,
		"weird": OutcomeError,
		"":      OutcomeError,
	}
	for input, want := range tests {
		if got := ParseOutcomeKind(input); got != want {
			t.Fatalf("ParseOutcomeKind(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestNormalizeTagIdentifier(t *testing.T) {
	tests := map[string]string{
		"  e200 3412 ": "e200 3412",
		"04a1b2c3":     "04a1b2c3",
		"   ":          "",
		"straße":       "straße",
	}
	for input, want := range tests {
		if got := NormalizeTagIdentifier(input); got != want {
			t.Fatalf("NormalizeTagIdentifier(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestTagMatchKeyFoldsCase(t *testing.T) {
	if TagMatchKey(" 04a1b2c3 ") != TagMatchKey("04A1B2C3") {
		t.Fatalf("expected case-insensitive match key")
	}
	if TagMatchKey("A1") == TagMatchKey("A2") {
		t.Fatalf("distinct tags must not share a match key")
	}
	rec := Record{TagIdentifier: "abc", CheckpointID: 3}
	if rec.MatchKey() != (RecordKey{TagIdentifier: TagMatchKey("ABC"), CheckpointID: 3}) {
		t.Fatalf("MatchKey = %+v", rec.MatchKey())
	}
	if rec.Key().TagIdentifier != "abc" {
		t.Fatalf("Key must keep the stored value, got %q", rec.Key().TagIdentifier)
	}
}
