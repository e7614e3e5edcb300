package harness

import (
	"strings"
	"testing"
)

func TestParseCSVReadsAndWrites(t *testing.T) {
	csv := "Read object 0,Written object 0,Read object 1\n10,11,\n,20,21\n"
	txns, err := ParseCSV(strings.NewReader(csv), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(txns) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(txns))
	}
	if txns[0].TID != 5 || txns[1].TID != 6 {
		t.Fatalf("tids should be assigned in row order starting at 5, got %d, %d", txns[0].TID, txns[1].TID)
	}
	if len(txns[0].Reads) != 1 || txns[0].Reads[0] != 10 {
		t.Fatalf("row 0 read set wrong: %+v", txns[0].Reads)
	}
	if len(txns[0].Writes) != 1 || txns[0].Writes[0] != 11 {
		t.Fatalf("row 0 write set wrong: %+v", txns[0].Writes)
	}
	if len(txns[1].Reads) != 1 || txns[1].Reads[0] != 21 {
		t.Fatalf("row 1 should skip its empty Read object 0 cell: %+v", txns[1].Reads)
	}
}

func TestParseCSVMissingHeaderFails(t *testing.T) {
	_, err := ParseCSV(strings.NewReader(""), 0)
	assertExitCode(t, err, ExitNoHeader)
}

func TestParseCSVNonNumericAddressFails(t *testing.T) {
	csv := "Read object 0\nnotanumber\n"
	_, err := ParseCSV(strings.NewReader(csv), 0)
	assertExitCode(t, err, ExitNotAnAddress)
}

func TestParseCSVOutOfRangeAddressFails(t *testing.T) {
	csv := "Read object 0\n99999999999999999999999\n"
	_, err := ParseCSV(strings.NewReader(csv), 0)
	assertExitCode(t, err, ExitAddressOutOfRange)
}

func TestLoadCSVMissingFileFails(t *testing.T) {
	_, err := LoadCSV("/no/such/path.csv", 0)
	assertExitCode(t, err, ExitFileNotFound)
}

func assertExitCode(t *testing.T, err error, want ExitCode) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected an error with exit code %d, got nil", want)
	}
	le, ok := err.(*LoadError)
	if !ok {
		t.Fatalf("expected *LoadError, got %T: %v", err, err)
	}
	if le.Code != want {
		t.Fatalf("expected exit code %d, got %d (%v)", want, le.Code, le)
	}
}
