package stimulus

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"rvtrace"
	"rvtrace/errs"
)

func TestParseTextRecord(t *testing.T) {
	in := "valid=1 addr=1000 instr=13 priv=0 exception=0 cause=0 tval=0 interrupt=0 compressed=0\n"
	got, err := ParseText(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ParseText: %v", err)
	}
	want := []rvtrace.Instr{
		{Valid: true, IAddr: 0x1000, Instr: 0x13},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseText mismatch (-want +got):\n%s", diff)
	}
}

func TestParseTextSkipsBlankAndCommentLines(t *testing.T) {
	in := "\n# a comment\nvalid=1 addr=2000 instr=13\n\n"
	got, err := ParseText(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ParseText: %v", err)
	}
	if len(got) != 1 || got[0].IAddr != 0x2000 {
		t.Errorf("ParseText = %+v, want one record at 0x2000", got)
	}
}

func TestParseTextMalformedFieldIsInvalid(t *testing.T) {
	_, err := ParseText(strings.NewReader("valid=1 addr\n"))
	if !errors.Is(err, errs.New(errs.Invalid, "")) {
		t.Errorf("expected an Invalid error for a malformed field, got %v", err)
	}
}

func TestParseTextUnknownKeyIsInvalid(t *testing.T) {
	_, err := ParseText(strings.NewReader("valid=1 bogus=1\n"))
	if !errors.Is(err, errs.New(errs.Invalid, "")) {
		t.Errorf("expected an Invalid error for an unknown key, got %v", err)
	}
}

func TestParseTextExceptionFields(t *testing.T) {
	in := "valid=1 addr=3000 instr=73 exception=1 cause=7 tval=4\n"
	got, err := ParseText(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ParseText: %v", err)
	}
	if len(got) != 1 || !got[0].Exception || got[0].Cause != 7 || got[0].TVal != 4 {
		t.Errorf("ParseText(exception) = %+v, want Exception=true Cause=7 TVal=4", got)
	}
}

func TestParseCSVRecord(t *testing.T) {
	in := "VALID,ADDRESS,INSN,PRIVILEGE,EXCEPTION,ECAUSE,TVAL,INTERRUPT\n" +
		"1,1000,13,0,0,0,0,0\n"
	got, err := ParseCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ParseCSV: %v", err)
	}
	want := []rvtrace.Instr{
		{Valid: true, IAddr: 0x1000, Instr: 0x13},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseCSV mismatch (-want +got):\n%s", diff)
	}
}

func TestParseCSVHeaderIsCaseInsensitiveAndReorderable(t *testing.T) {
	in := "insn,address,valid,privilege,exception,ecause,tval,interrupt\n" +
		"13,2000,1,0,0,0,0,0\n"
	got, err := ParseCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ParseCSV: %v", err)
	}
	if len(got) != 1 || got[0].IAddr != 0x2000 {
		t.Errorf("ParseCSV(reordered header) = %+v, want one record at 0x2000", got)
	}
}

func TestParseCSVMissingColumnErrors(t *testing.T) {
	in := "VALID,ADDRESS,INSN,PRIVILEGE,EXCEPTION,ECAUSE,TVAL\n1,1000,13,0,0,0,0\n"
	_, err := ParseCSV(strings.NewReader(in))
	if !errors.Is(err, errs.New(errs.FileScan, "")) {
		t.Errorf("expected a FileScan error for a missing column, got %v", err)
	}
}

func TestParseCSVEmptyInputIsEmptyResult(t *testing.T) {
	got, err := ParseCSV(strings.NewReader(""))
	if err != nil {
		t.Fatalf("ParseCSV: %v", err)
	}
	if got != nil {
		t.Errorf("ParseCSV(empty) = %+v, want nil", got)
	}
}

func TestParseCSVBadFieldErrors(t *testing.T) {
	in := "VALID,ADDRESS,INSN,PRIVILEGE,EXCEPTION,ECAUSE,TVAL,INTERRUPT\n" +
		"1,notahexaddr,13,0,0,0,0,0\n"
	_, err := ParseCSV(strings.NewReader(in))
	if !errors.Is(err, errs.New(errs.FileScan, "")) {
		t.Errorf("expected a FileScan error for a malformed field, got %v", err)
	}
}
