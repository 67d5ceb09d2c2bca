package dump

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func collect(p *Parser) []Record {
	var out []Record
	for p.Next() {
		out = append(out, p.Record())
	}
	return out
}

func TestParser_SkipsMalformedLines(t *testing.T) {
	p := NewParser(strings.NewReader("\na|b\nh1|n1|c1\nh2|n2|c2|extra\n"))
	got := collect(p)

	want := []Record{
		{InfoHash: "h1", Name: "n1", Category: "c1"},
		{InfoHash: "h2", Name: "n2", Category: "c2"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d records, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("record %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if p.Err() != nil {
		t.Errorf("unexpected error: %v", p.Err())
	}
	if p.Lines() != 4 {
		t.Errorf("Lines() = %d, want 4", p.Lines())
	}
	if p.Skipped() != 2 {
		t.Errorf("Skipped() = %d, want 2", p.Skipped())
	}
}

func TestParser_CRLFAndMissingTrailingNewline(t *testing.T) {
	got := collect(NewParser(strings.NewReader("h1|n1|c1\r\nh2|n2|c2")))
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if got[0].Category != "c1" {
		t.Errorf("carriage return not trimmed: %q", got[0].Category)
	}
	if got[1].InfoHash != "h2" {
		t.Errorf("last line = %+v", got[1])
	}
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		line string
		ok   bool
		want Record
	}{
		{line: "h|n|c", ok: true, want: Record{"h", "n", "c"}},
		{line: " h | name with spaces |c ", ok: true, want: Record{"h", "name with spaces", "c"}},
		{line: "h|n|c|x|y", ok: true, want: Record{"h", "n", "c"}},
		{line: "h||c"},
		{line: "|n|c"},
		{line: "h|n|"},
		{line: "h|n"},
		{line: ""},
		{line: "h|n\x00ame|c", ok: true, want: Record{"h", "name", "c"}},
		{line: "ab\xff\x00cd|name|cat"},
		{line: "ab\xffcd|name|cat"},
		{line: "ab\x00cd|name|cat"},
		{line: "h|na\xffme|c", ok: true, want: Record{"h", "na\ufffdme", "c"}},
	}
	for _, tt := range tests {
		got, ok := ParseLine(tt.line)
		if ok != tt.ok {
			t.Errorf("ParseLine(%q) ok = %v, want %v", tt.line, ok, tt.ok)
			continue
		}
		if ok && got != tt.want {
			t.Errorf("ParseLine(%q) = %+v, want %+v", tt.line, got, tt.want)
		}
	}
}

func TestParser_GarbledHashSkipped(t *testing.T) {
	p := NewParser(strings.NewReader("h1|n1|c1\nab\xff\x00cd|name|cat\nh2|n2|c2\n"))
	got := collect(p)

	if len(got) != 2 || got[0].InfoHash != "h1" || got[1].InfoHash != "h2" {
		t.Fatalf("records = %+v, want h1 and h2", got)
	}
	if p.Skipped() != 1 {
		t.Errorf("Skipped() = %d, want 1", p.Skipped())
	}
}

func TestParser_OverlongLineSkipped(t *testing.T) {
	long := strings.Repeat("x", MaxLineBytes+10)
	input := "h1|n1|c1\n" + long + "|n|c\nh2|n2|c2\n"
	p := NewParser(strings.NewReader(input))
	got := collect(p)

	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if got[1].InfoHash != "h2" {
		t.Errorf("record after overlong line = %+v", got[1])
	}
	if p.Skipped() != 1 {
		t.Errorf("Skipped() = %d, want 1", p.Skipped())
	}
}

func TestParser_LongLineWithinLimit(t *testing.T) {
	name := strings.Repeat("n", 200<<10)
	got := collect(NewParser(strings.NewReader("h|" + name + "|c\n")))
	if len(got) != 1 || got[0].Name != name {
		t.Fatalf("long line not parsed intact")
	}
}

func TestParser_ReadErrorSurfaces(t *testing.T) {
	errBoom := errors.New("boom")
	p := NewParser(io.MultiReader(strings.NewReader("h1|n1|c1\n"), &failingReader{err: errBoom}))
	got := collect(p)

	if len(got) != 1 {
		t.Errorf("got %d records before the error, want 1", len(got))
	}
	if !errors.Is(p.Err(), errBoom) {
		t.Errorf("Err() = %v, want %v", p.Err(), errBoom)
	}
	if p.Next() {
		t.Error("Next() after error should return false")
	}
}

func TestParser_OverGzip(t *testing.T) {
	rc, err := Decompress(strings.NewReader(string(gzipBytes(t, "h1|n1|c1\nbad\nh2|n2|c2\n"))))
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	defer rc.Close()

	p := NewParser(rc)
	if got := collect(p); len(got) != 2 {
		t.Errorf("got %d records, want 2", len(got))
	}
	if p.Skipped() != 1 {
		t.Errorf("Skipped() = %d, want 1", p.Skipped())
	}
}
