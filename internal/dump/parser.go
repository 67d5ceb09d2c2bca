package dump

import (
	"bufio"
	"io"
	"strings"
	"unicode/utf8"
)

// MaxLineBytes bounds the memory a single line may take. Longer lines are
// discarded as malformed.
const MaxLineBytes = 1 << 20

const fieldSep = "|"

// Record is one parsed dump line: info_hash|name|category.
type Record struct {
	InfoHash string
	Name     string
	Category string
}

// ParseLine splits a dump line and reports whether it carries the three
// significant fields. Fields past the third are ignored. A hash that is not
// valid UTF-8 or contains NUL makes the line malformed; it is the identity
// key and is never rewritten.
func ParseLine(line string) (Record, bool) {
	fields := strings.SplitN(line, fieldSep, 4)
	if len(fields) < 3 {
		return Record{}, false
	}
	hash := strings.TrimSpace(fields[0])
	if !utf8.ValidString(hash) || strings.Contains(hash, "\x00") {
		return Record{}, false
	}
	rec := Record{
		InfoHash: hash,
		Name:     cleanField(fields[1]),
		Category: cleanField(fields[2]),
	}
	if rec.InfoHash == "" || rec.Name == "" || rec.Category == "" {
		return Record{}, false
	}
	return rec, true
}

// cleanField trims the field and drops bytes Postgres text columns reject.
func cleanField(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ToValidUTF8(s, "�")
	return strings.ReplaceAll(s, "\x00", "")
}

// Parser yields records from a line-oriented dump, one line at a time.
// Malformed lines are counted and skipped. Usage mirrors bufio.Scanner:
//
//	p := dump.NewParser(r)
//	for p.Next() {
//		rec := p.Record()
//	}
//	if err := p.Err(); err != nil { ... }
type Parser struct {
	r       *bufio.Reader
	buf     []byte
	rec     Record
	err     error
	done    bool
	lines   int
	skipped int
}

func NewParser(r io.Reader) *Parser {
	return &Parser{r: bufio.NewReaderSize(r, readBufferSize)}
}

// Next advances to the next well-formed record. It returns false at the end
// of input or on a read error, which Err then reports.
func (p *Parser) Next() bool {
	if p.done {
		return false
	}
	for {
		line, overlong, err := p.readLine()
		if err != nil {
			if err != io.EOF {
				p.err = err
			}
			p.done = true
			return false
		}
		p.lines++
		if overlong {
			p.skipped++
			continue
		}
		rec, ok := ParseLine(string(line))
		if !ok {
			p.skipped++
			continue
		}
		p.rec = rec
		return true
	}
}

// Record returns the record produced by the last successful Next.
func (p *Parser) Record() Record {
	return p.rec
}

// Err returns the first non-EOF read error.
func (p *Parser) Err() error {
	return p.err
}

// Lines is the number of lines read so far.
func (p *Parser) Lines() int {
	return p.lines
}

// Skipped is the number of lines dropped as malformed.
func (p *Parser) Skipped() int {
	return p.skipped
}

// readLine returns the next line without its terminator. When the line is
// longer than MaxLineBytes its content is discarded and overlong is true.
func (p *Parser) readLine() (line []byte, overlong bool, err error) {
	p.buf = p.buf[:0]
	for {
		chunk, err := p.r.ReadSlice('\n')
		if !overlong {
			if len(p.buf)+len(chunk) > MaxLineBytes+2 {
				overlong = true
				p.buf = p.buf[:0]
			} else {
				p.buf = append(p.buf, chunk...)
			}
		}
		switch err {
		case nil:
			return trimEOL(p.buf), overlong, nil
		case bufio.ErrBufferFull:
			continue
		case io.EOF:
			if len(p.buf) == 0 && !overlong {
				return nil, false, io.EOF
			}
			return trimEOL(p.buf), overlong, nil
		default:
			return nil, false, err
		}
	}
}

func trimEOL(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == '\n' {
		b = b[:n-1]
	}
	if n := len(b); n > 0 && b[n-1] == '\r' {
		b = b[:n-1]
	}
	return b
}
