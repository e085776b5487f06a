// Package ldif implements the streaming, line-oriented LDIF decoder
// (component C6). Grounded on Boulder's preference for small,
// allocation-conscious line scanners (sa/database.go's row mappers)
// adapted here to RFC 2849 line folding instead of SQL rows.
package ldif

import (
	"bufio"
	"encoding/base64"
	"io"
	"strings"

	"github.com/iland112/pkd-ingest/pkderrors"
)

// Entry is one parsed LDIF record: a DN plus its attributes in
// encounter order, values allowed to repeat under the same name.
type Entry struct {
	DN         string
	Attributes []Attribute
}

// Attribute is one name/value pair from an Entry. Binary reports a
// `::`-encoded or `;binary`-suffixed value; Value holds the decoded
// bytes for a `::`-encoded value and the verbatim text otherwise.
type Attribute struct {
	Name   string
	Binary bool
	Value  []byte
}

// Values returns every attribute value recorded under name
// (case-insensitive), decoded bytes in all cases.
func (e Entry) Values(name string) [][]byte {
	var out [][]byte
	for _, a := range e.Attributes {
		if strings.EqualFold(stripBinarySuffix(a.Name), stripBinarySuffix(name)) {
			out = append(out, a.Value)
		}
	}
	return out
}

// First returns the first value recorded under name, or nil if absent.
func (e Entry) First(name string) []byte {
	vs := e.Values(name)
	if len(vs) == 0 {
		return nil
	}
	return vs[0]
}

// Has reports whether any attribute under name is present.
func (e Entry) Has(name string) bool {
	return e.First(name) != nil
}

func stripBinarySuffix(name string) string {
	return strings.TrimSuffix(name, ";binary")
}

// Decode streams entries from r, invoking yield for each one in
// order. It stops and returns yield's error unmodified, allowing a
// caller to short-circuit a large file. A parse failure surfaces as
// pkderrors.InvalidLDIF.
func Decode(r io.Reader, yield func(Entry) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var lines []string
	flush := func() error {
		if len(lines) == 0 {
			return nil
		}
		entry, err := parseEntry(lines)
		lines = lines[:0]
		if err != nil {
			return err
		}
		if entry == nil {
			return nil
		}
		return yield(*entry)
	}

	for scanner.Scan() {
		raw := scanner.Text()
		switch {
		case raw == "":
			if err := flush(); err != nil {
				return err
			}
		case strings.HasPrefix(raw, "#"):
			// comment, skipped
		case strings.HasPrefix(raw, " "):
			if len(lines) == 0 {
				continue // leading continuation with nothing to continue, ignore
			}
			lines[len(lines)-1] += raw[1:]
		default:
			lines = append(lines, raw)
		}
	}
	if err := scanner.Err(); err != nil {
		return pkderrors.Wrap(pkderrors.InvalidLDIF, err, "scanning ldif stream")
	}
	// Forgiving of a missing trailing blank line.
	return flush()
}

// parseEntry turns the unfolded lines of one record into an Entry.
// The first line must be the dn: line; subsequent lines are
// attribute:value or attribute::base64value pairs.
func parseEntry(lines []string) (*Entry, error) {
	if len(lines) == 0 {
		return nil, nil
	}

	name, binary, value, err := splitAttrLine(lines[0])
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(name, "dn") {
		return nil, pkderrors.New(pkderrors.InvalidLDIF, "entry does not begin with dn: line")
	}
	dn := string(value)
	if binary {
		// a base64-encoded DN is legal but unusual; splitAttrLine has
		// already decoded it
		dn = string(value)
	}

	entry := &Entry{DN: dn}
	for _, line := range lines[1:] {
		aname, abinary, avalue, err := splitAttrLine(line)
		if err != nil {
			return nil, err
		}
		entry.Attributes = append(entry.Attributes, Attribute{Name: aname, Binary: abinary, Value: avalue})
	}
	return entry, nil
}

// splitAttrLine splits one unfolded "name:value", "name::base64value"
// or "name;binary::base64value" line. Leading whitespace immediately
// following the separator is stripped.
func splitAttrLine(line string) (name string, binary bool, value []byte, err error) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return "", false, nil, pkderrors.New(pkderrors.InvalidLDIF, "malformed line, no ':' separator: %q", line)
	}
	name = line[:idx]
	rest := line[idx+1:]

	isBase64 := strings.HasPrefix(rest, ":")
	if isBase64 {
		rest = rest[1:]
	}
	rest = strings.TrimLeft(rest, " ")

	if isBase64 {
		decoded, derr := base64.StdEncoding.DecodeString(strings.TrimSpace(rest))
		if derr != nil {
			return "", false, nil, pkderrors.Wrap(pkderrors.InvalidLDIF, derr, "decoding base64 attribute %s", name)
		}
		if !strings.HasSuffix(strings.ToLower(name), ";binary") {
			name = name + ";binary"
		}
		return name, true, decoded, nil
	}

	binary = strings.HasSuffix(strings.ToLower(name), ";binary")
	return name, binary, []byte(rest), nil
}
