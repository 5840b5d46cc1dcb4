package tydex

import "strings"

// field is one whitespace-delimited token and the whitespace before it.
type field struct {
	space string
	text  string
}

// line is a template line split once into fields. Rebuilding it with
// String reproduces the input byte for byte.
type line struct {
	fields   []field
	trailing string
}

func tokenize(s string) line {
	var l line
	i := 0
	for i < len(s) {
		start := i
		for i < len(s) && isSpace(s[i]) {
			i++
		}
		if i == len(s) {
			l.trailing = s[start:]
			break
		}
		tok := i
		for i < len(s) && !isSpace(s[i]) {
			i++
		}
		l.fields = append(l.fields, field{space: s[start:tok], text: s[tok:i]})
	}
	return l
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' }

func (l line) String() string {
	var b strings.Builder
	for _, f := range l.fields {
		b.WriteString(f.space)
		b.WriteString(f.text)
	}
	b.WriteString(l.trailing)
	return b.String()
}

func (l line) first() string {
	if len(l.fields) == 0 {
		return ""
	}
	return l.fields[0].text
}

// clone returns a copy whose fields can be replaced without touching l.
func (l line) clone() line {
	fields := make([]field, len(l.fields))
	copy(fields, l.fields)
	return line{fields: fields, trailing: l.trailing}
}

// setLast replaces the value token of a "NAME ... value" line. A line
// holding only its name has no value and is left alone.
func (l line) setLast(value string) bool {
	if len(l.fields) < 2 {
		return false
	}
	l.fields[len(l.fields)-1].text = value
	return true
}

// setAt replaces the token at column i. A replaced token that was negative
// gets one extra leading space so the columns to its right keep their place.
func (l line) setAt(i int, value string) bool {
	if i < 0 || i >= len(l.fields) {
		return false
	}
	f := &l.fields[i]
	if strings.HasPrefix(f.text, "-") {
		value = " " + value
	}
	f.text = value
	return true
}

// splitLines splits text after every "\n", keeping line endings attached.
func splitLines(text string) []string {
	var out []string
	for len(text) > 0 {
		i := strings.IndexByte(text, '\n')
		if i < 0 {
			out = append(out, text)
			break
		}
		out = append(out, text[:i+1])
		text = text[i+1:]
	}
	return out
}

// cutEOL separates a line from its "\n" or "\r\n" terminator.
func cutEOL(s string) (string, string) {
	if strings.HasSuffix(s, "\r\n") {
		return s[:len(s)-2], "\r\n"
	}
	if strings.HasSuffix(s, "\n") {
		return s[:len(s)-1], "\n"
	}
	return s, ""
}
