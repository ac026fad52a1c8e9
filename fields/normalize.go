package fields

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/Zerofisher/anxun/pkg/model"
)

// Normalizer zips tshark "-T fields" lines against a field list.
//
// Policy: empty values are omitted, field order follows the list, at most
// MaxLines lines are read, and the payload is cut to MaxPayload characters.
type Normalizer struct {
	Fields     []string
	MaxLines   int
	MaxPayload int
}

// NewNormalizer returns a normalizer for the canonical projection.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		Fields:     Canonical(),
		MaxLines:   model.MaxRecords,
		MaxPayload: model.MaxPayloadLen,
	}
}

// Line converts one tab-separated line into a record. Blank lines yield
// (nil, false).
func (n *Normalizer) Line(line string) (model.PacketRecord, bool) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return nil, false
	}

	values := strings.Split(line, "\t")
	count := len(values)
	if count > len(n.Fields) {
		count = len(n.Fields)
	}

	rec := make(model.PacketRecord, 0, count)
	for i := 0; i < count; i++ {
		name, value := n.Fields[i], values[i]
		switch name {
		case FieldFlagsStr:
			value = Unescape(value)
		case FieldPayload:
			value = TruncateChars(value, n.MaxPayload)
		}
		if value == "" {
			continue
		}
		rec = append(rec, model.Field{Name: name, Value: value})
	}
	if len(rec) == 0 {
		return nil, false
	}
	return rec, true
}

// Lines reads at most MaxLines lines from r and normalizes them in order.
func (n *Normalizer) Lines(r io.Reader) ([]model.PacketRecord, error) {
	scanner := bufio.NewScanner(r)
	// Reassembled payloads make for long lines.
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	records := make([]model.PacketRecord, 0)
	read := 0
	for scanner.Scan() {
		if n.MaxLines > 0 && read >= n.MaxLines {
			break
		}
		read++
		if rec, ok := n.Line(scanner.Text()); ok {
			records = append(records, rec)
		}
	}
	if err := scanner.Err(); err != nil {
		return records, err
	}
	return records, nil
}

// TruncateChars cuts s to at most max characters (runes). max <= 0 disables
// the limit.
func TruncateChars(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	i, count := 0, 0
	for i < len(s) && count < max {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
		count++
	}
	return s[:i]
}

// Unescape decodes tshark's escaped form of a field value, e.g.
// `\xc2\xb7\xc2\xb7A` becomes "··A". Values that are not valid escapes are
// returned unchanged.
func Unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	quoted := `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
	out, err := strconv.Unquote(quoted)
	if err != nil {
		return s
	}
	if !utf8.ValidString(out) {
		return strings.ToValidUTF8(out, "�")
	}
	return out
}
