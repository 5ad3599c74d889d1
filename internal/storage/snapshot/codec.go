// Package snapshot converts CounterSets to and from their durable textual
// form.
//
// A snapshot is a single JSON object with one key per schema table, in schema
// order. Each key maps to an array of canonical decimal strings:
//
//	{"three_digit_number":["0","12",...],"mod_by_9":[...],...}
//
// Counters are written as strings, never as JSON numbers, so that consumers
// parsing the document into float64 or int64 cannot silently lose precision.
package snapshot

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/goccy/go-json"

	"github.com/xtxerr/pick9/internal/errors"
	"github.com/xtxerr/pick9/internal/storage/types"
)

// Encode renders c as a snapshot document.
func Encode(c *types.CounterSet) ([]byte, error) {
	schema := c.Schema()

	// ~4 bytes per zero cell plus keys; large counters grow the buffer.
	var buf bytes.Buffer
	buf.Grow(schema.Cells()*4 + 64*len(schema.Tables))

	buf.WriteByte('{')
	for ti, spec := range schema.Tables {
		if ti > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(spec.Name)
		if err != nil {
			return nil, fmt.Errorf("encode table name %q: %w", spec.Name, err)
		}
		buf.Write(key)
		buf.WriteString(":[")

		cells, _ := c.Table(spec.Name)
		for i, v := range cells {
			if v.Sign() < 0 {
				return nil, fmt.Errorf("table %q[%d]: %w", spec.Name, i, errors.ErrNegativeCounter)
			}
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteByte('"')
			buf.WriteString(v.Text(10))
			buf.WriteByte('"')
		}
		buf.WriteByte(']')
	}
	buf.WriteByte('}')

	return buf.Bytes(), nil
}

// Decode parses a snapshot document against schema. Any deviation from the
// grammar (malformed JSON, a missing or unknown table, a wrong table length,
// or a counter that is not a canonical decimal string) is reported as an
// error wrapping ErrCorruptSnapshot.
func Decode(schema types.Schema, data []byte) (*types.CounterSet, error) {
	doc, err := splitDocument(schema, data, snapshotKinds)
	if err != nil {
		return nil, err
	}

	c := types.NewCounterSet(schema)
	for _, spec := range schema.Tables {
		var cells []string
		if err := json.Unmarshal(doc[spec.Name], &cells); err != nil {
			return nil, errors.NewCorrupt("table %q: %v", spec.Name, err)
		}
		if len(cells) != spec.Size {
			return nil, errors.NewCorrupt("table %q: want %d cells, got %d", spec.Name, spec.Size, len(cells))
		}
		for i, s := range cells {
			v, err := ParseCounter(s)
			if err != nil {
				return nil, errors.NewCorrupt("table %q[%d]: %v", spec.Name, i, err)
			}
			if err := c.Set(spec.Name, i, v); err != nil {
				return nil, errors.NewCorrupt("table %q[%d]: %v", spec.Name, i, err)
			}
		}
	}

	return c, nil
}

// DecodeBatch parses a submitted batch against schema.
//
// The document has the snapshot layout, but each cell may be either a
// decimal string or a non-negative JSON integer, since simulators usually
// emit native integers. Wrong table sets or lengths wrap ErrShapeMismatch;
// anything else malformed wraps ErrInvalidBatch.
func DecodeBatch(schema types.Schema, data []byte) (*types.CounterSet, error) {
	doc, err := splitDocument(schema, data, batchKinds)
	if err != nil {
		return nil, err
	}

	c := types.NewCounterSet(schema)
	for _, spec := range schema.Tables {
		var cells []json.RawMessage
		if err := json.Unmarshal(doc[spec.Name], &cells); err != nil {
			return nil, fmt.Errorf("table %q: %v: %w", spec.Name, err, errors.ErrInvalidBatch)
		}
		if len(cells) != spec.Size {
			return nil, errors.NewShapeMismatch(spec.Name, spec.Size, len(cells))
		}
		for i, raw := range cells {
			v, err := parseCell(raw)
			if err != nil {
				return nil, fmt.Errorf("table %q[%d]: %v: %w", spec.Name, i, err, errors.ErrInvalidBatch)
			}
			if err := c.Set(spec.Name, i, v); err != nil {
				return nil, err
			}
		}
	}

	return c, nil
}

// errorKinds selects the sentinel reported for each class of document error.
type errorKinds struct {
	malformed error
	missing   error
	unknown   error
}

var (
	snapshotKinds = errorKinds{
		malformed: errors.ErrCorruptSnapshot,
		missing:   errors.ErrCorruptSnapshot,
		unknown:   errors.ErrCorruptSnapshot,
	}
	batchKinds = errorKinds{
		malformed: errors.ErrInvalidBatch,
		missing:   errors.ErrShapeMismatch,
		unknown:   errors.ErrUnknownTable,
	}
)

// splitDocument decodes the top-level object and checks that its key set is
// exactly the schema's table set.
func splitDocument(schema types.Schema, data []byte, kinds errorKinds) (map[string]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("document is not a JSON object: %w", kinds.malformed)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("parse document: %v: %w", err, kinds.malformed)
	}
	if err := checkDuplicateKeys(trimmed); err != nil {
		return nil, fmt.Errorf("%v: %w", err, kinds.malformed)
	}

	for _, spec := range schema.Tables {
		if _, ok := doc[spec.Name]; !ok {
			return nil, fmt.Errorf("missing table %q: %w", spec.Name, kinds.missing)
		}
	}
	if len(doc) != len(schema.Tables) {
		for name := range doc {
			if _, ok := schema.Index(name); !ok {
				return nil, fmt.Errorf("unexpected table %q: %w", name, kinds.unknown)
			}
		}
	}

	return doc, nil
}

// checkDuplicateKeys rejects an object that repeats a top-level key.
// Unmarshal keeps the last copy silently.
func checkDuplicateKeys(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return err
	}

	seen := make(map[string]struct{})
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v", tok)
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("duplicate table %q", key)
		}
		seen[key] = struct{}{}

		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return err
		}
	}
	return nil
}

// parseCell accepts a decimal string or a bare JSON integer.
func parseCell(raw json.RawMessage) (*big.Int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return ParseCounter(s)
	}
	return ParseCounter(string(raw))
}

// ParseCounter parses a canonical non-negative decimal integer: ASCII digits
// only, no sign, and no leading zeros except for "0" itself.
func ParseCounter(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("empty counter")
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return nil, fmt.Errorf("invalid digit %q in %q", s[i], s)
		}
	}
	if len(s) > 1 && s[0] == '0' {
		return nil, fmt.Errorf("leading zero in %q", s)
	}

	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid counter %q", s)
	}
	return v, nil
}
