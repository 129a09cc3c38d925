package rehab

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Validator turns raw model text into a RehabEstimate. The zero value
// validates the schema only; ImageCount and Tolerance enable the bounds and
// reconciliation checks.
type Validator struct {
	// ImageCount is the number of photos submitted. When positive, every
	// source_image_index must be below it.
	ImageCount int
	// Tolerance bounds the difference between total_estimated_cost and the
	// sum of room totals. A nil Tolerance skips reconciliation.
	Tolerance *Tolerance
}

// Validate parses raw as JSON and checks it against EstimateSchemaJSON.
// It never returns a partially populated estimate.
func (v Validator) Validate(raw string) (*RehabEstimate, error) {
	text, doc, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}

	result, err := estimateSchema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, &MalformedResponseError{Raw: raw, Err: fmt.Errorf("validation error: %w", err)}
	}
	if !result.Valid() {
		violation := firstViolation(result.Errors())
		violation.Raw = raw
		return nil, violation
	}

	estimate := &RehabEstimate{}
	if err := json.Unmarshal([]byte(text), estimate); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, &SchemaViolationError{Field: typeErr.Field, Reason: typeErr.Error(), Raw: raw}
		}
		return nil, &MalformedResponseError{Raw: raw, Err: err}
	}

	if v.ImageCount > 0 {
		for i, room := range estimate.RoomBreakdowns {
			if room.SourceImageIndex >= v.ImageCount {
				return nil, &SchemaViolationError{
					Field:  fmt.Sprintf("room_breakdowns[%d].source_image_index", i),
					Reason: fmt.Sprintf("index %d is out of range for %d photo(s)", room.SourceImageIndex, v.ImageCount),
					Raw:    raw,
				}
			}
		}
	}

	if v.Tolerance != nil {
		if err := v.Tolerance.check(estimate); err != nil {
			err.Raw = raw
			return nil, err
		}
	}

	return estimate, nil
}

// decodeObject parses raw into a JSON value and returns it together with the
// unfenced text. Numbers are kept as json.Number so that no type is coerced
// before schema validation.
func decodeObject(raw string) (string, any, error) {
	text := stripCodeFence(raw)
	if text == "" {
		return "", nil, &MalformedResponseError{Raw: raw, Err: errors.New("empty response")}
	}

	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return "", nil, &MalformedResponseError{Raw: raw, Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return "", nil, &MalformedResponseError{Raw: raw, Err: errors.New("unexpected data after JSON value")}
	}
	return text, doc, nil
}

// stripCodeFence removes a surrounding markdown code block, which models
// occasionally add even when told not to.
func stripCodeFence(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// rootField names the document itself in schema error fields.
const rootField = "(root)"

// firstViolation picks the error whose field comes first in document order.
// errs must not be empty.
func firstViolation(errs []gojsonschema.ResultError) *SchemaViolationError {
	paths := make([][]string, len(errs))
	for i, e := range errs {
		paths[i] = errorPath(e)
	}

	idx := make([]int, len(errs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return pathLess(paths[idx[a]], paths[idx[b]])
	})

	first := idx[0]
	return &SchemaViolationError{
		Field:  formatPath(paths[first]),
		Reason: errs[first].Description(),
	}
}

// errorPath splits the field of a schema error into segments. Missing
// properties are reported on the property itself rather than its parent.
func errorPath(e gojsonschema.ResultError) []string {
	field := e.Field()
	if field == rootField {
		field = ""
	}
	field = strings.TrimPrefix(field, rootField+".")

	var segs []string
	if field != "" {
		segs = strings.Split(field, ".")
	}
	if e.Type() == "required" {
		if prop, ok := e.Details()["property"].(string); ok {
			if len(segs) == 0 || segs[len(segs)-1] != prop {
				segs = append(segs, prop)
			}
		}
	}
	return segs
}

// pathLess orders paths by fieldOrder, array elements by index, and parents
// before their children.
func pathLess(a, b []string) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		ra, rb := segmentRank(a[i]), segmentRank(b[i])
		if ra != rb {
			return ra < rb
		}
	}
	return len(a) < len(b)
}

func segmentRank(seg string) int {
	if n, err := strconv.Atoi(seg); err == nil {
		return n
	}
	if r, ok := fieldRank[seg]; ok {
		return r
	}
	return len(fieldOrder)
}

// formatPath renders segments as e.g. room_breakdowns[0].line_items[1].cost.
func formatPath(segs []string) string {
	if len(segs) == 0 {
		return rootField
	}
	var b strings.Builder
	for _, seg := range segs {
		if _, err := strconv.Atoi(seg); err == nil {
			b.WriteString("[" + seg + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg)
	}
	return b.String()
}

// compactJSON is used when logging raw responses.
func compactJSON(raw string) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(stripCodeFence(raw))); err != nil {
		return raw
	}
	return buf.String()
}
