package dataset

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	integerLiteral = regexp.MustCompile(`^[+-]?[0-9]+$`)
	decimalLiteral = regexp.MustCompile(`^[+-]?([0-9]+\.?[0-9]*|\.[0-9]+)([eE][+-]?[0-9]+)?$`)
)

// InferDatatypes converts text values into their most specific type. Maps
// and lists are processed one level deep; a bare scalar is converted
// directly. Values that are not text are left alone.
func (n *Normalizer) InferDatatypes(rec Value) (Value, error) {
	out := rec.Clone()
	switch out.kind {
	case KindMap:
		for i := range out.fields {
			out.fields[i].Value = inferValue(out.fields[i].Value)
		}
	case KindList:
		for i := range out.items {
			out.items[i] = inferValue(out.items[i])
		}
	default:
		out = inferValue(out)
	}
	return out, nil
}

func inferValue(v Value) Value {
	text, ok := v.AsText()
	if !ok {
		return v
	}
	return InferText(text)
}

// inferShaped infers rec the way its pre-synthesis shape asks for: field by
// field for maps and lists, as a whole for a bare scalar. A bare scalar
// that synthesis turned into a container is not inferred again.
func (n *Normalizer) inferShaped(original Kind) func(Value) (Value, error) {
	return func(rec Value) (Value, error) {
		if original != KindMap && original != KindList {
			return inferValue(rec), nil
		}
		return n.InferDatatypes(rec)
	}
}

// InferText returns the typed form of a single text value. Brace-wrapped
// text that is not valid JSON stays text. Numbers must be plain decimal
// literals, optionally surrounded by whitespace; anything else, including
// integers beyond int64 and floats that overflow, stays text.
func InferText(text string) Value {
	switch {
	case strings.Contains(text, TrueParam):
		return Bool(true)
	case strings.Contains(text, FalseParam):
		return Bool(false)
	case strings.HasPrefix(text, "{") && strings.HasSuffix(text, "}"):
		doc, err := FromJSON([]byte(text))
		if err != nil {
			return Text(text)
		}
		return doc
	}
	number := strings.TrimSpace(text)
	if integerLiteral.MatchString(number) {
		i, err := strconv.ParseInt(number, 10, 64)
		if err != nil {
			// too large for Int
			return Text(text)
		}
		return Int(i)
	}
	if decimalLiteral.MatchString(number) {
		f, err := strconv.ParseFloat(number, 64)
		if err != nil {
			// overflows to infinity
			return Text(text)
		}
		return Float(f)
	}
	return Text(text)
}
