package dataset

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Placeholder tokens recognized inside fixture text.
const (
	MissingParam = "[MISSING_PARAM]"
	TrueParam    = "[TRUE]"
	FalseParam   = "[FALSE]"

	withLengthSep      = "_WITH_LENGTH_"
	arrayWithLengthSep = "_ARRAY_WITH_LENGTH_"
	jsonWithLengthSep  = "JSON_WITH_LENGTH_"

	SeedString  = "STRING"
	SeedInteger = "INTEGER"
)

var (
	textSeeds = map[string]string{SeedString: "a", SeedInteger: "1"}
	listSeeds = map[string]Value{SeedString: Text("a"), SeedInteger: Int(1)}
)

// generateFixedLengthParam expands a length placeholder found in param.
// On failure it returns whatever had been produced before the failing
// operation together with the error.
func (n *Normalizer) generateFixedLengthParam(param string) (Value, error) {
	if !strings.Contains(param, withLengthSep) {
		return Text(param), nil
	}
	switch {
	case strings.Contains(param, arrayWithLengthSep):
		return n.generateArray(param)
	case strings.Contains(param, jsonWithLengthSep):
		return n.generateJSON(param)
	default:
		return n.generateText(param)
	}
}

func (n *Normalizer) generateArray(param string) (Value, error) {
	parts := strings.Split(stripEnds(param), arrayWithLengthSep)
	if len(parts) != 2 {
		return Text(param), fmt.Errorf("%w: %q", ErrMalformedPlaceholder, param)
	}
	seed, ok := listSeeds[parts[0]]
	if !ok {
		return Text(param), fmt.Errorf("%w: %q", ErrUnknownSeed, parts[0])
	}
	length, err := n.parseLength(parts[1])
	if err != nil {
		return Text(param), err
	}
	items := make([]Value, length)
	for i := range items {
		items[i] = seed
	}
	return List(items...), nil
}

func (n *Normalizer) generateJSON(param string) (Value, error) {
	parts := strings.Split(stripEnds(param), jsonWithLengthSep)
	if len(parts) < 2 {
		return Text(param), fmt.Errorf("%w: %q", ErrMalformedPlaceholder, param)
	}
	length, err := n.parseLength(parts[1])
	if err != nil {
		return Text(param), err
	}
	fields := make([]Field, length)
	for i := range fields {
		key := strconv.Itoa(i)
		fields[i] = F(key, Text(key))
	}
	return Map(fields...), nil
}

// generateText replaces the first bracketed placeholder with its generated
// content. Literal text around the placeholder is kept.
func (n *Normalizer) generateText(param string) (Value, error) {
	start := strings.Index(param, "[")
	end := strings.Index(param, "]")
	if start < 0 || end < start {
		return Text(param), fmt.Errorf("%w: %q", ErrMalformedPlaceholder, param)
	}
	parts := strings.Split(param[start+1:end], withLengthSep)
	if len(parts) != 2 {
		return Text(param), fmt.Errorf("%w: %q", ErrMalformedPlaceholder, param)
	}
	kind, rawLength := parts[0], parts[1]
	seed, ok := textSeeds[kind]
	if !ok {
		return Text(param), fmt.Errorf("%w: %q", ErrUnknownSeed, kind)
	}
	length, err := n.parseLength(rawLength)
	if err != nil {
		return Text(param), err
	}
	placeholder := "[" + kind + withLengthSep + rawLength + "]"
	generated := strings.ReplaceAll(param, placeholder, strings.Repeat(seed, length))
	if kind != SeedInteger {
		return Text(generated), nil
	}
	i, err := strconv.ParseInt(generated, 10, 64)
	switch {
	case errors.Is(err, strconv.ErrRange):
		// digits beyond int64 are kept as text
		return Text(generated), nil
	case err != nil:
		return Text(generated), fmt.Errorf("%w: %q is not an integer", ErrMalformedPlaceholder, generated)
	}
	return Int(i), nil
}

func (n *Normalizer) parseLength(raw string) (int, error) {
	length, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLength, raw)
	}
	if length < 0 {
		return 0, fmt.Errorf("%w: %d is negative", ErrInvalidLength, length)
	}
	if n.maxLength > 0 && length > n.maxLength {
		return 0, fmt.Errorf("%w: %d exceeds limit %d", ErrInvalidLength, length, n.maxLength)
	}
	return length, nil
}

// stripEnds drops the first and last character, the brackets of a
// whole-value placeholder.
func stripEnds(s string) string {
	if len(s) < 2 {
		return ""
	}
	return s[1 : len(s)-1]
}

// GenerateFixedLengthParams expands length placeholders in every text field
// of rec. It stops at the first failing field and returns the record as
// transformed so far along with a *StepError.
func (n *Normalizer) GenerateFixedLengthParams(rec Value) (Value, error) {
	out := rec.Clone()
	switch out.kind {
	case KindMap:
		for i := range out.fields {
			text, ok := out.fields[i].Value.AsText()
			if !ok {
				continue
			}
			v, err := n.generateFixedLengthParam(text)
			out.fields[i].Value = v
			if err != nil {
				return out, newStepError(StepFixedLength, out.fields[i].Name, err)
			}
		}
	case KindList:
		for i := range out.items {
			text, ok := out.items[i].AsText()
			if !ok {
				continue
			}
			v, err := n.generateFixedLengthParam(text)
			out.items[i] = v
			if err != nil {
				return out, newStepError(StepFixedLength, strconv.Itoa(i), err)
			}
		}
	case KindText:
		v, err := n.generateFixedLengthParam(out.text)
		if err != nil {
			return v, newStepError(StepFixedLength, "", err)
		}
		return v, nil
	}
	return out, nil
}

// RemoveMissingParams drops every field whose text carries [MISSING_PARAM].
// A bare scalar carrying the token becomes Null.
func (n *Normalizer) RemoveMissingParams(rec Value) (Value, error) {
	out := rec.Clone()
	switch out.kind {
	case KindMap:
		kept := out.fields[:0]
		for _, f := range out.fields {
			if isMissing(f.Value) {
				continue
			}
			kept = append(kept, f)
		}
		out.fields = kept
	case KindList:
		kept := out.items[:0]
		for _, item := range out.items {
			if isMissing(item) {
				continue
			}
			kept = append(kept, item)
		}
		out.items = kept
	case KindText:
		if isMissing(out) {
			return Null(), nil
		}
	}
	return out, nil
}

func isMissing(v Value) bool {
	text, ok := v.AsText()
	return ok && strings.Contains(text, MissingParam)
}

// PrepareParam prepares a single parameter: Null when it is marked
// [MISSING_PARAM], otherwise its length placeholder expanded. Types are not
// inferred.
func (n *Normalizer) PrepareParam(param string) (Value, error) {
	if strings.Contains(param, MissingParam) {
		return Null(), nil
	}
	v, err := n.generateFixedLengthParam(param)
	if err != nil {
		return v, newStepError(StepFixedLength, "", err)
	}
	return v, nil
}
