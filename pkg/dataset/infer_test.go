package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInferText(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected Value
	}{
		{"true token", "[TRUE]", Bool(true)},
		{"false token", "[FALSE]", Bool(false)},
		{"true token inside text", "is [TRUE]", Bool(true)},
		{"true wins over false", "[FALSE][TRUE]", Bool(true)},
		{"integer", "42", Int(42)},
		{"negative integer", "-7", Int(-7)},
		{"float", "3.25", Float(3.25)},
		{"exponent float", "1e3", Float(1000)},
		{"plain text", "hello", Text("hello")},
		{"empty text", "", Text("")},
		{"json object", `{"a": 1, "b": [true, "x"], "c": 1.5}`, Map(
			F("a", Int(1)),
			F("b", List(Bool(true), Text("x"))),
			F("c", Float(1.5)),
		)},
		{"invalid json keeps text", "{not json}", Text("{not json}")},
		{"json array stays text", `["a"]`, Text(`["a"]`)},
		{"integer with surrounding spaces", " 5 ", Int(5)},
		{"float with surrounding spaces", "\t2.5\n", Float(2.5)},
		{"signed integer", "+8", Int(8)},
		{"leading dot float", ".5", Float(0.5)},
		{"trailing dot float", "5.", Float(5)},
		{"integer beyond int64 as text", "99999999999999999999", Text("99999999999999999999")},
		{"overflowing float as text", "1e999", Text("1e999")},
		{"nan as text", "nan", Text("nan")},
		{"inf as text", "inf", Text("inf")},
		{"infinity as text", "-Infinity", Text("-Infinity")},
		{"hex float as text", "0x1p4", Text("0x1p4")},
		{"hex integer as text", "0x10", Text("0x10")},
		{"underscored number as text", "1_000.5", Text("1_000.5")},
		{"inner space as text", "1 000", Text("1 000")},
	}
	for _, tc := range testCases {
		t.Run("Should infer "+tc.name, func(t *testing.T) {
			out := InferText(tc.input)

			assert.True(t, tc.expected.Equal(out), "expected %s, got %s", tc.expected, out)
		})
	}
}

func TestNormalizer_InferDatatypes(t *testing.T) {
	n := New()

	t.Run("Should infer every map field", func(t *testing.T) {
		rec := Map(F("a", Text("1")), F("b", Text("[TRUE]")), F("c", Text("x")))

		out, err := n.InferDatatypes(rec)

		require.NoError(t, err)
		assert.True(t, Map(F("a", Int(1)), F("b", Bool(true)), F("c", Text("x"))).Equal(out))
	})

	t.Run("Should infer every list element", func(t *testing.T) {
		out, err := n.InferDatatypes(Texts("1", "2.5", "[FALSE]"))

		require.NoError(t, err)
		assert.True(t, List(Int(1), Float(2.5), Bool(false)).Equal(out))
	})

	t.Run("Should only go one level deep", func(t *testing.T) {
		rec := Map(F("nested", Texts("1", "2")))

		out, err := n.InferDatatypes(rec)

		require.NoError(t, err)
		assert.True(t, rec.Equal(out))
	})

	t.Run("Should not restringify typed values", func(t *testing.T) {
		rec := Map(F("i", Int(1)), F("f", Float(2)), F("b", Bool(true)), F("n", Null()))

		out, err := n.InferDatatypes(rec)

		require.NoError(t, err)
		assert.True(t, rec.Equal(out))
	})

	t.Run("Should infer a bare scalar", func(t *testing.T) {
		out, err := n.InferDatatypes(Text(`{"k":"v"}`))

		require.NoError(t, err)
		assert.True(t, Map(F("k", Text("v"))).Equal(out))
	})
}
