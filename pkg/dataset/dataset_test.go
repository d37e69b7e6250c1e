package dataset

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizer_Prepare(t *testing.T) {
	t.Run("Should remove missing params and coerce remaining values", func(t *testing.T) {
		rec := Map(F("a", Text("[MISSING_PARAM]")), F("b", Text("5")))

		out, err := New().Prepare(t.Context(), rec)

		require.NoError(t, err)
		assert.True(t, Map(F("b", Int(5))).Equal(out), "got %s", out)
	})

	t.Run("Should run synthesis before inference", func(t *testing.T) {
		rec := Map(
			F("name", Text("[STRING_WITH_LENGTH_5]")),
			F("code", Text("[INTEGER_WITH_LENGTH_3]")),
			F("tags", Text("[STRING_ARRAY_WITH_LENGTH_3]")),
			F("meta", Text("[JSON_WITH_LENGTH_2]")),
			F("enabled", Text("[TRUE]")),
			F("ratio", Text("0.5")),
		)

		out, err := New().Prepare(t.Context(), rec)

		require.NoError(t, err)
		expected := Map(
			F("name", Text("aaaaa")),
			F("code", Int(111)),
			F("tags", Texts("a", "a", "a")),
			F("meta", Map(F("0", Text("0")), F("1", Text("1")))),
			F("enabled", Bool(true)),
			F("ratio", Float(0.5)),
		)
		assert.True(t, expected.Equal(out), "got %s", out)
	})

	t.Run("Should keep long integer placeholders instead of discarding the record", func(t *testing.T) {
		rec := Map(F("id", Text("[INTEGER_WITH_LENGTH_20]")), F("b", Text("5")))

		out, err := New().Prepare(t.Context(), rec)

		require.NoError(t, err)
		assert.True(t, Map(F("id", Text("11111111111111111111")), F("b", Int(5))).Equal(out), "got %s", out)
	})

	t.Run("Should return null when a synthesis step fails", func(t *testing.T) {
		rec := Map(F("name", Text("[STRING_WITH_LENGTH_x]")), F("b", Text("5")))

		out, err := New().Prepare(t.Context(), rec)

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrPrepareFailed)
		assert.ErrorIs(t, err, ErrInvalidLength)
		assert.True(t, out.IsNull())
	})

	t.Run("Should not mutate the input record", func(t *testing.T) {
		rec := Map(F("a", Text("[MISSING_PARAM]")), F("b", Text("[STRING_WITH_LENGTH_2]")))
		snapshot := rec.Clone()

		_, err := New().Prepare(t.Context(), rec)

		require.NoError(t, err)
		assert.True(t, snapshot.Equal(rec))
	})

	t.Run("Should be a no-op for already normalized records", func(t *testing.T) {
		rec := Map(
			F("count", Int(3)),
			F("ratio", Float(1.5)),
			F("ok", Bool(false)),
			F("name", Text("plain")),
			F("list", Texts("a", "a")),
		)

		once, err := New().Prepare(t.Context(), rec)
		require.NoError(t, err)
		twice, err := New().Prepare(t.Context(), once)
		require.NoError(t, err)

		assert.True(t, rec.Equal(once), "got %s", once)
		assert.True(t, once.Equal(twice), "got %s", twice)
	})

	t.Run("Should prepare list records element by element", func(t *testing.T) {
		rec := Texts("1", "[MISSING_PARAM]", "[FALSE]", "[STRING_WITH_LENGTH_2]")

		out, err := New().Prepare(t.Context(), rec)

		require.NoError(t, err)
		assert.True(t, List(Int(1), Bool(false), Text("aa")).Equal(out), "got %s", out)
	})

	t.Run("Should prepare a bare scalar", func(t *testing.T) {
		out, err := Prepare(t.Context(), Text("42"))

		require.NoError(t, err)
		assert.True(t, Int(42).Equal(out))
	})

	t.Run("Should not infer inside a json generated from a bare scalar", func(t *testing.T) {
		out, err := New().Prepare(t.Context(), Text("[JSON_WITH_LENGTH_2]"))

		require.NoError(t, err)
		assert.True(t, Map(F("0", Text("0")), F("1", Text("1"))).Equal(out), "got %s", out)
	})

	t.Run("Should not infer inside an array generated from a bare scalar", func(t *testing.T) {
		out, err := New().Prepare(t.Context(), Text("[STRING_ARRAY_WITH_LENGTH_2]"))

		require.NoError(t, err)
		assert.True(t, Texts("a", "a").Equal(out), "got %s", out)
	})

	t.Run("Should keep a non-decimal number as text", func(t *testing.T) {
		rec := Map(F("c", Text("nan")), F("d", Text("0x1p4")), F("e", Text("1_000.5")))

		out, err := New().Prepare(t.Context(), rec)

		require.NoError(t, err)
		assert.True(t, rec.Equal(out), "got %s", out)
		encoded, err := json.Marshal(out)
		require.NoError(t, err)
		assert.JSONEq(t, `{"c":"nan","d":"0x1p4","e":"1_000.5"}`, string(encoded))
	})

	t.Run("Should turn a missing bare scalar into null", func(t *testing.T) {
		out, err := Prepare(t.Context(), Text("[MISSING_PARAM]"))

		require.NoError(t, err)
		assert.True(t, out.IsNull())
	})

	t.Run("Should be safe for concurrent use", func(t *testing.T) {
		n := New()
		rec := Map(F("a", Text("[STRING_WITH_LENGTH_3]")), F("b", Text("7")))
		var wg sync.WaitGroup
		results := make([]Value, 16)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				out, err := n.Prepare(t.Context(), rec)
				assert.NoError(t, err)
				results[i] = out
			}(i)
		}
		wg.Wait()
		expected := Map(F("a", Text("aaa")), F("b", Int(7)))
		for _, out := range results {
			assert.True(t, expected.Equal(out))
		}
	})
}

func TestNormalizer_Normalize(t *testing.T) {
	t.Run("Should report complete status when every step succeeds", func(t *testing.T) {
		res := New().Normalize(t.Context(), Map(F("a", Text("1"))))

		assert.Equal(t, StatusComplete, res.Status)
		assert.Empty(t, res.Errors)
		assert.NoError(t, res.Err())
		assert.True(t, Map(F("a", Int(1))).Equal(res.Record))
	})

	t.Run("Should report partial status with the work done so far", func(t *testing.T) {
		rec := Map(
			F("first", Text("[STRING_WITH_LENGTH_2]")),
			F("broken", Text("[FLOAT_WITH_LENGTH_2]")),
			F("last", Text("[STRING_WITH_LENGTH_3]")),
		)

		res := New().Normalize(t.Context(), rec)

		assert.Equal(t, StatusPartial, res.Status)
		require.Len(t, res.Errors, 1)
		var stepErr *StepError
		require.True(t, errors.As(res.Errors[0], &stepErr))
		assert.Equal(t, StepFixedLength, stepErr.Step)
		assert.Equal(t, "broken", stepErr.Field)
		assert.ErrorIs(t, res.Err(), ErrUnknownSeed)
		expected := Map(
			F("first", Text("aa")),
			F("broken", Text("[FLOAT_WITH_LENGTH_2]")),
			F("last", Text("[STRING_WITH_LENGTH_3]")),
		)
		assert.True(t, expected.Equal(res.Record), "got %s", res.Record)
	})

	t.Run("Should use status names", func(t *testing.T) {
		assert.Equal(t, "complete", StatusComplete.String())
		assert.Equal(t, "partial", StatusPartial.String())
		assert.Equal(t, "failed", StatusFailed.String())
	})
}

func TestNormalizer_PrepareParam(t *testing.T) {
	t.Run("Should return null for missing params", func(t *testing.T) {
		out, err := New().PrepareParam("value [MISSING_PARAM]")

		require.NoError(t, err)
		assert.True(t, out.IsNull())
	})

	t.Run("Should expand length placeholders without inferring types", func(t *testing.T) {
		out, err := New().PrepareParam("[STRING_WITH_LENGTH_4]")
		require.NoError(t, err)
		assert.True(t, Text("aaaa").Equal(out))

		out, err = New().PrepareParam("12")
		require.NoError(t, err)
		assert.True(t, Text("12").Equal(out))
	})

	t.Run("Should convert integer placeholders", func(t *testing.T) {
		out, err := New().PrepareParam("[INTEGER_WITH_LENGTH_3]")

		require.NoError(t, err)
		assert.True(t, Int(111).Equal(out))
	})

	t.Run("Should report malformed placeholders", func(t *testing.T) {
		out, err := New().PrepareParam("[STRING_WITH_LENGTH_]")

		assert.ErrorIs(t, err, ErrInvalidLength)
		assert.True(t, Text("[STRING_WITH_LENGTH_]").Equal(out))
	})
}

func TestStepError(t *testing.T) {
	t.Run("Should name step and field", func(t *testing.T) {
		err := newStepError(StepFixedLength, "name", ErrUnknownSeed)

		assert.Equal(t, `generate_fixed_length_params: field "name": unknown seed kind`, err.Error())
		assert.ErrorIs(t, err, ErrUnknownSeed)
	})

	t.Run("Should omit empty field", func(t *testing.T) {
		err := newStepError(StepInferTypes, "", ErrInvalidLength)

		assert.Equal(t, "infer_datatypes: invalid placeholder length", err.Error())
	})
}
