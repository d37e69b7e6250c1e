package restclient

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseBodyToMap(t *testing.T) {
	t.Run("Should decode JSON bodies", func(t *testing.T) {
		server, _ := newRecordingServer(t, http.StatusOK, `{"server":{"id":"1","ports":[80,443]}}`)
		resp, err := clientFor(t, server, "").Get(t.Context(), "{api_root_url}", Request{})
		require.NoError(t, err)

		out, err := ResponseBodyToMap(resp, RepresentationJSON, "", false)

		require.NoError(t, err)
		assert.Equal(t, map[string]any{
			"server": map[string]any{"id": "1", "ports": []any{float64(80), float64(443)}},
		}, out)
	})

	t.Run("Should reject invalid JSON", func(t *testing.T) {
		_, err := BodyToMap([]byte(`{"a":`), RepresentationJSON, "", false)

		assert.Error(t, err)
	})

	t.Run("Should select the XML root and drop attribute prefixes", func(t *testing.T) {
		body := []byte(`<server id="7"><name>web</name></server>`)

		out, err := BodyToMap(body, RepresentationXML, "server", false)

		require.NoError(t, err)
		assert.Equal(t, map[string]any{"id": "7", "name": "web"}, out)
	})

	t.Run("Should unwrap list nodes", func(t *testing.T) {
		body := []byte(`<servers><server><name>a</name></server><server><name>b</name></server></servers>`)

		out, err := BodyToMap(body, RepresentationXML, "servers", true)

		require.NoError(t, err)
		assert.Equal(t, []any{
			map[string]any{"name": "a"},
			map[string]any{"name": "b"},
		}, out)
	})

	t.Run("Should require the XML root name", func(t *testing.T) {
		_, err := BodyToMap([]byte(`<a/>`), RepresentationXML, "", false)

		assert.ErrorIs(t, err, ErrXMLRootRequired)
	})

	t.Run("Should fail when the XML root is absent", func(t *testing.T) {
		_, err := BodyToMap([]byte(`<a>1</a>`), RepresentationXML, "b", false)

		assert.ErrorContains(t, err, `"b" not found`)
	})

	t.Run("Should fail on nil responses", func(t *testing.T) {
		_, err := ResponseBodyToMap(nil, RepresentationJSON, "", false)

		assert.Error(t, err)
	})
}

func TestModelToRequestBody(t *testing.T) {
	model := map[string]any{"server": map[string]any{"name": "web"}}

	t.Run("Should encode JSON", func(t *testing.T) {
		out, err := ModelToRequestBody(model, RepresentationJSON, "")

		require.NoError(t, err)
		assert.JSONEq(t, `{"server":{"name":"web"}}`, out)
	})

	t.Run("Should encode only the selected JSON root", func(t *testing.T) {
		out, err := ModelToRequestBody(model, RepresentationJSON, "server")

		require.NoError(t, err)
		assert.JSONEq(t, `{"name":"web"}`, out)
	})

	t.Run("Should fail when the JSON root is absent", func(t *testing.T) {
		_, err := ModelToRequestBody(model, RepresentationJSON, "other")

		assert.Error(t, err)
	})

	t.Run("Should encode XML that decodes back", func(t *testing.T) {
		out, err := ModelToRequestBody(model, RepresentationXML, "")
		require.NoError(t, err)

		back, err := BodyToMap([]byte(out), RepresentationXML, "server", false)

		require.NoError(t, err)
		assert.Equal(t, map[string]any{"name": "web"}, back)
	})

	t.Run("Should require a single XML root", func(t *testing.T) {
		_, err := ModelToRequestBody(map[string]any{"a": 1, "b": 2}, RepresentationXML, "")

		assert.Error(t, err)
	})
}

func TestDeleteElementWhenValueNone(t *testing.T) {
	t.Run("Should prune nil values and emptied entries", func(t *testing.T) {
		data := []any{
			map[string]any{
				"element1": "e1",
				"element2": map[string]any{"element2.1": "e2", "element2.2": nil},
				"element3": "e3",
			},
			map[string]any{
				"elementA": "eA",
				"elementB": map[string]any{"elementB.1": nil, "elementB2": []any{"a", "b"}},
				"elementC": map[string]any{"only": nil},
				"elementD": 0,
			},
		}

		out := DeleteElementWhenValueNone(data)

		assert.Equal(t, []any{
			map[string]any{
				"element1": "e1",
				"element2": map[string]any{"element2.1": "e2"},
				"element3": "e3",
			},
			map[string]any{
				"elementA": "eA",
				"elementB": map[string]any{"elementB2": []any{"a", "b"}},
				"elementD": 0,
			},
		}, out)
		assert.Equal(t, out, data)
	})
}
