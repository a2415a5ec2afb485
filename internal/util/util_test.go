package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reply struct {
	SQL    string   `json:"sql"`
	Tables []string `json:"tablas"`
	Kind   string   `json:"kind" enum:"a,b"`
	Note   string   `json:"note,omitempty"`
	Extra  *int     `json:"extra"`
}

func TestRenderTemplate(t *testing.T) {
	out, err := RenderTemplate("no markers", nil)
	require.NoError(t, err)
	assert.Equal(t, "no markers", out)

	out, err = RenderTemplate(`{{.Q | upper}} [{{join ", " .T}}] {{default "none" .S}}
{{bullets .T}}`, map[string]any{"Q": "hola", "T": []string{"a", "b"}, "S": ""})
	require.NoError(t, err)
	assert.Equal(t, "HOLA [a, b] none\n- a\n- b", out)

	_, err = RenderTemplate("{{.Broken", nil)
	assert.Error(t, err)
}

func TestCreateSchema(t *testing.T) {
	s := CreateSchema(reply{})
	assert.ElementsMatch(t, []string{"sql", "tablas", "kind"}, s["required"])
	props := s["properties"].(map[string]any)
	assert.Equal(t, map[string]any{"type": "array", "items": map[string]any{"type": "string"}}, props["tablas"])
	assert.Equal(t, []string{"integer", "null"}, props["extra"].(map[string]any)["type"])
}

func TestSchemaDecode(t *testing.T) {
	sch, err := CompileSchema("reply", reply{})
	require.NoError(t, err)

	var r reply
	require.NoError(t, sch.Decode(`{"sql":"SELECT 1","tablas":["gold.x"],"kind":"a","note":null}`, &r))
	assert.Equal(t, "SELECT 1", r.SQL)
	assert.Equal(t, []string{"gold.x"}, r.Tables)

	err = sch.Decode(`{"sql":"SELECT 1","kind":"a"}`, &r)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "reply", verr.Schema)

	assert.Error(t, sch.Decode(`{"sql":"x","tablas":[],"kind":"z"}`, &r))
	assert.Error(t, sch.Decode(`not json`, &r))
}
