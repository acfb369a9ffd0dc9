package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateBuiltin(t *testing.T) {
	out, err := execute(t, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ 2 schema(s) valid")
	assert.Contains(t, out, "globals {master:float, mute:boolean}")
	assert.Contains(t, out, "hook -> filterFreq, numHarm")
}

func TestValidateJSON(t *testing.T) {
	out, err := execute(t, "validate", "--format", "json")
	require.NoError(t, err)

	resp := decodeResponse(t, out)
	assert.Equal(t, "ok", resp.Status)
	data := resp.Data.(map[string]any)
	assert.Equal(t, true, data["valid"])
	schemas := data["schemas"].([]any)
	require.Len(t, schemas, 2)
	assert.Equal(t, "globals", schemas[0].(map[string]any)["name"])
	assert.Equal(t, "player", schemas[1].(map[string]any)["name"])
}

func TestValidateDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lamp.cue"), []byte(`package lamp

schema: lamp: {
	level: {type: "integer", default: 0, min: 0, max: 10}
}
`), 0o644))

	out, err := execute(t, "validate", "--schemas", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "lamp {level:integer}")
}

func TestValidateRejectsBadHook(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lamp.cue"), []byte(`package lamp

schema: lamp: {
	level: {type: "integer", default: 0}
}

hook: lamp: derive: [
	{field: "brightness", expr: "level * 2"},
]
`), 0o644))

	out, err := execute(t, "validate", "--schemas", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E003]: schemas are invalid")
	assert.Contains(t, out, "brightness")
}

func TestValidateMissingDirectory(t *testing.T) {
	_, err := execute(t, "validate", "--schemas", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}
