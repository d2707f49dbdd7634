package cli

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/savegraph/internal/schema"
	"github.com/roach88/savegraph/internal/testutil"
	"github.com/roach88/savegraph/pkg/backend"
)

const sampleSchema = `
roots: world: {
	values: name: string
	refs: hero: string
}

roots: vault: values: secret: string

types: "game.hero": {
	values: name: =~"^[a-z]+$"
	refs: friend?: string
}

types: "game.coin": values: value: int & >0
`

func writeText(path, body string) error {
	return os.WriteFile(path, []byte(body), 0o644)
}

func writeSchema(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schema.cue")
	require.NoError(t, writeText(path, body))
	return path
}

func TestValidate_Valid(t *testing.T) {
	dir := seed(t)
	path := writeSchema(t, sampleSchema)

	out, err := execute(t, "validate", path, "--root", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "All capsules valid (2 capsules checked)")

	out, err = execute(t, "validate", path, "world", "--root", dir, "--format", "json")
	require.NoError(t, err)
	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, []string{"world"}, resp.Data.Capsules)
}

func TestValidate_Issues(t *testing.T) {
	dir := seed(t)
	path := writeSchema(t, sampleSchema+"\ntypes: \"game.coin\": values: value: >100\n")

	out, err := execute(t, "validate", path, "--root", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Validation failed with")
	assert.Contains(t, out, schema.ErrCodeViolation)

	out, err = execute(t, "validate", path, "--root", dir, "--format", "json")
	require.Error(t, err)
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, schema.ErrCodeViolation, resp.Error.Code)
}

func TestValidate_Strict(t *testing.T) {
	dir := seed(t)
	path := writeSchema(t, `types: "game.hero": {}`)

	_, err := execute(t, "validate", path, "--root", dir)
	require.NoError(t, err)

	out, err := execute(t, "validate", path, "--root", dir, "--strict")
	require.Error(t, err)
	assert.Contains(t, out, schema.ErrCodeUntyped)
}

func TestValidate_BadSchema(t *testing.T) {
	dir := seed(t)

	out, err := execute(t, "validate", writeSchema(t, "roots: {"), "--root", dir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, schema.ErrCodeInvalidSchema)

	_, err = execute(t, "validate", filepath.Join(t.TempDir(), "missing.cue"), "--root", dir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestClearCommand(t *testing.T) {
	ctx := context.Background()
	dir := seed(t)

	_, err := execute(t, "clear", "--root", dir)
	require.Error(t, err, "needs IDs or --all")
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	out, err := execute(t, "clear", "world", "--root", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Emptied 1 capsule: world")

	fb, err := backend.OpenDir(dir)
	require.NoError(t, err)
	ids, err := fb.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{testutil.VaultID, testutil.WorldID}, ids, "emptied documents stay")

	out, err = execute(t, "inspect", "world", "--root", dir)
	require.Error(t, err)
	assert.Contains(t, out, ErrCodeNotFound)

	out, err = execute(t, "clear", "--all", "--remove", "--root", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 2 capsules")

	ids, err = fb.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
