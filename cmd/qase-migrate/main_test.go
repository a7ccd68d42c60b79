package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmontemor-qase/qase-workspace-migration/internal/config"
	"github.com/rmontemor-qase/qase-workspace-migration/internal/migration"
)

func TestRootCmd_MissingConfigFile(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "nope.yaml")})
	cmd.SetOut(&bytes.Buffer{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope.yaml")
}

func TestRootCmd_RequiresTokens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"source": {"api_token": "only-source"}}`), 0o600))

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", path})
	cmd.SetOut(&bytes.Buffer{})

	assert.ErrorIs(t, cmd.Execute(), config.ErrMissingToken)
}

func TestFlagKeysAreBound(t *testing.T) {
	cmd := newRootCmd()
	for name := range flagKeys {
		assert.NotNil(t, cmd.Flags().Lookup(name), "flag %s", name)
	}
}

func TestPrintPreview(t *testing.T) {
	var buf bytes.Buffer
	printPreview(&buf, &migration.Preview{
		Projects: []migration.ProjectPreview{
			{Code: "DEMO", Title: "Demo", Action: "skip_exists", Mapped: map[string]int{"suites": 2, "cases": 5}},
		},
		Warnings: []string{"User migration is disabled."},
	})

	want := "=== Migration Preview ===\n" +
		"  DEMO         skip_exists    Demo\n" +
		"      5 cases already mapped\n" +
		"      2 suites already mapped\n" +
		"WARNING: User migration is disabled.\n"
	assert.Equal(t, want, buf.String())
}
