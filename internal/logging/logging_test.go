package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmontemor-qase/qase-workspace-migration/internal/models"
)

func TestNew_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migration.log")
	log, closer, err := New(Options{Level: "debug", Format: "json", File: path})
	require.NoError(t, err)

	log.WithField("step", "suites").Info("created suite")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"created suite"`)
	assert.Contains(t, string(data), `"step":"suites"`)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
}

func TestNew_InvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"bad level", Options{Level: "loud"}},
		{"bad format", Options{Format: "xml"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := New(tc.opts); err == nil {
				t.Errorf("New(%+v) should fail", tc.opts)
			}
		})
	}
}

func TestJobHook(t *testing.T) {
	job := models.NewJobStore().Create("migration")
	log := logrus.New()
	log.SetOutput(&strings.Builder{})
	log.AddHook(&JobHook{Job: job})

	log.WithField("step", "cases").Info("=== Migrating cases ===")
	log.Warn("slow response")

	lines := job.LogsSince(0)
	require.Len(t, lines, 2)
	assert.Equal(t, "[cases] === Migrating cases ===", lines[0])
	assert.Equal(t, "WARNING: slow response", lines[1])
}
