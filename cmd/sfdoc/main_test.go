package main

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrajeshsfdc/sfdoc/internal/domain"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "Go Version: ")
}

func TestBundlesCommandOnEmptyDatabase(t *testing.T) {
	t.Setenv("SFDOC_CONFIG", "")
	t.Setenv("SFDOC_DATABASE_PATH", filepath.Join(t.TempDir(), "sfdoc.db"))

	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"bundles", "--log-level", "error"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "ID  SOURCE  STATUS")
}

func TestPrintBundles(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	queued := now.Add(-2 * time.Hour)

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)

	require.NoError(t, printBundles(cmd, []domain.Bundle{
		{ID: 7, SourceID: "src-7", Status: domain.BundleError, QueuedAt: &queued, Error: "no articles or images changed"},
	}, now))

	assert.Contains(t, out.String(), "2 hours ago")
	assert.Contains(t, out.String(), "src-7")
	assert.Contains(t, out.String(), "no articles or images changed")
}
