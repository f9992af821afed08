package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claudiasc89/image-analysis-portfolio/internal/models"
	"github.com/claudiasc89/image-analysis-portfolio/pkg/batch"
	"github.com/claudiasc89/image-analysis-portfolio/pkg/config"
	"github.com/claudiasc89/image-analysis-portfolio/pkg/tiffstack"
)

// executeCommand runs the root command with args and returns its output.
// Flag values are reset first because the commands are package globals.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetArgs(nil)
	}()

	err := rootCmd.Execute()
	return buf.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func writeAcquisition(t *testing.T, path string) {
	t.Helper()
	data := []uint16{
		5, 5, 5, 5, 0, 90, 0, 90,
		5, 5, 5, 5, 0, 90, 0, 90,
	}
	acq, err := models.NewAcquisition(data, 2, 2, 2, 2)
	require.NoError(t, err)
	require.NoError(t, tiffstack.WriteAcquisition(path, acq))
}

func writeMask(t *testing.T, path string, labels []uint16) {
	t.Helper()
	s := models.NewStack(2, 2, 1)
	s.Append(models.Plane{Data: labels, Height: 2, Width: 2})
	require.NoError(t, tiffstack.Write(path, s))
}

func TestVersionCmd_Executes(t *testing.T) {
	originalVersion := version
	version = "test-version-1.0.0"
	defer func() { version = originalVersion }()

	out, err := executeCommand(t, "version")

	assert.NoError(t, err)
	assert.Contains(t, out, "imganalysis version test-version-1.0.0")
}

func TestConfigInitCmd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "imganalysis.yaml")

	out, err := executeCommand(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Default configuration written to")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cfg)

	_, err = executeCommand(t, "config", "init", path)
	assert.Error(t, err)

	_, err = executeCommand(t, "config", "init", "--force", path)
	assert.NoError(t, err)
}

func TestProjectCmd_ProjectsFolder(t *testing.T) {
	folder := t.TempDir()
	writeAcquisition(t, filepath.Join(folder, "cells_WL508.tif"))
	writeAcquisition(t, filepath.Join(folder, "cells_WL614.tif"))
	outDir := filepath.Join(t.TempDir(), "out")

	out, err := executeCommand(t, "project", folder,
		"--channels", "WL508,WL614",
		"--type", "mean",
		"--z-range", "0",
		"--output", outDir)
	require.NoError(t, err)

	assert.Contains(t, out, "projected: 2")
	assert.Contains(t, out, "Report saved to")

	arr, err := tiffstack.Read(filepath.Join(outDir, "cells_WL614_meanproj.tif"))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 2}, arr.Shape)
	assert.Equal(t, []uint16{0, 90, 0, 90}, arr.Data[:4])
}

func TestProjectCmd_NoData(t *testing.T) {
	_, err := executeCommand(t, "project", t.TempDir())
	assert.True(t, errors.Is(err, batch.ErrNoData))
}

func TestProjectCmd_InvalidType(t *testing.T) {
	_, err := executeCommand(t, "project", t.TempDir(), "--type", "median")
	assert.True(t, errors.Is(err, config.ErrInvalidConfig))
}

func TestProjectCmd_ReadsConfigFile(t *testing.T) {
	folder := t.TempDir()
	writeAcquisition(t, filepath.Join(folder, "cells_GFP.tif"))

	cfgPath := filepath.Join(t.TempDir(), "imganalysis.yaml")
	content := "input:\n  folder: " + folder + "\n  channels: [GFP]\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0644))

	out, err := executeCommand(t, "--config", cfgPath, "project")
	require.NoError(t, err)
	assert.Contains(t, out, "projected: 1")

	_, err = os.Stat(filepath.Join(folder, "projection", "cells_GFP_maxproj.tif"))
	assert.NoError(t, err)
}

func TestARICmd(t *testing.T) {
	refDir := t.TempDir()
	segDir := t.TempDir()
	writeMask(t, filepath.Join(refDir, "P1_A01_ref.tif"), []uint16{0, 0, 1, 1})
	writeMask(t, filepath.Join(segDir, "P1_A01_seg.tif"), []uint16{3, 3, 4, 4})
	ledgerPath := filepath.Join(t.TempDir(), "ledger.db")

	out, err := executeCommand(t, "ari", "--ref", refDir, "--seg", segDir, "--ledger", ledgerPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Total valid matching pairs found: 1")
	assert.Contains(t, out, "P1_A01")
	assert.Contains(t, out, "1.0000")

	_, err = os.Stat(filepath.Join(segDir, "ARI_results.xlsx"))
	assert.NoError(t, err)
	_, err = os.Stat(ledgerPath)
	assert.NoError(t, err)
}

func TestARICmd_RequiresDirectories(t *testing.T) {
	_, err := executeCommand(t, "ari", "--ref", t.TempDir())
	assert.True(t, errors.Is(err, config.ErrInvalidConfig))
}
