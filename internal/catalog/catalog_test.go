package catalog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func sampleRun(file, sha string, pass bool) Run {
	return Run{
		InputFile:    file,
		FileSha256:   sha,
		Profile:      "survey-acceptance",
		RulePackId:   "xtf-acceptance",
		RulePackVer:  "1.0.0",
		RecordCount:  128,
		CorruptCount: 1,
		UnknownCount: 2,
		Errors:       boolToInt(!pass),
		Warnings:     1,
		Pass:         pass,
	}
}

func TestRecordAndGetRun(t *testing.T) {
	c := openTestCatalog(t)

	want := sampleRun("line_0042.xtf", "aa11", true)
	id, err := c.RecordRun(want)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := c.GetRun(id)
	require.NoError(t, err)
	require.Equal(t, id, got.RunId)
	require.Equal(t, want.InputFile, got.InputFile)
	require.Equal(t, want.FileSha256, got.FileSha256)
	require.Equal(t, want.RulePackId, got.RulePackId)
	require.Equal(t, want.RecordCount, got.RecordCount)
	require.True(t, got.Pass)
	require.False(t, got.CreatedAt.IsZero())
}

func TestGetRunNotFound(t *testing.T) {
	c := openTestCatalog(t)
	_, err := c.GetRun("no-such-run")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListRunsNewestFirst(t *testing.T) {
	c := openTestCatalog(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		run := sampleRun("line.xtf", "bb22", true)
		run.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		run.RecordCount = i
		_, err := c.RecordRun(run)
		require.NoError(t, err)
	}

	runs, err := c.ListRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	require.Equal(t, 2, runs[0].RecordCount)
	require.Equal(t, 0, runs[2].RecordCount)

	limited, err := c.ListRuns(2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
}

func TestRunsForFileAndLatest(t *testing.T) {
	c := openTestCatalog(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first := sampleRun("line.xtf", "cc33", false)
	first.CreatedAt = base
	_, err := c.RecordRun(first)
	require.NoError(t, err)

	second := sampleRun("line.xtf", "cc33", true)
	second.CreatedAt = base.Add(time.Hour)
	secondId, err := c.RecordRun(second)
	require.NoError(t, err)

	_, err = c.RecordRun(sampleRun("other.xtf", "dd44", true))
	require.NoError(t, err)

	runs, err := c.RunsForFile("cc33")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, secondId, runs[0].RunId)

	latest, err := c.LatestForFile("cc33")
	require.NoError(t, err)
	require.Equal(t, secondId, latest.RunId)
	require.True(t, latest.Pass)

	_, err = c.LatestForFile("ee55")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestArtifactsUpsert(t *testing.T) {
	c := openTestCatalog(t)

	id, err := c.RecordRun(sampleRun("line.xtf", "ff66", true))
	require.NoError(t, err)

	require.NoError(t, c.AddArtifact(Artifact{RunId: id, Kind: "diagnostics", Path: "/tmp/d.ndjson", Sha256: "01"}))
	require.NoError(t, c.AddArtifact(Artifact{RunId: id, Kind: "acceptance", Path: "/tmp/a.json", Sha256: "02"}))
	require.NoError(t, c.AddArtifact(Artifact{RunId: id, Kind: "acceptance", Path: "/tmp/a2.json", Sha256: "03"}))

	arts, err := c.Artifacts(id)
	require.NoError(t, err)
	require.Len(t, arts, 2)
	require.Equal(t, "acceptance", arts[0].Kind)
	require.Equal(t, "/tmp/a2.json", arts[0].Path)
	require.Equal(t, "03", arts[0].Sha256)
}

func TestStats(t *testing.T) {
	c := openTestCatalog(t)

	_, err := c.RecordRun(sampleRun("a.xtf", "01", true))
	require.NoError(t, err)
	_, err = c.RecordRun(sampleRun("b.xtf", "02", false))
	require.NoError(t, err)
	_, err = c.RecordRun(sampleRun("c.xtf", "03", true))
	require.NoError(t, err)

	s, err := c.Stats()
	require.NoError(t, err)
	require.Equal(t, Stats{TotalRuns: 3, PassedRuns: 2, FailedRuns: 1}, s)
}
