package capture

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twspacedl/internal/config"
	"twspacedl/internal/logger"
	"twspacedl/internal/models"
)

// chdir stands in for testing.T.Chdir, which needs Go 1.24+.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}

// fakeMuxer records every job and writes a stub output file, so the
// orchestrator's renames and concatenation inputs can be asserted on. The
// output is written before any injected failure is returned, because the
// real muxer also writes into its output file up until the moment it exits
// nonzero.
type fakeMuxer struct {
	mu        sync.Mutex
	jobs      []Job
	available error
	failWhen  func(Job) error
}

func (f *fakeMuxer) Available() error {
	if f.available != nil {
		return &MuxerUnavailableError{Tool: "ffmpeg", Cause: f.available}
	}
	return nil
}

func (f *fakeMuxer) Run(ctx context.Context, job Job) error {
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	f.mu.Unlock()

	if err := os.WriteFile(job.Output, []byte("audio"), 0o644); err != nil {
		return err
	}
	if f.failWhen != nil {
		return f.failWhen(job)
	}
	return nil
}

func (f *fakeMuxer) recorded() []Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Job(nil), f.jobs...)
}

func testSettings(t *testing.T) config.Settings {
	return config.Settings{
		Threads:    2,
		JobTimeout: 5 * time.Second,
		ScratchDir: filepath.Join(t.TempDir(), "scratch"),
	}
}

func endedMeta() *models.SpaceMetadata {
	return &models.SpaceMetadata{
		ID:          "1vOxwdZVLoEGB",
		MediaKey:    "28_1234",
		State:       models.StateEnded,
		Title:       "Late night radio",
		CreatorName: "Some Host",
	}
}

func runningMeta() *models.SpaceMetadata {
	meta := endedMeta()
	meta.State = models.StateRunning
	return meta
}

func endpoints() *models.StreamEndpoints {
	return &models.StreamEndpoints{
		DynamicURL:       "https://host/live/dynamic_playlist.m3u8?type=live",
		MasterURL:        "https://host/live/master_playlist.m3u8",
		ChunkPlaylistURL: "https://host/live/chunk_playlist.m3u8",
		PlaylistText:     "#EXTM3U\nhttps://host/live/chunk_0001.ts\n",
	}
}

func TestCaptureEndedSpaceIsSingleSource(t *testing.T) {
	chdir(t, t.TempDir())
	mux := &fakeMuxer{}
	orch := New(mux, logger.Discard(), testSettings(t))

	final, err := orch.Capture(context.Background(), endedMeta(), endpoints(), "space")
	require.NoError(t, err)
	assert.Equal(t, "space.m4a", final)
	assert.FileExists(t, final)

	jobs := mux.recorded()
	require.Len(t, jobs, 1)
	assert.Equal(t, filepath.Join(orch.ScratchDir(), "space.m3u8"), jobs[0].Source)
	assert.True(t, jobs[0].LocalPlaylist)
	assert.Equal(t, Tags{Title: "Late night radio", Author: "Some Host", EpisodeID: "1vOxwdZVLoEGB"}, jobs[0].Tags)

	// No live-edge artifact may exist on the single-source path.
	assert.NoFileExists(t, filepath.Join(orch.ScratchDir(), "space_new.m4a"))
}

func TestCaptureWritesRewrittenPlaylistToScratch(t *testing.T) {
	chdir(t, t.TempDir())
	mux := &fakeMuxer{}
	orch := New(mux, logger.Discard(), testSettings(t))

	_, err := orch.Capture(context.Background(), endedMeta(), endpoints(), "space")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(orch.ScratchDir(), "space.m3u8"))
	require.NoError(t, err)
	assert.Equal(t, endpoints().PlaylistText, string(data))
}

func TestCaptureRunningSpaceIsDualSourceThenConcat(t *testing.T) {
	chdir(t, t.TempDir())
	mux := &fakeMuxer{}
	orch := New(mux, logger.Discard(), testSettings(t))

	final, err := orch.Capture(context.Background(), runningMeta(), endpoints(), "space")
	require.NoError(t, err)
	assert.Equal(t, "space.m4a", final)
	assert.FileExists(t, final)

	jobs := mux.recorded()
	require.Len(t, jobs, 3)

	histOut := filepath.Join(orch.ScratchDir(), "space.m4a")
	liveOut := filepath.Join(orch.ScratchDir(), "space_new.m4a")

	// The two parallel jobs may land in either order; the concat job is last.
	parallel := jobs[:2]
	sources := []string{parallel[0].Source, parallel[1].Source}
	assert.Contains(t, sources, filepath.Join(orch.ScratchDir(), "space.m3u8"))
	assert.Contains(t, sources, endpoints().DynamicURL)

	concat := jobs[2]
	assert.Equal(t, "concat:"+histOut+"|"+liveOut, concat.Source)
	assert.Equal(t, filepath.Join(orch.ScratchDir(), "space_full.m4a"), concat.Output)
	assert.False(t, concat.LocalPlaylist)
}

func TestCaptureConcatOrderIsStable(t *testing.T) {
	chdir(t, t.TempDir())
	for i := 0; i < 5; i++ {
		mux := &fakeMuxer{}
		orch := New(mux, logger.Discard(), testSettings(t))

		_, err := orch.Capture(context.Background(), runningMeta(), endpoints(), "space")
		require.NoError(t, err)

		concat := mux.recorded()[2]
		histOut := filepath.Join(orch.ScratchDir(), "space.m4a")
		liveOut := filepath.Join(orch.ScratchDir(), "space_new.m4a")
		assert.Equal(t, "concat:"+histOut+"|"+liveOut, concat.Source,
			"history must always precede the live edge")
	}
}

func TestCaptureMissingMuxerFailsBeforeAnyWork(t *testing.T) {
	chdir(t, t.TempDir())
	mux := &fakeMuxer{available: errors.New("executable file not found in $PATH")}
	orch := New(mux, logger.Discard(), testSettings(t))

	_, err := orch.Capture(context.Background(), runningMeta(), endpoints(), "space")

	var unavailErr *MuxerUnavailableError
	require.True(t, errors.As(err, &unavailErr))
	assert.Empty(t, mux.recorded())
	assert.Empty(t, orch.ScratchDir())
}

func TestCaptureLiveEdgeFailureFallsBackToHistory(t *testing.T) {
	chdir(t, t.TempDir())
	mux := &fakeMuxer{
		failWhen: func(job Job) error {
			if job.Source == endpoints().DynamicURL {
				return errors.New("stream cut out")
			}
			return nil
		},
	}
	orch := New(mux, logger.Discard(), testSettings(t))

	final, err := orch.Capture(context.Background(), runningMeta(), endpoints(), "space")
	require.NoError(t, err)
	assert.Equal(t, "space.m4a", final)
	assert.FileExists(t, final)

	// Both parallel jobs ran, but no concat job followed.
	require.Len(t, mux.recorded(), 2)
}

func TestCaptureHistoricalFailureIsFatal(t *testing.T) {
	chdir(t, t.TempDir())
	mux := &fakeMuxer{
		failWhen: func(job Job) error {
			if job.LocalPlaylist {
				return errors.New("segment fetch failed")
			}
			return nil
		},
	}
	orch := New(mux, logger.Discard(), testSettings(t))

	_, err := orch.Capture(context.Background(), runningMeta(), endpoints(), "space")

	var capErr *CaptureFailedError
	require.True(t, errors.As(err, &capErr))
	assert.Equal(t, StageHistorical, capErr.Stage)
	assert.NoFileExists(t, "space.m4a")
}

func TestCaptureConcatFailureIsFatal(t *testing.T) {
	chdir(t, t.TempDir())
	mux := &fakeMuxer{
		failWhen: func(job Job) error {
			if strings.HasPrefix(job.Source, "concat:") {
				return errors.New("corrupt input")
			}
			return nil
		},
	}
	orch := New(mux, logger.Discard(), testSettings(t))

	_, err := orch.Capture(context.Background(), runningMeta(), endpoints(), "space")

	var capErr *CaptureFailedError
	require.True(t, errors.As(err, &capErr))
	assert.Equal(t, StageConcat, capErr.Stage)
}

func TestCaptureRunningWithoutDynamicURLCapturesHistoryOnly(t *testing.T) {
	chdir(t, t.TempDir())
	mux := &fakeMuxer{}
	orch := New(mux, logger.Discard(), testSettings(t))

	eps := endpoints()
	eps.DynamicURL = "" // master-URL override path
	final, err := orch.Capture(context.Background(), runningMeta(), eps, "space")
	require.NoError(t, err)
	assert.FileExists(t, final)
	require.Len(t, mux.recorded(), 1)
}

func TestFFmpegArgs(t *testing.T) {
	f := NewFFmpeg(logger.Discard())

	args := f.args(Job{
		Source:        "tmp/space.m3u8",
		Output:        "tmp/space.m4a",
		Tags:          Tags{Title: "Late night radio", Author: "Some Host", EpisodeID: "1vOxwdZVLoEGB"},
		LocalPlaylist: true,
	})
	assert.Equal(t, []string{
		"-y", "-stats", "-v", "warning",
		"-protocol_whitelist", "file,https,tls,tcp",
		"-i", "tmp/space.m3u8",
		"-c", "copy",
		"-metadata", "title=Late night radio",
		"-metadata", "author=Some Host",
		"-metadata", "episode_id=1vOxwdZVLoEGB",
		"tmp/space.m4a",
	}, args)

	args = f.args(Job{Source: "concat:a.m4a|b.m4a", Output: "out.m4a"})
	assert.NotContains(t, args, "-protocol_whitelist")
	assert.Contains(t, args, "concat:a.m4a|b.m4a")
}

func TestCaptureConcatFailureLeavesNoFinalArtifact(t *testing.T) {
	chdir(t, t.TempDir())
	mux := &fakeMuxer{
		failWhen: func(job Job) error {
			if strings.HasPrefix(job.Source, "concat:") {
				return errors.New("corrupt input")
			}
			return nil
		},
	}
	orch := New(mux, logger.Discard(), testSettings(t))

	_, err := orch.Capture(context.Background(), runningMeta(), endpoints(), "space")
	require.Error(t, err)

	// The muxer wrote into its concat output before failing; that partial
	// file must stay confined to scratch, with nothing at the final path.
	assert.FileExists(t, filepath.Join(orch.ScratchDir(), "space.m4a"))
	assert.FileExists(t, filepath.Join(orch.ScratchDir(), "space_full.m4a"))
	assert.NoFileExists(t, "space.m4a")
}

func TestCaptureLiveEdgeFailureReportsItsStage(t *testing.T) {
	chdir(t, t.TempDir())
	var logBuf bytes.Buffer
	mux := &fakeMuxer{
		failWhen: func(job Job) error {
			if job.Source == endpoints().DynamicURL {
				return errors.New("stream cut out")
			}
			return nil
		},
	}
	orch := New(mux, logger.NewLoggerTo(&logBuf, "warn", "text"), testSettings(t))

	_, err := orch.Capture(context.Background(), runningMeta(), endpoints(), "space")
	require.NoError(t, err)
	assert.Contains(t, logBuf.String(), StageLiveEdge)
}
