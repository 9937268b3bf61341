package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"twspacedl/internal/config"
	"twspacedl/internal/logger"
	"twspacedl/internal/models"
)

// audioExt is the container extension of every final artifact.
const audioExt = ".m4a"

// Outcome records one capture job's terminal state.
type Outcome struct {
	Job     Job
	Err     error
	Elapsed time.Duration
}

// Orchestrator decides single- vs dual-source capture from the space's
// lifecycle state, runs the job(s), and produces the final artifact.
//
// A running space needs two sources because the rewritten playlist only
// covers segments buffered at query time while the live edge keeps growing,
// and the space may end during the capture window. The two jobs fan out into
// a bounded pool and fan back in at the concatenation step.
type Orchestrator struct {
	muxer    Muxer
	logger   logger.Logger
	settings config.Settings
	progress bool

	scratchDir string
}

// New creates an orchestrator. Settings are normalized on the way in.
func New(muxer Muxer, log logger.Logger, settings config.Settings) *Orchestrator {
	return &Orchestrator{
		muxer:    muxer,
		logger:   log,
		settings: settings.Normalize(),
	}
}

// EnableProgress turns on the waiting spinner for the parallel capture phase.
func (o *Orchestrator) EnableProgress() {
	o.progress = true
}

// CheckMuxer verifies the external tool exists. Callers run this before any
// network work so a missing binary costs nothing.
func (o *Orchestrator) CheckMuxer() error {
	return o.muxer.Available()
}

// ScratchDir returns the run's scratch directory once Capture has created
// it. The caller owns cleanup (--keep-files skips it).
func (o *Orchestrator) ScratchDir() string {
	return o.scratchDir
}

// Capture produces <baseName>.m4a in the working directory from the derived
// endpoints. Exactly one final artifact exists on success; on failure,
// partial outputs stay confined to the scratch directory.
func (o *Orchestrator) Capture(ctx context.Context, meta *models.SpaceMetadata, eps *models.StreamEndpoints, baseName string) (string, error) {
	if err := o.CheckMuxer(); err != nil {
		return "", err
	}

	if err := o.ensureScratch(); err != nil {
		return "", err
	}

	playlistPath := filepath.Join(o.scratchDir, baseName+".m3u8")
	if err := os.WriteFile(playlistPath, []byte(eps.PlaylistText), 0o644); err != nil {
		return "", fmt.Errorf("failed to write scratch playlist: %w", err)
	}

	tags := Tags{Title: meta.Title, Author: meta.CreatorName, EpisodeID: meta.ID}
	finalPath := baseName + audioExt

	if meta.State != models.StateRunning {
		return o.captureHistorical(ctx, playlistPath, finalPath, tags)
	}
	if eps.DynamicURL == "" {
		// Master-URL override on a still-running space: there is no live
		// endpoint to tail, so capture the buffered history only.
		o.logger.Warnf("No dynamic URL available; capturing buffered segments only")
		return o.captureHistorical(ctx, playlistPath, finalPath, tags)
	}
	return o.captureDual(ctx, playlistPath, finalPath, eps.DynamicURL, baseName, tags)
}

// captureHistorical is the deterministic single-source branch: one job whose
// source is the local rewritten playlist.
func (o *Orchestrator) captureHistorical(ctx context.Context, playlistPath, finalPath string, tags Tags) (string, error) {
	scratchOut := filepath.Join(o.scratchDir, filepath.Base(finalPath))
	job := Job{Source: playlistPath, Output: scratchOut, Tags: tags, LocalPlaylist: true}

	o.logger.Infof("Capturing buffered segments from %s", playlistPath)
	if err := o.muxer.Run(ctx, job); err != nil {
		return "", &CaptureFailedError{Stage: StageHistorical, Cause: err}
	}

	if err := os.Rename(scratchOut, finalPath); err != nil {
		return "", fmt.Errorf("failed to move capture into place: %w", err)
	}
	return finalPath, nil
}

// captureDual runs the historical-segment job and the live-edge job in
// parallel under the worker pool, then concatenates their outputs in fixed
// order (history first) to keep the audio chronological.
//
// Outcome policy: a failed historical job fails the run; a failed or
// timed-out live-edge job is tolerated and the historical output is promoted
// to the final artifact; the concatenation step is always fatal on failure.
func (o *Orchestrator) captureDual(ctx context.Context, playlistPath, finalPath, dynURL, baseName string, tags Tags) (string, error) {
	histOut := filepath.Join(o.scratchDir, baseName+audioExt)
	liveOut := filepath.Join(o.scratchDir, baseName+"_new"+audioExt)

	jobs := []Job{
		{Source: playlistPath, Output: histOut, Tags: tags, LocalPlaylist: true},
		{Source: dynURL, Output: liveOut, Tags: tags},
	}
	outcomes := make([]Outcome, len(jobs))

	stopSpinner := o.startSpinner()

	g := new(errgroup.Group)
	g.SetLimit(o.settings.Threads)
	for i, job := range jobs {
		i, job := i, job // per-iteration copies; the go directive predates Go 1.22 loop semantics
		g.Go(func() error {
			jobCtx, cancel := context.WithTimeout(ctx, o.settings.JobTimeout)
			defer cancel()

			start := time.Now()
			err := o.muxer.Run(jobCtx, job)
			outcomes[i] = Outcome{Job: job, Err: err, Elapsed: time.Since(start)}
			// A job's failure must not abort its sibling; errors are
			// inspected after the fan-in point instead.
			return nil
		})
	}
	_ = g.Wait()
	stopSpinner()

	hist, live := outcomes[0], outcomes[1]
	o.logger.Debugf("Historical job finished in %s (err=%v)", hist.Elapsed, hist.Err)
	o.logger.Debugf("Live-edge job finished in %s (err=%v)", live.Elapsed, live.Err)

	if hist.Err != nil {
		return "", &CaptureFailedError{Stage: StageHistorical, Cause: hist.Err}
	}
	if live.Err != nil {
		liveErr := &CaptureFailedError{Stage: StageLiveEdge, Cause: live.Err}
		o.logger.Warnf("%v; keeping buffered segments only", liveErr)
		if err := os.Rename(histOut, finalPath); err != nil {
			return "", fmt.Errorf("failed to move capture into place: %w", err)
		}
		return finalPath, nil
	}

	// Order matters: history before live edge, or the recording plays back
	// out of order. The concat output stays in scratch until the muxer has
	// exited cleanly, so a failure never leaves a partial final artifact.
	concatOut := filepath.Join(o.scratchDir, baseName+"_full"+audioExt)
	concat := Job{Source: "concat:" + histOut + "|" + liveOut, Output: concatOut, Tags: tags}
	o.logger.Infof("Concatenating buffered and live captures")
	if err := o.muxer.Run(ctx, concat); err != nil {
		return "", &CaptureFailedError{Stage: StageConcat, Cause: err}
	}
	if err := os.Rename(concatOut, finalPath); err != nil {
		return "", fmt.Errorf("failed to move capture into place: %w", err)
	}
	return finalPath, nil
}

func (o *Orchestrator) ensureScratch() error {
	if o.scratchDir != "" {
		return nil
	}
	dir := o.settings.ScratchDir
	if dir == "" {
		// Scratch lives under the working directory so the final rename never
		// crosses filesystems. Unique per run; jobs never share file names.
		dir = "twspacedl-" + uuid.NewString()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create scratch directory %s: %w", dir, err)
	}
	o.scratchDir = dir
	return nil
}

// startSpinner shows an indeterminate spinner while the parallel jobs run.
// Returns a stop function; a no-op when progress display is off.
func (o *Orchestrator) startSpinner() func() {
	if !o.progress {
		return func() {}
	}
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("capturing"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSpinnerType(14),
	)
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(120 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_ = bar.Add(1)
			}
		}
	}()
	return func() {
		close(done)
		_ = bar.Finish()
	}
}
