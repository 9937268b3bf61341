package capture

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"twspacedl/internal/logger"
)

// Tags are the descriptive fields stamped onto the output container.
type Tags struct {
	Title     string
	Author    string
	EpisodeID string
}

// Job is one unit of work for the external muxing process. Source is a local
// playlist path, a live URL, or a concat:A|B pseudo-input; the muxer copies
// the streams into Output without re-encoding.
type Job struct {
	Source string
	Output string
	Tags   Tags

	// LocalPlaylist widens the protocol whitelist so the muxer may follow a
	// local playlist file out to https segment URLs.
	LocalPlaylist bool
}

// Muxer abstracts the external audio muxing tool. The production
// implementation shells out to ffmpeg; tests substitute a recorder.
type Muxer interface {
	// Available reports whether the tool can be invoked at all. Called once,
	// eagerly, so a missing binary fails the run before any network cost.
	Available() error
	// Run executes one capture job and blocks until the process exits or ctx
	// is done.
	Run(ctx context.Context, job Job) error
}

const ffmpegBinary = "ffmpeg"

// FFmpeg runs capture jobs through the ffmpeg binary on PATH.
type FFmpeg struct {
	binary string
	logger logger.Logger
}

// NewFFmpeg returns a Muxer backed by the ffmpeg binary.
func NewFFmpeg(log logger.Logger) *FFmpeg {
	return &FFmpeg{binary: ffmpegBinary, logger: log}
}

// Available checks for the binary on PATH.
func (f *FFmpeg) Available() error {
	if _, err := exec.LookPath(f.binary); err != nil {
		return &MuxerUnavailableError{Tool: f.binary, Cause: err}
	}
	return nil
}

// Run invokes ffmpeg for the job. The process inherits stderr so its -stats
// progress output stays visible; a ctx deadline kills the process.
func (f *FFmpeg) Run(ctx context.Context, job Job) error {
	args := f.args(job)
	f.logger.Debugf("Running %s %v", f.binary, args)

	cmd := exec.CommandContext(ctx, f.binary, args...)
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("muxer timed out for %s: %w", job.Source, ctxErr)
		}
		return fmt.Errorf("muxer exited with error for %s: %w", job.Source, err)
	}
	return nil
}

func (f *FFmpeg) args(job Job) []string {
	args := []string{"-y", "-stats", "-v", "warning"}
	if job.LocalPlaylist {
		args = append(args, "-protocol_whitelist", "file,https,tls,tcp")
	}
	args = append(args,
		"-i", job.Source,
		"-c", "copy",
		"-metadata", "title="+job.Tags.Title,
		"-metadata", "author="+job.Tags.Author,
		"-metadata", "episode_id="+job.Tags.EpisodeID,
		job.Output,
	)
	return args
}
