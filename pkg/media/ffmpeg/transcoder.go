// Package ffmpeg implements the audio transcoder on top of the ffmpeg binary.
package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/listiago/atendechat/internal/logging"
	"github.com/listiago/atendechat/pkg/domain"
)

// DefaultBinary is looked up in PATH when no binary is configured.
const DefaultBinary = "ffmpeg"

// Transcoder runs one codec subprocess per call.
type Transcoder struct {
	binary    string
	outputDir string
	logger    *slog.Logger
	onRun     func(context.Context, *domain.TranscodeEvent)
	now       func() time.Time
	instance  string // keeps output names apart across replicas sharing outputDir

	mu   sync.Mutex
	last int64
}

// Option configures a Transcoder.
type Option func(*Transcoder)

// WithBinary sets the codec executable.
func WithBinary(path string) Option {
	return func(t *Transcoder) {
		if path != "" {
			t.binary = path
		}
	}
}

// WithOutputDir sets where transcoded files are written.
func WithOutputDir(dir string) Option {
	return func(t *Transcoder) {
		if dir != "" {
			t.outputDir = dir
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transcoder) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithClock overrides the time source used for output names and durations.
func WithClock(now func() time.Time) Option {
	return func(t *Transcoder) {
		if now != nil {
			t.now = now
		}
	}
}

// WithHook reports every run (e.g. domain.LifecycleHooks.OnTranscode).
func WithHook(fn func(context.Context, *domain.TranscodeEvent)) Option {
	return func(t *Transcoder) {
		t.onRun = fn
	}
}

// New creates a transcoder.
func New(opts ...Option) *Transcoder {
	t := &Transcoder{
		binary:    DefaultBinary,
		outputDir: os.TempDir(),
		logger:    logging.NewNop(),
		now:       time.Now,
		instance:  strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Args returns the codec arguments for a profile. The output path is always last.
func Args(source, output string, profile domain.TranscodeProfile) []string {
	p := profile.Params()
	args := []string{"-i", source, "-vn"}
	if profile == domain.ProfileVoiceNote {
		args = append(args,
			"-ab", strconv.Itoa(p.BitrateKbps)+"k",
			"-ar", strconv.Itoa(p.SampleRate),
			"-ac", strconv.Itoa(p.Channels),
		)
	} else {
		args = append(args,
			"-ar", strconv.Itoa(p.SampleRate),
			"-ac", strconv.Itoa(p.Channels),
			"-b:a", strconv.Itoa(p.BitrateKbps)+"k",
		)
	}
	if p.Format != "" {
		args = append(args, "-f", p.Format)
	}
	return append(args, "-y", output)
}

// Transcode converts source into the profile and returns the output path.
// The output is verified on disk: a zero exit status without a file is still a failure.
// The caller owns (and removes) the output; the source is never touched.
func (t *Transcoder) Transcode(ctx context.Context, source string, profile domain.TranscodeProfile) (out string, err error) {
	started := t.now()
	defer func() {
		if t.onRun != nil {
			t.onRun(ctx, &domain.TranscodeEvent{
				Timestamp: t.now(),
				Source:    source,
				Profile:   profile,
				Duration:  t.now().Sub(started),
				Err:       err,
			})
		}
	}()

	if _, statErr := os.Stat(source); statErr != nil {
		return "", &domain.TranscodeFailure{Source: source, Profile: profile, Err: statErr}
	}

	output := t.outputPath(profile)
	cmd := exec.CommandContext(ctx, t.binary, Args(source, output, profile)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	t.logger.Debug("transcoding audio", "source", source, "profile", profile, "output", output)
	if runErr := cmd.Run(); runErr != nil {
		_ = os.Remove(output)
		return "", &domain.TranscodeFailure{
			Source:  source,
			Profile: profile,
			Stderr:  strings.TrimSpace(stderr.String()),
			Err:     runErr,
		}
	}

	if _, statErr := os.Stat(output); statErr != nil {
		return "", &domain.TranscodeFailure{
			Source:  source,
			Profile: profile,
			Stderr:  strings.TrimSpace(stderr.String()),
			Err:     fmt.Errorf("output file was not created: %w", statErr),
		}
	}
	return output, nil
}

// outputPath names the output after a strictly increasing nanosecond timestamp
// and the transcoder instance.
func (t *Transcoder) outputPath(profile domain.TranscodeProfile) string {
	t.mu.Lock()
	stamp := t.now().UnixNano()
	if stamp <= t.last {
		stamp = t.last + 1
	}
	t.last = stamp
	t.mu.Unlock()
	return filepath.Join(t.outputDir, strconv.FormatInt(stamp, 10)+"-"+t.instance+profile.Params().Extension)
}
