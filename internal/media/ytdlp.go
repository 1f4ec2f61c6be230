package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/clipper-dl/clipper/config"
	"github.com/clipper-dl/clipper/internal/domain/model"
)

// Extractor shells out to the yt-dlp binary for probing and downloading.
type Extractor struct {
	cfg    config.ExtractorConfig
	logger *slog.Logger
}

// ExtractorOptions groups constructor parameters for Extractor.
type ExtractorOptions struct {
	Config config.ExtractorConfig
	Logger *slog.Logger
}

// NewExtractor creates an Extractor around the configured yt-dlp binary.
func NewExtractor(opts ExtractorOptions) *Extractor {
	logger := opts.Logger
	if logger != nil {
		logger = logger.With("component", "ytdlp")
	}
	return &Extractor{cfg: opts.Config, logger: logger}
}

// baseArgs builds the flags shared by probe and download runs.
func (e *Extractor) baseArgs(opts Options) []string {
	args := []string{
		"--no-warnings",
		"--no-playlist",
		"--geo-bypass",
		"--force-ipv4",
		"--no-write-info-json",
		"--no-write-subs",
	}
	if opts.SocketTimeout > 0 {
		args = append(args, "--socket-timeout", strconv.Itoa(int(opts.SocketTimeout.Seconds())))
	}
	if opts.Retries > 0 {
		args = append(args, "--retries", strconv.Itoa(opts.Retries))
	}
	if opts.SleepInterval > 0 {
		args = append(args, "--sleep-interval", strconv.Itoa(int(opts.SleepInterval.Seconds())))
	}
	if opts.MaxSleepInterval > 0 {
		args = append(args, "--max-sleep-interval", strconv.Itoa(int(opts.MaxSleepInterval.Seconds())))
	}
	if opts.UserAgent != "" {
		args = append(args, "--user-agent", opts.UserAgent)
	}
	for _, ea := range opts.ExtractorArgs {
		args = append(args, "--extractor-args", ea)
	}
	return args
}

// Probe runs a metadata-only extraction and parses the single-JSON output.
func (e *Extractor) Probe(ctx context.Context, url string, opts Options) (*Probe, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ProbeTimeout)
	defer cancel()

	args := append(e.baseArgs(opts), "--dump-single-json", "--skip-download", url)
	cmd := exec.CommandContext(ctx, e.cfg.BinaryPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if e.logger != nil {
		e.logger.DebugContext(ctx, "probing url", "url", url, "platform", opts.Platform)
	}

	if err := cmd.Run(); err != nil {
		return nil, &ExtractionError{
			Platform: opts.Platform,
			Stage:    "probe",
			Stderr:   stderr.String(),
			Err:      err,
		}
	}

	raw := stdout.Bytes()
	var probe Probe
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, &ExtractionError{
			Platform: opts.Platform,
			Stage:    "probe",
			Stderr:   "unparseable extractor output",
			Err:      err,
		}
	}
	probe.RawJSON = raw
	if probe.Title == "" {
		probe.Title = "Unknown"
	}
	return &probe, nil
}

// Download fetches the content selected by the given format selector into
// <media_root>/<platform>/, with the job ID prefixed onto the filename so
// identical titles never collide. Returns the written artifact.
func (e *Extractor) Download(ctx context.Context, url, selector string, opts Options) (*Artifact, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.DownloadTimeout)
	defer cancel()

	dir := opts.OutputDir
	if dir == "" {
		dir = filepath.Join(e.cfg.MediaRoot, string(opts.Platform))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}

	template := filepath.Join(dir, opts.JobID+"_%(title).50B.%(ext)s")
	args := append(e.baseArgs(opts),
		"-f", selector,
		"-o", template,
		"--no-simulate",
		"--print", "after_move:filepath",
		url,
	)
	cmd := exec.CommandContext(ctx, e.cfg.BinaryPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if e.logger != nil {
		e.logger.InfoContext(ctx, "downloading",
			"url", url,
			"platform", opts.Platform,
			"selector", selector,
		)
	}

	if err := cmd.Run(); err != nil {
		return nil, &ExtractionError{
			Platform: opts.Platform,
			Stage:    "download",
			Selector: selector,
			Stderr:   stderr.String(),
			Err:      err,
		}
	}

	// --print after_move:filepath emits the final path once the file is in
	// place; take the last non-empty line in case the extractor printed more.
	path := lastNonEmptyLine(stdout.String())
	if path == "" {
		return nil, &ExtractionError{
			Platform: opts.Platform,
			Stage:    "download",
			Selector: selector,
			Stderr:   "extractor reported no output file",
		}
	}

	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return nil, &ExtractionError{
			Platform: opts.Platform,
			Stage:    "download",
			Selector: selector,
			Stderr:   "downloaded file missing or empty",
			Err:      err,
		}
	}

	return &Artifact{
		Filename:  filepath.Base(path),
		FilePath:  path,
		MediaType: model.MediaTypeVideo,
	}, nil
}

func lastNonEmptyLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
