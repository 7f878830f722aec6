package vesperbin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/errgroup"

	"github.com/flaneur2020/vesper-bin/vesperbin/logger"
	"github.com/flaneur2020/vesper-bin/vesperbin/report"
	"github.com/flaneur2020/vesper-bin/vesperbin/storage"
)

// ProgressCallback is called during conversion to report progress
// current: container bytes decoded so far
// total: total size of all jobs
type ProgressCallback func(current int64, total int64)

// ConvertJob is one raw file to decode.
type ConvertJob struct {
	File storage.FileDescriptor
}

// Failure names a file that could not be converted.
type Failure struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// ConvertStats contains statistics about a conversion run
type ConvertStats struct {
	TotalFiles     int
	TotalBytes     int64
	ConvertedFiles int
	ConvertedBytes int64
	SkippedFiles   int
	FailedFiles    int
	Warnings       int

	Failures []Failure
	Reports  []*report.Report
}

// SinkFactory creates the Output for one job.
type SinkFactory interface {
	NewOutput(job *ConvertJob) (Output, error)
}

// Catalog remembers containers that were already converted.
type Catalog interface {
	Seen(ctx context.Context, dgst digest.Digest) (bool, error)
	Record(ctx context.Context, dgst digest.Digest, file storage.FileDescriptor, rep *report.Report) error
}

// Publisher receives every final report.
type Publisher interface {
	Publish(ctx context.Context, rep *report.Report) error
}

// ConverterOptions configure a Converter.
type ConverterOptions struct {
	Decode      *Options
	Concurrency int

	// Optional collaborators.
	Catalog   Catalog
	Publisher Publisher
}

type Converter interface {
	ConvertFile(ctx context.Context, job *ConvertJob, progress ProgressCallback) (*report.Report, error)
	// StartConversion decodes jobs whole-file in parallel. One failing file
	// never stops the others.
	StartConversion(ctx context.Context, jobs []*ConvertJob, progress ProgressCallback) (*ConvertStats, error)
}

type converter struct {
	store storage.Storage
	sinks SinkFactory
	opts  ConverterOptions
}

// NewConverter creates a converter reading from store and writing through
// sinks.
func NewConverter(store storage.Storage, sinks SinkFactory, opts ConverterOptions) Converter {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Decode == nil {
		opts.Decode = DefaultOptions()
	}
	return &converter{store: store, sinks: sinks, opts: opts}
}

// JobsFor turns a listing into jobs, dropping files that have no decoder.
func JobsFor(files []storage.FileDescriptor) []*ConvertJob {
	jobs := make([]*ConvertJob, 0, len(files))
	for _, f := range files {
		if !f.Kind.Decodable() {
			logger.Debug("skipping %s (%s)", f.Path, f.Kind)
			continue
		}
		jobs = append(jobs, &ConvertJob{File: f})
	}
	return jobs
}

// ErrSkipped is returned by ConvertFile for a container already in the
// catalog.
var ErrSkipped = errors.New("already converted")

func (c *converter) ConvertFile(ctx context.Context, job *ConvertJob, progress ProgressCallback) (*report.Report, error) {
	file := job.File
	var dgst digest.Digest
	if c.opts.Catalog != nil {
		var err error
		dgst, err = storage.FileDigest(ctx, c.store, file)
		if err != nil {
			return nil, fmt.Errorf("failed to hash %s: %w", file.Path, err)
		}
		seen, err := c.opts.Catalog.Seen(ctx, dgst)
		if err != nil {
			return nil, fmt.Errorf("failed to query catalog: %w", err)
		}
		if seen {
			logger.Info("%s: %s already converted, skipping", file.Path, dgst)
			return nil, ErrSkipped
		}
	}

	rc, err := c.store.OpenFile(ctx, file.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer rc.Close()

	out, err := c.sinks.NewOutput(job)
	if err != nil {
		return nil, fmt.Errorf("failed to create output: %w", err)
	}

	// Wrap the reader with progress tracking if callback is provided
	var readerToUse io.Reader = rc
	if progress != nil {
		readerToUse = &progressReader{
			reader:   rc,
			total:    file.Size,
			callback: progress,
		}
	}

	rep, err := DecodeFile(ctx, file.Path, readerToUse, out, c.opts.Decode)
	if rep != nil && !rep.Failed() && err == nil && c.opts.Catalog != nil {
		if cerr := c.opts.Catalog.Record(ctx, dgst, file, rep); cerr != nil {
			logger.Warn("%s: failed to record in catalog: %v", file.Path, cerr)
		}
	}
	if rep != nil && c.opts.Publisher != nil && ctx.Err() == nil {
		if perr := c.opts.Publisher.Publish(ctx, rep); perr != nil {
			logger.Warn("%s: failed to publish report: %v", file.Path, perr)
		}
	}
	return rep, err
}

func (c *converter) StartConversion(ctx context.Context, jobs []*ConvertJob, progress ProgressCallback) (*ConvertStats, error) {
	stats := &ConvertStats{TotalFiles: len(jobs)}
	for _, job := range jobs {
		stats.TotalBytes += job.File.Size
	}
	if len(jobs) == 0 {
		return stats, nil
	}

	// Notify the callback of total size before starting
	if progress != nil {
		progress(0, stats.TotalBytes)
	}

	var (
		mu           sync.Mutex
		currentTotal int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)

	for _, job := range jobs {
		job := job
		g.Go(func() error {
			var fileProgress ProgressCallback
			var last int64
			if progress != nil {
				fileProgress = func(current, total int64) {
					mu.Lock()
					defer mu.Unlock()
					currentTotal += current - last
					last = current
					progress(currentTotal, stats.TotalBytes)
				}
			}

			rep, err := c.ConvertFile(gctx, job, fileProgress)

			mu.Lock()
			defer mu.Unlock()
			// count skipped and failed files as fully progressed
			currentTotal += job.File.Size - last
			if rep != nil {
				stats.Reports = append(stats.Reports, rep)
				stats.Warnings += len(rep.Warnings)
			}
			switch {
			case errors.Is(err, ErrSkipped):
				stats.SkippedFiles++
			case err != nil:
				if gctx.Err() != nil {
					// cancellation is the only error that stops the group
					return gctx.Err()
				}
				stats.FailedFiles++
				stats.Failures = append(stats.Failures, Failure{Path: job.File.Path, Reason: err.Error()})
				logger.Warn("%s: %v", job.File.Path, err)
			default:
				stats.ConvertedFiles++
				stats.ConvertedBytes += job.File.Size
			}
			return nil
		})
	}

	err := g.Wait()
	sort.Slice(stats.Reports, func(i, j int) bool { return stats.Reports[i].Source < stats.Reports[j].Source })
	sort.Slice(stats.Failures, func(i, j int) bool { return stats.Failures[i].Path < stats.Failures[j].Path })
	if err != nil {
		return stats, err
	}
	if progress != nil {
		progress(stats.TotalBytes, stats.TotalBytes)
	}
	return stats, nil
}

// progressReader wraps an io.Reader to report decode progress
type progressReader struct {
	reader   io.Reader
	total    int64
	current  int64
	callback ProgressCallback
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	pr.current += int64(n)
	if pr.callback != nil {
		pr.callback(pr.current, pr.total)
	}
	return n, err
}
