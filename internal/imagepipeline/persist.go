package imagepipeline

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/artifactstore"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/conf"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/errors"
)

// diskUsagePercent reports the used capacity of the filesystem holding
// path, 0..100.
func diskUsagePercent(path string) (float64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.UsedPercent, nil
}

// variantJob describes one variant to generate and store. The payload
// is built inside the worker so encode cost and failure stay accounted
// to the variant that caused them.
type variantJob struct {
	variant     artifactstore.Variant
	ext         string
	contentType string
	build       func() ([]byte, error)
}

func (p *Pipeline) variantJobs(dec *Decoded) []variantJob {
	return []variantJob{
		{
			variant:     artifactstore.VariantOriginal,
			ext:         dec.Ext(),
			contentType: dec.ContentType(),
			build:       func() ([]byte, error) { return dec.Raw, nil },
		},
		{
			variant:     artifactstore.VariantModel,
			ext:         derivedExt,
			contentType: "image/png",
			build:       func() ([]byte, error) { return encodePNG(ScaleSquare(dec.Image, conf.ModelInputSize)) },
		},
		{
			variant:     artifactstore.VariantThumbnail,
			ext:         derivedExt,
			contentType: "image/png",
			build:       func() ([]byte, error) { return encodePNG(ScaleSquare(dec.Image, conf.ThumbnailSize)) },
		},
	}
}

// Persist writes all variants of a validated upload. Variants run
// concurrently; a failed variant is logged and omitted from the result
// but never fails the others. The run is bounded by the configured
// pipeline timeout on top of whatever deadline ctx already carries.
func (p *Pipeline) Persist(ctx context.Context, dec *Decoded) *Result {
	if t := p.settings.Artifacts.PipelineTimeout; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	return p.persist(ctx, dec)
}

func (p *Pipeline) persist(ctx context.Context, dec *Decoded) *Result {
	start := time.Now()

	if !p.settings.Artifacts.Enabled {
		p.recordPipeline("skipped", start)
		return &Result{Skipped: true, Reason: SkipDisabled}
	}

	if refused := p.diskGateRefuses(); refused {
		p.recordPipeline("skipped", start)
		return &Result{Skipped: true, Reason: SkipDiskUsage}
	}

	jobs := p.variantJobs(dec)
	// All variants of one upload share the digest and timestamp so the
	// stored keys group together.
	at := time.Now()

	refs := make([]*VariantRef, len(jobs))
	var wg sync.WaitGroup
	for i := range jobs {
		wg.Add(1)
		go func(slot int, job variantJob) {
			defer wg.Done()
			refs[slot] = p.runVariant(ctx, dec, at, job)
		}(i, jobs[i])
	}
	wg.Wait()

	out := &Result{}
	failed := 0
	for _, ref := range refs {
		if ref == nil {
			failed++
			continue
		}
		out.Refs = append(out.Refs, *ref)
	}

	status := "success"
	switch {
	case failed == len(jobs):
		status = "failed"
		out.Partial = true
	case failed > 0:
		status = "partial"
		out.Partial = true
	}
	if out.Partial && p.metrics != nil {
		p.metrics.RecordPartialFailure()
	}
	p.recordPipeline(status, start)

	return out
}

// diskGateRefuses checks artifact root usage against the configured
// watermark. A failed stat logs a warning and lets the write proceed;
// the gate protects headroom, it is not a correctness check.
func (p *Pipeline) diskGateRefuses() bool {
	watermark := p.settings.Artifacts.MaxDiskUsagePercent()
	root := p.settings.Artifacts.Root
	if watermark <= 0 || root == "" {
		return false
	}

	percent, err := p.diskUsage(root)
	if err != nil {
		p.logger.Warn("artifact disk usage check failed, proceeding without gate",
			"root", root,
			"error", err)
		return false
	}
	if percent < watermark {
		return false
	}

	p.logger.Warn("artifact disk usage above watermark, skipping persistence",
		"root", root,
		"used_percent", percent,
		"watermark_percent", watermark)
	if p.metrics != nil {
		p.metrics.RecordDiskGateRefusal()
	}
	return true
}

// runVariant builds and stores one variant. Returns nil on failure.
func (p *Pipeline) runVariant(ctx context.Context, dec *Decoded, at time.Time, job variantJob) *VariantRef {
	vctx, cancel := context.WithTimeout(ctx, variantTimeout)
	defer cancel()

	start := time.Now()
	payload, err := job.build()
	if err != nil {
		p.variantFailed(job.variant, start, err)
		return nil
	}

	key := artifactstore.KeyFor(dec.Digest, at, job.variant, job.ext)
	info, err := p.store.Put(vctx, key, bytes.NewReader(payload), artifactstore.PutOptions{
		ContentType: job.contentType,
	})
	if err != nil {
		p.variantFailed(job.variant, start, err)
		return nil
	}

	if p.metrics != nil {
		p.metrics.RecordVariant(string(job.variant), "success")
		p.metrics.RecordVariantDuration(string(job.variant), time.Since(start).Seconds())
	}

	return &VariantRef{
		Variant: job.variant,
		Key:     info.Key,
		URL:     info.URL,
		Size:    info.Size,
	}
}

func (p *Pipeline) variantFailed(variant artifactstore.Variant, start time.Time, err error) {
	p.logger.Warn("variant persistence failed",
		"variant", string(variant),
		"error", err)
	if p.metrics != nil {
		p.metrics.RecordVariant(string(variant), "error")
		p.metrics.RecordVariantDuration(string(variant), time.Since(start).Seconds())
	}
}

func (p *Pipeline) recordPipeline(status string, start time.Time) {
	if p.metrics != nil {
		p.metrics.RecordPipeline(status, time.Since(start).Seconds())
	}
}

// Job tracks one detached persistence run.
type Job struct {
	done   chan struct{}
	result *Result
}

// Done is closed when the run has finished.
func (j *Job) Done() <-chan struct{} { return j.done }

// Result blocks until the run has finished and returns its outcome.
func (j *Job) Result() *Result {
	<-j.done
	return j.result
}

// PersistDetached starts a persistence run that outlives the caller: it
// uses a fresh context bounded by the pipeline timeout so abandoning
// the returned Job does not abort in-flight writes. Concurrency is
// bounded; once the supervisor is saturated a job waits its turn inside
// its own deadline and is shed if the turn never comes.
func (p *Pipeline) PersistDetached(dec *Decoded) *Job {
	job := &Job{done: make(chan struct{})}

	if p.closed.Load() {
		job.result = &Result{Skipped: true, Reason: SkipShutdown}
		close(job.done)
		return job
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(job.done)

		ctx := context.Background()
		if t := p.settings.Artifacts.PipelineTimeout; t > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, t)
			defer cancel()
		}

		if err := p.sem.Acquire(ctx, 1); err != nil {
			p.logger.Warn("detached persistence shed, supervisor saturated", "error", err)
			p.recordPipeline("shed", time.Now())
			job.result = &Result{Skipped: true, Reason: SkipSaturated}
			return
		}
		defer p.sem.Release(1)

		job.result = p.persist(ctx, dec)
	}()

	return job
}

// Shutdown stops accepting detached jobs and waits for in-flight writes
// until ctx expires.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New(ctx.Err()).
			Component("imagepipeline").
			Category(errors.CategoryTimeout).
			Context("operation", "pipeline_shutdown").
			Build()
	}
}
