// Package upload implements the Upload Pipeline (§4.5): a linear,
// persisted-checkpoint state machine driving a single video upload from
// account validation through publish confirmation, plus a batch driver
// over the files x accounts Cartesian product.
package upload

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ew384/automaton-core/internal/broker"
	"github.com/ew384/automaton-core/internal/plugin"
)

var tracer = otel.Tracer("automaton/upload")

const (
	publishWaitTimeout = 300 * time.Second
	batchJobGap        = time.Second
)

// State is a pipeline state, including the two terminal outcomes.
type State string

const (
	StateValidating      State = "validating"
	StateUploading       State = "uploading"
	StateAwaitingPublish State = "awaiting_publish"
	StateSuccess         State = "success"
	StateFailed          State = "failed"
)

// Chinese status strings persisted verbatim to the Publish-Record store
// (§4.5); these are data, not UI copy owned by this package's callers.
const (
	uploadStatusValidating     = "验证账号中"
	uploadStatusValidateFailed = "账号验证失败"
	uploadStatusUploading      = "上传中"
	uploadStatusUploaded       = "上传成功"

	pushStatusFailed  = "推送失败"
	pushStatusPushing = "推送中"
	pushStatusSuccess = "推送成功"
	pushStatusTimeout = "推送超时"
	pushStatusError   = "推送异常"

	reviewStatusFailed  = "发布失败"
	reviewStatusSuccess = "发布成功"
	reviewStatusUnknown = "状态未知"
)

// Job is the transient Upload Job Context (§3); RecordID and TabID are
// filled in as the pipeline progresses.
type Job struct {
	Platform        string
	AccountName     string
	CookieFile      string
	FilePath        string
	Title           string
	Tags            []string
	Category        string
	PublishAt       *time.Time
	EnableOriginal  bool
	AddToCollection bool
	RecordID        string
	TabID           broker.TabID
	StartTime       time.Time
}

// Result is what Upload returns once a job reaches a terminal state.
type Result struct {
	Success  bool
	RecordID string
	TabID    broker.TabID
	Error    string
}

// RecordStore is the Publish-Record persistence contract the pipeline
// checkpoints through. A concrete implementation lives in internal/store.
type RecordStore interface {
	// CreateRecord persists the initial row for a new job and returns its
	// RecordID.
	CreateRecord(ctx context.Context, platform, accountName, filePath, title string) (string, error)
	// UpdateStatus patches the persisted upload/push/review status fields;
	// empty strings leave the corresponding column untouched.
	UpdateStatus(ctx context.Context, recordID string, uploadStatus, pushStatus, reviewStatus string) error
}

// Pipeline drives single-account and batch uploads. It holds no mutable
// state of its own beyond its collaborators — every invariant lives in the
// Publish-Record store.
type Pipeline struct {
	br    broker.Broker
	reg   *plugin.Registry
	store RecordStore
	log   *slog.Logger
}

// New constructs a Pipeline.
func New(br broker.Broker, reg *plugin.Registry, store RecordStore) *Pipeline {
	return &Pipeline{br: br, reg: reg, store: store, log: slog.With("component", "upload")}
}

// UploadVideo drives one job through validating -> uploading ->
// awaiting_publish to a terminal state (§4.5). The tab, if acquired, is
// always closed on every exit path, success, failure, or panic.
func (p *Pipeline) UploadVideo(ctx context.Context, job Job) (result Result) {
	if job.AccountName == "" {
		job.AccountName = accountNameFromCookieFile(job.CookieFile)
	}
	job.StartTime = time.Now()

	ctx, span := tracer.Start(ctx, "upload.job", trace.WithAttributes(
		attribute.String("platform", job.Platform),
		attribute.String("account_name", job.AccountName),
	))
	defer span.End()

	recordID, err := p.store.CreateRecord(ctx, job.Platform, job.AccountName, job.FilePath, job.Title)
	if err != nil {
		span.RecordError(err)
		return Result{Success: false, Error: fmt.Sprintf("create record: %v", err)}
	}
	job.RecordID = recordID
	span.SetAttributes(attribute.String("record_id", recordID))

	defer func() {
		if r := recover(); r != nil {
			p.log.Error("upload pipeline panicked", "record_id", recordID, "panic", r)
			result = Result{Success: false, RecordID: recordID, Error: fmt.Sprintf("panic: %v", r)}
			span.RecordError(fmt.Errorf("panic: %v", r))
		}
		if !result.Success && result.Error != "" {
			span.RecordError(fmt.Errorf("%s", result.Error))
		}
		if job.TabID != "" {
			_ = p.br.CloseTab(context.Background(), job.TabID)
		}
	}()

	if !p.validating(ctx, &job) {
		return Result{Success: false, RecordID: recordID, Error: "account validation failed"}
	}

	if !p.uploading(ctx, &job) {
		return Result{Success: false, RecordID: recordID, TabID: job.TabID, Error: "upload failed"}
	}

	return p.awaitingPublish(ctx, &job)
}

func (p *Pipeline) validating(ctx context.Context, job *Job) bool {
	_ = p.store.UpdateStatus(ctx, job.RecordID, uploadStatusValidating, "", "")

	vp, ok := p.reg.GetValidate(job.Platform)
	if !ok {
		p.log.Warn("upload: no VALIDATE plugin registered, skipping validation", "platform", job.Platform)
		return true
	}

	valid, err := vp.ValidateCookie(ctx, job.CookieFile)
	if err != nil || !valid {
		_ = p.store.UpdateStatus(ctx, job.RecordID, uploadStatusValidateFailed, pushStatusFailed, reviewStatusFailed)
		return false
	}
	return true
}

func (p *Pipeline) uploading(ctx context.Context, job *Job) bool {
	_ = p.store.UpdateStatus(ctx, job.RecordID, uploadStatusUploading, "", "")

	up, ok := p.reg.GetUpload(job.Platform)
	if !ok {
		p.log.Error("upload: no UPLOAD plugin registered", "platform", job.Platform)
		return false
	}

	result, err := up.UploadVideoComplete(ctx, plugin.UploadParams{
		AccountName:     job.AccountName,
		CookieFile:      job.CookieFile,
		FilePath:        job.FilePath,
		Title:           job.Title,
		Tags:            job.Tags,
		Category:        job.Category,
		PublishAt:       job.PublishAt,
		EnableOriginal:  job.EnableOriginal,
		AddToCollection: job.AddToCollection,
	})
	job.TabID = result.TabID

	if err != nil || !result.Success {
		return false
	}
	return true
}

func (p *Pipeline) awaitingPublish(ctx context.Context, job *Job) Result {
	_ = p.store.UpdateStatus(ctx, job.RecordID, uploadStatusUploaded, pushStatusPushing, "")

	if job.TabID == "" {
		_ = p.store.UpdateStatus(ctx, job.RecordID, "", pushStatusError, reviewStatusUnknown)
		return Result{Success: false, RecordID: job.RecordID, Error: "no tab id captured from upload"}
	}

	waitCtx, cancel := context.WithTimeout(ctx, publishWaitTimeout)
	defer cancel()

	startURL, err := p.br.CurrentURL(waitCtx, job.TabID)
	if err != nil {
		_ = p.store.UpdateStatus(ctx, job.RecordID, "", pushStatusError, reviewStatusUnknown)
		return Result{Success: false, RecordID: job.RecordID, TabID: job.TabID, Error: err.Error()}
	}

	if _, err := p.br.WaitURLChange(waitCtx, job.TabID, startURL, publishWaitTimeout); err != nil {
		if waitCtx.Err() != nil {
			_ = p.store.UpdateStatus(ctx, job.RecordID, "", pushStatusTimeout, reviewStatusUnknown)
		} else {
			_ = p.store.UpdateStatus(ctx, job.RecordID, "", pushStatusError, reviewStatusFailed)
		}
		return Result{Success: false, RecordID: job.RecordID, TabID: job.TabID, Error: err.Error()}
	}

	_ = p.store.UpdateStatus(ctx, job.RecordID, "", pushStatusSuccess, reviewStatusSuccess)
	return Result{Success: true, RecordID: job.RecordID, TabID: job.TabID}
}

// accountNameFromCookieFile derives an account name when params omit one:
// the basename split on "_", choosing the second segment (§4.5).
func accountNameFromCookieFile(cookieFile string) string {
	base := filepath.Base(cookieFile)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	parts := strings.Split(base, "_")
	if len(parts) >= 2 {
		return parts[1]
	}
	return base
}

// BatchAccount is one target account in a batch upload.
type BatchAccount struct {
	Platform    string
	AccountName string
	CookieFile  string
}

// BatchFile is one video file in a batch upload.
type BatchFile struct {
	FilePath string
	Title    string
	Tags     []string
	Category string
}

// ScheduleOptions configures the scheduled-upload cadence (§4.5
// supplemented): videosPerDay slots spread across dailyTimes, starting
// startDays days out.
type ScheduleOptions struct {
	Enabled      bool
	VideosPerDay int
	DailyTimes   []string // "HH:MM"
	StartDays    int
}

// BatchResult pairs one file x account job with its outcome.
type BatchResult struct {
	File    BatchFile
	Account BatchAccount
	Result  Result
}

// Batch dispatches the Cartesian product of files x accounts sequentially
// with a 1s gap between jobs (§4.5). Failed jobs are collected, not
// aborting the batch. When schedule.Enabled, each job's PublishAt is
// computed up front and the job is deferred until that instant instead of
// running immediately.
func (p *Pipeline) Batch(ctx context.Context, files []BatchFile, accounts []BatchAccount, schedule ScheduleOptions) []BatchResult {
	jobs := cartesian(files, accounts)

	var publishTimes []time.Time
	if schedule.Enabled {
		publishTimes = computeSchedule(schedule, len(jobs))
	}

	out := make([]BatchResult, 0, len(jobs))
	for i, j := range jobs {
		if schedule.Enabled && i < len(publishTimes) {
			at := publishTimes[i]
			waitUntil(ctx, at)
			pa := at
			j.job.PublishAt = &pa
		}

		result := p.UploadVideo(ctx, j.job)
		out = append(out, BatchResult{File: j.file, Account: j.account, Result: result})

		if i < len(jobs)-1 {
			select {
			case <-ctx.Done():
				return out
			case <-time.After(batchJobGap):
			}
		}
	}
	return out
}

type pairedJob struct {
	file    BatchFile
	account BatchAccount
	job     Job
}

func cartesian(files []BatchFile, accounts []BatchAccount) []pairedJob {
	out := make([]pairedJob, 0, len(files)*len(accounts))
	for _, f := range files {
		for _, a := range accounts {
			out = append(out, pairedJob{
				file:    f,
				account: a,
				job: Job{
					Platform:    a.Platform,
					AccountName: a.AccountName,
					CookieFile:  a.CookieFile,
					FilePath:    f.FilePath,
					Title:       f.Title,
					Tags:        f.Tags,
					Category:    f.Category,
				},
			})
		}
	}
	return out
}

// computeSchedule spreads videosPerDay slots across dailyTimes, starting
// startDays days from now, one slot per job in sequence; jobs beyond the
// computed slot count reuse the last slot's cadence on the next day. Each
// slot is expressed as a one-shot cron expression and resolved to its next
// fire instant via gronx (§4.5 supplemented).
func computeSchedule(opts ScheduleOptions, jobCount int) []time.Time {
	if opts.VideosPerDay <= 0 || len(opts.DailyTimes) == 0 {
		return nil
	}

	out := make([]time.Time, 0, jobCount)
	day := opts.StartDays
	slot := 0

	for len(out) < jobCount {
		timeOfDay := opts.DailyTimes[slot%len(opts.DailyTimes)]
		hh, mm, ok := splitHHMM(timeOfDay)
		if !ok {
			day++
			slot++
			continue
		}

		target := time.Now().AddDate(0, 0, day)
		expr := fmt.Sprintf("%d %d * * *", mm, hh)
		next, err := gronx.NextTickAfter(expr, target.Add(-time.Minute), false)
		if err != nil {
			day++
			slot++
			continue
		}
		out = append(out, next)

		slot++
		if slot%opts.VideosPerDay == 0 {
			day++
		}
	}
	return out
}

func splitHHMM(s string) (hh, mm int, ok bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	if _, err := fmt.Sscanf(parts[0], "%d", &hh); err != nil {
		return 0, 0, false
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &mm); err != nil {
		return 0, 0, false
	}
	return hh, mm, true
}

func waitUntil(ctx context.Context, at time.Time) {
	d := time.Until(at)
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
