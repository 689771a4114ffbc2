package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"extract-core/consensus"
	"extract-core/failure"
	"extract-core/format"
	llmclient "extract-core/llm-client"
	"extract-core/repair"
)

const summaryName = "run_summary.json"

// PipelineDeps are the collaborators of a Pipeline. Client is required.
type PipelineDeps struct {
	Client     llmclient.Client
	Fallback   llmclient.Client
	Converter  Converter
	Controller *RunController
	Logger     *zap.Logger
	Now        func() time.Time
}

// Pipeline processes every input of a run: fan-out into samples, request,
// validation, consensus or repair, output and archival.
type Pipeline struct {
	cfg        Config
	runID      string
	logger     *zap.Logger
	controller *RunController
	usage      *llmclient.UsageTracker
	primary    *llmclient.RetryClient
	fallback   *llmclient.RetryClient
	validator  *format.Validator
	engine     *consensus.Engine
	schema     *repair.Schema
	prompts    PromptBuilder
	converter  Converter
	now        func() time.Time
}

// NewClients builds the primary and (optional) fallback clients from cfg.
func NewClients(cfg Config) (llmclient.Client, llmclient.Client, error) {
	primary, err := llmclient.NewClient(cfg.Provider.Options())
	if err != nil {
		return nil, nil, eris.Wrap(err, "create primary client")
	}
	if cfg.Fallback == nil {
		return primary, nil, nil
	}
	fallback, err := llmclient.NewClient(cfg.Fallback.Options())
	if err != nil {
		return nil, nil, eris.Wrap(err, "create fallback client")
	}
	return primary, fallback, nil
}

// NewPipeline validates cfg and prepares a run.
func NewPipeline(cfg Config, deps PipelineDeps) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, eris.Wrap(err, "invalid configuration")
	}
	if deps.Client == nil {
		return nil, eris.New("a request client is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	runID := uuid.NewString()
	logger = logger.With(zap.String("run_id", runID))

	if cfg.RulesFile != "" {
		rules, err := format.LoadRules(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
		cfg.Validation.Rules = rules
	}
	validator, err := format.NewValidator(cfg.Validation)
	if err != nil {
		return nil, eris.Wrap(err, "build validator")
	}

	var schema *repair.Schema
	if cfg.Mode == ModeStructured {
		if schema, err = repair.LoadSchema(cfg.Repair.SchemaFile); err != nil {
			return nil, err
		}
	}

	controller := deps.Controller
	if controller == nil {
		controller = NewRunController(logger)
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	p := &Pipeline{
		cfg:        cfg,
		runID:      runID,
		logger:     logger,
		controller: controller,
		usage:      &llmclient.UsageTracker{},
		validator:  validator,
		engine:     consensus.NewEngine(validator, cfg.Consensus),
		schema:     schema,
		prompts:    PromptBuilder{Mode: cfg.Mode, System: cfg.Prompt.System, RowsKey: cfg.Repair.RowsKey},
		converter:  deps.Converter,
		now:        now,
	}
	p.primary = llmclient.NewRetryClient(p.usage.Tracked(deps.Client), cfg.Retry.Policy(), logger)
	if deps.Fallback != nil && cfg.Fallback != nil {
		p.fallback = llmclient.NewRetryClient(p.usage.Tracked(deps.Fallback), cfg.Retry.Policy(), logger)
	}
	return p, nil
}

func (p *Pipeline) RunID() string { return p.runID }

func (p *Pipeline) Controller() *RunController { return p.controller }

// sampleOutcome is what one task produced.
type sampleOutcome struct {
	text      string
	usage     llmclient.Usage
	attempts  int
	err       error
	cancelled bool
	at        time.Time
}

// inputJob joins the samples of one input. The last sample to resolve
// finishes the input.
type inputJob struct {
	input   Input
	text    string
	started time.Time

	mu        sync.Mutex
	remaining int
	outcomes  []sampleOutcome
}

func newInputJob(in Input, text string, samples int, started time.Time) *inputJob {
	return &inputJob{input: in, text: text, started: started, remaining: samples, outcomes: make([]sampleOutcome, samples)}
}

// resolve stores the outcome of sample i and reports whether it was the
// last one outstanding.
func (j *inputJob) resolve(i int, out sampleOutcome) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.outcomes[i] = out
	j.remaining--
	return j.remaining == 0
}

func (j *inputJob) snapshot() []sampleOutcome {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]sampleOutcome(nil), j.outcomes...)
}

// run is the mutable state of one Run call.
type run struct {
	ctx     context.Context
	archive *failure.Archive

	mu      sync.Mutex
	records []FileRecord
}

func (r *run) add(rec FileRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

// Run processes every input under cfg.InputDir. Failures of single inputs
// are archived and counted; only setup failures are returned as errors.
func (p *Pipeline) Run(ctx context.Context) (*RunSummary, error) {
	started := p.now()

	inputs, err := DiscoverInputs(p.cfg.InputDir, p.cfg.Extensions)
	if err != nil {
		return nil, err
	}
	archive, err := failure.OpenArchive(p.cfg.ArchiveDir(), failure.ArchiveOptions{
		CopyInputs: p.cfg.Archive.CopyInputs,
		Logger:     p.logger,
		Now:        p.now,
	})
	if err != nil {
		return nil, err
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	p.controller.OnStop(func(level StopLevel, _ string) {
		if level == HardStop {
			cancelRun()
		}
	})

	r := &run{ctx: runCtx, archive: archive}
	samples := p.cfg.SamplesPerInput()
	jobs := make(map[string]*inputJob, len(inputs))
	var tasks []Task

	for _, in := range inputs {
		if p.controller.Level() != Running {
			job := newInputJob(in, "", samples, p.now())
			rec := p.newRecord(job)
			p.cancel(r, job, &rec, "input %s not loaded", in.ID)
			continue
		}
		text, err := LoadInput(runCtx, in, p.converter)
		if err == nil && strings.TrimSpace(text) == "" {
			err = eris.Errorf("input %s is empty", in.ID)
		}
		job := newInputJob(in, text, samples, p.now())
		if err != nil {
			rec := p.newRecord(job)
			if p.aborted(err) {
				p.cancel(r, job, &rec, "loading %s interrupted", in.ID)
			} else {
				p.fail(r, job, &rec, failure.StageParse, err)
			}
			continue
		}
		jobs[in.ID] = job
		for s := 0; s < samples; s++ {
			tasks = append(tasks, Task{
				ID:           fmt.Sprintf("%s#%d", in.ID, s),
				InputID:      in.ID,
				SourcePath:   in.Path,
				SampleIndex:  s,
				TotalSamples: samples,
			})
		}
	}

	p.logger.Info("run started",
		zap.Int("inputs", len(inputs)),
		zap.Int("tasks", len(tasks)),
		zap.Int("workers", p.cfg.Workers),
		zap.String("mode", string(p.cfg.Mode)))

	sched := &Scheduler{
		Workers:    p.cfg.Workers,
		Controller: p.controller,
		Logger:     p.logger,
		OnAbandon: func(task Task) {
			job := jobs[task.InputID]
			if job.resolve(task.SampleIndex, sampleOutcome{cancelled: true, at: p.now()}) {
				p.finish(r, job)
			}
		},
	}
	report, err := sched.Run(runCtx, tasks, func(taskCtx context.Context, task Task) error {
		job := jobs[task.InputID]
		out := p.sample(taskCtx, job, task)
		if job.resolve(task.SampleIndex, out) {
			p.finish(r, job)
		}
		return out.err
	})
	if err != nil {
		return nil, err
	}

	if err := archive.Finalize(); err != nil {
		p.logger.Error("finalize archive", zap.Error(err))
	}

	summary := p.summarize(r, started)
	if err := p.writeSummary(summary); err != nil {
		p.logger.Error("write run summary", zap.Error(err))
	}
	p.logger.Info("run finished",
		zap.Int("total", summary.Total),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("cancelled", summary.Cancelled),
		zap.Int("abandoned_tasks", report.Abandoned),
		zap.String("stop_level", summary.StopLevel))
	return summary, nil
}

// sample performs the request for one task.
func (p *Pipeline) sample(ctx context.Context, job *inputJob, task Task) sampleOutcome {
	req := p.request(job, p.cfg.Provider)
	resp, attempts, err := p.primary.CompleteWithAttempts(ctx, req)
	out := sampleOutcome{attempts: attempts, err: err, at: p.now()}
	if err != nil {
		out.cancelled = p.aborted(err)
		p.logger.Debug("sample failed",
			zap.String("input", job.input.ID),
			zap.Int("sample", task.SampleIndex),
			zap.Bool("cancelled", out.cancelled),
			zap.Error(err))
		return out
	}
	out.text = resp.Text
	out.usage = resp.Usage
	return out
}

// aborted reports whether err is the result of a hard stop.
func (p *Pipeline) aborted(err error) bool {
	return p.controller.Level() == HardStop &&
		(errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}

func (p *Pipeline) request(job *inputJob, pc ProviderConfig) llmclient.Request {
	return llmclient.Request{
		Provider:  string(pc.Name),
		Model:     pc.Model,
		Messages:  p.prompts.Messages(job.input.ID, job.text),
		Timeouts:  pc.Timeouts(),
		MaxTokens: pc.MaxTokens,
	}
}

func (p *Pipeline) newRecord(job *inputJob) FileRecord {
	return FileRecord{Input: job.input.ID, Selected: -1, Samples: len(job.outcomes)}
}

// finish runs once all samples of job have resolved.
func (p *Pipeline) finish(r *run, job *inputJob) {
	rec := p.newRecord(job)
	outcomes := job.snapshot()

	var (
		samples []consensus.Sample
		lastErr error
	)
	for i, o := range outcomes {
		rec.Attempts += o.attempts
		if o.cancelled {
			p.cancel(r, job, &rec, "sample %d was not completed", i)
			return
		}
		if o.err != nil {
			lastErr = o.err
			continue
		}
		samples = append(samples, consensus.Sample{Index: i, Text: o.text, Usage: o.usage, RecordedAt: o.at})
	}

	if len(samples) == 0 {
		if p.fallback == nil {
			p.fail(r, job, &rec, failure.StageRequest, lastErr)
			return
		}
		s, ok := p.tryFallback(r, job, &rec, lastErr)
		if !ok {
			return
		}
		samples = []consensus.Sample{s}
	}

	var rows []format.Row
	var ok bool
	switch p.cfg.Mode {
	case ModeStructured:
		rows, ok = p.extractStructured(r, job, &rec, samples[0])
	default:
		rows, ok = p.decide(r, job, &rec, samples)
	}
	if !ok {
		return
	}

	out := filepath.Join(p.cfg.OutputDir, filepath.FromSlash(job.input.OutputRel()))
	if err := failure.WriteFileAtomic(out, []byte(format.Encode(rows)), 0o644); err != nil {
		p.fail(r, job, &rec, failure.StageWrite, err)
		return
	}

	rec.Status = FileSucceeded
	rec.Output = out
	rec.Rows = len(rows)
	rec.Duration = p.now().Sub(job.started)
	r.add(rec)
	p.logger.Info("input succeeded",
		zap.String("input", job.input.ID),
		zap.Int("rows", rec.Rows),
		zap.Float64("confidence", rec.Confidence),
		zap.Int("selected_sample", rec.Selected),
		zap.Bool("fallback", rec.Fallback))
}

func (p *Pipeline) tryFallback(r *run, job *inputJob, rec *FileRecord, cause error) (consensus.Sample, bool) {
	p.logger.Warn("all samples failed, trying fallback provider",
		zap.String("input", job.input.ID),
		zap.String("provider", p.fallback.Provider()),
		zap.Error(cause))

	resp, attempts, err := p.fallback.CompleteWithAttempts(r.ctx, p.request(job, *p.cfg.Fallback))
	rec.Attempts += attempts
	if err != nil {
		if p.aborted(err) {
			p.cancel(r, job, rec, "fallback request aborted")
			return consensus.Sample{}, false
		}
		p.fail(r, job, rec, failure.StageFallback, eris.Wrapf(err, "fallback provider %s", p.fallback.Provider()))
		return consensus.Sample{}, false
	}
	rec.UsedFallback = true
	return consensus.Sample{Index: 0, Text: resp.Text, Usage: resp.Usage, RecordedAt: p.now()}, true
}

// decide reconciles csv samples through the consensus engine.
func (p *Pipeline) decide(r *run, job *inputJob, rec *FileRecord, samples []consensus.Sample) ([]format.Row, bool) {
	d := p.engine.SelectBest(samples)
	for _, line := range d.Log {
		p.logger.Debug(line, zap.String("input", job.input.ID))
	}
	for _, a := range d.Anomalies {
		p.logger.Warn("anomalous sample",
			zap.String("input", job.input.ID),
			zap.Int("sample", a.Index),
			zap.String("severity", a.Severity),
			zap.Float64("mean_similarity", a.MeanSimilarity))
	}

	rec.Fallback = d.Fallback
	if d.NoValidSamples || d.SelectedIndex < 0 {
		p.fail(r, job, rec, failure.StageValidation, eris.Errorf("none of %d samples passed format validation", len(samples)))
		return nil, false
	}
	if len(d.SelectedRows) == 0 {
		p.fail(r, job, rec, failure.StageValidation, eris.Errorf("selected sample %d has no rows", d.SelectedIndex))
		return nil, false
	}
	rec.Selected = d.SelectedIndex
	rec.Confidence = d.Confidence
	return d.SelectedRows, true
}

// extractStructured runs the repair loop on a JSON sample and scores the
// projected table with the format validator.
func (p *Pipeline) extractStructured(r *run, job *inputJob, rec *FileRecord, s consensus.Sample) ([]format.Row, bool) {
	loop := &repair.Loop{
		Client:      p.primary,
		Template:    p.request(job, p.cfg.Provider),
		Schema:      p.schema,
		MaxAttempts: p.cfg.Repair.MaxAttempts,
		RowsKey:     p.cfg.Repair.RowsKey,
		Logger:      p.logger.With(zap.String("input", job.input.ID)),
	}
	res, err := loop.ExtractStructured(r.ctx, s.Text)
	if err != nil {
		var rerr *repair.Error
		if !errors.As(err, &rerr) {
			p.fail(r, job, rec, failure.StageValidation, err)
			return nil, false
		}
		rec.Attempts += rerr.AttemptsUsed
		switch rerr.Kind {
		case repair.KindParse:
			p.fail(r, job, rec, failure.StageParse, rerr)
		case repair.KindRequest:
			if p.aborted(rerr) {
				p.cancel(r, job, rec, "repair request aborted")
				return nil, false
			}
			p.fail(r, job, rec, failure.StageRequest, rerr)
		default:
			p.fail(r, job, rec, failure.StageValidation, eris.Errorf("%s: %s", rerr.Error(), repair.FormatViolations(rerr.Violations)))
		}
		return nil, false
	}
	rec.Attempts += res.AttemptsUsed
	rec.Selected = s.Index

	vr := p.validator.Validate(format.Encode(res.Rows))
	if !vr.IsValid {
		p.fail(r, job, rec, failure.StageValidation, eris.Errorf("projected table failed validation with confidence %.2f", vr.Confidence))
		return nil, false
	}
	rec.Confidence = vr.Confidence
	return res.Rows, true
}

// fail archives a terminal failure of job.
func (p *Pipeline) fail(r *run, job *inputJob, rec *FileRecord, stage failure.Stage, err error) {
	p.settle(r, job, rec, stage, err, FileFailed)
}

// cancel records job as cancelled by the user.
func (p *Pipeline) cancel(r *run, job *inputJob, rec *FileRecord, msg string, args ...any) {
	reason := p.controller.Reason()
	if reason == "" {
		reason = "run stopped"
	}
	err := fmt.Errorf("%s: %s", reason, fmt.Sprintf(msg, args...))
	p.settle(r, job, rec, failure.StageCancel, err, FileCancelled)
}

func (p *Pipeline) settle(r *run, job *inputJob, rec *FileRecord, stage failure.Stage, err error, status FileStatus) {
	class := failure.Classify(err, stage)
	provider, model := p.cfg.Provider.Name, p.cfg.Provider.Model
	if stage == failure.StageFallback && p.cfg.Fallback != nil {
		provider, model = p.cfg.Fallback.Name, p.cfg.Fallback.Model
	}
	if model == "" {
		model = llmclient.DefaultModel(provider)
	}

	archiveErr := r.archive.Record(failure.ErrorRecord{
		InputPath:    job.input.Path,
		RelPath:      job.input.ID,
		Stage:        stage,
		Type:         class.Type,
		Message:      class.Message,
		Status:       class.Status,
		Code:         class.Code,
		AttemptsUsed: rec.Attempts,
		Provider:     string(provider),
		Model:        model,
		RunID:        p.runID,
	})
	if archiveErr != nil {
		p.logger.Error("archive failure", zap.String("input", job.input.ID), zap.Error(archiveErr))
	}

	rec.Status = status
	rec.ErrorType = class.Type
	rec.Error = class.Message
	rec.Duration = p.now().Sub(job.started)
	r.add(*rec)
	p.logger.Warn("input not extracted",
		zap.String("input", job.input.ID),
		zap.String("status", string(status)),
		zap.String("stage", string(stage)),
		zap.String("error_type", string(class.Type)),
		zap.Error(err))
}

func (p *Pipeline) summarize(r *run, started time.Time) *RunSummary {
	r.mu.Lock()
	records := append([]FileRecord(nil), r.records...)
	r.mu.Unlock()
	sort.Slice(records, func(i, j int) bool { return records[i].Input < records[j].Input })

	s := &RunSummary{
		RunID:            p.runID,
		StartedAt:        started,
		FinishedAt:       p.now(),
		Mode:             p.cfg.Mode,
		StopLevel:        p.controller.Level().String(),
		StopReason:       p.controller.Reason(),
		Total:            len(records),
		PerFile:          records,
		TokenStats:       p.usage.Stats(),
		ErrorStatsByType: make(map[failure.Type]int),
	}
	for _, rec := range records {
		switch rec.Status {
		case FileSucceeded:
			s.Succeeded++
		case FileFailed:
			s.Failed++
		case FileCancelled:
			s.Cancelled++
		}
		if rec.ErrorType != "" {
			s.ErrorStatsByType[rec.ErrorType]++
		}
	}
	return s
}

func (p *Pipeline) writeSummary(s *RunSummary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return eris.Wrap(err, "encode run summary")
	}
	return failure.WriteFileAtomic(filepath.Join(p.cfg.OutputDir, summaryName), append(data, '\n'), 0o644)
}
