// Package consensus selects one trustworthy output from several candidate
// responses for the same input.
package consensus

import (
	"fmt"
	"math"
	"strings"
	"time"

	"extract-core/format"
	llmclient "extract-core/llm-client"
)

// Sample is one candidate response.
type Sample struct {
	Index      int             `json:"index"`
	Text       string          `json:"text"`
	Usage      llmclient.Usage `json:"usage"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// Weights of the voting criteria.
type Weights struct {
	Format       float64 `yaml:"format" json:"format"`
	Completeness float64 `yaml:"completeness" json:"completeness"`
	Semantic     float64 `yaml:"semantic" json:"semantic"`
	Length       float64 `yaml:"length" json:"length"`
}

// Options configures an Engine.
type Options struct {
	MinSamples         int            `yaml:"min_samples"`
	AnomalyThreshold   float64        `yaml:"anomaly_threshold"`
	HighAnomalyRatio   float64        `yaml:"high_anomaly_ratio"`
	FallbackConfidence float64        `yaml:"fallback_confidence"`
	Weights            Weights        `yaml:"weights"`
	Similarity         SimilarityFunc `yaml:"-"`
}

// DefaultOptions returns the built-in voting configuration.
func DefaultOptions() Options {
	return Options{
		MinSamples:         3,
		AnomalyThreshold:   0.5,
		HighAnomalyRatio:   0.7,
		FallbackConfidence: 0.5,
		Weights:            Weights{Format: 0.4, Completeness: 0.3, Semantic: 0.2, Length: 0.1},
		Similarity:         WordOverlap,
	}
}

// Score is the per-sample breakdown of the vote.
type Score struct {
	Index        int           `json:"index"`
	Discarded    bool          `json:"discarded"`
	Format       float64       `json:"format"`
	Completeness float64       `json:"completeness"`
	Semantic     float64       `json:"semantic"`
	Length       float64       `json:"length"`
	Total        float64       `json:"total"`
	Validation   format.Result `json:"validation"`
}

// Anomaly flags a sample that disagrees with the others.
type Anomaly struct {
	Index          int     `json:"index"`
	MeanSimilarity float64 `json:"mean_similarity"`
	Severity       string  `json:"severity"`
}

// Decision is the outcome of one consensus pass.
type Decision struct {
	// SelectedIndex is the Sample.Index of the winner, or -1.
	SelectedIndex int     `json:"selected_index"`
	Confidence    float64 `json:"confidence"`
	// Matrix is indexed like MatrixIndex, which lists the valid samples.
	Matrix         [][]float64  `json:"similarity_matrix"`
	MatrixIndex    []int        `json:"matrix_index"`
	Scores         []Score      `json:"scores"`
	RowConsistency []float64    `json:"row_consistency,omitempty"`
	Consistency    float64      `json:"consistency"`
	Anomalies      []Anomaly    `json:"anomalies,omitempty"`
	Log            []string     `json:"decision_log"`
	Fallback       bool         `json:"fallback"`
	NoValidSamples bool         `json:"no_valid_samples"`
	SelectedRows   []format.Row `json:"-"`
	SelectedText   string       `json:"-"`
}

// Engine runs the vote. It is stateless and safe for concurrent use.
type Engine struct {
	opts      Options
	validator *format.Validator
}

// NewEngine returns an engine that preprocesses samples with v.
func NewEngine(v *format.Validator, opts Options) *Engine {
	if opts.Similarity == nil {
		opts.Similarity = WordOverlap
	}
	if opts.MinSamples < 1 {
		opts.MinSamples = 1
	}
	return &Engine{opts: opts, validator: v}
}

// Options returns the engine configuration.
func (e *Engine) Options() Options { return e.opts }

// SelectBest validates every sample, discards invalid ones and votes among
// the rest. It has no side effects; diagnostics are returned in Log.
func (e *Engine) SelectBest(samples []Sample) Decision {
	d := Decision{SelectedIndex: -1, Scores: make([]Score, len(samples))}

	var valid []int // positions in samples
	for i, s := range samples {
		res := e.validator.Validate(s.Text)
		d.Scores[i] = Score{Index: s.Index, Validation: res, Format: res.Confidence}
		if !res.IsValid {
			d.Scores[i].Discarded = true
			d.logf("sample %d discarded: confidence %.2f, %d issues", s.Index, res.Confidence, len(res.Issues))
			continue
		}
		valid = append(valid, i)
	}

	if len(valid) == 0 {
		d.NoValidSamples = true
		d.logf("no valid samples among %d", len(samples))
		return d
	}

	if len(samples) < e.opts.MinSamples {
		winner := valid[0]
		d.Fallback = true
		d.Confidence = e.opts.FallbackConfidence
		d.choose(samples, winner)
		d.logf("fallback: %d samples below minimum %d, using sample %d", len(samples), e.opts.MinSamples, samples[winner].Index)
		return d
	}

	texts := make([]string, len(valid))
	for k, i := range valid {
		texts[k] = d.Scores[i].Validation.FixedText
		d.MatrixIndex = append(d.MatrixIndex, samples[i].Index)
	}
	d.Matrix = Matrix(texts, e.opts.Similarity)

	rowSets := make([][]format.Row, len(valid))
	for k, i := range valid {
		rowSets[k] = d.Scores[i].Validation.Rows
	}
	d.RowConsistency, d.Consistency = PositionConsistency(rowSets)
	d.logf("position consistency %.2f over %d rows", d.Consistency, len(d.RowConsistency))

	meanSim := meanSimilarities(d.Matrix)
	e.vote(&d, valid, texts, rowSets, meanSim)
	e.flagAnomalies(&d, meanSim)

	best := -1
	for k, i := range valid {
		if best < 0 || d.Scores[i].Total > d.Scores[valid[best]].Total {
			best = k
		}
	}
	winner := valid[best]
	d.Confidence = clamp01(d.Scores[winner].Total)
	d.choose(samples, winner)
	d.logf("selected sample %d with confidence %.3f", samples[winner].Index, d.Confidence)
	return d
}

func (e *Engine) vote(d *Decision, valid []int, texts []string, rowSets [][]format.Row, meanSim []float64) {
	maxRows := 0
	for _, rows := range rowSets {
		maxRows = max(maxRows, len(rows))
	}
	meanLen := 0.0
	for _, t := range texts {
		meanLen += float64(len([]rune(t)))
	}
	meanLen /= float64(len(texts))

	w := e.opts.Weights
	for k, i := range valid {
		s := &d.Scores[i]

		rowRatio := 0.0
		if maxRows > 0 {
			rowRatio = float64(len(rowSets[k])) / float64(maxRows)
		}
		s.Completeness = 0.7*rowRatio + 0.3*math.Min(avgPayloadLength(rowSets[k])/100, 1)

		if len(valid) > 1 {
			s.Semantic = meanSim[k]
		}

		if meanLen > 0 {
			s.Length = math.Max(0, 1-math.Abs(float64(len([]rune(texts[k])))-meanLen)/meanLen)
		}

		s.Total = w.Format*s.Format + w.Completeness*s.Completeness + w.Semantic*s.Semantic + w.Length*s.Length
		d.logf("sample %d: format %.2f completeness %.2f semantic %.2f length %.2f total %.3f",
			s.Index, s.Format, s.Completeness, s.Semantic, s.Length, s.Total)
	}
}

func (e *Engine) flagAnomalies(d *Decision, meanSim []float64) {
	if len(meanSim) < 2 {
		return
	}
	for k, ms := range meanSim {
		if ms >= e.opts.AnomalyThreshold {
			continue
		}
		sev := "medium"
		if ms < e.opts.AnomalyThreshold*e.opts.HighAnomalyRatio {
			sev = "high"
		}
		d.Anomalies = append(d.Anomalies, Anomaly{Index: d.MatrixIndex[k], MeanSimilarity: ms, Severity: sev})
		d.logf("sample %d anomalous: mean similarity %.2f (%s)", d.MatrixIndex[k], ms, sev)
	}
}

func (d *Decision) choose(samples []Sample, i int) {
	d.SelectedIndex = samples[i].Index
	d.SelectedRows = d.Scores[i].Validation.Rows
	d.SelectedText = d.Scores[i].Validation.FixedText
}

func (d *Decision) logf(msg string, args ...any) {
	d.Log = append(d.Log, fmt.Sprintf(msg, args...))
}

// meanSimilarities returns each row's mean similarity to the other rows.
func meanSimilarities(m [][]float64) []float64 {
	out := make([]float64, len(m))
	if len(m) < 2 {
		return out
	}
	for i := range m {
		sum := 0.0
		for j := range m[i] {
			if i != j {
				sum += m[i][j]
			}
		}
		out[i] = sum / float64(len(m)-1)
	}
	return out
}

func avgPayloadLength(rows []format.Row) float64 {
	if len(rows) == 0 {
		return 0
	}
	total := 0
	for _, r := range rows {
		total += len([]rune(strings.TrimSpace(r.Answer)))
	}
	return float64(total) / float64(len(rows))
}
