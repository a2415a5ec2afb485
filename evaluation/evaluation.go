// Package evaluation runs a dataset of questions through the pipeline and
// reports which ones resolved as expected.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/Lina-go/backend-delfos-sub000/engine"
	"github.com/Lina-go/backend-delfos-sub000/logging"
)

// Case is one dataset entry.
type Case struct {
	ID            string `yaml:"id"`
	Question      string `yaml:"question"`
	ExpectSubType string `yaml:"expect_sub_type,omitempty"`
	ExpectRowsMin int    `yaml:"expect_rows_min,omitempty"`
}

// Dataset is the file format read by LoadDataset.
type Dataset struct {
	Cases []Case `yaml:"cases"`
}

// LoadDataset reads and checks a YAML dataset.
func LoadDataset(path string) ([]Case, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	return ParseDataset(raw)
}

// ParseDataset decodes a YAML dataset. Every case needs an id and a
// question, and ids must be unique.
func ParseDataset(raw []byte) ([]Case, error) {
	var ds Dataset
	if err := yaml.Unmarshal(raw, &ds); err != nil {
		return nil, fmt.Errorf("parse dataset: %w", err)
	}
	seen := make(map[string]bool, len(ds.Cases))
	var errs []error
	for i, c := range ds.Cases {
		switch {
		case c.ID == "":
			errs = append(errs, fmt.Errorf("case %d: id is required", i))
		case c.Question == "":
			errs = append(errs, fmt.Errorf("case %s: question is required", c.ID))
		case seen[c.ID]:
			errs = append(errs, fmt.Errorf("case %s: duplicate id", c.ID))
		}
		seen[c.ID] = true
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return ds.Cases, nil
}

// Invocation is one resolved case handed to an Evaluator.
type Invocation struct {
	Case     Case
	Response *engine.Response
	Err      error
	Duration time.Duration
}

// Result is the verdict on one invocation.
type Result struct {
	Case     Case
	Passed   bool
	Issues   []string
	Duration time.Duration
	RowCount int
	SubType  string
}

// Evaluator judges an invocation.
type Evaluator interface {
	Evaluate(inv Invocation) (*Result, error)
}

// ExpectationEvaluator checks a case's expected sub-type and minimum row
// count against the response. Pipeline errors always fail.
type ExpectationEvaluator struct{}

// Evaluate implements Evaluator.
func (ExpectationEvaluator) Evaluate(inv Invocation) (*Result, error) {
	res := &Result{Case: inv.Case, Duration: inv.Duration}
	if inv.Err != nil {
		res.Issues = append(res.Issues, fmt.Sprintf("pipeline error: %v", inv.Err))
		return res, nil
	}
	if inv.Response == nil {
		return nil, errors.New("invocation has neither a response nor an error")
	}
	res.RowCount = inv.Response.RowCount
	res.SubType = inv.Response.SubType

	if want := inv.Case.ExpectSubType; want != "" && want != inv.Response.SubType {
		res.Issues = append(res.Issues, fmt.Sprintf("sub_type %q, want %q", inv.Response.SubType, want))
	}
	if atLeast := inv.Case.ExpectRowsMin; inv.Response.RowCount < atLeast {
		res.Issues = append(res.Issues, fmt.Sprintf("%d rows, want at least %d", inv.Response.RowCount, atLeast))
	}
	if inv.Response.Error != "" {
		res.Issues = append(res.Issues, inv.Response.Error)
	}
	res.Passed = len(res.Issues) == 0
	return res, nil
}

// Asker resolves one question.
type Asker interface {
	Process(ctx context.Context, req engine.Request) (*engine.Response, error)
}

// Options configures Run.
type Options struct {
	// Parallelism bounds concurrent cases. Defaults to 4.
	Parallelism int
	// UserID owns the evaluation conversations. Each case gets its own
	// suffix so cases never share context.
	UserID    string
	Evaluator Evaluator
	Logger    logging.Logger
}

// Report holds results in dataset order.
type Report struct {
	Results  []*Result
	Duration time.Duration
}

// Passed counts passing cases.
func (r *Report) Passed() int {
	n := 0
	for _, res := range r.Results {
		if res.Passed {
			n++
		}
	}
	return n
}

// Run resolves every case with bounded parallelism. A cancelled ctx stops
// pending cases; evaluator errors abort the run.
func Run(ctx context.Context, asker Asker, cases []Case, optFns ...func(o *Options)) (*Report, error) {
	opts := Options{
		Parallelism: 4,
		UserID:      "eval",
		Evaluator:   ExpectationEvaluator{},
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}

	start := time.Now()
	results := make([]*Result, len(cases))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Parallelism)

	for i, c := range cases {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			caseStart := time.Now()
			resp, err := asker.Process(gctx, engine.Request{
				UserID:  opts.UserID + "-" + c.ID,
				Message: c.Question,
			})
			res, evalErr := opts.Evaluator.Evaluate(Invocation{
				Case:     c,
				Response: resp,
				Err:      err,
				Duration: time.Since(caseStart),
			})
			if evalErr != nil {
				return fmt.Errorf("evaluate %s: %w", c.ID, evalErr)
			}
			opts.Logger.Info("Case evaluated", "id", c.ID, "passed", res.Passed, "duration", res.Duration)
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &Report{Results: results, Duration: time.Since(start)}, nil
}

// Render writes the report as a table followed by a summary line.
func (r *Report) Render(w io.Writer) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"ID", "Result", "Sub-type", "Rows", "Duration", "Issues"})
	for _, res := range r.Results {
		verdict := "PASS"
		if !res.Passed {
			verdict = "FAIL"
		}
		t.AppendRow(table.Row{res.Case.ID, verdict, res.SubType, res.RowCount, res.Duration.Round(time.Millisecond), strings.Join(res.Issues, "\n")})
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("%d/%d", r.Passed(), len(r.Results)), "", "", r.Duration.Round(time.Millisecond), ""})
	style := table.StyleLight
	style.Options.DrawBorder = false
	t.SetStyle(style)
	t.Render()
}
