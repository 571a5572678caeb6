package main

import (
	"io"
	"log/slog"

	"github.com/hicann/ge-sub007/pkg/engine"
	"github.com/hicann/ge-sub007/pkg/graph"
	"github.com/hicann/ge-sub007/pkg/summary"
)

// App evaluates graph scripts and turns the finalized graph into a summary.
type App struct {
	engine   *engine.Engine
	logger   *slog.Logger
	validate bool
}

// EvalErrorData is a JSON-serializable eval error or warning.
type EvalErrorData struct {
	Line    int    `json:"line"`
	Col     int    `json:"col"`
	Node    string `json:"node,omitempty"`
	Message string `json:"message"`
}

// EvalResult is the full result of one evaluation. Slices are never nil so
// that they serialize as [] rather than null.
type EvalResult struct {
	Graph    *summary.Graph  `json:"graph"`
	Errors   []EvalErrorData `json:"errors"`
	Warnings []EvalErrorData `json:"warnings"`
}

// NewApp creates an App from cfg. A nil logger discards output.
func NewApp(cfg Config, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	opts := []engine.Option{engine.WithLogger(logger)}
	if cfg.GraphName != "" {
		opts = append(opts, engine.WithGraphName(cfg.GraphName))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, engine.WithTimeout(cfg.Timeout))
	}
	return &App{
		engine:   engine.NewEngine(opts...),
		logger:   logger,
		validate: cfg.Validate,
	}
}

// Evaluate takes script source and returns the graph summary, errors and
// validation findings.
func (a *App) Evaluate(source string) EvalResult {
	result := EvalResult{
		Errors:   []EvalErrorData{},
		Warnings: []EvalErrorData{},
	}

	// Step 1: Evaluate the script into a finalized graph.
	g, evalErrs, err := a.engine.Evaluate(source)
	if err != nil {
		// Fatal error (panic, timeout, etc.)
		a.logger.Error("evaluate failed", "error", err)
		result.Errors = append(result.Errors, EvalErrorData{Message: err.Error()})
		return result
	}

	// Step 2: Convert eval errors to the output format.
	if len(evalErrs) > 0 {
		for _, e := range evalErrs {
			result.Errors = append(result.Errors, EvalErrorData{
				Line:    e.Line,
				Col:     e.Col,
				Message: e.Message,
			})
		}
		return result
	}

	// Step 3: Optionally validate. Findings never discard the graph.
	if a.validate {
		vr := graph.ValidateAll(g)
		for _, e := range vr.Errors {
			result.Errors = append(result.Errors, EvalErrorData{Node: e.Node, Message: e.Message})
		}
		for _, w := range vr.Warnings {
			result.Warnings = append(result.Warnings, EvalErrorData{Node: w.Node, Message: w.Message})
		}
	}

	// Step 4: Summarize the graph.
	s, err := summary.Summarize(g)
	if err != nil {
		a.logger.Error("summarize failed", "error", err)
		result.Errors = append(result.Errors, EvalErrorData{Message: "summary failed: " + err.Error()})
		return result
	}
	result.Graph = s
	return result
}
