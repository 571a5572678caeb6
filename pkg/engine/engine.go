// Package engine evaluates graph-construction scripts. A script is zygomys
// Lisp source whose builtins drive a builder.GraphBuilder; a successful run
// ends with BuildGraphAndReset and yields the finalized graph.
package engine

import (
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	zygo "github.com/glycerine/zygomys/zygo"

	"github.com/hicann/ge-sub007/pkg/builder"
	"github.com/hicann/ge-sub007/pkg/graph"
)

// DefaultGraphName names graphs built by an Engine without WithGraphName.
const DefaultGraphName = "graph"

// EvalError represents a non-fatal error encountered during evaluation,
// such as a parse error, a runtime error in user code or a failed finalize.
type EvalError struct {
	Line    int
	Col     int
	Message string
}

func (e EvalError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return e.Message
}

// Option configures an Engine.
type Option func(*Engine)

// WithGraphName sets the name given to every graph the engine builds.
func WithGraphName(name string) Option {
	return func(e *Engine) {
		if name != "" {
			e.graphName = name
		}
	}
}

// WithLogger sets the logger handed to each evaluation's builder.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTimeout overrides EvalTimeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// Engine wraps the zygomys interpreter. It is safe for concurrent use; each
// call to Evaluate creates a fresh sandbox and a fresh builder.
type Engine struct {
	mu         sync.Mutex
	generation uint64

	graphName string
	logger    *slog.Logger
	timeout   time.Duration
}

// NewEngine creates a new Engine instance.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		graphName: DefaultGraphName,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		timeout:   EvalTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate runs a script and returns the graph it built.
//
// Return semantics:
//   - On success: returns graph + nil errors + nil error
//   - On parse/eval/finalize failure: returns nil graph + eval errors + nil error
//   - On fatal failure (timeout, panic): returns nil + nil + error
func (e *Engine) Evaluate(source string) (*graph.Graph, []EvalError, error) {
	e.mu.Lock()
	e.generation++
	gen := e.generation
	e.mu.Unlock()

	ch := make(chan evalResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- evalResult{err: fmt.Errorf("panic during evaluation: %v", r)}
			}
		}()

		g, evalErrs, err := e.evaluate(source)
		ch <- evalResult{graph: g, errors: evalErrs, err: err}
	}()

	return waitWithTimeout(ch, gen, &e.mu, &e.generation, e.timeout)
}

// evaluate runs source against a fresh builder. The zygomys environment is
// owned by the builder's arena and stopped when the builder closes.
func (e *Engine) evaluate(source string) (*graph.Graph, []EvalError, error) {
	b := builder.New(e.graphName, builder.WithLogger(e.logger))
	defer b.Close()

	// Empty source is a valid program that produces a graph with no outputs.
	if strings.TrimSpace(source) != "" {
		env := builder.AddResource(b, zygo.NewZlispSandbox(), func(env *zygo.Zlisp) { env.Stop() })
		registerBuiltins(env, b)

		if err := env.LoadString(preprocessSource(source)); err != nil {
			return nil, parseZygomysError(err), nil
		}
		if _, err := env.Run(); err != nil {
			return nil, parseZygomysError(err), nil
		}
	}

	g, err := b.BuildGraphAndReset()
	if err != nil {
		return nil, []EvalError{{Message: err.Error()}}, nil
	}
	return g, nil, nil
}

// linePattern matches zygomys error messages that include "Error on line N: ..."
var linePattern = regexp.MustCompile(`(?i)(?:error )?on line (\d+):\s*(.*)`)

// linePatternShort matches simpler "line N: ..." patterns.
var linePatternShort = regexp.MustCompile(`(?i)^line (\d+):\s*(.*)`)

// parseZygomysError converts a zygomys error into one or more EvalError values.
// It attempts to extract line number information from the error message.
func parseZygomysError(err error) []EvalError {
	msg := err.Error()

	// zygomys formats parse errors as "Error on line N: <details>\n"
	for _, re := range []*regexp.Regexp{linePattern, linePatternShort} {
		if m := re.FindStringSubmatch(msg); m != nil {
			line, _ := strconv.Atoi(m[1])
			return []EvalError{{
				Line:    line,
				Message: strings.TrimSpace(m[2]),
			}}
		}
	}

	// Fallback: no line info available.
	return []EvalError{{Message: strings.TrimSpace(msg)}}
}
