package main

import (
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hicann/ge-sub007/pkg/engine"
)

// ExitError is an error that carries a process exit code.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

// Config holds the validated command-line settings.
type Config struct {
	ScriptPath   string
	GraphName    string
	LogLevel     string
	LogFormat    string
	OutputFormat string
	Validate     bool
	Timeout      time.Duration
}

// validate checks enumerated settings and normalizes their case.
func (c *Config) validate() error {
	c.LogFormat = strings.ToLower(c.LogFormat)
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("invalid log-format %q: must be 'text' or 'json'", c.LogFormat)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level %q: must be 'debug', 'info', 'warn', or 'error'", c.LogLevel)
	}
	c.OutputFormat = strings.ToLower(c.OutputFormat)
	if c.OutputFormat != "text" && c.OutputFormat != "json" {
		return fmt.Errorf("invalid format %q: must be 'text' or 'json'", c.OutputFormat)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("invalid timeout %s: must not be negative", c.Timeout)
	}
	if c.GraphName == "" {
		return fmt.Errorf("graph name must not be empty")
	}
	return nil
}

// parseArgs processes command-line arguments. It returns the Config, whether
// the program should exit cleanly (help or no script), or an ExitError.
func parseArgs(args []string, output io.Writer) (*Config, bool, error) {
	flagSet := flag.NewFlagSet("gebuild", flag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.Usage = func() {
		fmt.Fprint(output, `
gebuild - build a dataflow graph from a script and print its summary.

Usage:
  gebuild [options] SCRIPT

Arguments:
  SCRIPT
    Path to a graph script. Use - to read from stdin.

Options:
`)
		flagSet.PrintDefaults()
	}

	nameFlag := flagSet.String("name", engine.DefaultGraphName, "Name of the built graph.")
	logLevelFlag := flagSet.String("log-level", "warn", "Logging level. Options: 'debug', 'info', 'warn', 'error'.")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	formatFlag := flagSet.String("format", "json", "Result format. Options: 'text' or 'json'.")
	validateFlag := flagSet.Bool("validate", false, "Run graph validation and report findings.")
	timeoutFlag := flagSet.Duration("timeout", engine.EvalTimeout, "Maximum script evaluation time.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	if flagSet.NArg() == 0 {
		flagSet.Usage()
		return nil, true, nil
	}
	if flagSet.NArg() > 1 {
		return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("expected one script path, got %d", flagSet.NArg())}
	}

	cfg := &Config{
		ScriptPath:   flagSet.Arg(0),
		GraphName:    *nameFlag,
		LogLevel:     *logLevelFlag,
		LogFormat:    *logFormatFlag,
		OutputFormat: *formatFlag,
		Validate:     *validateFlag,
		Timeout:      *timeoutFlag,
	}
	if err := cfg.validate(); err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	return cfg, false, nil
}
