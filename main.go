package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

func main() {
	if err := run(os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			if exitErr.Message != "" {
				fmt.Fprintln(os.Stderr, exitErr.Message)
			}
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run reads the script, evaluates it and writes the result to outW. Logs go
// to errW. A result with errors returns an ExitError with code 1.
func run(inR io.Reader, outW, errW io.Writer, args []string) error {
	cfg, shouldExit, err := parseArgs(args, errW)
	if err != nil {
		return err
	}
	if shouldExit {
		return nil
	}

	var source []byte
	if cfg.ScriptPath == "-" {
		source, err = io.ReadAll(inR)
	} else {
		source, err = os.ReadFile(cfg.ScriptPath)
	}
	if err != nil {
		return &ExitError{Code: 2, Message: fmt.Sprintf("reading script: %v", err)}
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat, errW)
	result := NewApp(*cfg, logger).Evaluate(string(source))

	if err := writeResult(outW, cfg.OutputFormat, result); err != nil {
		return err
	}
	if len(result.Errors) > 0 {
		return &ExitError{Code: 1}
	}
	return nil
}

func writeResult(w io.Writer, format string, result EvalResult) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	if result.Graph != nil {
		if _, err := io.WriteString(w, result.Graph.Text()); err != nil {
			return err
		}
	}
	for _, e := range result.Errors {
		fmt.Fprintf(w, "error: %s\n", formatFinding(e))
	}
	for _, e := range result.Warnings {
		fmt.Fprintf(w, "warning: %s\n", formatFinding(e))
	}
	return nil
}

func formatFinding(e EvalErrorData) string {
	switch {
	case e.Line > 0:
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	case e.Node != "":
		return fmt.Sprintf("node %s: %s", e.Node, e.Message)
	default:
		return e.Message
	}
}
