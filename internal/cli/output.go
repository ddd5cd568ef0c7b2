package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"secretsanta/internal/core"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the operation was rejected
	ExitCommandError = 2 // bad arguments or unusable configuration
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps err with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Response is the envelope written in json and yaml formats.
type Response struct {
	Status   string    `json:"status"`
	Data     any       `json:"data,omitempty"`
	Warnings []Warning `json:"warnings,omitempty"`
}

// Warning is a non-blocking rule violation reported by an operation.
type Warning struct {
	Rule     string `json:"rule"`
	EntityID string `json:"entity_id,omitempty"`
	Message  string `json:"message"`
}

// OutputFormatter renders command results as text, json or yaml.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // warnings and verbose output in text mode
	Verbose   bool
}

// Success writes data. In text mode render is called instead of encoding
// data; warnings go to ErrWriter.
func (f *OutputFormatter) Success(data any, res core.Result, render func(io.Writer)) error {
	warnings := collectWarnings(res)
	switch f.Format {
	case "json":
		return json.NewEncoder(f.Writer).Encode(Response{Status: "ok", Data: data, Warnings: warnings})
	case "yaml":
		return writeYAML(f.Writer, Response{Status: "ok", Data: data, Warnings: warnings})
	}
	if render != nil {
		render(f.Writer)
	} else if data != nil {
		fmt.Fprintln(f.Writer, data)
	}
	for _, w := range warnings {
		fmt.Fprintf(f.errWriter(), "warning [%s]: %s\n", w.Rule, w.Message)
	}
	return nil
}

// VerboseLog writes diagnostics when verbose output is enabled.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.errWriter(), format+"\n", args...)
}

func (f *OutputFormatter) errWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

func collectWarnings(res core.Result) []Warning {
	var out []Warning
	for _, v := range res.Violations {
		if v.Severity != core.SeverityWarn {
			continue
		}
		out = append(out, Warning{Rule: v.Rule, EntityID: v.EntityID, Message: v.Message})
	}
	return out
}

// writeYAML encodes v through its JSON form so field names follow the json
// tags used everywhere else.
func writeYAML(w io.Writer, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	var node yaml.Node
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	blockStyle(&node)
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}

// blockStyle drops the flow and quoting styles inherited from JSON.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}
