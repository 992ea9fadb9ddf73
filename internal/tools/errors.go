package tools

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind categorizes a tool failure.
type ErrorKind string

const (
	KindFileNotFound     ErrorKind = "file_not_found"
	KindInvalidURL       ErrorKind = "invalid_url"
	KindCommandFailed    ErrorKind = "command_failed"
	KindPermissionDenied ErrorKind = "permission_denied"
	KindNotImplemented   ErrorKind = "not_implemented"
	// KindInvalidArguments and KindUnknownTool are raised by the catalog
	// before a handler runs.
	KindInvalidArguments ErrorKind = "invalid_arguments"
	KindUnknownTool      ErrorKind = "unknown_tool"
)

var (
	ErrFileNotFound     = errors.New("file not found")
	ErrInvalidURL       = errors.New("invalid url")
	ErrCommandFailed    = errors.New("command failed")
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotImplemented   = errors.New("not implemented")
	ErrInvalidArguments = errors.New("invalid arguments")
	ErrUnknownTool      = errors.New("unknown tool")
)

var kindSentinels = map[ErrorKind]error{
	KindFileNotFound:     ErrFileNotFound,
	KindInvalidURL:       ErrInvalidURL,
	KindCommandFailed:    ErrCommandFailed,
	KindPermissionDenied: ErrPermissionDenied,
	KindNotImplemented:   ErrNotImplemented,
	KindInvalidArguments: ErrInvalidArguments,
	KindUnknownTool:      ErrUnknownTool,
}

// ToolError is a typed failure from a tool handler or from the catalog.
// It never aborts a run; its Message is fed back to the model.
type ToolError struct {
	Kind   ErrorKind
	Tool   string
	Detail string
	Cause  error
}

func (e *ToolError) Error() string {
	parts := []string{fmt.Sprintf("[tool:%s]", e.Kind)}
	if e.Tool != "" {
		parts = append(parts, e.Tool)
	}
	if e.Detail != "" {
		parts = append(parts, e.Detail)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *ToolError) Unwrap() error { return e.Cause }

// Is matches the sentinel for the error's kind.
func (e *ToolError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// Message renders the text placed in the tool-role message.
func (e *ToolError) Message() string {
	var b strings.Builder
	b.WriteString("Error")
	if e.Tool != "" {
		b.WriteString(" in ")
		b.WriteString(e.Tool)
	}
	b.WriteString(" (")
	b.WriteString(string(e.Kind))
	b.WriteString(")")
	detail := e.Detail
	if detail == "" && e.Cause != nil {
		detail = e.Cause.Error()
	}
	if detail != "" {
		b.WriteString(": ")
		b.WriteString(detail)
	}
	return b.String()
}

func newToolError(kind ErrorKind, detail string) *ToolError {
	return &ToolError{Kind: kind, Detail: detail}
}

// FileNotFound reports a missing path.
func FileNotFound(path string) *ToolError {
	return newToolError(KindFileNotFound, "no such file: "+path)
}

// InvalidURL reports a URL that cannot be fetched.
func InvalidURL(raw string) *ToolError {
	return newToolError(KindInvalidURL, "invalid URL: "+raw)
}

// CommandFailed reports a failed action with detail.
func CommandFailed(detail string) *ToolError {
	return newToolError(KindCommandFailed, detail)
}

// PermissionDenied reports an action outside the allowed scope.
func PermissionDenied(detail string) *ToolError {
	return newToolError(KindPermissionDenied, detail)
}

// NotImplemented reports a capability with no backing implementation.
func NotImplemented(what string) *ToolError {
	return newToolError(KindNotImplemented, what+" is not available on this host")
}

// AsToolError converts any handler error into a ToolError attributed to
// tool. Errors that are not ToolErrors become command_failed.
func AsToolError(tool string, err error) *ToolError {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		out := *te
		if out.Tool == "" {
			out.Tool = tool
		}
		return &out
	}
	return &ToolError{Kind: KindCommandFailed, Tool: tool, Detail: err.Error(), Cause: err}
}
