package contracts

import "runtime"

// StackFrame is a single frame of a parsed call stack. Ported from
// original_source/appinsights/src/contracts/stack_frame.rs.
type StackFrame struct {
	Level    int    `json:"level"`
	Method   string `json:"method"`
	Assembly string `json:"assembly,omitempty"`
	FileName string `json:"fileName,omitempty"`
	Line     int    `json:"line,omitempty"`
}

// ExceptionDetails describes a single exception in an exception chain.
type ExceptionDetails struct {
	TypeName   string       `json:"typeName"`
	Message    string       `json:"message"`
	HasFullStack bool       `json:"hasFullStack"`
	ParsedStack []StackFrame `json:"parsedStack,omitempty"`
}

// ExceptionData is an exception telemetry item: one or more
// ExceptionDetails plus a severity level and grouping id. Ported from
// original_source/appinsights/src/telemetry/exception.rs.
type ExceptionData struct {
	Exceptions    []ExceptionDetails `json:"exceptions"`
	SeverityLevel SeverityLevel      `json:"severityLevel"`
	ProblemID     string             `json:"problemId,omitempty"`
	Properties    map[string]string  `json:"properties,omitempty"`
	Measurements  map[string]float64 `json:"measurements,omitempty"`
}

// NewExceptionEnvelope builds an Envelope carrying ExceptionData for err,
// with its call stack captured via ParseStack.
func NewExceptionEnvelope(ikey string, err error, severity SeverityLevel, skip int) *Envelope {
	e := NewEnvelope("Microsoft.ApplicationInsights.Exception", ikey)
	e.Data = &Data{
		BaseType: "ExceptionData",
		BaseData: &ExceptionData{
			Exceptions: []ExceptionDetails{
				{
					TypeName:     "error",
					Message:      err.Error(),
					HasFullStack: true,
					ParsedStack:  ParseStack(skip + 1),
				},
			},
			SeverityLevel: severity,
		},
	}
	return e
}

// ParseStack walks the current goroutine's call stack, skipping the
// innermost skip frames, and returns it in the wire format expected by
// ExceptionData.ParsedStack. This is the Go idiom for what the Rust source
// does with the backtrace crate.
func ParseStack(skip int) []StackFrame {
	pc := make([]uintptr, 64)
	n := runtime.Callers(skip+2, pc)
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pc[:n])
	var out []StackFrame
	level := 0
	for {
		frame, more := frames.Next()
		out = append(out, StackFrame{
			Level:    level,
			Method:   frame.Function,
			FileName: frame.File,
			Line:     frame.Line,
		})
		level++
		if !more {
			break
		}
	}
	return out
}
