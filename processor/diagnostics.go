package processor

import (
	"fmt"
	"go/token"
	"io"
	"sort"
)

// Severity indicates whether a diagnostic fails processing.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

func (s Severity) String() string {
	if s == SeverityError {
		return "error"
	}
	return "warning"
}

// Code identifies the rule that produced a diagnostic.
type Code string

// Errors.
const (
	CodeStepTarget               Code = "STEP_TARGET"
	CodeManualContextParameter   Code = "MANUAL_CONTEXT_PARAMETER"
	CodeUnsupportedParameterType Code = "UNSUPPORTED_PARAMETER_TYPE"
	CodeUnsupportedReturnType    Code = "UNSUPPORTED_RETURN_TYPE"
	CodeSecurityContextViolation Code = "SECURITY_CONTEXT_VIOLATION"
	CodeRepeatedStepAnnotation   Code = "REPEATED_STEP_ANNOTATION"
)

// Warnings.
const (
	CodeNamingConvention       Code = "NAMING_CONVENTION"
	CodePrivateStep            Code = "PRIVATE_STEP"
	CodeDescriptionTooLong     Code = "DESCRIPTION_TOO_LONG"
	CodeDangerousParameterType Code = "DANGEROUS_PARAMETER_TYPE"
	CodeMalformedAnnotation    Code = "MALFORMED_ANNOTATION"
	CodeContextTypeUnresolved  Code = "CONTEXT_TYPE_UNRESOLVED"
	CodeDSLTypeUnresolved      Code = "DSL_TYPE_UNRESOLVED"
	CodeDirectStepCall         Code = "DIRECT_STEP_CALL"
	CodeTransformFailed        Code = "TRANSFORM_FAILED"
	CodeDSLNameConflict        Code = "DSL_NAME_CONFLICT"
)

// Diagnostic is a problem found while processing steps.
type Diagnostic struct {
	Pos      token.Position
	Severity Severity
	Code     Code
	Message  string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%v: %v: %s [%s]", d.Pos, d.Severity, d.Message, d.Code)
}

// Diagnostics accumulates the diagnostics of a session in the order they are
// reported.
type Diagnostics struct {
	list   []Diagnostic
	errors int
}

func (ds *Diagnostics) Report(d Diagnostic) {
	ds.list = append(ds.list, d)
	if d.Severity == SeverityError {
		ds.errors++
	}
}

func (ds *Diagnostics) Errorf(pos token.Position, code Code, format string, args ...interface{}) {
	ds.Report(Diagnostic{Pos: pos, Severity: SeverityError, Code: code, Message: fmt.Sprintf(format, args...)})
}

func (ds *Diagnostics) Warnf(pos token.Position, code Code, format string, args ...interface{}) {
	ds.Report(Diagnostic{Pos: pos, Severity: SeverityWarning, Code: code, Message: fmt.Sprintf(format, args...)})
}

func (ds *Diagnostics) HasErrors() bool {
	return ds.errors > 0
}

// All returns the diagnostics in report order.
func (ds *Diagnostics) All() []Diagnostic {
	res := make([]Diagnostic, len(ds.list))
	copy(res, ds.list)
	return res
}

// Errors returns only the diagnostics with error severity.
func (ds *Diagnostics) Errors() []Diagnostic {
	var res []Diagnostic
	for _, d := range ds.list {
		if d.Severity == SeverityError {
			res = append(res, d)
		}
	}
	return res
}

// WithCode returns the diagnostics produced by the given rule.
func (ds *Diagnostics) WithCode(code Code) []Diagnostic {
	var res []Diagnostic
	for _, d := range ds.list {
		if d.Code == code {
			res = append(res, d)
		}
	}
	return res
}

func (ds *Diagnostics) Len() int {
	return len(ds.list)
}

// Sorted returns the diagnostics ordered by file and position. Diagnostics at
// the same position keep their report order.
func (ds *Diagnostics) Sorted() []Diagnostic {
	res := ds.All()
	sort.SliceStable(res, func(i, j int) bool {
		pi, pj := res[i].Pos, res[j].Pos
		if pi.Filename != pj.Filename {
			return pi.Filename < pj.Filename
		}
		if pi.Line != pj.Line {
			return pi.Line < pj.Line
		}
		return pi.Column < pj.Column
	})
	return res
}

// Print writes the sorted diagnostics to w, one per line.
func (ds *Diagnostics) Print(w io.Writer) error {
	for _, d := range ds.Sorted() {
		if _, err := fmt.Fprintln(w, d); err != nil {
			return err
		}
	}
	return nil
}
