package compiler

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Diagnostics: accumulated analysis messages
// ---------------------------------------------------------------------------

// SourceLocation identifies a point in a source file.
type SourceLocation struct {
	Line   int    // 1-based line number
	Column int    // 1-based column number
	File   string // source file path
}

// UnknownLocation is used for synthesized nodes that have no source position.
var UnknownLocation = SourceLocation{Line: -1, Column: -1, File: ""}

func (loc SourceLocation) String() string {
	if loc.Line < 0 {
		return "<builtin>"
	}
	return fmt.Sprintf("%s:%d:%d", loc.File, loc.Line, loc.Column)
}

// Severity classifies a diagnostic.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	}
	return "unknown"
}

// DiagKind identifies the class of problem a diagnostic reports.
type DiagKind int

const (
	DiagSyntaxError DiagKind = iota
	DiagModuleAlreadyDefined
	DiagImportOutsideGlobal
	DiagImportNotFound
	DiagRedeclaredIdentifier
	DiagUndeclaredIdentifier
	DiagIdentifierIsModule
	DiagModuleNotImported
	DiagConstIdentifier
	DiagProhibitedActionAttribute
	DiagExpectedIdentifier
	DiagUnrecognizedAliasType
	DiagUnusedIdentifier
	DiagUnreachableCode
	DiagEmptyFunctionBody
	DiagEmptyStatementBody
	DiagUnsupportedFeature
	DiagInternalError
)

var diagKindNames = map[DiagKind]string{
	DiagSyntaxError:               "syntax_error",
	DiagModuleAlreadyDefined:      "module_already_defined",
	DiagImportOutsideGlobal:       "import_outside_global",
	DiagImportNotFound:            "import_not_found",
	DiagRedeclaredIdentifier:      "redeclared_identifier",
	DiagUndeclaredIdentifier:      "undeclared_identifier",
	DiagIdentifierIsModule:        "identifier_is_module",
	DiagModuleNotImported:         "module_not_imported",
	DiagConstIdentifier:           "const_identifier",
	DiagProhibitedActionAttribute: "prohibited_action_attribute",
	DiagExpectedIdentifier:        "expected_identifier",
	DiagUnrecognizedAliasType:     "unrecognized_alias_type",
	DiagUnusedIdentifier:          "unused_identifier",
	DiagUnreachableCode:           "unreachable_code",
	DiagEmptyFunctionBody:         "empty_function_body",
	DiagEmptyStatementBody:        "empty_statement_body",
	DiagUnsupportedFeature:        "unsupported_feature",
	DiagInternalError:             "internal_error",
}

func (k DiagKind) String() string {
	if name, ok := diagKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Diagnostic is a single analysis message. Diagnostics accumulate during a
// pass; errors never abort analysis of sibling statements.
type Diagnostic struct {
	Kind     DiagKind
	Severity Severity
	Location SourceLocation
	Message  string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s: %s [%s]", d.Location, d.Severity, d.Message, d.Kind)
}

// IsError reports whether the diagnostic has error severity.
func (d Diagnostic) IsError() bool {
	return d.Severity == SeverityError
}
