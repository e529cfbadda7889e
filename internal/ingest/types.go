package ingest

import (
	"bytes"

	"ckg/internal/entity"
)

// FileInfo is the extraction result for a single source file.
type FileInfo struct {
	// Path is the repo-relative file path
	Path string `json:"path"`

	// Language is the detected language
	Language Language `json:"language"`

	// LineCount is the number of lines in the file
	LineCount int `json:"lineCount"`

	// Degraded is set when the file could not be parsed
	Degraded bool `json:"degraded,omitempty"`

	// ParseError holds the parse failure message for degraded files
	ParseError string `json:"parseError,omitempty"`

	// Doc is the module-level docstring with its line span (Python)
	Doc          string `json:"doc,omitempty"`
	DocStartLine int    `json:"docStartLine,omitempty"`
	DocEndLine   int    `json:"docEndLine,omitempty"`

	// Package is the declared package name with its line (Go)
	Package     string `json:"package,omitempty"`
	PackageLine int    `json:"packageLine,omitempty"`

	// ImportLines are the [start, end] line spans of import statements,
	// used to account for every non-declaration line when splitting
	ImportLines [][2]int `json:"importLines,omitempty"`

	// Declarations are the top-level classes, functions, and class methods
	Declarations []Declaration `json:"declarations"`

	// Imports are the file's import statements
	Imports []Import `json:"imports"`

	// Mentions are identifier usages attributed to their enclosing declaration
	Mentions []Mention `json:"mentions"`
}

// Declaration is one extracted class, function, or method.
type Declaration struct {
	Kind          entity.Kind `json:"kind"`
	Name          string      `json:"name"`
	QualifiedName string      `json:"qualifiedName"`

	// ClassName is set for methods and names the enclosing class
	ClassName string `json:"className,omitempty"`

	Signature string `json:"signature,omitempty"`
	Doc       string `json:"doc,omitempty"`

	// StartLine and EndLine are 1-based and include decorators
	StartLine int `json:"startLine"`
	EndLine   int `json:"endLine"`

	// StartByte and EndByte delimit the declaration's source text
	StartByte int `json:"startByte"`
	EndByte   int `json:"endByte"`

	// Complexity is the cyclomatic complexity (decision points + 1);
	// for classes it is the sum over the class's methods
	Complexity int `json:"complexity"`
}

// Import is one extracted import statement.
type Import struct {
	// Module is the imported module as written ("os.path", "./util", "fmt")
	Module string `json:"module"`

	// Names are the local names the import binds
	Names []string `json:"names"`

	Line int `json:"line"`

	// Text is the verbatim statement, used when rendering split files
	Text string `json:"text"`
}

// Mention records that a declaration's body uses an identifier.
type Mention struct {
	// From is the qualified name of the enclosing declaration,
	// empty for module-level code
	From string `json:"from"`

	Name string `json:"name"`
	Line int    `json:"line"`
}

// Declaration looks up an extracted declaration by qualified name.
func (fi *FileInfo) Declaration(qualifiedName string) (*Declaration, bool) {
	for i := range fi.Declarations {
		if fi.Declarations[i].QualifiedName == qualifiedName {
			return &fi.Declarations[i], true
		}
	}
	return nil, false
}

// CountLines returns the number of lines in content. A trailing newline
// does not start a new line.
func CountLines(content []byte) int {
	if len(content) == 0 {
		return 0
	}
	n := bytes.Count(content, []byte("\n"))
	if content[len(content)-1] != '\n' {
		n++
	}
	return n
}
