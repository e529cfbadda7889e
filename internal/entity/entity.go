// Package entity defines the typed node and edge model of the code knowledge
// graph: files, declarations, imports, categories, and the relationships
// between them. Stable identifiers are content-independent so unrelated edits
// never reassign them.
package entity

// Kind represents the type of a graph node
type Kind string

const (
	KindFile     Kind = "file"
	KindClass    Kind = "class"
	KindFunction Kind = "function"
	KindMethod   Kind = "method"
	KindImport   Kind = "import"
	KindCategory Kind = "category"
)

// RelKind represents the type of a graph edge
type RelKind string

const (
	// RelContains links a file to its top-level declarations and a class
	// to its methods. Every non-file entity has exactly one container.
	RelContains RelKind = "CONTAINS"
	// RelImports links a file to an import target, which may be another
	// indexed file (resolved) or an external module name (unresolved).
	RelImports RelKind = "IMPORTS"
	// RelReferences links a declaration to a declaration it uses.
	// Best-effort: unresolved mentions keep the target name only.
	RelReferences RelKind = "REFERENCES"
	// RelBelongsTo links a file to an architectural category.
	RelBelongsTo RelKind = "BELONGS_TO"
)

// Entity is a node in the knowledge graph. Kind-specific fields are zero
// for kinds they don't apply to; anything non-essential goes in Extra.
type Entity struct {
	ID            string `json:"id"`
	Kind          Kind   `json:"kind"`
	Path          string `json:"path"`
	Name          string `json:"name"`
	QualifiedName string `json:"qualifiedName"`
	Signature     string `json:"signature,omitempty"`
	Doc           string `json:"doc,omitempty"`
	StartLine     int    `json:"startLine,omitempty"`
	EndLine       int    `json:"endLine,omitempty"`
	Complexity    int    `json:"complexity,omitempty"`
	Version       int64  `json:"version"`

	// File-kind fields
	Language        string  `json:"language,omitempty"`
	ContentHash     string  `json:"contentHash,omitempty"`
	Revision        string  `json:"revision,omitempty"`
	LineCount       int     `json:"lineCount,omitempty"`
	Maintainability float64 `json:"maintainability,omitempty"`
	DebtScore       float64 `json:"debtScore,omitempty"`
	Degraded        bool    `json:"degraded,omitempty"`
	ParseError      string  `json:"parseError,omitempty"`

	Extra map[string]string `json:"extra,omitempty"`
}

// IsDeclaration reports whether the entity is a source declaration
// (class, function, or method) as opposed to a file, import, or category.
func (e *Entity) IsDeclaration() bool {
	switch e.Kind {
	case KindClass, KindFunction, KindMethod:
		return true
	default:
		return false
	}
}

// Relationship is an edge in the knowledge graph. Unresolved edges carry
// ToName instead of ToID; a later resolution pass may bind them.
type Relationship struct {
	ID       string  `json:"id"`
	FromID   string  `json:"fromId"`
	ToID     string  `json:"toId,omitempty"`
	ToName   string  `json:"toName,omitempty"`
	Kind     RelKind `json:"kind"`
	Resolved bool    `json:"resolved"`
}
