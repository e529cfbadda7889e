package ingest

import (
	"path/filepath"
	"strings"
)

// Language identifies a supported source language.
type Language string

const (
	LangPython     Language = "python"
	LangGo         Language = "go"
	LangJavaScript Language = "javascript"
	LangTypeScript Language = "typescript"
	LangTSX        Language = "tsx"
)

var extensionLanguages = map[string]Language{
	".py":  LangPython,
	".go":  LangGo,
	".js":  LangJavaScript,
	".jsx": LangJavaScript,
	".mjs": LangJavaScript,
	".ts":  LangTypeScript,
	".tsx": LangTSX,
}

// LanguageFromPath detects the language of a file from its extension.
func LanguageFromPath(path string) (Language, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	lang, ok := extensionLanguages[ext]
	return lang, ok
}

// SupportedExtensions returns the file extensions the ingestor understands.
func SupportedExtensions() []string {
	out := make([]string, 0, len(extensionLanguages))
	for ext := range extensionLanguages {
		out = append(out, ext)
	}
	return out
}

// IgnoredName reports whether a single path segment matches one of the
// ignore patterns. Patterns apply to segments, never to full paths.
func IgnoredName(patterns []string, name string) bool {
	for _, pattern := range patterns {
		if pattern == name {
			return true
		}
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// decisionNodeTypes returns the node types that contribute to cyclomatic
// complexity for a language.
func decisionNodeTypes(lang Language) []string {
	switch lang {
	case LangGo:
		return []string{
			"if_statement",
			"for_statement",
			"range_clause",
			"expression_case",    // case in switch
			"type_case",          // case in type switch
			"select_statement",   // select with cases
			"communication_case", // case in select
			"binary_expression",  // for && and ||
		}
	case LangJavaScript, LangTypeScript, LangTSX:
		return []string{
			"if_statement",
			"for_statement",
			"for_in_statement",
			"while_statement",
			"do_statement",
			"switch_case",
			"catch_clause",
			"ternary_expression",
			"binary_expression", // for && and ||
			"optional_chain_expression",
		}
	case LangPython:
		return []string{
			"if_statement",
			"elif_clause",
			"for_statement",
			"while_statement",
			"except_clause",
			"with_statement",
			"boolean_operator",         // and, or
			"conditional_expression",   // ternary
			"list_comprehension",       // for clause
			"dictionary_comprehension", // for clause
			"set_comprehension",        // for clause
			"generator_expression",     // for clause
		}
	default:
		return nil
	}
}
