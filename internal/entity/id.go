package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Fingerprint contains the components used to generate a stable ID.
// Line numbers, bodies, and docs are deliberately excluded: editing a
// declaration must not reassign its identity.
type Fingerprint struct {
	Path          string `json:"path"`
	QualifiedName string `json:"qualifiedName"`
	Kind          Kind   `json:"kind"`
}

// ComputeFingerprint creates a deterministic hash from fingerprint components
func ComputeFingerprint(fp *Fingerprint) string {
	if fp == nil {
		return ""
	}

	parts := []string{
		"path:" + fp.Path,
		"name:" + fp.QualifiedName,
		"kind:" + string(fp.Kind),
	}

	// Sort to ensure deterministic ordering
	sort.Strings(parts)

	canonical := strings.Join(parts, "|")
	hash := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(hash[:])
}

// StableID creates the full stable ID for an entity.
// Format: ckg:<kind>:<fingerprint-hash>
func StableID(kind Kind, path, qualifiedName string) string {
	fp := &Fingerprint{Path: path, QualifiedName: qualifiedName, Kind: kind}
	return "ckg:" + string(kind) + ":" + ComputeFingerprint(fp)
}

// FileID creates the stable ID for a file node.
func FileID(path string) string {
	return StableID(KindFile, path, path)
}

// CategoryID creates the stable ID for a category node. Categories are
// repo-scoped, not file-scoped, so the path component is empty.
func CategoryID(name string) string {
	return StableID(KindCategory, "", name)
}

// ImportTargetID creates the stable ID for an external import target node
// (a module that is not a file in the repo, e.g. "os.path" or "react").
func ImportTargetID(module string) string {
	return StableID(KindImport, "", module)
}

// RelationshipID creates a deterministic edge ID so re-ingesting identical
// content never produces duplicate rows.
func RelationshipID(fromID string, kind RelKind, toID, toName string) string {
	canonical := fromID + "|" + string(kind) + "|" + toID + "|" + toName
	hash := sha256.Sum256([]byte(canonical))
	return "ckgr:" + hex.EncodeToString(hash[:])
}

// NormalizeSignature creates a normalized signature for comparison.
// This removes whitespace so formatting-only edits compare equal.
func NormalizeSignature(signature string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			return -1
		}
		return r
	}, signature)
}

// QualifyMethod builds the qualified name of a method from its class.
func QualifyMethod(className, methodName string) string {
	return className + "." + methodName
}

// MentionRef encodes a reference to an imported name on an unresolved
// REFERENCES edge: the module that binds the name plus the name itself.
// The split import closure reads the module half; cross-file resolution
// reads the name half.
func MentionRef(module, name string) string {
	return module + ":" + name
}

// SplitMentionRef decodes a MentionRef. The split is on the last colon so
// module strings that themselves contain one ("node:fs") stay intact.
// Returns ok=false for names that are not mention refs, such as the plain
// qualified names left behind when a reference target is deleted.
func SplitMentionRef(ref string) (module, name string, ok bool) {
	idx := strings.LastIndex(ref, ":")
	if idx < 0 {
		return "", "", false
	}
	return ref[:idx], ref[idx+1:], true
}
