package refactor

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"ckg/internal/entity"
	"ckg/internal/ingest"
)

// renderTargets produces the content of every split target from the
// original source. Declaration ranges come from a fresh extraction of the
// checksum-validated content, never from the plan: planning-time line
// numbers are advisory only.
func renderTargets(plan *SplitPlan, info *ingest.FileInfo, source []byte) (map[string][]byte, error) {
	lang := ingest.Language(plan.Language)
	offsets := lineOffsets(source)
	covered := coveredLines(info)

	out := make(map[string][]byte, len(plan.Targets))
	for ti := range plan.Targets {
		t := &plan.Targets[ti]

		blocks, err := declBlocks(t, info, source, offsets, covered, lang)
		if err != nil {
			return nil, err
		}

		var sections []string
		switch lang {
		case ingest.LangGo:
			sections = append(sections, "package "+info.Package)
			if block := goImportBlock(t.Modules, info); block != "" {
				sections = append(sections, block)
			}
		case ingest.LangPython:
			var header []string
			// The module docstring travels with the first target.
			if ti == 0 && info.DocStartLine > 0 {
				header = append(header, sliceLines(source, offsets, info.DocStartLine, info.DocEndLine))
			}
			header = append(header, importTexts(t.Modules, info)...)
			for _, li := range t.LocalImports {
				header = append(header,
					"from ."+targetStem(li.TargetPath)+" import "+strings.Join(li.Names, ", "))
			}
			if len(header) > 0 {
				sections = append(sections, strings.Join(header, "\n"))
			}
		default:
			header := importTexts(t.Modules, info)
			for _, li := range t.LocalImports {
				header = append(header,
					`import { `+strings.Join(li.Names, ", ")+` } from "./`+targetStem(li.TargetPath)+`";`)
			}
			if len(header) > 0 {
				sections = append(sections, strings.Join(header, "\n"))
			}
		}
		sections = append(sections, blocks...)

		sep := "\n\n"
		if lang == ingest.LangPython {
			sep = "\n\n\n"
		}
		out[t.Path] = []byte(strings.Join(sections, sep) + "\n")
	}
	return out, nil
}

// declBlocks renders one target's declaration bodies in source order.
// Comment lines directly above a declaration that no declaration or
// import claims travel with the declaration below them. A declaration
// nested inside an already emitted one (a method inside its class span)
// is skipped.
func declBlocks(t *PlanTarget, info *ingest.FileInfo, source []byte,
	offsets []int, covered map[int]bool, lang ingest.Language) ([]string, error) {

	type span struct {
		startLine, endLine int
		startByte, endByte int
	}
	spans := make([]span, 0, len(t.Declarations))
	for _, pd := range t.Declarations {
		d := findDeclaration(info, pd.QualifiedName, pd.Kind)
		if d == nil {
			return nil, fmt.Errorf("declaration %s (%s) not found in current content",
				pd.QualifiedName, pd.Kind)
		}
		spans = append(spans, span{d.StartLine, d.EndLine, d.StartByte, d.EndByte})
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].startByte < spans[j].startByte })

	marker := "//"
	if lang == ingest.LangPython {
		marker = "#"
	}

	var blocks []string
	emittedEnd := 0
	for _, s := range spans {
		if s.endByte <= emittedEnd {
			continue
		}
		start := s.startLine
		for start > 1 && !covered[start-1] {
			text := strings.TrimSpace(lineText(source, offsets, start-1))
			if text == "" || !strings.HasPrefix(text, marker) {
				break
			}
			start--
		}
		startByte := s.startByte
		if start < s.startLine {
			startByte = offsets[start]
		}
		blocks = append(blocks, strings.TrimRight(string(source[startByte:s.endByte]), "\n"))
		emittedEnd = s.endByte
	}
	return blocks, nil
}

func findDeclaration(info *ingest.FileInfo, qname string, kind entity.Kind) *ingest.Declaration {
	for i := range info.Declarations {
		d := &info.Declarations[i]
		if d.QualifiedName == qname && d.Kind == kind {
			return d
		}
	}
	return nil
}

// importTexts returns the original import statement texts covering the
// given modules, deduplicated, in source order.
func importTexts(modules []string, info *ingest.FileInfo) []string {
	if len(modules) == 0 {
		return nil
	}
	want := make(map[string]bool, len(modules))
	for _, m := range modules {
		want[m] = true
	}
	type imp struct {
		line int
		text string
	}
	seen := make(map[string]bool)
	var imps []imp
	for _, i := range info.Imports {
		if !want[i.Module] || seen[i.Text] {
			continue
		}
		seen[i.Text] = true
		imps = append(imps, imp{i.Line, i.Text})
	}
	sort.Slice(imps, func(i, j int) bool { return imps[i].line < imps[j].line })
	out := make([]string, len(imps))
	for i, e := range imps {
		out[i] = e.text
	}
	return out
}

// goImportBlock renders a Go import declaration from the original spec
// texts. Go targets share the original file's package, so sibling targets
// never import each other.
func goImportBlock(modules []string, info *ingest.FileInfo) string {
	specs := importTexts(modules, info)
	if len(specs) == 0 {
		return ""
	}
	if len(specs) == 1 {
		return "import " + specs[0]
	}
	var sb strings.Builder
	sb.WriteString("import (\n")
	for _, s := range specs {
		sb.WriteString("\t" + s + "\n")
	}
	sb.WriteString(")")
	return sb.String()
}

func targetStem(p string) string {
	base := path.Base(p)
	return strings.TrimSuffix(base, path.Ext(base))
}

// coveredLines marks every line owned by a declaration, an import
// statement, the module docstring, or the package clause.
func coveredLines(info *ingest.FileInfo) map[int]bool {
	covered := make(map[int]bool)
	mark := func(from, to int) {
		for i := from; i <= to; i++ {
			if i > 0 {
				covered[i] = true
			}
		}
	}
	for i := range info.Declarations {
		mark(info.Declarations[i].StartLine, info.Declarations[i].EndLine)
	}
	for _, span := range info.ImportLines {
		mark(span[0], span[1])
	}
	if info.DocStartLine > 0 {
		mark(info.DocStartLine, info.DocEndLine)
	}
	if info.PackageLine > 0 {
		mark(info.PackageLine, info.PackageLine)
	}
	return covered
}

// findLeftoverLines returns the lines a split would orphan: module-scope
// content that is neither blank, a comment, nor claimed by a declaration
// or import. Splitting a file with module-level statements is refused
// rather than guessed at; each entry names the offending line.
func findLeftoverLines(info *ingest.FileInfo, source []byte) []string {
	offsets := lineOffsets(source)
	covered := coveredLines(info)
	python := info.Language == ingest.LangPython

	var leftovers []string
	inBlock := false
	for line := 1; line <= info.LineCount; line++ {
		if covered[line] {
			inBlock = false
			continue
		}
		text := strings.TrimSpace(lineText(source, offsets, line))
		if text == "" {
			continue
		}
		if python {
			if strings.HasPrefix(text, "#") {
				continue
			}
		} else {
			if inBlock {
				if idx := strings.Index(text, "*/"); idx >= 0 {
					inBlock = false
					if rest := strings.TrimSpace(text[idx+2:]); rest != "" {
						leftovers = append(leftovers, describeLine(line, rest))
					}
				}
				continue
			}
			if strings.HasPrefix(text, "//") {
				continue
			}
			if strings.HasPrefix(text, "/*") {
				if idx := strings.Index(text[2:], "*/"); idx >= 0 {
					if rest := strings.TrimSpace(text[idx+4:]); rest != "" {
						leftovers = append(leftovers, describeLine(line, rest))
					}
				} else {
					inBlock = true
				}
				continue
			}
			if text == `"use strict";` || text == `'use strict';` {
				continue
			}
		}
		leftovers = append(leftovers, describeLine(line, text))
	}
	return leftovers
}

func describeLine(line int, text string) string {
	if len(text) > 80 {
		text = text[:77] + "..."
	}
	return fmt.Sprintf("line %d: %s", line, text)
}

// lineOffsets returns the byte offset of each line start, 1-indexed, with
// a trailing sentinel at len(src).
func lineOffsets(src []byte) []int {
	offsets := []int{-1, 0}
	for i, b := range src {
		if b == '\n' {
			offsets = append(offsets, i+1)
		}
	}
	if len(offsets) == 2 || offsets[len(offsets)-1] != len(src) {
		offsets = append(offsets, len(src))
	}
	return offsets
}

func lineText(src []byte, offsets []int, line int) string {
	if line < 1 || line+1 >= len(offsets) {
		return ""
	}
	return strings.TrimRight(string(src[offsets[line]:offsets[line+1]]), "\n")
}

func sliceLines(src []byte, offsets []int, from, to int) string {
	if from < 1 || from > to || to+1 >= len(offsets) {
		return ""
	}
	return strings.TrimRight(string(src[offsets[from]:offsets[to+1]]), "\n")
}
