//go:build cgo

package ingest

import (
	"context"
	"strings"
	"testing"

	"ckg/internal/entity"
)

func extractSource(t *testing.T, path, source string, lang Language) *FileInfo {
	t.Helper()
	info, err := NewExtractor().Extract(context.Background(), path, []byte(source), lang)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	return info
}

func findDecl(t *testing.T, info *FileInfo, qualifiedName string) *Declaration {
	t.Helper()
	d, ok := info.Declaration(qualifiedName)
	if !ok {
		names := make([]string, 0, len(info.Declarations))
		for _, d := range info.Declarations {
			names = append(names, d.QualifiedName)
		}
		t.Fatalf("declaration %q not found in %v", qualifiedName, names)
	}
	return d
}

func hasMention(info *FileInfo, from, name string) bool {
	for _, m := range info.Mentions {
		if m.From == from && m.Name == name {
			return true
		}
	}
	return false
}

const pythonSource = `"""Shape helpers."""
import os.path
import json as j
from .colors import tint
from typing import List


def helper(values):
    """Collapse values."""
    total = 0
    for v in values:
        if v and total < 10:
            total += v
    return total


class Widget:
    """A renderable widget."""

    kind = "base"

    def __init__(self, name):
        self.name = name

    @property
    def label(self):
        """Widget label."""
        return tint(self.name)

    def render(self, out):
        if os.path.exists(out):
            return helper([1, 2])
        return None
`

func TestExtractPythonDeclarations(t *testing.T) {
	info := extractSource(t, "pkg/widget.py", pythonSource, LangPython)

	if info.Degraded {
		t.Fatalf("unexpected degraded result: %s", info.ParseError)
	}
	if info.Doc != "Shape helpers." {
		t.Errorf("unexpected module docstring %q", info.Doc)
	}
	if info.DocStartLine != 1 || info.DocEndLine != 1 {
		t.Errorf("docstring span = %d..%d, want 1..1", info.DocStartLine, info.DocEndLine)
	}
	if len(info.Declarations) != 5 {
		t.Fatalf("expected 5 declarations, got %d", len(info.Declarations))
	}

	helper := findDecl(t, info, "helper")
	if helper.Kind != entity.KindFunction {
		t.Errorf("helper should be a function, got %s", helper.Kind)
	}
	if helper.Signature != "helper(values)" {
		t.Errorf("unexpected signature %q", helper.Signature)
	}
	if helper.Doc != "Collapse values." {
		t.Errorf("unexpected docstring %q", helper.Doc)
	}
	if helper.StartLine != 8 || helper.EndLine != 14 {
		t.Errorf("helper lines = %d..%d, want 8..14", helper.StartLine, helper.EndLine)
	}
	// 1 + for + if + and
	if helper.Complexity != 4 {
		t.Errorf("helper complexity = %d, want 4", helper.Complexity)
	}

	widget := findDecl(t, info, "Widget")
	if widget.Kind != entity.KindClass {
		t.Errorf("Widget should be a class, got %s", widget.Kind)
	}
	if widget.Doc != "A renderable widget." {
		t.Errorf("unexpected class docstring %q", widget.Doc)
	}
	// methods: __init__ (1) + label (1) + render (2)
	if widget.Complexity != 4 {
		t.Errorf("class complexity = %d, want 4", widget.Complexity)
	}

	label := findDecl(t, info, "Widget.label")
	if label.ClassName != "Widget" || label.Kind != entity.KindMethod {
		t.Errorf("label should be a Widget method")
	}
	// decorated methods start at the decorator
	if label.StartLine != 25 {
		t.Errorf("label starts at %d, want 25 (the decorator line)", label.StartLine)
	}
	if label.Doc != "Widget label." {
		t.Errorf("unexpected method docstring %q", label.Doc)
	}

	render := findDecl(t, info, "Widget.render")
	if render.Complexity != 2 {
		t.Errorf("render complexity = %d, want 2", render.Complexity)
	}
}

func TestExtractPythonImports(t *testing.T) {
	info := extractSource(t, "pkg/widget.py", pythonSource, LangPython)

	byModule := map[string][]string{}
	for _, imp := range info.Imports {
		byModule[imp.Module] = imp.Names
	}
	if len(byModule) != 4 {
		t.Fatalf("expected 4 imports, got %v", byModule)
	}
	if got := byModule["os.path"]; len(got) != 1 || got[0] != "os" {
		t.Errorf("import os.path should bind os, got %v", got)
	}
	if got := byModule["json"]; len(got) != 1 || got[0] != "j" {
		t.Errorf("aliased import should bind the alias, got %v", got)
	}
	if got := byModule[".colors"]; len(got) != 1 || got[0] != "tint" {
		t.Errorf("from-import should bind the member, got %v", got)
	}
	if got := byModule["typing"]; len(got) != 1 || got[0] != "List" {
		t.Errorf("typing import should bind List, got %v", got)
	}

	if len(info.ImportLines) != 4 {
		t.Fatalf("expected 4 import spans, got %v", info.ImportLines)
	}
	if info.ImportLines[0] != [2]int{2, 2} || info.ImportLines[3] != [2]int{5, 5} {
		t.Errorf("unexpected import spans %v", info.ImportLines)
	}
}

func TestExtractPythonMentions(t *testing.T) {
	info := extractSource(t, "pkg/widget.py", pythonSource, LangPython)

	if !hasMention(info, "Widget.render", "helper") {
		t.Errorf("render should mention helper")
	}
	if !hasMention(info, "Widget.render", "os") {
		t.Errorf("render should mention the import root os")
	}
	if hasMention(info, "Widget.render", "path") {
		t.Errorf("attribute members must not be mentions")
	}
	if !hasMention(info, "Widget.label", "tint") {
		t.Errorf("label should mention tint")
	}
}

func TestExtractPythonRelativePackageImport(t *testing.T) {
	info := extractSource(t, "pkg/app.py", "from . import util\n", LangPython)

	if len(info.Imports) != 1 {
		t.Fatalf("expected 1 import, got %d", len(info.Imports))
	}
	imp := info.Imports[0]
	if imp.Module != ".util" {
		t.Errorf("dots-only module should fold the name, got %q", imp.Module)
	}
	if len(imp.Names) != 1 || imp.Names[0] != "util" {
		t.Errorf("expected bound name util, got %v", imp.Names)
	}
}

func TestExtractPythonSyntaxError(t *testing.T) {
	info := extractSource(t, "bad.py", "def broken(:\n    pass\n", LangPython)

	if !info.Degraded {
		t.Fatalf("expected degraded result")
	}
	if !strings.Contains(info.ParseError, "syntax error") {
		t.Errorf("unexpected parse error %q", info.ParseError)
	}
	if len(info.Declarations) != 0 {
		t.Errorf("degraded files must not produce declarations")
	}
	if info.LineCount != 2 {
		t.Errorf("line count should survive parse failure, got %d", info.LineCount)
	}
}

const goSource = `package sample

import (
	"fmt"
	stdos "os"
)

// Greeter greets people.
type Greeter struct {
	Name string
}

// Hello returns a greeting.
func (g *Greeter) Hello() string {
	if g.Name == "" {
		return "hello"
	}
	return fmt.Sprintf("hello %s", g.Name)
}

func open(path string) error {
	_, err := stdos.Open(path)
	return err
}
`

func TestExtractGo(t *testing.T) {
	info := extractSource(t, "sample/greet.go", goSource, LangGo)

	if len(info.Declarations) != 3 {
		t.Fatalf("expected 3 declarations, got %d", len(info.Declarations))
	}

	greeter := findDecl(t, info, "Greeter")
	if greeter.Kind != entity.KindClass || greeter.Signature != "Greeter struct" {
		t.Errorf("unexpected type declaration %+v", greeter)
	}
	if greeter.Doc != "Greeter greets people." {
		t.Errorf("unexpected doc %q", greeter.Doc)
	}

	hello := findDecl(t, info, "Greeter.Hello")
	if hello.Kind != entity.KindMethod || hello.ClassName != "Greeter" {
		t.Errorf("Hello should be a Greeter method")
	}
	if hello.Signature != "Hello() string" {
		t.Errorf("unexpected signature %q", hello.Signature)
	}
	// the == comparison is not a boolean operator
	if hello.Complexity != 2 {
		t.Errorf("Hello complexity = %d, want 2", hello.Complexity)
	}

	openFn := findDecl(t, info, "open")
	if openFn.Signature != "open(path string) error" {
		t.Errorf("unexpected signature %q", openFn.Signature)
	}

	byModule := map[string][]string{}
	for _, imp := range info.Imports {
		byModule[imp.Module] = imp.Names
	}
	if got := byModule["fmt"]; len(got) != 1 || got[0] != "fmt" {
		t.Errorf("fmt import binding = %v", got)
	}
	if got := byModule["os"]; len(got) != 1 || got[0] != "stdos" {
		t.Errorf("named import binding = %v", got)
	}

	if info.Package != "sample" || info.PackageLine != 1 {
		t.Errorf("package = %q at line %d, want sample at 1", info.Package, info.PackageLine)
	}
	if len(info.ImportLines) != 1 || info.ImportLines[0] != [2]int{3, 6} {
		t.Errorf("unexpected import spans %v", info.ImportLines)
	}

	if !hasMention(info, "Greeter.Hello", "fmt") {
		t.Errorf("Hello should mention fmt")
	}
	if !hasMention(info, "open", "stdos") {
		t.Errorf("open should mention stdos")
	}
}

const tsSource = `import { format } from "./fmt";
import React from "react";

export interface Shape {
  area(): number;
}

// Renders one shape.
export class Box {
  size: number;

  constructor(size: number) {
    this.size = size;
  }

  area(): number {
    return this.size * this.size;
  }

  describe(): string {
    return format(this.area());
  }
}

export const twice = (n: number): number => n * 2;
`

func TestExtractTypeScript(t *testing.T) {
	info := extractSource(t, "src/box.ts", tsSource, LangTypeScript)

	if len(info.Declarations) != 6 {
		t.Fatalf("expected 6 declarations, got %d", len(info.Declarations))
	}

	shape := findDecl(t, info, "Shape")
	if shape.Kind != entity.KindClass || shape.Signature != "interface Shape" {
		t.Errorf("unexpected interface declaration %+v", shape)
	}

	box := findDecl(t, info, "Box")
	if box.Kind != entity.KindClass {
		t.Errorf("Box should be a class")
	}
	if box.Doc != "Renders one shape." {
		t.Errorf("unexpected doc %q", box.Doc)
	}

	describe := findDecl(t, info, "Box.describe")
	if describe.Kind != entity.KindMethod || describe.ClassName != "Box" {
		t.Errorf("describe should be a Box method")
	}

	twice := findDecl(t, info, "twice")
	if twice.Kind != entity.KindFunction {
		t.Errorf("arrow const should be a function")
	}
	if twice.Signature != "twice(n: number): number" {
		t.Errorf("unexpected signature %q", twice.Signature)
	}

	byModule := map[string][]string{}
	for _, imp := range info.Imports {
		byModule[imp.Module] = imp.Names
	}
	if got := byModule["./fmt"]; len(got) != 1 || got[0] != "format" {
		t.Errorf("named import binding = %v", got)
	}
	if got := byModule["react"]; len(got) != 1 || got[0] != "React" {
		t.Errorf("default import binding = %v", got)
	}

	if !hasMention(info, "Box.describe", "format") {
		t.Errorf("describe should mention format")
	}
}

func TestExtractUnsupportedLanguage(t *testing.T) {
	_, err := NewExtractor().Extract(context.Background(), "x.rb", []byte("puts 1"), Language("ruby"))
	if err == nil {
		t.Fatalf("expected error for unsupported language")
	}
}
