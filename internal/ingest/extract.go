//go:build cgo

package ingest

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"ckg/internal/entity"
)

// Extractor turns source files into structural facts: declarations,
// imports, and identifier mentions.
type Extractor struct {
	parser *Parser
}

// NewExtractor creates an extractor with its own parser.
func NewExtractor() *Extractor {
	return &Extractor{parser: NewParser()}
}

// Extract parses source and walks the syntax tree. Files with syntax
// errors come back degraded with no declarations; the error return is
// reserved for unsupported languages and cancelled parses.
func (e *Extractor) Extract(ctx context.Context, path string, source []byte, lang Language) (*FileInfo, error) {
	info := &FileInfo{
		Path:      path,
		Language:  lang,
		LineCount: CountLines(source),
	}

	tree, err := e.parser.Parse(ctx, source, lang)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil || root.HasError() {
		info.Degraded = true
		info.ParseError = describeSyntaxError(root)
		return info, nil
	}

	w := &walker{source: source, lang: lang, info: info, seen: make(map[string]struct{})}
	switch lang {
	case LangPython:
		w.extractPython(root)
	case LangGo:
		w.extractGo(root)
	case LangJavaScript, LangTypeScript, LangTSX:
		w.extractJS(root)
	}
	w.sumClassComplexity()
	return info, nil
}

// describeSyntaxError locates the first ERROR node for the parse failure
// message.
func describeSyntaxError(root *sitter.Node) string {
	if root == nil {
		return "empty syntax tree"
	}
	var first *sitter.Node
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil || first != nil {
			return
		}
		if n.Type() == "ERROR" || n.IsMissing() {
			first = n
			return
		}
		if !n.HasError() {
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(root)
	if first == nil {
		return "syntax error"
	}
	return fmt.Sprintf("syntax error near line %d", int(first.StartPoint().Row)+1)
}

// walker accumulates extraction results for one file.
type walker struct {
	source []byte
	lang   Language
	info   *FileInfo
	seen   map[string]struct{}
}

var whitespaceRe = regexp.MustCompile(`\s+`)

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

func (w *walker) text(n *sitter.Node) string {
	return nodeText(n, w.source)
}

func startLine(n *sitter.Node) int {
	return int(n.StartPoint().Row) + 1
}

func endLine(n *sitter.Node) int {
	return int(n.EndPoint().Row) + 1
}

func (w *walker) addDeclaration(d Declaration) {
	w.info.Declarations = append(w.info.Declarations, d)
}

func (w *walker) addImport(imp Import) {
	w.info.Imports = append(w.info.Imports, imp)
}

func (w *walker) addImportSpan(node *sitter.Node) {
	w.info.ImportLines = append(w.info.ImportLines, [2]int{startLine(node), endLine(node)})
}

// addMention records the first use of a name per declaration.
func (w *walker) addMention(from, name string, line int) {
	key := from + "\x00" + name
	if _, ok := w.seen[key]; ok {
		return
	}
	w.seen[key] = struct{}{}
	w.info.Mentions = append(w.info.Mentions, Mention{From: from, Name: name, Line: line})
}

// sumClassComplexity folds method complexity into the enclosing class.
func (w *walker) sumClassComplexity() {
	decls := w.info.Declarations
	for i := range decls {
		if decls[i].Kind != entity.KindClass {
			continue
		}
		sum := 0
		for j := range decls {
			if decls[j].Kind == entity.KindMethod && decls[j].ClassName == decls[i].Name {
				sum += decls[j].Complexity
			}
		}
		decls[i].Complexity = sum
	}
}

// computeCyclomatic calculates cyclomatic complexity: decision points + 1.
func (w *walker) computeCyclomatic(node *sitter.Node) int {
	complexity := 1
	types := decisionNodeTypes(w.lang)

	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil {
			return
		}
		t := n.Type()
		if slices.Contains(types, t) {
			// For binary expressions, only count if it's && or ||
			if t == "binary_expression" || t == "boolean_operator" {
				if isBooleanOperator(n, w.source, w.lang) {
					complexity++
				}
			} else {
				complexity++
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(node)
	return complexity
}

// identifierTypes are the node types that name things in each grammar.
func (w *walker) isIdentifierType(t string) bool {
	switch w.lang {
	case LangPython:
		return t == "identifier"
	case LangGo:
		return t == "identifier" || t == "type_identifier" || t == "package_identifier"
	default:
		return t == "identifier" || t == "type_identifier"
	}
}

// collectMentions walks a subtree recording identifier usages attributed
// to the declaration named from. skip, when set, is the declaration's own
// name node.
func (w *walker) collectMentions(node *sitter.Node, from string, skip *sitter.Node) {
	if node == nil {
		return
	}
	t := node.Type()
	if w.isIdentifierType(t) {
		if skip != nil && sameNode(node, skip) {
			return
		}
		if w.isAttributeName(node) || w.isKeywordArgName(node) {
			return
		}
		w.addMention(from, w.text(node), startLine(node))
		return
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		w.collectMentions(node.NamedChild(i), from, skip)
	}
}

// isAttributeName reports whether node is the member half of a Python
// attribute access (the "path" in os.path). Only the root object binds
// to an import, so member names are not mentions.
func (w *walker) isAttributeName(node *sitter.Node) bool {
	parent := node.Parent()
	if parent == nil || parent.Type() != "attribute" {
		return false
	}
	return sameNode(parent.ChildByFieldName("attribute"), node)
}

// isKeywordArgName reports whether node names a Python keyword argument.
func (w *walker) isKeywordArgName(node *sitter.Node) bool {
	parent := node.Parent()
	if parent == nil || parent.Type() != "keyword_argument" {
		return false
	}
	return sameNode(parent.ChildByFieldName("name"), node)
}

// ---- Python ----

func (w *walker) extractPython(root *sitter.Node) {
	sawStatement := false
	for i := 0; i < int(root.NamedChildCount()); i++ {
		node := root.NamedChild(i)
		if !sawStatement && node.Type() != "comment" {
			sawStatement = true
			if doc := moduleDocstring(node); doc != nil {
				w.info.Doc = stripPythonString(w.text(doc))
				w.info.DocStartLine = startLine(node)
				w.info.DocEndLine = endLine(node)
				continue
			}
		}
		w.pythonTopLevel(node, node)
	}
}

// moduleDocstring returns the string node when stmt is a bare string
// expression, the docstring form.
func moduleDocstring(stmt *sitter.Node) *sitter.Node {
	if stmt.Type() != "expression_statement" {
		return nil
	}
	str := stmt.NamedChild(0)
	if str == nil || str.Type() != "string" {
		return nil
	}
	return str
}

func (w *walker) pythonTopLevel(node, outer *sitter.Node) {
	switch node.Type() {
	case "decorated_definition":
		if def := node.ChildByFieldName("definition"); def != nil {
			w.pythonTopLevel(def, node)
		}
	case "class_definition":
		w.pythonClass(node, outer)
	case "function_definition":
		w.pythonFunction(node, outer, "")
	case "import_statement":
		w.pythonImport(node)
	case "import_from_statement":
		w.pythonFromImport(node)
	case "future_import_statement":
		// carries no graph information
	case "comment":
	default:
		w.collectMentions(node, "", nil)
	}
}

func (w *walker) pythonClass(node, outer *sitter.Node) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	className := w.text(nameNode)

	signature := className
	if supers := node.ChildByFieldName("superclasses"); supers != nil {
		signature += collapseWhitespace(w.text(supers))
		w.collectMentions(supers, className, nil)
	}

	// Decorators sit on the wrapping node
	if !sameNode(node, outer) {
		for i := 0; i < int(outer.NamedChildCount()); i++ {
			if child := outer.NamedChild(i); child.Type() == "decorator" {
				w.collectMentions(child, className, nil)
			}
		}
	}

	w.addDeclaration(Declaration{
		Kind:          entity.KindClass,
		Name:          className,
		QualifiedName: className,
		Signature:     signature,
		Doc:           w.pythonDocstring(node),
		StartLine:     startLine(outer),
		EndLine:       endLine(outer),
		StartByte:     int(outer.StartByte()),
		EndByte:       int(outer.EndByte()),
	})

	body := node.ChildByFieldName("body")
	if body == nil {
		return
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		stmt := body.NamedChild(i)
		switch stmt.Type() {
		case "function_definition":
			w.pythonFunction(stmt, stmt, className)
		case "decorated_definition":
			if def := stmt.ChildByFieldName("definition"); def != nil && def.Type() == "function_definition" {
				w.pythonFunction(def, stmt, className)
			} else if def != nil {
				w.collectMentions(stmt, className, nil)
			}
		default:
			// class-level statements belong to the class
			w.collectMentions(stmt, className, nil)
		}
	}
}

func (w *walker) pythonFunction(node, outer *sitter.Node, className string) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := w.text(nameNode)

	var params, returnType string
	if p := node.ChildByFieldName("parameters"); p != nil {
		params = collapseWhitespace(w.text(p))
	}
	if r := node.ChildByFieldName("return_type"); r != nil {
		returnType = collapseWhitespace(w.text(r))
	}
	signature := name + params
	if returnType != "" {
		signature += " -> " + returnType
	}

	kind := entity.KindFunction
	qualified := name
	if className != "" {
		kind = entity.KindMethod
		qualified = entity.QualifyMethod(className, name)
	}

	w.addDeclaration(Declaration{
		Kind:          kind,
		Name:          name,
		QualifiedName: qualified,
		ClassName:     className,
		Signature:     signature,
		Doc:           w.pythonDocstring(node),
		StartLine:     startLine(outer),
		EndLine:       endLine(outer),
		StartByte:     int(outer.StartByte()),
		EndByte:       int(outer.EndByte()),
		Complexity:    w.computeCyclomatic(node),
	})

	// The walk covers decorators and nested defs; they belong to this
	// declaration, not the graph.
	w.collectMentions(outer, qualified, nameNode)
}

func (w *walker) pythonDocstring(defNode *sitter.Node) string {
	body := defNode.ChildByFieldName("body")
	if body == nil {
		return ""
	}
	first := body.NamedChild(0)
	if first == nil || first.Type() != "expression_statement" {
		return ""
	}
	str := first.NamedChild(0)
	if str == nil || str.Type() != "string" {
		return ""
	}
	return stripPythonString(w.text(str))
}

func stripPythonString(s string) string {
	s = strings.TrimLeft(s, "rRbBuUfF")
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(s, q) && strings.HasSuffix(s, q) && len(s) >= 2*len(q) {
			return strings.TrimSpace(s[len(q) : len(s)-len(q)])
		}
	}
	return strings.TrimSpace(s)
}

// pythonImport handles "import a.b" and "import a.b as c".
func (w *walker) pythonImport(node *sitter.Node) {
	text := w.text(node)
	line := startLine(node)
	w.addImportSpan(node)
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "dotted_name":
			module := w.text(child)
			root := module
			if idx := strings.Index(module, "."); idx > 0 {
				root = module[:idx]
			}
			w.addImport(Import{Module: module, Names: []string{root}, Line: line, Text: text})
		case "aliased_import":
			nameNode := child.ChildByFieldName("name")
			aliasNode := child.ChildByFieldName("alias")
			if nameNode == nil || aliasNode == nil {
				continue
			}
			w.addImport(Import{
				Module: w.text(nameNode),
				Names:  []string{w.text(aliasNode)},
				Line:   line,
				Text:   text,
			})
		}
	}
}

// pythonFromImport handles "from X import a, b as c" including relative
// forms. "from . import util" is an import of the sibling module util, so
// dots-only modules fold each bound name into the module itself.
func (w *walker) pythonFromImport(node *sitter.Node) {
	text := w.text(node)
	line := startLine(node)
	w.addImportSpan(node)

	var module string
	var names []string
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "dotted_name", "relative_import":
			if module == "" {
				module = w.text(child)
				continue
			}
			names = append(names, w.text(child))
		case "aliased_import":
			if alias := child.ChildByFieldName("alias"); alias != nil {
				names = append(names, w.text(alias))
			}
		case "wildcard_import":
			names = append(names, "*")
		}
	}
	if module == "" {
		return
	}

	if strings.Trim(module, ".") == "" {
		for _, name := range names {
			w.addImport(Import{Module: module + name, Names: []string{name}, Line: line, Text: text})
		}
		return
	}
	w.addImport(Import{Module: module, Names: names, Line: line, Text: text})
}

// ---- Go ----

func (w *walker) extractGo(root *sitter.Node) {
	for i := 0; i < int(root.NamedChildCount()); i++ {
		node := root.NamedChild(i)
		switch node.Type() {
		case "function_declaration":
			w.goFunction(node)
		case "method_declaration":
			w.goMethod(node)
		case "type_declaration":
			w.goTypeDeclaration(node)
		case "import_declaration":
			w.goImport(node)
		case "package_clause":
			if ident := node.NamedChild(0); ident != nil {
				w.info.Package = w.text(ident)
				w.info.PackageLine = startLine(node)
			}
		case "comment":
		default:
			w.collectMentions(node, "", nil)
		}
	}
}

func (w *walker) goFunction(node *sitter.Node) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := w.text(nameNode)

	w.addDeclaration(Declaration{
		Kind:          entity.KindFunction,
		Name:          name,
		QualifiedName: name,
		Signature:     w.goSignature(name, node),
		Doc:           w.leadingComment(node),
		StartLine:     startLine(node),
		EndLine:       endLine(node),
		StartByte:     int(node.StartByte()),
		EndByte:       int(node.EndByte()),
		Complexity:    w.computeCyclomatic(node),
	})
	w.collectMentions(node, name, nameNode)
}

func (w *walker) goMethod(node *sitter.Node) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := w.text(nameNode)
	receiver := w.goReceiverType(node.ChildByFieldName("receiver"))
	qualified := name
	if receiver != "" {
		qualified = entity.QualifyMethod(receiver, name)
	}

	w.addDeclaration(Declaration{
		Kind:          entity.KindMethod,
		Name:          name,
		QualifiedName: qualified,
		ClassName:     receiver,
		Signature:     w.goSignature(name, node),
		Doc:           w.leadingComment(node),
		StartLine:     startLine(node),
		EndLine:       endLine(node),
		StartByte:     int(node.StartByte()),
		EndByte:       int(node.EndByte()),
		Complexity:    w.computeCyclomatic(node),
	})
	w.collectMentions(node, qualified, nameNode)
}

func (w *walker) goSignature(name string, node *sitter.Node) string {
	sig := name
	if p := node.ChildByFieldName("parameters"); p != nil {
		sig += collapseWhitespace(w.text(p))
	}
	if r := node.ChildByFieldName("result"); r != nil {
		sig += " " + collapseWhitespace(w.text(r))
	}
	return sig
}

// goReceiverType digs the type name out of a method receiver, dropping
// any pointer or type parameters.
func (w *walker) goReceiverType(receiver *sitter.Node) string {
	if receiver == nil {
		return ""
	}
	var found string
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil || found != "" {
			return
		}
		if n.Type() == "type_identifier" {
			found = w.text(n)
			return
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			walk(n.NamedChild(i))
		}
	}
	walk(receiver)
	return found
}

func (w *walker) goTypeDeclaration(node *sitter.Node) {
	specs := 0
	for i := 0; i < int(node.NamedChildCount()); i++ {
		if node.NamedChild(i).Type() == "type_spec" {
			specs++
		}
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		spec := node.NamedChild(i)
		if spec.Type() != "type_spec" {
			continue
		}
		nameNode := spec.ChildByFieldName("name")
		typeNode := spec.ChildByFieldName("type")
		if nameNode == nil {
			continue
		}
		name := w.text(nameNode)

		signature := name
		outer := spec
		doc := ""
		if specs == 1 {
			outer = node
			doc = w.leadingComment(node)
		}
		if typeNode != nil {
			switch typeNode.Type() {
			case "struct_type":
				signature += " struct"
			case "interface_type":
				signature += " interface"
			default:
				signature += " " + collapseWhitespace(w.text(typeNode))
			}
			w.collectMentions(typeNode, name, nil)
		}

		w.addDeclaration(Declaration{
			Kind:          entity.KindClass,
			Name:          name,
			QualifiedName: name,
			Signature:     signature,
			Doc:           doc,
			StartLine:     startLine(outer),
			EndLine:       endLine(outer),
			StartByte:     int(outer.StartByte()),
			EndByte:       int(outer.EndByte()),
		})
	}
}

func (w *walker) goImport(node *sitter.Node) {
	w.addImportSpan(node)
	var handleSpec func(spec *sitter.Node)
	handleSpec = func(spec *sitter.Node) {
		pathNode := spec.ChildByFieldName("path")
		if pathNode == nil {
			return
		}
		module := strings.Trim(w.text(pathNode), "\"`")
		bound := module
		if idx := strings.LastIndex(module, "/"); idx >= 0 {
			bound = module[idx+1:]
		}
		if nameNode := spec.ChildByFieldName("name"); nameNode != nil {
			bound = w.text(nameNode)
		}
		w.addImport(Import{
			Module: module,
			Names:  []string{bound},
			Line:   startLine(spec),
			Text:   w.text(spec),
		})
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "import_spec":
			handleSpec(child)
		case "import_spec_list":
			for j := 0; j < int(child.NamedChildCount()); j++ {
				if spec := child.NamedChild(j); spec.Type() == "import_spec" {
					handleSpec(spec)
				}
			}
		}
	}
}

// leadingComment gathers the contiguous comment block directly above a
// declaration. Go and JS attach docs as sibling comment nodes.
func (w *walker) leadingComment(node *sitter.Node) string {
	var parts []string
	expected := int(node.StartPoint().Row) - 1
	prev := node.PrevNamedSibling()
	for prev != nil && prev.Type() == "comment" && int(prev.EndPoint().Row) == expected {
		parts = append([]string{w.text(prev)}, parts...)
		expected = int(prev.StartPoint().Row) - 1
		prev = prev.PrevNamedSibling()
	}
	if len(parts) == 0 {
		return ""
	}
	return cleanComment(strings.Join(parts, "\n"))
}

func cleanComment(s string) string {
	s = strings.TrimPrefix(s, "/*")
	s = strings.TrimSuffix(s, "*/")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "//")
		line = strings.TrimPrefix(line, "*")
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// ---- JavaScript / TypeScript ----

func (w *walker) extractJS(root *sitter.Node) {
	for i := 0; i < int(root.NamedChildCount()); i++ {
		node := root.NamedChild(i)
		w.jsTopLevel(node, node)
	}
}

func (w *walker) jsTopLevel(node, outer *sitter.Node) {
	switch node.Type() {
	case "export_statement":
		if decl := node.ChildByFieldName("declaration"); decl != nil {
			w.jsTopLevel(decl, outer)
		} else if value := node.ChildByFieldName("value"); value != nil {
			w.collectMentions(value, "", nil)
		}
	case "class_declaration", "abstract_class_declaration":
		w.jsClass(node, outer)
	case "function_declaration", "generator_function_declaration":
		w.jsFunction(node, outer, "")
	case "lexical_declaration", "variable_declaration":
		w.jsVariables(node, outer)
	case "interface_declaration", "type_alias_declaration", "enum_declaration":
		w.jsTypeDeclaration(node, outer)
	case "import_statement":
		w.jsImport(node)
	case "comment":
	default:
		w.collectMentions(node, "", nil)
	}
}

func (w *walker) jsClass(node, outer *sitter.Node) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	className := w.text(nameNode)

	signature := "class " + className
	for i := 0; i < int(node.NamedChildCount()); i++ {
		if child := node.NamedChild(i); child.Type() == "class_heritage" {
			signature += " " + collapseWhitespace(w.text(child))
			w.collectMentions(child, className, nil)
		}
	}

	w.addDeclaration(Declaration{
		Kind:          entity.KindClass,
		Name:          className,
		QualifiedName: className,
		Signature:     signature,
		Doc:           w.leadingComment(outer),
		StartLine:     startLine(outer),
		EndLine:       endLine(outer),
		StartByte:     int(outer.StartByte()),
		EndByte:       int(outer.EndByte()),
	})

	body := node.ChildByFieldName("body")
	if body == nil {
		return
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		member := body.NamedChild(i)
		switch member.Type() {
		case "method_definition":
			w.jsMethod(member, className)
		case "public_field_definition":
			value := member.ChildByFieldName("value")
			if value != nil && isJSFunctionValue(value.Type()) {
				w.jsFieldMethod(member, value, className)
			} else {
				w.collectMentions(member, className, nil)
			}
		default:
			w.collectMentions(member, className, nil)
		}
	}
}

func (w *walker) jsMethod(node *sitter.Node, className string) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := w.text(nameNode)
	qualified := entity.QualifyMethod(className, name)

	w.addDeclaration(Declaration{
		Kind:          entity.KindMethod,
		Name:          name,
		QualifiedName: qualified,
		ClassName:     className,
		Signature:     w.jsSignature(name, node),
		StartLine:     startLine(node),
		EndLine:       endLine(node),
		StartByte:     int(node.StartByte()),
		EndByte:       int(node.EndByte()),
		Complexity:    w.computeCyclomatic(node),
	})
	w.collectMentions(node, qualified, nameNode)
}

// jsFieldMethod handles class properties holding arrow functions.
func (w *walker) jsFieldMethod(member, value *sitter.Node, className string) {
	nameNode := member.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := w.text(nameNode)
	qualified := entity.QualifyMethod(className, name)

	w.addDeclaration(Declaration{
		Kind:          entity.KindMethod,
		Name:          name,
		QualifiedName: qualified,
		ClassName:     className,
		Signature:     w.jsSignature(name, value),
		StartLine:     startLine(member),
		EndLine:       endLine(member),
		StartByte:     int(member.StartByte()),
		EndByte:       int(member.EndByte()),
		Complexity:    w.computeCyclomatic(value),
	})
	w.collectMentions(member, qualified, nameNode)
}

func (w *walker) jsFunction(node, outer *sitter.Node, className string) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := w.text(nameNode)

	w.addDeclaration(Declaration{
		Kind:          entity.KindFunction,
		Name:          name,
		QualifiedName: name,
		Signature:     w.jsSignature(name, node),
		Doc:           w.leadingComment(outer),
		StartLine:     startLine(outer),
		EndLine:       endLine(outer),
		StartByte:     int(outer.StartByte()),
		EndByte:       int(outer.EndByte()),
		Complexity:    w.computeCyclomatic(node),
	})
	w.collectMentions(node, name, nameNode)
}

// jsVariables picks up top-level consts holding function values.
func (w *walker) jsVariables(node, outer *sitter.Node) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		decl := node.NamedChild(i)
		if decl.Type() != "variable_declarator" {
			w.collectMentions(decl, "", nil)
			continue
		}
		nameNode := decl.ChildByFieldName("name")
		value := decl.ChildByFieldName("value")
		if nameNode == nil || nameNode.Type() != "identifier" || value == nil || !isJSFunctionValue(value.Type()) {
			w.collectMentions(decl, "", nil)
			continue
		}
		name := w.text(nameNode)

		w.addDeclaration(Declaration{
			Kind:          entity.KindFunction,
			Name:          name,
			QualifiedName: name,
			Signature:     w.jsSignature(name, value),
			Doc:           w.leadingComment(outer),
			StartLine:     startLine(outer),
			EndLine:       endLine(outer),
			StartByte:     int(outer.StartByte()),
			EndByte:       int(outer.EndByte()),
			Complexity:    w.computeCyclomatic(value),
		})
		w.collectMentions(value, name, nil)
	}
}

func isJSFunctionValue(t string) bool {
	switch t {
	case "arrow_function", "function_expression", "function", "generator_function":
		return true
	}
	return false
}

// jsTypeDeclaration records TypeScript interfaces, type aliases, and
// enums as class-kind declarations.
func (w *walker) jsTypeDeclaration(node, outer *sitter.Node) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := w.text(nameNode)

	word := "type"
	switch node.Type() {
	case "interface_declaration":
		word = "interface"
	case "enum_declaration":
		word = "enum"
	}

	w.addDeclaration(Declaration{
		Kind:          entity.KindClass,
		Name:          name,
		QualifiedName: name,
		Signature:     word + " " + name,
		Doc:           w.leadingComment(outer),
		StartLine:     startLine(outer),
		EndLine:       endLine(outer),
		StartByte:     int(outer.StartByte()),
		EndByte:       int(outer.EndByte()),
	})
	w.collectMentions(node, name, nameNode)
}

func (w *walker) jsSignature(name string, node *sitter.Node) string {
	sig := name
	if p := node.ChildByFieldName("parameters"); p != nil {
		sig += collapseWhitespace(w.text(p))
	}
	if r := node.ChildByFieldName("return_type"); r != nil {
		sig += collapseWhitespace(w.text(r))
	}
	return sig
}

// jsImport handles default, named, and namespace imports.
func (w *walker) jsImport(node *sitter.Node) {
	sourceNode := node.ChildByFieldName("source")
	if sourceNode == nil {
		return
	}
	w.addImportSpan(node)
	module := strings.Trim(w.text(sourceNode), "\"'`")

	var names []string
	var collectClause func(n *sitter.Node)
	collectClause = func(n *sitter.Node) {
		switch n.Type() {
		case "identifier":
			names = append(names, w.text(n))
		case "namespace_import":
			for i := 0; i < int(n.NamedChildCount()); i++ {
				if id := n.NamedChild(i); id.Type() == "identifier" {
					names = append(names, w.text(id))
				}
			}
		case "import_specifier":
			bound := n.ChildByFieldName("name")
			if alias := n.ChildByFieldName("alias"); alias != nil {
				bound = alias
			}
			if bound != nil {
				names = append(names, w.text(bound))
			}
		default:
			for i := 0; i < int(n.NamedChildCount()); i++ {
				collectClause(n.NamedChild(i))
			}
		}
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		if child := node.NamedChild(i); child.Type() == "import_clause" {
			collectClause(child)
		}
	}

	w.addImport(Import{
		Module: module,
		Names:  names,
		Line:   startLine(node),
		Text:   w.text(node),
	})
}
