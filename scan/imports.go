/*
Copyright © 2026 Benny Powers <web@bennypowers.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/
package scan

import (
	"fmt"
	"strings"

	ts "github.com/tree-sitter/go-tree-sitter"
)

// EdgeKind classifies how a module refers to another file.
type EdgeKind int

const (
	// EdgeImport is `import ... from "x"`.
	EdgeImport EdgeKind = iota
	// EdgeSideEffect is `import "x"`.
	EdgeSideEffect
	// EdgeReexport is `export { a as b } from "x"`.
	EdgeReexport
	// EdgeReexportAll is `export * from "x"` or `export * as ns from "x"`.
	EdgeReexportAll
	// EdgeDynamic is `import("x")`.
	EdgeDynamic
	// EdgeResource is `new URL("x", import.meta.url)`.
	EdgeResource
)

func (k EdgeKind) String() string {
	switch k {
	case EdgeImport:
		return "import"
	case EdgeSideEffect:
		return "side-effect"
	case EdgeReexport:
		return "reexport"
	case EdgeReexportAll:
		return "reexport-all"
	case EdgeDynamic:
		return "dynamic"
	case EdgeResource:
		return "resource"
	}
	return "unknown"
}

// Binding pairs a name in the target module with a name in this module.
// For imports Imported is the target's export and Local the local alias;
// for re-exports Local is the name exported from this module.
type Binding struct {
	Imported string
	Local    string
}

// Edge is one reference from a module to a specifier.
type Edge struct {
	Specifier string
	Kind      EdgeKind
	// Bindings is empty when the whole module is referenced: namespace
	// imports, side-effect imports, export-all, dynamic and resource edges.
	Bindings []Binding
	TypeOnly bool
	Line     int
}

// WholeModule reports whether the edge depends on every export of its target.
func (e Edge) WholeModule() bool {
	return len(e.Bindings) == 0
}

// SyntaxError is a parse error located in a source file.
type SyntaxError struct {
	Line    int
	Char    int
	Message string
}

// Unit is the scanned shape of one module.
type Unit struct {
	Edges []Edge
	// Exports are the names this module declares and exports itself.
	// Re-exported names are described by EdgeReexport bindings instead.
	Exports []string
	Errors  []SyntaxError
}

const maxSyntaxErrors = 20

// Scan parses TypeScript or JavaScript content and extracts its module edges
// and locally declared exports. filename selects the TS or TSX grammar.
func Scan(filename string, content []byte) (*Unit, error) {
	qm, err := GetQueryManager()
	if err != nil {
		return nil, err
	}

	lang := dialect(filename)
	pool := tsParserPool
	if lang == "tsx" {
		pool = tsxParserPool
	}
	parser := getParser(pool)
	defer putParser(pool, parser)

	tree := parser.Parse(content, nil)
	if tree == nil {
		return nil, fmt.Errorf("failed to parse %s", filename)
	}
	defer tree.Close()

	query, err := qm.Query(lang, "imports")
	if err != nil {
		return nil, err
	}

	cursor := ts.NewQueryCursor()
	defer cursor.Close()

	unit := &Unit{}
	root := tree.RootNode()
	matches := cursor.Matches(query, root, content)
	captureNames := query.CaptureNames()

	for {
		match := matches.Next()
		if match == nil {
			break
		}

		for _, capture := range match.Captures {
			name := captureNames[capture.Index]
			line := int(capture.Node.StartPosition().Row) + 1 // 1-indexed

			switch name {
			case "import":
				if edge, ok := importEdge(&capture.Node, content); ok {
					edge.Line = line
					unit.Edges = append(unit.Edges, edge)
				}
			case "export":
				edge, exports, ok := exportStatement(&capture.Node, content)
				if ok {
					edge.Line = line
					unit.Edges = append(unit.Edges, edge)
				}
				unit.Exports = append(unit.Exports, exports...)
			case "dynamicImport.spec":
				unit.Edges = append(unit.Edges, Edge{
					Specifier: capture.Node.Utf8Text(content),
					Kind:      EdgeDynamic,
					Line:      line,
				})
			case "resource.spec":
				unit.Edges = append(unit.Edges, Edge{
					Specifier: capture.Node.Utf8Text(content),
					Kind:      EdgeResource,
					Line:      line,
				})
			}
		}
	}

	if root.HasError() {
		collectSyntaxErrors(root, content, &unit.Errors)
	}

	return unit, nil
}

// importEdge decodes an import_statement node.
func importEdge(node *ts.Node, content []byte) (Edge, bool) {
	source := node.ChildByFieldName("source")
	if source == nil {
		return Edge{}, false
	}
	edge := Edge{
		Specifier: stringValue(source, content),
		TypeOnly:  hasKeyword(node, content, "type"),
	}

	var clause *ts.Node
	for i := uint(0); i < node.NamedChildCount(); i++ {
		child := node.NamedChild(i)
		if child.Kind() == "import_clause" {
			clause = child
			break
		}
	}
	if clause == nil {
		edge.Kind = EdgeSideEffect
		return edge, true
	}

	edge.Kind = EdgeImport
	namespace := false
	for i := uint(0); i < clause.NamedChildCount(); i++ {
		child := clause.NamedChild(i)
		switch child.Kind() {
		case "identifier":
			edge.Bindings = append(edge.Bindings, Binding{Imported: "default", Local: child.Utf8Text(content)})
		case "namespace_import":
			namespace = true
		case "named_imports":
			for j := uint(0); j < child.NamedChildCount(); j++ {
				spec := child.NamedChild(j)
				if spec.Kind() != "import_specifier" {
					continue
				}
				edge.Bindings = append(edge.Bindings, specifierBinding(spec, content))
			}
		}
	}
	if namespace {
		edge.Bindings = nil
	} else if len(edge.Bindings) == 0 {
		// `import {} from "x"` still evaluates the module
		edge.Kind = EdgeSideEffect
	}
	return edge, true
}

// exportStatement decodes an export_statement node. It returns the
// re-export edge when the statement has a source, and the locally declared
// names it exports otherwise.
func exportStatement(node *ts.Node, content []byte) (Edge, []string, bool) {
	if source := node.ChildByFieldName("source"); source != nil {
		edge := Edge{
			Specifier: stringValue(source, content),
			TypeOnly:  hasKeyword(node, content, "type"),
		}
		var clause *ts.Node
		for i := uint(0); i < node.NamedChildCount(); i++ {
			child := node.NamedChild(i)
			if child.Kind() == "export_clause" {
				clause = child
				break
			}
		}
		if clause == nil {
			edge.Kind = EdgeReexportAll
			if ns := namespaceExport(node, content); ns != "" {
				return edge, []string{ns}, true
			}
			return edge, nil, true
		}
		edge.Kind = EdgeReexport
		for i := uint(0); i < clause.NamedChildCount(); i++ {
			spec := clause.NamedChild(i)
			if spec.Kind() != "export_specifier" {
				continue
			}
			edge.Bindings = append(edge.Bindings, specifierBinding(spec, content))
		}
		return edge, nil, true
	}

	if hasKeyword(node, content, "default") {
		return Edge{}, []string{"default"}, false
	}

	if decl := node.ChildByFieldName("declaration"); decl != nil {
		return Edge{}, declarationNames(decl, content), false
	}

	var names []string
	for i := uint(0); i < node.NamedChildCount(); i++ {
		child := node.NamedChild(i)
		if child.Kind() != "export_clause" {
			continue
		}
		for j := uint(0); j < child.NamedChildCount(); j++ {
			spec := child.NamedChild(j)
			if spec.Kind() != "export_specifier" {
				continue
			}
			names = append(names, specifierBinding(spec, content).Local)
		}
	}
	return Edge{}, names, false
}

func namespaceExport(node *ts.Node, content []byte) string {
	for i := uint(0); i < node.NamedChildCount(); i++ {
		child := node.NamedChild(i)
		if child.Kind() == "namespace_export" {
			for j := uint(0); j < child.NamedChildCount(); j++ {
				id := child.NamedChild(j)
				if id.Kind() == "identifier" || id.Kind() == "string" {
					return strings.Trim(id.Utf8Text(content), `"'`)
				}
			}
		}
	}
	return ""
}

// specifierBinding reads an import_specifier or export_specifier.
func specifierBinding(spec *ts.Node, content []byte) Binding {
	name := spec.ChildByFieldName("name")
	alias := spec.ChildByFieldName("alias")
	b := Binding{}
	if name != nil {
		b.Imported = strings.Trim(name.Utf8Text(content), `"'`)
	}
	b.Local = b.Imported
	if alias != nil {
		b.Local = strings.Trim(alias.Utf8Text(content), `"'`)
	}
	return b
}

func declarationNames(decl *ts.Node, content []byte) []string {
	switch decl.Kind() {
	case "lexical_declaration", "variable_declaration":
		var names []string
		for i := uint(0); i < decl.NamedChildCount(); i++ {
			d := decl.NamedChild(i)
			if d.Kind() != "variable_declarator" {
				continue
			}
			if name := d.ChildByFieldName("name"); name != nil && name.Kind() == "identifier" {
				names = append(names, name.Utf8Text(content))
			}
		}
		return names
	default:
		if name := decl.ChildByFieldName("name"); name != nil {
			return []string{name.Utf8Text(content)}
		}
	}
	return nil
}

// hasKeyword reports whether node has an anonymous child token equal to kw.
func hasKeyword(node *ts.Node, content []byte, kw string) bool {
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if !child.IsNamed() && child.Utf8Text(content) == kw {
			return true
		}
	}
	return false
}

func stringValue(node *ts.Node, content []byte) string {
	return strings.Trim(node.Utf8Text(content), "\"'`")
}

func collectSyntaxErrors(node *ts.Node, content []byte, out *[]SyntaxError) {
	if len(*out) >= maxSyntaxErrors {
		return
	}
	pos := node.StartPosition()
	switch {
	case node.IsMissing():
		*out = append(*out, SyntaxError{
			Line:    int(pos.Row) + 1,
			Char:    int(pos.Column) + 1,
			Message: fmt.Sprintf("'%s' expected.", node.Kind()),
		})
		return
	case node.IsError():
		text := node.Utf8Text(content)
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			text = text[:i]
		}
		*out = append(*out, SyntaxError{
			Line:    int(pos.Row) + 1,
			Char:    int(pos.Column) + 1,
			Message: fmt.Sprintf("Unexpected syntax near %q.", strings.TrimSpace(text)),
		})
		return
	}
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child.HasError() || child.IsMissing() {
			collectSyntaxErrors(child, content, out)
		}
	}
}
