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
	"strings"

	ts "github.com/tree-sitter/go-tree-sitter"
)

// ScriptTag represents a <script> tag found in HTML.
type ScriptTag struct {
	Type    string   // The type attribute (e.g., "module")
	Src     string   // The src attribute (external script)
	Inline  bool     // True if script has inline content
	Content string   // The inline script content
	Imports []string // Import specifiers found in inline content
}

// ExtractScripts parses HTML content and extracts all script tags.
func ExtractScripts(content []byte) ([]ScriptTag, error) {
	qm, err := GetQueryManager()
	if err != nil {
		return nil, err
	}

	parser := getParser(htmlParserPool)
	defer putParser(htmlParserPool, parser)

	tree := parser.Parse(content, nil)
	defer tree.Close()

	query, err := qm.Query("html", "scriptTags")
	if err != nil {
		return nil, err
	}

	cursor := ts.NewQueryCursor()
	defer cursor.Close()

	var scripts []ScriptTag
	seen := make(map[uint]bool)
	matches := cursor.Matches(query, tree.RootNode(), content)
	captureNames := query.CaptureNames()

	for {
		match := matches.Next()
		if match == nil {
			break
		}

		script := ScriptTag{}
		var currentAttrName string
		duplicate := false

		for _, capture := range match.Captures {
			name := captureNames[capture.Index]
			text := capture.Node.Utf8Text(content)

			switch name {
			case "script":
				start := capture.Node.StartByte()
				if seen[start] {
					duplicate = true
				}
				seen[start] = true
			case "attr.name":
				currentAttrName = text
			case "attr.value":
				switch currentAttrName {
				case "type":
					script.Type = text
				case "src":
					script.Src = text
				}
			case "content":
				rawContent := strings.TrimSpace(text)
				if rawContent != "" && script.Src == "" {
					script.Content = rawContent
					script.Inline = true
				}
			}
		}
		if duplicate {
			continue
		}

		// Inline imports are best effort; syntax errors are reported when the
		// script is compiled, not here.
		if script.Inline && script.Content != "" {
			if unit, err := Scan("inline.ts", []byte(script.Content)); err == nil {
				for _, edge := range unit.Edges {
					// Classic scripts can only load modules dynamically
					if script.Type == "module" || edge.Kind == EdgeDynamic {
						script.Imports = append(script.Imports, edge.Specifier)
					}
				}
			}
		}

		scripts = append(scripts, script)
	}

	return scripts, nil
}

// ModuleEntries returns the src of every external module script, in
// document order. These are the bundle entry points of a client page.
func ModuleEntries(content []byte) ([]string, error) {
	scripts, err := ExtractScripts(content)
	if err != nil {
		return nil, err
	}
	var entries []string
	for _, s := range scripts {
		if s.Type == "module" && s.Src != "" {
			entries = append(entries, s.Src)
		}
	}
	return entries, nil
}
