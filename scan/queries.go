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

// Package scan extracts module edges from TypeScript and HTML sources
// with tree-sitter.
package scan

import (
	"embed"
	"fmt"
	"path"
	"strings"
	"sync"

	ts "github.com/tree-sitter/go-tree-sitter"
	tsHtml "github.com/tree-sitter/tree-sitter-html/bindings/go"
	tsTypescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

//go:embed queries/*/*.scm
var queryFiles embed.FS

// Languages holds pre-initialized tree-sitter language grammars.
var languages = struct {
	html       *ts.Language
	typescript *ts.Language
	tsx        *ts.Language
}{
	ts.NewLanguage(tsHtml.Language()),
	ts.NewLanguage(tsTypescript.LanguageTypescript()),
	ts.NewLanguage(tsTypescript.LanguageTSX()),
}

func newPool(lang *ts.Language, name string) *sync.Pool {
	return &sync.Pool{
		New: func() any {
			parser := ts.NewParser()
			if err := parser.SetLanguage(lang); err != nil {
				panic("failed to set " + name + " language: " + err.Error())
			}
			return parser
		},
	}
}

// Parser pools for reuse.
var (
	htmlParserPool = newPool(languages.html, "HTML")
	tsParserPool   = newPool(languages.typescript, "TypeScript")
	tsxParserPool  = newPool(languages.tsx, "TSX")
)

func getParser(pool *sync.Pool) *ts.Parser {
	return pool.Get().(*ts.Parser)
}

func putParser(pool *sync.Pool, p *ts.Parser) {
	p.Reset()
	pool.Put(p)
}

// dialect picks the grammar for a file name. JSX-bearing extensions use TSX.
func dialect(filename string) string {
	switch strings.ToLower(path.Ext(filename)) {
	case ".tsx", ".jsx":
		return "tsx"
	}
	return "typescript"
}

// QueryManager manages tree-sitter queries for HTML and TypeScript parsing.
type QueryManager struct {
	mu      sync.Mutex
	closed  bool
	queries map[string]map[string]*ts.Query
}

// NewQueryManager creates a new QueryManager with the specified queries
// loaded. TypeScript queries are compiled for both the TS and TSX grammars.
func NewQueryManager(htmlQueries, tsQueries []string) (*QueryManager, error) {
	qm := &QueryManager{
		queries: map[string]map[string]*ts.Query{
			"html":       {},
			"typescript": {},
			"tsx":        {},
		},
	}

	for _, name := range htmlQueries {
		if err := qm.loadQuery("html", "html", name); err != nil {
			qm.Close()
			return nil, err
		}
	}

	for _, name := range tsQueries {
		for _, lang := range []string{"typescript", "tsx"} {
			if err := qm.loadQuery("typescript", lang, name); err != nil {
				qm.Close()
				return nil, err
			}
		}
	}

	return qm, nil
}

func (qm *QueryManager) loadQuery(dir, language, name string) error {
	queryPath := path.Join("queries", dir, name+".scm")
	data, err := queryFiles.ReadFile(queryPath)
	if err != nil {
		return fmt.Errorf("failed to read query %s: %w", queryPath, err)
	}

	var lang *ts.Language
	switch language {
	case "html":
		lang = languages.html
	case "typescript":
		lang = languages.typescript
	case "tsx":
		lang = languages.tsx
	default:
		return fmt.Errorf("unknown language: %s", language)
	}

	query, qerr := ts.NewQuery(lang, string(data))
	if qerr != nil {
		return fmt.Errorf("failed to parse query %s for %s: %w", name, language, qerr)
	}

	qm.queries[language][name] = query
	return nil
}

// Close releases all query resources. Safe to call multiple times.
func (qm *QueryManager) Close() {
	qm.mu.Lock()
	if qm.closed {
		qm.mu.Unlock()
		return
	}
	qm.closed = true
	all := qm.queries
	qm.queries = nil
	qm.mu.Unlock()

	for _, byName := range all {
		for _, q := range byName {
			q.Close()
		}
	}
}

// Query returns a query by language and name.
func (qm *QueryManager) Query(language, name string) (*ts.Query, error) {
	q, ok := qm.queries[language][name]
	if !ok {
		return nil, fmt.Errorf("query not found: %s/%s", language, name)
	}
	return q, nil
}

// Global query manager singleton
var (
	globalQM     *QueryManager
	globalQMOnce sync.Once
	globalQMErr  error
)

// GetQueryManager returns the global query manager instance.
func GetQueryManager() (*QueryManager, error) {
	globalQMOnce.Do(func() {
		globalQM, globalQMErr = NewQueryManager(
			[]string{"scriptTags"},
			[]string{"imports"},
		)
	})
	return globalQM, globalQMErr
}
