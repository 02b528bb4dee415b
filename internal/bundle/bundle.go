// Package bundle is the default incremental-build tool. It merges the Go
// files of one package directory into a single self-contained artifact that
// the loader can evaluate, and keeps doing so while the sources change.
package bundle

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/format"
	"go/parser"
	"go/printer"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ArtifactPackage is the package clause every artifact carries.
const ArtifactPackage = "main"

// Sources lists the Go files that make up the package in dir, sorted by name.
// Tests and files starting with "." or "_" are skipped.
func Sources(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("bundle: read %s: %w", dir, err)
	}
	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".go" {
			continue
		}
		if strings.HasSuffix(name, "_test.go") || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("bundle: no Go files in %s", dir)
	}
	return files, nil
}

// Bundle merges the package in dir into one formatted source file. Imports
// are deduplicated, the package clause becomes "main" and any main function
// is dropped so evaluating the artifact only runs its init functions. A
// syntax error in any file fails the whole bundle.
func Bundle(dir string) ([]byte, error) {
	files, err := Sources(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	var (
		pkgName string
		imports = newImportSet()
		decls   []ast.Decl
	)
	for _, path := range files {
		file, err := parser.ParseFile(fset, path, nil, parser.SkipObjectResolution)
		if err != nil {
			return nil, fmt.Errorf("bundle: parse: %w", err)
		}
		if pkgName == "" {
			pkgName = file.Name.Name
		} else if file.Name.Name != pkgName {
			return nil, fmt.Errorf("bundle: %s: package %s, expected %s", filepath.Base(path), file.Name.Name, pkgName)
		}
		for _, spec := range file.Imports {
			if err := imports.add(spec); err != nil {
				return nil, fmt.Errorf("bundle: %s: %w", filepath.Base(path), err)
			}
		}
		for _, decl := range file.Decls {
			if gen, ok := decl.(*ast.GenDecl); ok && gen.Tok == token.IMPORT {
				continue
			}
			if fn, ok := decl.(*ast.FuncDecl); ok && fn.Recv == nil && fn.Name.Name == "main" {
				continue
			}
			decls = append(decls, decl)
		}
	}

	var buf bytes.Buffer
	buf.WriteString("// Code generated by relive bundle. DO NOT EDIT.\n\n")
	fmt.Fprintf(&buf, "package %s\n", ArtifactPackage)
	if specs := imports.specs(); len(specs) > 0 {
		buf.WriteString("\nimport (\n")
		for _, spec := range specs {
			buf.WriteString("\t" + spec + "\n")
		}
		buf.WriteString(")\n")
	}
	for _, decl := range decls {
		buf.WriteString("\n")
		if err := printer.Fprint(&buf, fset, decl); err != nil {
			return nil, fmt.Errorf("bundle: print: %w", err)
		}
		buf.WriteString("\n")
	}
	out, err := format.Source(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("bundle: merged output does not parse: %w", err)
	}
	return out, nil
}

type importSet struct {
	lines   map[string]string
	byAlias map[string]string
	order   []string
}

func newImportSet() *importSet {
	return &importSet{lines: map[string]string{}, byAlias: map[string]string{}}
}

func (s *importSet) add(spec *ast.ImportSpec) error {
	path, err := strconv.Unquote(spec.Path.Value)
	if err != nil {
		return fmt.Errorf("import %s: %w", spec.Path.Value, err)
	}
	alias := ""
	if spec.Name != nil {
		alias = spec.Name.Name
	}
	key := alias + " " + path
	if _, ok := s.lines[key]; ok {
		return nil
	}
	if alias != "" && alias != "_" && alias != "." {
		if other, ok := s.byAlias[alias]; ok && other != path {
			return fmt.Errorf("import name %s refers to both %s and %s", alias, other, path)
		}
		s.byAlias[alias] = path
	}
	line := strconv.Quote(path)
	if alias != "" {
		line = alias + " " + line
	}
	s.lines[key] = line
	s.order = append(s.order, key)
	return nil
}

// specs returns one import line per distinct import, ordered by path.
func (s *importSet) specs() []string {
	keys := append([]string(nil), s.order...)
	sort.SliceStable(keys, func(i, j int) bool {
		return keys[i][strings.IndexByte(keys[i], ' ')+1:] < keys[j][strings.IndexByte(keys[j], ' ')+1:]
	})
	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		lines = append(lines, s.lines[key])
	}
	return lines
}
