package extract

import (
	"bytes"
	"errors"
	"go/ast"
	"go/parser"
	"go/token"
	"path"
	"strings"

	"github.com/semdex/semdex/pkg/types"
)

// Window defaults for non-Go files. The overlap keeps a match near a
// window boundary visible in both neighbors.
const (
	DefaultBlockLines   = 100
	DefaultBlockOverlap = 20

	binarySniffLen = 8000
)

// ErrBinaryFile marks content that is not text and cannot be indexed.
var ErrBinaryFile = errors.New("binary file content")

// Extractor converts file content into units. The zero value is not
// usable; construct with New.
type Extractor struct {
	blockLines   int
	blockOverlap int
}

// New returns an extractor with the default block window.
func New() *Extractor {
	return NewWithWindow(DefaultBlockLines, DefaultBlockOverlap)
}

// NewWithWindow returns an extractor using the given line window and
// overlap for non-Go files. Out-of-range values fall back to defaults.
func NewWithWindow(lines, overlap int) *Extractor {
	if lines <= 0 {
		lines = DefaultBlockLines
	}
	if overlap < 0 || overlap >= lines {
		overlap = DefaultBlockOverlap
		if overlap >= lines {
			overlap = lines / 2
		}
	}
	return &Extractor{blockLines: lines, blockOverlap: overlap}
}

// IsBinary reports whether content looks like binary data. A NUL byte in
// the leading window is the classic heuristic and good enough here.
func IsBinary(content []byte) bool {
	sniff := content
	if len(sniff) > binarySniffLen {
		sniff = sniff[:binarySniffLen]
	}
	return bytes.IndexByte(sniff, 0) >= 0
}

// Units extracts the indexable units of one file. relPath is recorded on
// each unit and keys its stable identity. Binary content returns
// ErrBinaryFile; blank content returns no units.
func (e *Extractor) Units(relPath string, content []byte) ([]types.Unit, error) {
	if IsBinary(content) {
		return nil, ErrBinaryFile
	}
	if len(bytes.TrimSpace(content)) == 0 {
		return nil, nil
	}

	if path.Ext(relPath) == ".go" {
		if units := goUnits(relPath, content); len(units) > 0 {
			return units, nil
		}
		// Syntax errors or declaration-free files fall through to windows.
	}
	return e.blockUnits(relPath, string(content)), nil
}

// goUnits parses Go source and returns one unit per top-level
// declaration. A file the parser rejects outright yields nil.
func goUnits(relPath string, content []byte) []types.Unit {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, relPath, content, parser.ParseComments)
	if file == nil || err != nil {
		return nil
	}

	lines := splitLines(string(content))
	var units []types.Unit
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			units = append(units, funcUnit(fset, d, relPath, lines))
		case *ast.GenDecl:
			if d.Tok != token.TYPE {
				continue
			}
			for _, spec := range d.Specs {
				ts, ok := spec.(*ast.TypeSpec)
				if !ok {
					continue
				}
				units = append(units, typeUnit(fset, d, ts, relPath, lines))
			}
		}
	}
	return units
}

func funcUnit(fset *token.FileSet, d *ast.FuncDecl, relPath string, lines []string) types.Unit {
	kind := types.UnitFunction
	name := d.Name.Name
	if d.Recv != nil && len(d.Recv.List) > 0 {
		kind = types.UnitMethod
		if recv := receiverName(d.Recv.List[0].Type); recv != "" {
			name = recv + "." + name
		}
	}

	start := d.Pos()
	if d.Doc != nil {
		start = d.Doc.Pos()
	}
	return newUnit(relPath, kind, name, fset.Position(start).Line, fset.Position(d.End()).Line, lines)
}

func typeUnit(fset *token.FileSet, d *ast.GenDecl, ts *ast.TypeSpec, relPath string, lines []string) types.Unit {
	start := d.Pos()
	if d.Doc != nil {
		start = d.Doc.Pos()
	}
	// Grouped type blocks attach the group's position to every
	// TypeSpec; prefer the individual doc when one exists.
	if len(d.Specs) > 1 {
		start = ts.Pos()
		if ts.Doc != nil {
			start = ts.Doc.Pos()
		}
	}
	return newUnit(relPath, types.UnitType, ts.Name.Name, fset.Position(start).Line, fset.Position(ts.End()).Line, lines)
}

func newUnit(relPath string, kind types.UnitKind, name string, startLine, endLine int, lines []string) types.Unit {
	if startLine < 1 {
		startLine = 1
	}
	if endLine > len(lines) {
		endLine = len(lines)
	}
	return types.Unit{
		StableID:  types.StableUnitID(relPath, kind, name),
		Path:      relPath,
		Kind:      kind,
		Name:      name,
		StartLine: startLine,
		EndLine:   endLine,
		Body:      strings.Join(lines[startLine-1:endLine], "\n"),
	}
}

func receiverName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return receiverName(t.X)
	case *ast.Ident:
		return t.Name
	case *ast.IndexExpr: // generic receiver
		return receiverName(t.X)
	case *ast.IndexListExpr:
		return receiverName(t.X)
	}
	return ""
}

// blockUnits slices the file into overlapping line windows. Window
// identity comes from the window's content, so re-indexing after an
// edit keeps the embeddings of windows whose text did not change.
func (e *Extractor) blockUnits(relPath, content string) []types.Unit {
	lines := splitLines(content)
	if len(lines) == 0 {
		return nil
	}

	step := e.blockLines - e.blockOverlap
	seen := make(map[string]int)
	var units []types.Unit
	for start := 0; start < len(lines); start += step {
		end := start + e.blockLines
		if end > len(lines) {
			end = len(lines)
		}
		body := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(body) != "" {
			ordinal := seen[body]
			seen[body] = ordinal + 1
			units = append(units, types.Unit{
				StableID:  types.BlockStableID(relPath, body, ordinal),
				Path:      relPath,
				Kind:      types.UnitBlock,
				StartLine: start + 1,
				EndLine:   end,
				Body:      body,
			})
		}
		if end == len(lines) {
			break
		}
	}
	return units
}

func splitLines(text string) []string {
	text = strings.TrimSuffix(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}
