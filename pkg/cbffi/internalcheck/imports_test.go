package internalcheck

import (
	"fmt"
	"go/parser"
	"go/token"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

var (
	cgoAllowed    = map[string]bool{modulePath + "/cmd/libcbffi": true}
	unsafeAllowed = map[string]bool{
		modulePath + "/cmd/libcbffi":        true,
		modulePath + "/pkg/cbffi/buffer.go": true,
	}
)

func TestImportPolicy(t *testing.T) {
	pkgs := load(t, packages.NeedName|packages.NeedFiles, modulePath+"/...")
	fset := token.NewFileSet()

	var findings []string
	for _, pkg := range pkgs {
		// Files excluded by build tags (cgo files under CGO_ENABLED=0) still count.
		files := append(append([]string{}, pkg.GoFiles...), pkg.IgnoredFiles...)
		for _, path := range files {
			if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
				continue
			}
			f, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
			if err != nil {
				t.Fatalf("parse %s: %v", path, err)
			}
			fileKey := pkg.PkgPath + "/" + filepath.Base(path)
			for _, imp := range f.Imports {
				ipath, err := strconv.Unquote(imp.Path.Value)
				if err != nil {
					continue
				}
				switch ipath {
				case "C":
					if !cgoAllowed[pkg.PkgPath] {
						findings = append(findings, fmt.Sprintf("%s: cgo is only allowed in cmd/libcbffi", fset.Position(imp.Pos())))
					}
				case "unsafe":
					if !unsafeAllowed[pkg.PkgPath] && !unsafeAllowed[fileKey] {
						findings = append(findings, fmt.Sprintf("%s: unsafe is only allowed in the buffer descriptor and cmd/libcbffi", fset.Position(imp.Pos())))
					}
				}
			}
		}
	}

	if len(findings) > 0 {
		t.Fatalf("import policy violation:\n%s", strings.Join(findings, "\n"))
	}
}
