package alerts

import (
	"go/parser"
	"go/token"
	"strings"

	"github.com/ethereum-optimism/infra/op-sanity/types"
)

const (
	descriptionTag = "Description:"
	runbookTag     = "Runbook:"
)

// ParseMetadata reads the Description and Runbook of a test file from the
// comments preceding its package clause:
//
//	// Description: Checks that users can log in.
//	// Runbook: https://runbooks.example.com/login
//	package login
//
// Sources that cannot be parsed yield empty metadata.
func ParseMetadata(source string) types.TestMetadata {
	var md types.TestMetadata
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "", source, parser.PackageClauseOnly|parser.ParseComments)
	if err != nil {
		return md
	}
	for _, group := range f.Comments {
		if group.Pos() >= f.Package {
			break
		}
		for _, line := range strings.Split(group.Text(), "\n") {
			line = strings.TrimSpace(line)
			switch {
			case md.Description == "" && strings.HasPrefix(line, descriptionTag):
				md.Description = strings.TrimSpace(strings.TrimPrefix(line, descriptionTag))
			case md.Runbook == "" && strings.HasPrefix(line, runbookTag):
				md.Runbook = strings.TrimSpace(strings.TrimPrefix(line, runbookTag))
			}
		}
	}
	return md
}
