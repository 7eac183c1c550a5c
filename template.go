package sqlrun

import (
	"regexp"
	"strings"
)

// placeholderPattern matches ${name} and the escaped form $${name}.
var placeholderPattern = regexp.MustCompile(`\$?\$\{([A-Za-z_][A-Za-z0-9_.]*)\}`)

// ExpandVariables replaces each ${name} in text with vars[name]. $${name} is
// left in the output as the literal ${name}. The first placeholder without a
// value is returned as an *UnresolvedVariableError.
func ExpandVariables(text string, vars map[string]string) (string, error) {
	if !strings.Contains(text, "${") {
		return text, nil
	}

	var unresolved error
	expanded := placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		if strings.HasPrefix(match, "$$") {
			return match[1:]
		}
		name := match[2 : len(match)-1]
		value, ok := vars[name]
		if !ok {
			if unresolved == nil {
				unresolved = &UnresolvedVariableError{Name: name}
			}
			return match
		}
		return value
	})
	if unresolved != nil {
		return "", unresolved
	}
	return expanded, nil
}

// PrepareStatements splits script on opts.Delimiter and expands variables in
// each resulting statement. Placeholders inside comments are dropped with the
// comment and never need a value.
func PrepareStatements(script string, opts RunOptions) ([]string, error) {
	statements := SplitStatements(script, opts.delimiter())
	for i, statement := range statements {
		expanded, err := ExpandVariables(statement, opts.Vars)
		if err != nil {
			return nil, err
		}
		statements[i] = expanded
	}
	return statements, nil
}
