// Package migrations embeds the schema files applied by the migrate command.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed *.sql clickhouse/*.sql
var files embed.FS

// MySQL returns the MySQL statements in file order.
func MySQL() ([]string, error) { return load(".") }

// ClickHouse returns the reporting schema statements in file order.
func ClickHouse() ([]string, error) { return load("clickhouse") }

func load(dir string) ([]string, error) {
	pattern := "*.sql"
	if dir != "." {
		pattern = dir + "/" + pattern
	}
	names, err := fs.Glob(files, pattern)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	var stmts []string
	for _, name := range names {
		b, err := files.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		stmts = append(stmts, Split(string(b))...)
	}
	return stmts, nil
}

// Split breaks a script into statements on semicolons at line ends and drops
// comment-only lines. Statements must not contain ";\n" inside literals.
func Split(script string) []string {
	var (
		out []string
		cur strings.Builder
	)
	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		cur.WriteString(line)
		cur.WriteString("\n")
		if strings.HasSuffix(trimmed, ";") {
			stmt := strings.TrimSuffix(strings.TrimSpace(cur.String()), ";")
			out = append(out, stmt)
			cur.Reset()
		}
	}
	if rest := strings.TrimSpace(cur.String()); rest != "" {
		out = append(out, rest)
	}
	return out
}
