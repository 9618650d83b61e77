package migrator

import (
	"bufio"
	"bytes"
	"fmt"
	"io/fs"
	"regexp"
	"strconv"
	"strings"
)

// Migration is one versioned schema change
type Migration struct {
	Version       int
	Name          string
	UpSQL         string
	NoTransaction bool
	Dependencies  []int
}

const (
	directivePrefix = "+migrate"
	noTransaction   = "notransaction"
	dependsKey      = "Depends:"
)

var filenamePattern = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_-]+)\.sql$`)

// ParseMigration reads a migration named NNN_name.sql. The body must open
// with "-- +migrate Up", optionally followed by "-- +migrate Depends: NNN..."
// lines; the first line that is neither blank nor a comment starts the SQL.
func ParseMigration(filename string, content []byte) (*Migration, error) {
	parts := filenamePattern.FindStringSubmatch(filename)
	if parts == nil {
		return nil, fmt.Errorf("invalid migration filename format: %s (expected NNN_name.sql)", filename)
	}

	version, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid version number in filename: %s", parts[1])
	}
	m := &Migration{Version: version, Name: parts[2]}

	var (
		body     []string
		opened   bool
		inHeader = true
	)

	sc := bufio.NewScanner(bytes.NewReader(content))
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for sc.Scan() {
		line := sc.Text()

		if !opened {
			if args, ok := directive(line); ok {
				if noTx, ok := upArgs(args); ok {
					opened, m.NoTransaction = true, noTx
				}
			}
			continue
		}

		if inHeader {
			trimmed := strings.TrimSpace(line)
			if args, ok := directive(trimmed); ok {
				if list, ok := strings.CutPrefix(args, dependsKey); ok {
					deps, err := parseDepends(list)
					if err != nil {
						return nil, fmt.Errorf("%w in migration file: %s", err, filename)
					}
					m.Dependencies = append(m.Dependencies, deps...)
				}
				continue
			}
			if trimmed == "" || strings.HasPrefix(trimmed, "--") {
				continue
			}
			inHeader = false
		}

		body = append(body, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan migration file %s: %w", filename, err)
	}

	if !opened {
		return nil, fmt.Errorf("missing '-- +migrate Up' marker in migration file: %s", filename)
	}

	m.UpSQL = strings.TrimSpace(strings.Join(body, "\n"))
	if m.UpSQL == "" {
		return nil, fmt.Errorf("migration file contains no SQL statements: %s", filename)
	}
	return m, nil
}

// directive returns what follows "-- +migrate" on a line
func directive(line string) (string, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(line), "--")
	if !ok {
		return "", false
	}
	rest, ok = strings.CutPrefix(strings.TrimSpace(rest), directivePrefix)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

func upArgs(args string) (noTx bool, ok bool) {
	fields := strings.Fields(args)
	switch {
	case len(fields) == 1 && fields[0] == "Up":
		return false, true
	case len(fields) == 2 && fields[0] == "Up" && fields[1] == noTransaction:
		return true, true
	default:
		return false, false
	}
}

func parseDepends(list string) ([]int, error) {
	fields := strings.Fields(list)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty dependency list")
	}

	deps := make([]int, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("invalid dependency version '%s'", f)
		}
		deps = append(deps, v)
	}
	return deps, nil
}

// LoadMigrations parses every NNN_name.sql file at the root of fsys and
// returns them in version order. Versions must run 1..n without gaps and
// every dependency must name a loaded version without forming a cycle.
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	// Glob returns names in lexical order, which is version order for a
	// fixed-width prefix.
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrations []Migration
	for _, name := range names {
		if !filenamePattern.MatchString(name) {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file: %w", err)
		}

		m, err := ParseMigration(name, content)
		if err != nil {
			return nil, err
		}
		migrations = append(migrations, *m)
	}

	if err := checkSequence(migrations); err != nil {
		return nil, err
	}
	if err := checkDependencies(migrations); err != nil {
		return nil, err
	}
	return migrations, nil
}

func checkSequence(migrations []Migration) error {
	for i, m := range migrations {
		want := i + 1
		switch {
		case m.Version < want:
			return fmt.Errorf("duplicate migration version: %d", m.Version)
		case m.Version > want:
			return fmt.Errorf("gap in migration versions: expected %d, found %d", want, m.Version)
		}
	}
	return nil
}

// checkDependencies resolves the dependency graph by repeatedly releasing
// versions whose dependencies are all resolved. Anything left over sits on
// a cycle or behind one.
func checkDependencies(migrations []Migration) error {
	known := make(map[int]bool, len(migrations))
	for _, m := range migrations {
		known[m.Version] = true
	}

	waiting := make(map[int]int, len(migrations))
	dependents := make(map[int][]int)
	for _, m := range migrations {
		for _, dep := range m.Dependencies {
			if !known[dep] {
				return fmt.Errorf("migration %d depends on non-existent version %d", m.Version, dep)
			}
			waiting[m.Version]++
			dependents[dep] = append(dependents[dep], m.Version)
		}
	}

	var ready []int
	for _, m := range migrations {
		if waiting[m.Version] == 0 {
			ready = append(ready, m.Version)
		}
	}

	resolved := 0
	for len(ready) > 0 {
		v := ready[0]
		ready = ready[1:]
		resolved++
		for _, d := range dependents[v] {
			waiting[d]--
			if waiting[d] == 0 {
				ready = append(ready, d)
			}
		}
	}
	if resolved == len(migrations) {
		return nil
	}

	var stuck []int
	for _, m := range migrations {
		if waiting[m.Version] > 0 {
			stuck = append(stuck, m.Version)
		}
	}
	return fmt.Errorf("circular dependency detected among versions %v", stuck)
}
