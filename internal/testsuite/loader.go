package testsuite

import (
	"embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const suiteFile = "suite.yaml"

//go:embed all:testdata
var embeddedSuites embed.FS

// Load loads a test suite by name. A path to a YAML file is loaded directly;
// otherwise the external directory (if provided) is searched first, then the
// embedded suites.
func Load(name string, externalDir string) (*TestSuite, error) {
	if ext := filepath.Ext(name); ext == ".yaml" || ext == ".yml" {
		if info, err := os.Stat(name); err == nil && !info.IsDir() {
			return loadFromFS(os.DirFS(filepath.Dir(name)), filepath.Base(name), name)
		}
	}

	if externalDir != "" {
		dir := filepath.Join(externalDir, name)
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return loadFromFS(os.DirFS(dir), suiteFile, name)
		}
	}

	// embed.FS always uses forward slashes.
	subFS, err := fs.Sub(embeddedSuites, path.Join("testdata", name))
	if err != nil {
		return nil, fmt.Errorf("test suite %q not found: %w", name, err)
	}
	return loadFromFS(subFS, suiteFile, name)
}

// List returns the names of all available test suites.
func List(externalDir string) ([]string, error) {
	seen := make(map[string]bool)
	var names []string

	entries, err := fs.ReadDir(embeddedSuites, "testdata")
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				seen[e.Name()] = true
				names = append(names, e.Name())
			}
		}
	}

	if externalDir != "" {
		entries, err := os.ReadDir(externalDir)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read suites directory: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() && !seen[e.Name()] {
				names = append(names, e.Name())
			}
		}
	}

	return names, nil
}

func loadFromFS(fsys fs.FS, file, name string) (*TestSuite, error) {
	data, err := fs.ReadFile(fsys, file)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s for suite %q: %w", file, name, err)
	}

	if err := ValidateSuiteYAML(data); err != nil {
		return nil, fmt.Errorf("invalid suite %q: %w", name, err)
	}

	var suite TestSuite
	if err := yaml.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("failed to parse %s for suite %q: %w", file, name, err)
	}

	if suite.CasesFile != "" {
		cases, err := loadCasesFromFS(fsys, suite.CasesFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load test cases for suite %q: %w", name, err)
		}
		suite.TestCases = append(suite.TestCases, cases...)
	}

	if len(suite.TestCases) == 0 {
		return nil, fmt.Errorf("test suite %q has no test cases", name)
	}

	seen := make(map[string]bool, len(suite.TestCases))
	for _, tc := range suite.TestCases {
		if seen[tc.ID] {
			return nil, fmt.Errorf("test suite %q has duplicate test case id %q", name, tc.ID)
		}
		seen[tc.ID] = true
	}

	return &suite, nil
}

// loadCasesFromFS reads test cases from a CSV file. Multi-turn inputs are
// separated by "|" and expected entities by ";".
func loadCasesFromFS(fsys fs.FS, filename string) ([]TestCase, error) {
	f, err := fsys.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", filename, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.TrimSpace(col)] = i
	}

	for _, required := range []string{"ID", "UserInput", "AcceptanceCriteria"} {
		if _, ok := colIndex[required]; !ok {
			return nil, fmt.Errorf("missing required CSV column: %s", required)
		}
	}

	field := func(record []string, col string) string {
		idx, ok := colIndex[col]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	var cases []TestCase
	for lineNum := 2; ; lineNum++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row %d: %w", lineNum, err)
		}

		tc := TestCase{
			ID:                 field(record, "ID"),
			Name:               field(record, "Name"),
			Description:        field(record, "Description"),
			Category:           field(record, "Category"),
			UserInput:          splitList(field(record, "UserInput"), "|"),
			ExpectedIntent:     field(record, "ExpectedIntent"),
			ExpectedEntities:   splitList(field(record, "ExpectedEntities"), ";"),
			AcceptanceCriteria: field(record, "AcceptanceCriteria"),
			ReferenceAnswer:    field(record, "ReferenceAnswer"),
		}
		if tc.ID == "" || len(tc.UserInput) == 0 || tc.AcceptanceCriteria == "" {
			return nil, fmt.Errorf("CSV row %d: ID, UserInput and AcceptanceCriteria are required", lineNum)
		}
		if tc.Name == "" {
			tc.Name = tc.ID
		}
		if p := field(record, "Priority"); p != "" {
			prio, err := strconv.Atoi(p)
			if err != nil {
				return nil, fmt.Errorf("CSV row %d: invalid priority %q", lineNum, p)
			}
			tc.Priority = prio
		}
		if a := field(record, "Active"); a != "" {
			active, err := strconv.ParseBool(a)
			if err != nil {
				return nil, fmt.Errorf("CSV row %d: invalid active flag %q", lineNum, a)
			}
			tc.Active = &active
		}

		cases = append(cases, tc)
	}

	return cases, nil
}

func splitList(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, sep) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
