package testsuite

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmbeddedSuite(t *testing.T) {
	suite, err := Load("support-bot-smoke", "")
	require.NoError(t, err)

	assert.Equal(t, "Support Bot Smoke", suite.Name)
	assert.Equal(t, "1", suite.Version)
	assert.Equal(t, 30, suite.DefaultTimeoutSeconds)
	assert.Equal(t, 2, suite.DefaultMaxRetries)
	// Three inline cases plus two from the CSV file.
	assert.Len(t, suite.TestCases, 5)
}

func TestLoadEmbeddedSuiteCases(t *testing.T) {
	suite, err := Load("support-bot-smoke", "")
	require.NoError(t, err)

	reset := suite.TestCases[1]
	assert.Equal(t, "password-reset", reset.ID)
	assert.Equal(t, []string{"I forgot my password", "My username is jdoe"}, reset.UserInput)
	assert.Equal(t, []string{"username"}, reset.ExpectedEntities)
	assert.True(t, reset.IsActive())

	fromCSV := suite.TestCases[4]
	assert.Equal(t, "order-status", fromCSV.ID)
	assert.Equal(t, []string{"Where is my order?", "The order number is 12345"}, fromCSV.UserInput)
	assert.Equal(t, []string{"order_number"}, fromCSV.ExpectedEntities)
	assert.Equal(t, 2, fromCSV.Priority)
}

func TestActiveTestCasesKeepsOrder(t *testing.T) {
	suite, err := Load("support-bot-smoke", "")
	require.NoError(t, err)

	active := suite.ActiveTestCases()
	require.Len(t, active, 4)

	ids := make([]string, 0, len(active))
	for _, tc := range active {
		ids = append(ids, tc.ID)
	}
	assert.Equal(t, []string{"greeting", "password-reset", "opening-hours", "order-status"}, ids)
}

func TestLoadNonexistentSuite(t *testing.T) {
	_, err := Load("nonexistent-suite", "")
	assert.Error(t, err)
}

func TestListEmbeddedSuites(t *testing.T) {
	names, err := List("")
	require.NoError(t, err)
	assert.Contains(t, names, "support-bot-smoke")
}

func TestLoadExternalSuite(t *testing.T) {
	dir := t.TempDir()
	suiteDir := filepath.Join(dir, "custom")
	require.NoError(t, os.MkdirAll(suiteDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(suiteDir, "suite.yaml"), []byte(`
name: Custom
test_cases:
  - id: one
    user_input: ["hi"]
    acceptance_criteria: says hi back
`), 0o644))

	names, err := List(dir)
	require.NoError(t, err)
	assert.Contains(t, names, "custom")

	suite, err := Load("custom", dir)
	require.NoError(t, err)
	assert.Equal(t, "Custom", suite.Name)
	require.Len(t, suite.TestCases, 1)
	assert.Equal(t, []string{"hi"}, suite.TestCases[0].UserInput)
}

func TestLoadSuiteFilePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "my-suite.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: From file
test_cases:
  - id: a
    user_input: ["x"]
    acceptance_criteria: y
`), 0o644))

	suite, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, "From file", suite.Name)
}

func TestLoadSuiteRejectsDuplicateIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dup.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: Dup
test_cases:
  - id: a
    user_input: ["x"]
    acceptance_criteria: y
  - id: a
    user_input: ["z"]
    acceptance_criteria: y
`), 0o644))

	_, err := Load(path, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate test case id")
}

func TestValidateSuiteYAML(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "valid",
			yaml: "name: ok\ntest_cases:\n  - id: a\n    user_input: [hi]\n    acceptance_criteria: c\n",
		},
		{
			name:    "missing name",
			yaml:    "test_cases: []\n",
			wantErr: "suite does not match schema",
		},
		{
			name:    "empty user input",
			yaml:    "name: x\ntest_cases:\n  - id: a\n    user_input: []\n    acceptance_criteria: c\n",
			wantErr: "/test_cases/0/user_input",
		},
		{
			name:    "unknown field",
			yaml:    "name: x\nstrategy: qa\n",
			wantErr: "suite does not match schema",
		},
		{
			name:    "empty document",
			yaml:    "",
			wantErr: "document is empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSuiteYAML([]byte(tt.yaml))
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadCasesCSVMissingColumn(t *testing.T) {
	dir := t.TempDir()
	suiteDir := filepath.Join(dir, "bad")
	require.NoError(t, os.MkdirAll(suiteDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(suiteDir, "suite.yaml"),
		[]byte("name: Bad\ncases_file: cases.csv\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(suiteDir, "cases.csv"),
		[]byte("ID,Name\n1,one\n"), 0o644))

	_, err := Load("bad", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required CSV column: UserInput")
}
