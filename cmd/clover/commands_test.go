package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/models"
)

const personRules = "../../rulesets/person.yaml"

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeJSON(t *testing.T, dir, name string, doc map[string]any) string {
	t.Helper()
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, raw, 0o600))
	return path
}

func TestRulesCheckPrintsFieldsAndRules(t *testing.T) {
	out, err := execute(t, "rules", "check", personRules)
	require.NoError(t, err)
	assert.Contains(t, out, `rule set "person"`)
	assert.Contains(t, out, "golden type Person")
	assert.Contains(t, out, "field  0 first_name")
	assert.Contains(t, out, "rule ssn-and-birth -> MATCH")
}

func TestRulesCheckRejectsBrokenRuleSet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: broken\nfields:\n  - name: a\n    path: a\n    kind: telepathy\n"), 0o600))

	_, err := execute(t, "rules", "check", path)
	require.Error(t, err)
	var exit *exitError
	require.True(t, errors.As(err, &exit))
	assert.Equal(t, 2, exit.code)
}

func TestEvaluatePrintsBreakdown(t *testing.T) {
	dir := t.TempDir()
	doc := map[string]any{
		"name":       map[string]any{"given": "Alice", "family": "Smith"},
		"birth_date": "1980-04-12",
	}
	left := writeJSON(t, dir, "left.json", doc)
	right := writeJSON(t, dir, "right.json", doc)

	out, err := execute(t, "evaluate", "--rules", personRules, left, right)
	require.NoError(t, err)

	var resp struct {
		Outcome struct {
			Classification models.Classification `json:"classification"`
		} `json:"outcome"`
		Fields []map[string]any `json:"fields"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, models.ClassificationMatch, resp.Outcome.Classification)
	assert.NotEmpty(t, resp.Fields)
}

func TestEvaluateNeedsTwoDocuments(t *testing.T) {
	_, err := execute(t, "evaluate", "--rules", personRules, "only.json")
	assert.Error(t, err)
}
