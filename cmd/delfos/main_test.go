package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lina-go/backend-delfos-sub000/engine"
)

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCommand()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "ask", "eval", "mcp"}, names)
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestAskCommand_RequiresQuestion(t *testing.T) {
	root := newRootCommand()
	root.SetArgs([]string{"ask"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	assert.Error(t, root.Execute())
}

func TestEvalCommand_MissingDataset(t *testing.T) {
	root := newRootCommand()
	root.SetArgs([]string{"eval", filepath.Join(t.TempDir(), "none.yaml")})
	root.SetOut(&bytes.Buffer{})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read dataset")
}

func TestPrintResponse(t *testing.T) {
	resp := &engine.Response{
		Insight:    "Banco A lidera.",
		Columns:    []string{"banco", "saldo"},
		Data:       []map[string]any{{"banco": "Banco A", "saldo": 30.0}, {"banco": "Banco B", "saldo": 20.0}, {"banco": "Banco C", "saldo": 10.0}},
		OutputKind: "bar",
		Title:      "Saldo por banco",
		SQL:        "SELECT banco, saldo FROM saldos",
	}

	var buf bytes.Buffer
	printResponse(&buf, resp, 2)
	out := buf.String()

	assert.Contains(t, out, "Banco A lidera.")
	assert.Contains(t, out, "Banco B")
	assert.NotContains(t, out, "Banco C")
	assert.Contains(t, strings.ToLower(out), "2 of 3 rows")
	assert.Contains(t, out, "Chart: bar (Saldo por banco)")
	assert.Contains(t, out, "SELECT banco, saldo FROM saldos")
}

func TestPrintResponse_Error(t *testing.T) {
	var buf bytes.Buffer
	printResponse(&buf, &engine.Response{Error: "no plausible result", Issues: []string{"row count is zero"}}, 10)
	assert.Contains(t, buf.String(), "Error: no plausible result")
	assert.Contains(t, buf.String(), "- row count is zero")
}
