package pkg

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePlaybook(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "playbook.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadPlaybook(t *testing.T) {
	path := writePlaybook(t, t.TempDir(), `
- name: configure web
  hosts: web
  vars:
    http_port: 8080
  tasks:
    - name: install nginx
      package:
        name: nginx
  handlers:
    - name: restart nginx
      service:
        name: nginx
        state: restarted
`)

	pb, err := LoadPlaybook(path)
	require.NoError(t, err)
	require.Len(t, pb.Plays, 1)

	play := pb.Plays[0]
	assert.Equal(t, "configure web", play.Name)
	assert.Equal(t, "web", play.Hosts)
	assert.Equal(t, 8080, play.Vars["http_port"])
	require.Len(t, play.Tasks, 1)
	require.Len(t, play.Handlers, 1)
	assert.True(t, play.Handlers[0].IsHandler)
	assert.False(t, play.Tasks[0].IsHandler)
}

func TestLoadPlaybookRejectsEmptyDocument(t *testing.T) {
	path := writePlaybook(t, t.TempDir(), "")
	_, err := LoadPlaybook(path)
	assert.Error(t, err)
}

func TestLoadVarsFilesRelativeToPlaybook(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "common.yml"), []byte("region: eu-west\ntier: web\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "override.yml"), []byte("tier: db\n"), 0o644))

	path := writePlaybook(t, dir, `
- name: play
  hosts: all
  vars_files:
    - common.yml
    - override.yml
  tasks:
    - command: /usr/bin/true
`)

	pb, err := LoadPlaybook(path)
	require.NoError(t, err)

	vars, err := pb.LoadVarsFiles(&pb.Plays[0])
	require.NoError(t, err)
	assert.Equal(t, "eu-west", vars["region"])
	assert.Equal(t, "db", vars["tier"])
}

func TestPromptVarsReadsValuesOnce(t *testing.T) {
	play := &Play{
		VarsPrompt: []VarPrompt{
			{Name: "release", Prompt: "Release tag"},
			{Name: "region", Default: "eu-west"},
		},
	}

	var out bytes.Buffer
	values, err := PromptVars(play, strings.NewReader("v1.2.3\n\n"), &out)
	require.NoError(t, err)

	assert.Equal(t, "v1.2.3", values["release"])
	assert.Equal(t, "eu-west", values["region"])
	assert.Contains(t, out.String(), "Release tag")
}

func TestPromptVarsNoPrompts(t *testing.T) {
	values, err := PromptVars(&Play{}, strings.NewReader(""), &bytes.Buffer{})
	require.NoError(t, err)
	assert.Nil(t, values)
}

func TestParseExtraVars(t *testing.T) {
	vars, err := ParseExtraVars([]string{"env=prod", "version=2.0=rc1"})
	require.NoError(t, err)
	assert.Equal(t, "prod", vars["env"])
	assert.Equal(t, "2.0=rc1", vars["version"])
}

func TestParseExtraVarsRejectsMalformedPair(t *testing.T) {
	_, err := ParseExtraVars([]string{"no-equals-sign"})
	assert.Error(t, err)
}
