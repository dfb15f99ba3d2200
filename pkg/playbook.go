package pkg

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// VarPrompt asks the operator for a value at run start. Prompted values sit
// at the highest precedence tier.
type VarPrompt struct {
	Name    string `yaml:"name"`
	Prompt  string `yaml:"prompt"`
	Default string `yaml:"default"`
}

// Play binds an ordered task/role list to a host pattern.
type Play struct {
	Name       string                 `yaml:"name"`
	Hosts      string                 `yaml:"hosts"`
	Become     bool                   `yaml:"become"`
	BecomeUser string                 `yaml:"become_user"`
	Vars       map[string]interface{} `yaml:"vars"`
	VarsFiles  []string               `yaml:"vars_files"`
	VarsPrompt []VarPrompt            `yaml:"vars_prompt"`
	Roles      []string               `yaml:"roles"`
	Tasks      []Task                 `yaml:"tasks"`
	Handlers   []Task                 `yaml:"handlers"`
}

// Playbook is an ordered sequence of plays plus the path it was loaded
// from (vars_files resolve relative to it).
type Playbook struct {
	Plays []Play
	Path  string
}

// LoadPlaybook parses a playbook document from disk.
func LoadPlaybook(path string) (*Playbook, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("error getting absolute path for playbook %s: %w", path, err)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("error reading playbook file %s: %w", absPath, err)
	}

	var plays []Play
	if err := yaml.Unmarshal(data, &plays); err != nil {
		return nil, fmt.Errorf("error parsing playbook %s: %w", absPath, err)
	}
	if len(plays) == 0 {
		return nil, fmt.Errorf("playbook %s contains no plays", absPath)
	}

	for i := range plays {
		for j := range plays[i].Handlers {
			plays[i].Handlers[j].IsHandler = true
		}
	}

	return &Playbook{Plays: plays, Path: absPath}, nil
}

// LoadVarsFiles reads the play's vars_files relative to the playbook
// directory and merges them in declaration order.
func (p *Playbook) LoadVarsFiles(play *Play) (map[string]interface{}, error) {
	fragments := make([]map[string]interface{}, 0, len(play.VarsFiles))
	baseDir := filepath.Dir(p.Path)
	for _, file := range play.VarsFiles {
		path := file
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, file)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("error reading vars file %s: %w", path, err)
		}
		var vars map[string]interface{}
		if err := yaml.Unmarshal(data, &vars); err != nil {
			return nil, fmt.Errorf("error parsing vars file %s: %w", path, err)
		}
		fragments = append(fragments, vars)
	}
	return MergeVars(fragments...), nil
}

// PromptVars collects the play's vars_prompt values from the operator,
// once per run rather than per host.
func PromptVars(play *Play, in io.Reader, out io.Writer) (map[string]interface{}, error) {
	if len(play.VarsPrompt) == 0 {
		return nil, nil
	}
	values := make(map[string]interface{}, len(play.VarsPrompt))
	reader := bufio.NewReader(in)
	for _, prompt := range play.VarsPrompt {
		label := prompt.Prompt
		if label == "" {
			label = prompt.Name
		}
		if prompt.Default != "" {
			fmt.Fprintf(out, "%s [%s]: ", label, prompt.Default)
		} else {
			fmt.Fprintf(out, "%s: ", label)
		}
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("failed to read prompted value for %q: %w", prompt.Name, err)
		}
		value := strings.TrimRight(line, "\r\n")
		if value == "" {
			value = prompt.Default
		}
		values[prompt.Name] = value
	}
	return values, nil
}

// ParseExtraVars parses -e key=value overrides.
func ParseExtraVars(pairs []string) (map[string]interface{}, error) {
	vars := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid extra var %q, expected key=value", pair)
		}
		vars[key] = value
	}
	return vars, nil
}
