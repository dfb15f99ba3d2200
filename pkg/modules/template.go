package modules

import (
	"context"
	"fmt"
	"os"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/opsrun/opsrun/pkg"
	"github.com/opsrun/opsrun/pkg/common"
)

// TemplateModule renders a local template against the host's variable scope
// and writes it to the target only when the content differs.
type TemplateModule struct{}

// TemplateInput defines the parameters for the template module.
type TemplateInput struct {
	Src  string `yaml:"src"`  // Template path on the control node
	Dest string `yaml:"dest"` // Destination path on the target
	Mode string `yaml:"mode"` // Optional octal mode string
}

// TemplateOutput carries the rendered destination and a unified diff of the
// content change.
type TemplateOutput struct {
	Src     string
	Dest    string
	Diff    string
	changed bool
}

func (o TemplateOutput) Changed() bool {
	return o.changed
}

func (o TemplateOutput) String() string {
	return fmt.Sprintf("template %s -> %s changed=%t", o.Src, o.Dest, o.changed)
}

func (o TemplateOutput) AsFacts() map[string]interface{} {
	return map[string]interface{}{
		"changed": o.changed,
		"src":     o.Src,
		"dest":    o.Dest,
		"diff":    o.Diff,
	}
}

func (i *TemplateInput) validate() error {
	if i.Src == "" || i.Dest == "" {
		return fmt.Errorf("template module requires 'src' and 'dest'")
	}
	return nil
}

func (m TemplateModule) Apply(ctx context.Context, args map[string]interface{}, closure *pkg.Closure, opts pkg.ApplyOptions) (pkg.Output, error) {
	var input TemplateInput
	if err := pkg.DecodeArgs(args, &input); err != nil {
		return nil, err
	}
	if err := input.validate(); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(input.Src)
	if err != nil {
		return nil, fmt.Errorf("failed to read template %s: %w", input.Src, err)
	}
	rendered, err := pkg.RenderString(string(raw), closure.Scope())
	if err != nil {
		return nil, fmt.Errorf("failed to render template %s: %w", input.Src, err)
	}

	conn := closure.HostContext.Conn
	output := TemplateOutput{Src: input.Src, Dest: input.Dest}

	current, readErr := conn.ReadFile(input.Dest)
	if readErr == nil && string(current) == rendered {
		return output, nil
	}

	diff, diffErr := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(current)),
		B:        difflib.SplitLines(rendered),
		FromFile: input.Dest,
		ToFile:   input.Src,
		Context:  3,
	})
	if diffErr == nil {
		output.Diff = diff
	}

	output.changed = true
	if opts.Check {
		return output, nil
	}

	mode := os.FileMode(0o644)
	if input.Mode != "" {
		parsed, err := parseMode(input.Mode)
		if err != nil {
			return nil, err
		}
		mode = parsed
	}
	if err := conn.WriteFile(input.Dest, []byte(rendered), mode); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", input.Dest, err)
	}
	common.LogDebug("Wrote rendered template", map[string]interface{}{
		"src":  input.Src,
		"dest": input.Dest,
		"host": closure.HostContext.Host.Name,
	})
	return output, nil
}

func init() {
	pkg.RegisterModule("template", TemplateModule{})
}
