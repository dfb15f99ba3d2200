package modules

import (
	"context"

	"github.com/opsrun/opsrun/pkg"
)

// ShellModule runs a command through /bin/bash so pipes, redirects and
// globbing work. Everything else follows the command module.
type ShellModule struct{}

func (m ShellModule) Apply(ctx context.Context, args map[string]interface{}, closure *pkg.Closure, opts pkg.ApplyOptions) (pkg.Output, error) {
	var input CommandInput
	if err := pkg.DecodeArgs(args, &input); err != nil {
		return nil, err
	}
	return runCommandTask(&input, closure, opts, true)
}

func init() {
	pkg.RegisterModule("shell", ShellModule{})
}
