// Package actions provides the built-in action definitions the gateway
// registers out of the box: file inspection and editing, shell commands,
// git operations, and predefined tasks.
package actions

import (
	"github.com/actiongate/actiongate/internal/action"
	"github.com/actiongate/actiongate/internal/config"
	"github.com/actiongate/actiongate/internal/event"
	"github.com/actiongate/actiongate/internal/workspace"
)

// Deps carries what the built-in handlers need. Workspace may be nil, in
// which case current-file tracking and merge detection are disabled.
type Deps struct {
	WorkDir   string
	Workspace *workspace.Watcher
	Bus       *event.Bus
	Tasks     map[string]config.TaskConfig
}

// All returns every built-in action definition in registration order.
func All(deps Deps) []*action.Definition {
	defs := fileActions(deps)
	defs = append(defs, shellActions(deps)...)
	defs = append(defs, gitActions(deps)...)
	defs = append(defs, miscActions(deps)...)
	return defs
}

func (d Deps) mergeInProgress() bool {
	if d.Workspace == nil {
		return false
	}
	return d.Workspace.MergeInProgress()
}

func (d Deps) currentFile() string {
	if d.Workspace == nil {
		return ""
	}
	return d.Workspace.CurrentFile()
}

func (d Deps) setCurrentFile(path string) {
	if d.Workspace != nil {
		d.Workspace.SetCurrentFile(path)
	}
}
