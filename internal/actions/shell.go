package actions

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"github.com/actiongate/actiongate/internal/action"
	"github.com/actiongate/actiongate/internal/event"
	"github.com/actiongate/actiongate/internal/permission"
	"github.com/actiongate/actiongate/internal/schema"
)

const maxCommandOutput = 16 * 1024

func shellActions(deps Deps) []*action.Definition {
	return []*action.Definition{
		runCommandAction(deps),
		runCurrentFileAction(deps),
		runTaskAction(deps),
	}
}

// interpreters maps file extensions to the command that executes them.
var interpreters = map[string]string{
	".js":  "node",
	".mjs": "node",
	".py":  "python3",
	".rb":  "ruby",
	".sh":  "sh",
	".go":  "go run",
}

func runCurrentFileAction(deps Deps) *action.Definition {
	return &action.Definition{
		Name:        "run_current_file",
		Description: "Execute the file currently open in the editor and return its output. Takes no parameters.",
		Category:    "shell",
		Default:     permission.Copilot,
		RegisterCondition: func() bool {
			return deps.Workspace != nil
		},
		Validators: []action.Validator{
			func(req *action.Request) *action.ValidatorError {
				file := deps.currentFile()
				if file == "" {
					return action.RetryRejectf("no file is open; open one first")
				}
				if _, ok := interpreters[strings.ToLower(filepath.Ext(file))]; !ok {
					return action.RetryRejectf("don't know how to run %q", file)
				}
				return nil
			},
		},
		PromptFunc: func(req *action.Request) string {
			return fmt.Sprintf("run %s?", deps.currentFile())
		},
		Handler: func(ctx context.Context, req *action.Request) action.Outcome {
			file := deps.currentFile()
			if file == "" {
				return action.Retry("no file is open; open one first")
			}
			interp, ok := interpreters[strings.ToLower(filepath.Ext(file))]
			if !ok {
				return action.Retry("don't know how to run %q", file)
			}
			return runShell(ctx, req.WorkDir, fmt.Sprintf("%s %q", interp, file))
		},
	}
}

func runCommandAction(deps Deps) *action.Definition {
	return &action.Definition{
		Name:        "run_command",
		Description: "Run a shell command in the project directory and return its output.",
		Category:    "shell",
		Schema: schema.Object(map[string]schema.Property{
			"command": {Type: "string", Description: "The shell command to run."},
		}, "command"),
		Default: permission.Copilot,
		Validators: []action.Validator{
			func(req *action.Request) *action.ValidatorError {
				cmd := req.String("command")
				if strings.TrimSpace(cmd) == "" {
					return action.RetryRejectf("command must not be empty")
				}
				parser := syntax.NewParser(syntax.Variant(syntax.LangBash))
				if _, err := parser.Parse(strings.NewReader(cmd), ""); err != nil {
					return action.RetryRejectf("shell syntax error: %v", err)
				}
				return nil
			},
		},
		PromptFunc: func(req *action.Request) string {
			return fmt.Sprintf("run `%s`?", req.String("command"))
		},
		Handler: func(ctx context.Context, req *action.Request) action.Outcome {
			return runShell(ctx, req.WorkDir, req.String("command"))
		},
	}
}

func runTaskAction(deps Deps) *action.Definition {
	names := make([]string, 0, len(deps.Tasks))
	for name := range deps.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)

	var desc strings.Builder
	desc.WriteString("Run one of the project's predefined tasks.")
	for _, name := range names {
		if t := deps.Tasks[name]; t.Description != "" {
			fmt.Fprintf(&desc, " %s: %s.", name, t.Description)
		}
	}

	return &action.Definition{
		Name:        "run_task",
		Description: desc.String(),
		Category:    "shell",
		Schema: schema.Object(map[string]schema.Property{
			"task": {Type: "string", Description: "The task to run.", Enum: names},
		}, "task"),
		// Tasks are vetted by whoever wrote the config, so they run
		// without per-invocation approval.
		Default:           permission.Autopilot,
		RegisterCondition: func() bool { return len(deps.Tasks) > 0 },
		Handler: func(ctx context.Context, req *action.Request) action.Outcome {
			name := req.String("task")
			task, ok := deps.Tasks[name]
			if !ok {
				return action.Retry("unknown task %q", name)
			}
			out := runShell(ctx, req.WorkDir, task.Command)
			if deps.Bus != nil {
				deps.Bus.Publish(event.Event{
					Type: event.TaskFinished,
					Data: event.TaskFinishedData{Task: name, Success: out.Status == action.StatusSuccess},
				})
			}
			return out
		},
	}
}

func runShell(ctx context.Context, workDir, command string) action.Outcome {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = workDir
	raw, err := cmd.CombinedOutput()
	output := truncateOutput(string(raw))

	if err != nil {
		if ctx.Err() != nil {
			return action.Failure("command cancelled")
		}
		if output == "" {
			return action.Failure("command failed: %v", err)
		}
		return action.Failure("command failed: %v\n%s", err, output)
	}
	if output == "" {
		return action.Success("Command finished with no output.")
	}
	return action.Success("Command output:\n%s", output)
}

func truncateOutput(out string) string {
	out = strings.TrimRight(out, "\n")
	if len(out) <= maxCommandOutput {
		return out
	}
	return out[:maxCommandOutput] + "\n(output truncated)"
}
