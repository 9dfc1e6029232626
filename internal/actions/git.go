package actions

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/actiongate/actiongate/internal/action"
	"github.com/actiongate/actiongate/internal/event"
	"github.com/actiongate/actiongate/internal/permission"
	"github.com/actiongate/actiongate/internal/schema"
)

func gitActions(deps Deps) []*action.Definition {
	gitStateCancel := []action.CancelEvent{
		{Event: event.GitStateChanged, Reason: "the git state changed"},
	}

	return []*action.Definition{
		{
			Name:        "git_status",
			Description: "Show the git working tree status.",
			Category:    "git",
			Default:     permission.Autopilot,
			Handler: func(ctx context.Context, req *action.Request) action.Outcome {
				out, err := runGit(ctx, req.WorkDir, "status", "--short", "--branch")
				if err != nil {
					return action.Failure("git status failed: %s", gitError(err, out))
				}
				if out == "" {
					return action.Success("Working tree clean.")
				}
				return action.Success("Git status:\n%s", out)
			},
		},
		{
			Name:        "git_add",
			Description: "Stage files for the next commit.",
			Category:    "git",
			Schema: schema.Object(map[string]schema.Property{
				"paths": {
					Type:        "array",
					Description: "Paths to stage. Defaults to everything.",
					Items:       &schema.Property{Type: "string"},
				},
			}),
			Default: permission.Copilot,
			PromptFunc: func(req *action.Request) string {
				paths := req.Strings("paths")
				if len(paths) == 0 {
					return "stage all changes?"
				}
				return "stage " + strings.Join(paths, ", ") + "?"
			},
			CancelEvents: gitStateCancel,
			Handler: func(ctx context.Context, req *action.Request) action.Outcome {
				args := append([]string{"add", "--"}, req.Strings("paths")...)
				if len(req.Strings("paths")) == 0 {
					args = []string{"add", "-A"}
				}
				out, err := runGit(ctx, req.WorkDir, args...)
				if err != nil {
					return action.Retry("git add failed: %s", gitError(err, out))
				}
				return action.Success("Staged.")
			},
		},
		{
			Name:        "git_commit",
			Description: "Commit the staged changes.",
			Category:    "git",
			Schema: schema.Object(map[string]schema.Property{
				"message": {Type: "string", Description: "The commit message."},
			}, "message"),
			Default: permission.Copilot,
			Validators: []action.Validator{
				func(req *action.Request) *action.ValidatorError {
					if strings.TrimSpace(req.String("message")) == "" {
						return action.RetryRejectf("commit message must not be empty")
					}
					return nil
				},
			},
			PromptFunc: func(req *action.Request) string {
				return fmt.Sprintf("commit staged changes with message %q?", req.String("message"))
			},
			CancelEvents: gitStateCancel,
			Handler: func(ctx context.Context, req *action.Request) action.Outcome {
				out, err := runGit(ctx, req.WorkDir, "commit", "-m", req.String("message"))
				if err != nil {
					return action.Retry("git commit failed: %s", gitError(err, out))
				}
				return action.Success("Committed:\n%s", out)
			},
		},
		{
			Name:        "git_new_branch",
			Description: "Create a new branch from the current HEAD and switch to it.",
			Category:    "git",
			Schema: schema.Object(map[string]schema.Property{
				"name": {Type: "string", Description: "The branch name."},
			}, "name"),
			Default: permission.Copilot,
			Validators: []action.Validator{
				func(req *action.Request) *action.ValidatorError {
					name := req.String("name")
					if strings.TrimSpace(name) == "" {
						return action.RetryRejectf("branch name must not be empty")
					}
					if strings.ContainsAny(name, " ~^:?*[\\") {
						return action.RetryRejectf("%q is not a valid branch name", name)
					}
					return nil
				},
			},
			PromptFunc: func(req *action.Request) string {
				return fmt.Sprintf("create and switch to branch %q?", req.String("name"))
			},
			CancelEvents: gitStateCancel,
			Handler: func(ctx context.Context, req *action.Request) action.Outcome {
				out, err := runGit(ctx, req.WorkDir, "checkout", "-b", req.String("name"))
				if err != nil {
					return action.Retry("cannot create branch: %s", gitError(err, out))
				}
				return action.Success("Switched to new branch %s.", req.String("name"))
			},
		},
		{
			Name:        "abort_merge",
			Description: "Abort the merge currently in progress and restore the pre-merge state.",
			Category:    "git",
			Default:     permission.Copilot,
			Prompt:      "abort the merge in progress?",
			// Only meaningful mid-merge; the gateway activates it when a
			// merge starts and deactivates it when the merge ends.
			ManualRegister:    true,
			RegisterCondition: deps.mergeInProgress,
			CancelEvents: []action.CancelEvent{
				{Event: event.MergeEnded, Reason: "the merge already ended"},
			},
			Handler: func(ctx context.Context, req *action.Request) action.Outcome {
				out, err := runGit(ctx, req.WorkDir, "merge", "--abort")
				if err != nil {
					return action.Failure("cannot abort merge: %s", gitError(err, out))
				}
				return action.Success("Merge aborted.")
			},
		},
	}
}

func runGit(ctx context.Context, workDir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = workDir
	raw, err := cmd.CombinedOutput()
	return strings.TrimRight(string(raw), "\n"), err
}

func gitError(err error, out string) string {
	if out != "" {
		return out
	}
	return err.Error()
}
