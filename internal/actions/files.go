package actions

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/actiongate/actiongate/internal/action"
	"github.com/actiongate/actiongate/internal/event"
	"github.com/actiongate/actiongate/internal/permission"
	"github.com/actiongate/actiongate/internal/schema"
)

const (
	maxListedFiles  = 500
	maxFileReadSize = 256 * 1024
)

func fileActions(deps Deps) []*action.Definition {
	return []*action.Definition{
		getFilesAction(deps),
		openFileAction(deps),
		readFileAction(deps),
		replaceTextAction(deps),
		createFileAction(deps),
	}
}

func getFilesAction(deps Deps) *action.Definition {
	return &action.Definition{
		Name:        "get_files",
		Description: "List files in the project matching a glob pattern. Use ** to match across directories.",
		Category:    "files",
		Schema: schema.Object(map[string]schema.Property{
			"pattern": {Type: "string", Description: "Glob pattern relative to the project root, e.g. **/*.go. Defaults to everything."},
		}),
		Default: permission.Autopilot,
		Handler: func(ctx context.Context, req *action.Request) action.Outcome {
			pattern := req.StringOr("pattern", "**/*")
			matches, err := doublestar.Glob(os.DirFS(req.WorkDir), pattern)
			if err != nil {
				return action.Retry("invalid glob pattern %q: %v", pattern, err)
			}

			files := make([]string, 0, len(matches))
			for _, m := range matches {
				if isHiddenPath(m) {
					continue
				}
				info, err := fs.Stat(os.DirFS(req.WorkDir), m)
				if err != nil || info.IsDir() {
					continue
				}
				files = append(files, m)
			}
			sort.Strings(files)

			if len(files) == 0 {
				return action.Success("No files match %q.", pattern)
			}
			truncated := ""
			if len(files) > maxListedFiles {
				files = files[:maxListedFiles]
				truncated = "\n(list truncated)"
			}
			return action.Success("Files matching %q:\n%s%s", pattern, strings.Join(files, "\n"), truncated)
		},
	}
}

func openFileAction(deps Deps) *action.Definition {
	return &action.Definition{
		Name:        "open_file",
		Description: "Open a file: makes it the current file and returns its contents.",
		Category:    "files",
		Schema: schema.Object(map[string]schema.Property{
			"path": {Type: "string", Description: "File path relative to the project root."},
		}, "path"),
		Default:    permission.Autopilot,
		Validators: []action.Validator{requireProjectFile("path")},
		Handler: func(ctx context.Context, req *action.Request) action.Outcome {
			rel := req.String("path")
			content, out := readProjectFile(req.WorkDir, rel)
			if out != nil {
				return *out
			}
			deps.setCurrentFile(rel)
			return action.Success("Opened %s:\n%s", rel, content)
		},
	}
}

func readFileAction(deps Deps) *action.Definition {
	return &action.Definition{
		Name:        "read_file",
		Description: "Return the contents of a file without changing the current file.",
		Category:    "files",
		Schema: schema.Object(map[string]schema.Property{
			"path": {Type: "string", Description: "File path relative to the project root."},
		}, "path"),
		Default:    permission.Autopilot,
		Validators: []action.Validator{requireProjectFile("path")},
		Handler: func(ctx context.Context, req *action.Request) action.Outcome {
			rel := req.String("path")
			content, out := readProjectFile(req.WorkDir, rel)
			if out != nil {
				return *out
			}
			return action.Success("Contents of %s:\n%s", rel, content)
		},
	}
}

func replaceTextAction(deps Deps) *action.Definition {
	return &action.Definition{
		Name:        "replace_text",
		Description: "Replace an exact text fragment in a file. The old text must appear exactly once.",
		Category:    "files",
		Schema: schema.Object(map[string]schema.Property{
			"path":     {Type: "string", Description: "File path relative to the project root."},
			"old_text": {Type: "string", Description: "The exact text to replace."},
			"new_text": {Type: "string", Description: "The replacement text."},
		}, "path", "old_text", "new_text"),
		Default: permission.Copilot,
		Validators: []action.Validator{
			requireProjectFile("path"),
			func(req *action.Request) *action.ValidatorError {
				content, out := readProjectFile(req.WorkDir, req.String("path"))
				if out != nil {
					return action.RetryRejectf("%s", out.Message)
				}
				switch strings.Count(content, req.String("old_text")) {
				case 0:
					return action.RetryRejectf("old_text not found in %s", req.String("path"))
				case 1:
					return nil
				default:
					return action.RetryRejectf("old_text appears more than once in %s; include more surrounding context", req.String("path"))
				}
			},
		},
		PromptFunc: func(req *action.Request) string {
			rel := req.String("path")
			content, out := readProjectFile(req.WorkDir, rel)
			if out != nil {
				return "edit " + rel
			}
			after := strings.Replace(content, req.String("old_text"), req.String("new_text"), 1)
			return "apply this edit to " + rel + "?\n" + diffPreview(content, after, 40)
		},
		CancelEvents: []action.CancelEvent{
			{Event: event.FileChanged, Reason: "the file changed on disk"},
		},
		Handler: func(ctx context.Context, req *action.Request) action.Outcome {
			rel := req.String("path")
			abs := filepath.Join(req.WorkDir, rel)
			raw, err := os.ReadFile(abs)
			if err != nil {
				return action.Failure("cannot read %s: %v", rel, err)
			}
			content := string(raw)
			if strings.Count(content, req.String("old_text")) != 1 {
				return action.Retry("old_text no longer matches exactly once in %s", rel)
			}
			after := strings.Replace(content, req.String("old_text"), req.String("new_text"), 1)
			if err := os.WriteFile(abs, []byte(after), 0o644); err != nil {
				return action.Failure("cannot write %s: %v", rel, err)
			}
			return action.Success("Replaced text in %s.", rel)
		},
	}
}

func createFileAction(deps Deps) *action.Definition {
	return &action.Definition{
		Name:        "create_file",
		Description: "Create a new file with the given contents. Fails if the file already exists.",
		Category:    "files",
		Schema: schema.Object(map[string]schema.Property{
			"path":    {Type: "string", Description: "File path relative to the project root."},
			"content": {Type: "string", Description: "Initial file contents. Defaults to empty."},
		}, "path"),
		Default: permission.Copilot,
		Validators: []action.Validator{
			requireProjectPath("path"),
			func(req *action.Request) *action.ValidatorError {
				abs := filepath.Join(req.WorkDir, req.String("path"))
				if _, err := os.Stat(abs); err == nil {
					return action.RetryRejectf("%s already exists; use replace_text to modify it", req.String("path"))
				}
				return nil
			},
		},
		PromptFunc: func(req *action.Request) string {
			return "create " + req.String("path") + "?"
		},
		Handler: func(ctx context.Context, req *action.Request) action.Outcome {
			rel := req.String("path")
			abs := filepath.Join(req.WorkDir, rel)
			if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
				return action.Failure("cannot create directories for %s: %v", rel, err)
			}
			if err := os.WriteFile(abs, []byte(req.String("content")), 0o644); err != nil {
				return action.Failure("cannot create %s: %v", rel, err)
			}
			deps.setCurrentFile(rel)
			return action.Success("Created %s.", rel)
		},
	}
}

// requireProjectPath rejects paths that escape the work directory. Escaping
// is terminal: retrying the same idea will not make it allowed.
func requireProjectPath(key string) action.Validator {
	return func(req *action.Request) *action.ValidatorError {
		rel := req.String(key)
		if rel == "" {
			return action.RetryRejectf("%s must not be empty", key)
		}
		if filepath.IsAbs(rel) {
			return action.Rejectf("%s must be relative to the project root", key)
		}
		clean := filepath.Clean(rel)
		if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
			return action.Rejectf("%s escapes the project directory", key)
		}
		return nil
	}
}

// requireProjectFile additionally requires the path to name an existing
// regular file. Absence is retryable, the agent may have the name wrong.
func requireProjectFile(key string) action.Validator {
	pathOK := requireProjectPath(key)
	return func(req *action.Request) *action.ValidatorError {
		if err := pathOK(req); err != nil {
			return err
		}
		rel := req.String(key)
		info, err := os.Stat(filepath.Join(req.WorkDir, rel))
		if err != nil {
			return action.RetryRejectf("file not found: %s", rel)
		}
		if info.IsDir() {
			return action.RetryRejectf("%s is a directory, not a file", rel)
		}
		return nil
	}
}

func readProjectFile(workDir, rel string) (string, *action.Outcome) {
	abs := filepath.Join(workDir, rel)
	info, err := os.Stat(abs)
	if err != nil {
		out := action.Retry("file not found: %s", rel)
		return "", &out
	}
	if info.Size() > maxFileReadSize {
		out := action.Failure("%s is too large to read (%d bytes)", rel, info.Size())
		return "", &out
	}
	raw, err := os.ReadFile(abs)
	if err != nil {
		out := action.Failure("cannot read %s: %v", rel, err)
		return "", &out
	}
	return string(raw), nil
}

func isHiddenPath(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}
