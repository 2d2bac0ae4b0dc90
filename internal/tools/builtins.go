package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/wraithsec/wraith-cli/api/schemas"
	"github.com/wraithsec/wraith-cli/internal/notes"
	"github.com/wraithsec/wraith-cli/internal/runtime"
)

// FinishToolName is the designated completion tool. Its result carries the
// completion signal the agent loop scans for.
const FinishToolName = "finish"

// CompletionSignalPrefix marks a finish-tool result. Everything after the
// prefix is the agent's task summary.
const CompletionSignalPrefix = "__TASK_COMPLETE__:"

// CompletionSummary extracts the summary from a completion signal. The second
// return is false when s does not carry the signal.
func CompletionSummary(s string) (string, bool) {
	if !strings.HasPrefix(s, CompletionSignalPrefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(s, CompletionSignalPrefix)), true
}

func stringArg(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return v
}

func metadataArg(args map[string]interface{}, key string) map[string]string {
	raw, ok := args[key].(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		} else {
			out[k] = fmt.Sprintf("%v", v)
		}
	}
	return out
}

func noteFromArgs(args map[string]interface{}) schemas.Note {
	note := schemas.Note{
		Content:    stringArg(args, "content"),
		Category:   schemas.NoteCategory(stringArg(args, "category")),
		Confidence: schemas.NoteConfidence(stringArg(args, "confidence")),
		Metadata:   metadataArg(args, "metadata"),
	}
	if note.Category == "" {
		note.Category = schemas.CategoryInfo
	}
	if note.Confidence == "" {
		note.Confidence = schemas.ConfidenceMedium
	}
	return note
}

// RegisterBuiltins populates the registry with the standard tool set: shell
// execution, note keeping, browser/proxy bridging, and the finish tool.
func RegisterBuiltins(reg *Registry, store *notes.Store) error {
	builtins := []*Tool{
		{
			Name:        FinishToolName,
			Description: "Declare the task complete. Call this exactly once, when the objective is met or provably unreachable, with a final summary of findings.",
			Category:    "control",
			Enabled:     true,
			Schema: schemas.ToolSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"summary": map[string]interface{}{
						"type":        "string",
						"description": "Final summary of what was accomplished and found.",
					},
				},
				Required: []string{"summary"},
			},
			Execute: func(ctx context.Context, args map[string]interface{}, rt runtime.Runtime) (string, error) {
				return CompletionSignalPrefix + stringArg(args, "summary"), nil
			},
		},
		{
			Name:        "execute_command",
			Description: "Run a shell command in the assessment runtime and return its output. Long-running commands are bounded by a timeout.",
			Category:    "execution",
			Enabled:     true,
			Schema: schemas.ToolSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"command": map[string]interface{}{
						"type":        "string",
						"description": "The shell command to execute.",
					},
				},
				Required: []string{"command"},
			},
			Execute: func(ctx context.Context, args map[string]interface{}, rt runtime.Runtime) (string, error) {
				res, err := rt.ExecuteCommand(ctx, stringArg(args, "command"))
				if err != nil {
					return "", err
				}
				if res.Success() {
					return res.Output(), nil
				}
				return fmt.Sprintf("exit code %d\n%s", res.ExitCode, res.Output()), nil
			},
		},
		{
			Name:        "take_note",
			Description: "Record a new note under a unique key. Fails if the key exists; use update_note to overwrite. Categories: finding, credential, task, info, vulnerability, artifact.",
			Category:    "notes",
			Enabled:     true,
			Schema: schemas.ToolSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"key":        map[string]interface{}{"type": "string", "description": "Unique note key."},
					"content":    map[string]interface{}{"type": "string", "description": "The note body."},
					"category":   map[string]interface{}{"type": "string", "description": "Note category."},
					"confidence": map[string]interface{}{"type": "string", "description": "high, medium, or low."},
					"metadata":   map[string]interface{}{"type": "object", "description": "Structured hints such as target, source, username, port, cve."},
				},
				Required: []string{"key", "content", "category"},
			},
			Execute: func(ctx context.Context, args map[string]interface{}, rt runtime.Runtime) (string, error) {
				key := stringArg(args, "key")
				if err := store.Create(key, noteFromArgs(args)); err != nil {
					return "", err
				}
				return "note " + key + " created", nil
			},
		},
		{
			Name:        "update_note",
			Description: "Overwrite a note under a key, creating it if absent.",
			Category:    "notes",
			Enabled:     true,
			Schema: schemas.ToolSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"key":        map[string]interface{}{"type": "string", "description": "Note key."},
					"content":    map[string]interface{}{"type": "string", "description": "The note body."},
					"category":   map[string]interface{}{"type": "string", "description": "Note category."},
					"confidence": map[string]interface{}{"type": "string", "description": "high, medium, or low."},
					"metadata":   map[string]interface{}{"type": "object", "description": "Structured hints such as target, source, username, port, cve."},
				},
				Required: []string{"key", "content", "category"},
			},
			Execute: func(ctx context.Context, args map[string]interface{}, rt runtime.Runtime) (string, error) {
				key := stringArg(args, "key")
				if err := store.Update(key, noteFromArgs(args)); err != nil {
					return "", err
				}
				return "note " + key + " updated", nil
			},
		},
		{
			Name:        "read_notes",
			Description: "Read notes. Pass a key for one note, or a category (or nothing) to list matching notes.",
			Category:    "notes",
			Enabled:     true,
			Schema: schemas.ToolSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"key":      map[string]interface{}{"type": "string", "description": "Exact note key to read."},
					"category": map[string]interface{}{"type": "string", "description": "Filter listing by category."},
				},
				Required: []string{},
			},
			Execute: func(ctx context.Context, args map[string]interface{}, rt runtime.Runtime) (string, error) {
				if key := stringArg(args, "key"); key != "" {
					note, ok := store.Get(key)
					if !ok {
						return "", fmt.Errorf("note %q does not exist", key)
					}
					return fmt.Sprintf("[%s/%s] %s", note.Category, note.Confidence, note.Content), nil
				}
				category := schemas.NoteCategory(stringArg(args, "category"))
				keys := store.List(category)
				if len(keys) == 0 {
					return "no notes recorded", nil
				}
				var b strings.Builder
				for _, k := range keys {
					note, _ := store.Get(k)
					fmt.Fprintf(&b, "%s [%s/%s]: %s\n", k, note.Category, note.Confidence, note.Content)
				}
				return strings.TrimRight(b.String(), "\n"), nil
			},
		},
		{
			Name:        "delete_note",
			Description: "Delete a note by key.",
			Category:    "notes",
			Enabled:     true,
			Schema: schemas.ToolSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"key": map[string]interface{}{"type": "string", "description": "Note key to delete."},
				},
				Required: []string{"key"},
			},
			Execute: func(ctx context.Context, args map[string]interface{}, rt runtime.Runtime) (string, error) {
				key := stringArg(args, "key")
				if err := store.Delete(key); err != nil {
					return "", err
				}
				return "note " + key + " deleted", nil
			},
		},
		{
			Name:        "browser_action",
			Description: "Drive the attached browser session: navigate, read page content, interact with elements.",
			Category:    "execution",
			Enabled:     true,
			Schema: schemas.ToolSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"action": map[string]interface{}{"type": "string", "description": "Browser action name."},
					"args":   map[string]interface{}{"type": "object", "description": "Action arguments."},
				},
				Required: []string{"action"},
			},
			Execute: func(ctx context.Context, args map[string]interface{}, rt runtime.Runtime) (string, error) {
				actionArgs, _ := args["args"].(map[string]interface{})
				return rt.BrowserAction(ctx, stringArg(args, "action"), actionArgs)
			},
		},
		{
			Name:        "proxy_action",
			Description: "Drive the attached intercepting proxy: inspect, replay, or modify captured traffic.",
			Category:    "execution",
			Enabled:     true,
			Schema: schemas.ToolSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"action": map[string]interface{}{"type": "string", "description": "Proxy action name."},
					"args":   map[string]interface{}{"type": "object", "description": "Action arguments."},
				},
				Required: []string{"action"},
			},
			Execute: func(ctx context.Context, args map[string]interface{}, rt runtime.Runtime) (string, error) {
				actionArgs, _ := args["args"].(map[string]interface{})
				return rt.ProxyAction(ctx, stringArg(args, "action"), actionArgs)
			},
		},
	}

	for _, t := range builtins {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}
