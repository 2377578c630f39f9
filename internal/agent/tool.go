package agent

import (
	"context"
	"encoding/json"
	"regexp"

	"github.com/invopop/jsonschema"
	validator "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/relaychat/relay/pkg/models"
)

// toolNamePattern matches the wire-safe identifier a tool name must be:
// letters, digits, and underscores, at most 64 characters.
var toolNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,64}$`)

// ToolExecutor maps a tool call's raw JSON arguments to a result string. It
// may suspend (perform I/O); a panic or returned error is caught by the
// Scope and turned into Tool-role error text rather than aborting the
// Re-Act loop.
type ToolExecutor func(ctx context.Context, argumentsJSON string) (string, error)

type registeredTool struct {
	def  models.ToolDefinition
	exec ToolExecutor
}

// RegisterTool adds a tool the model may call during this scope's Re-Act
// loop. parameters must be a valid JSON-schema value describing the tool's
// arguments; registration fails with an argument error on an invalid
// schema rather than deferring the failure to dispatch time.
func (s *Scope) RegisterTool(name, description string, parameters json.RawMessage, exec ToolExecutor) error {
	if !toolNamePattern.MatchString(name) {
		return models.NewError(models.ErrArgument, "tool name must be letters, digits, or underscores, up to 64 characters: '"+name+"'", nil)
	}
	if _, err := validator.CompileString(name+".schema.json", string(parameters)); err != nil {
		return models.NewError(models.ErrArgument, "invalid tool parameter schema for '"+name+"'", err)
	}

	s.tools[name] = registeredTool{
		def:  models.ToolDefinition{Name: name, Description: description, Parameters: parameters},
		exec: exec,
	}
	return nil
}

// RegisterStructTool is a convenience over RegisterTool that derives the
// parameter schema from T via reflection instead of requiring a hand-written
// JSON-schema literal, and decodes arguments into T before calling exec.
func RegisterStructTool[T any](s *Scope, name, description string, exec func(ctx context.Context, args T) (string, error)) error {
	reflector := &jsonschema.Reflector{
		ExpandedStruct:            true,
		AllowAdditionalProperties: true,
	}
	schema := reflector.Reflect(new(T))
	raw, err := json.Marshal(schema)
	if err != nil {
		return models.NewError(models.ErrArgument, "reflecting tool parameter schema for '"+name+"'", err)
	}

	return s.RegisterTool(name, description, raw, func(ctx context.Context, argumentsJSON string) (string, error) {
		var args T
		if err := json.Unmarshal([]byte(argumentsJSON), &args); err != nil {
			return "", models.NewError(models.ErrArgument, "decoding arguments for tool '"+name+"'", err)
		}
		return exec(ctx, args)
	})
}
