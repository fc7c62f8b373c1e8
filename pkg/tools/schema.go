package tools

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// Ambient-injectable parameter names. A tool whose schema declares one of
// these receives the ambient value when the argument is absent.
const (
	ParamWorkDir    = "cwd"
	ParamUserEmail  = "user_email"
	ParamOAuthToken = "oauth_token"
)

// SchemaFor derives a JSON-Schema parameter map from a typed args struct.
// Native tools declare their arguments as structs; MCP tools carry the raw
// schema their server advertises.
func SchemaFor(v any) map[string]any {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(v)

	raw, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"type": "object"}
	}
	delete(out, "$schema")
	return out
}

// schemaProperties returns the property names a parameter schema declares.
func schemaProperties(parameters map[string]any) map[string]bool {
	out := map[string]bool{}
	props, ok := parameters["properties"].(map[string]any)
	if !ok {
		return out
	}
	for name := range props {
		out[name] = true
	}
	return out
}

// InjectAmbient merges ambient values into a copy of args for every
// parameter the schema declares and the caller did not supply.
func InjectAmbient(info ToolInfo, args map[string]any, ambient *Ambient) map[string]any {
	if ambient == nil {
		return args
	}
	props := schemaProperties(info.Parameters)
	if len(props) == 0 {
		return args
	}

	merged := make(map[string]any, len(args)+3)
	for k, v := range args {
		merged[k] = v
	}
	if props[ParamWorkDir] && merged[ParamWorkDir] == nil && ambient.WorkDir != "" {
		merged[ParamWorkDir] = ambient.WorkDir
	}
	if props[ParamUserEmail] && merged[ParamUserEmail] == nil && ambient.UserEmail != "" {
		merged[ParamUserEmail] = ambient.UserEmail
	}
	if props[ParamOAuthToken] && merged[ParamOAuthToken] == nil && ambient.OAuthToken != nil {
		// Resolution is deferred to the tool via the ambient accessor; only
		// the marker that a token is available is injected here.
		merged[ParamOAuthToken] = true
	}
	return merged
}
