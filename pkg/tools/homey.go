package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/praxisworks/praxis/pkg/config"
	"github.com/praxisworks/praxis/pkg/httpclient"
)

// HomeyTool controls smart home devices through a Homey bridge API.
type HomeyTool struct {
	cfg        *config.ToolConfig
	httpClient *httpclient.Client
}

type homeyArgs struct {
	Action     string `json:"action" jsonschema:"required,enum=control_device,enum=get_device,enum=list_devices,description=Operation to perform"`
	DeviceName string `json:"device_name,omitempty" jsonschema:"description=Human name of the device"`
	Capability string `json:"capability,omitempty" jsonschema:"description=Capability to set (e.g. onoff, dim)"`
	Value      any    `json:"value,omitempty" jsonschema:"description=Capability value"`
}

func NewHomeyTool(cfg *config.ToolConfig) *HomeyTool {
	hc := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout()}),
		httpclient.WithMaxRetries(cfg.MaxRetries),
	)
	return &HomeyTool{cfg: cfg, httpClient: hc}
}

func (t *HomeyTool) Info() ToolInfo {
	return ToolInfo{
		Name:         "homey",
		Description:  "Control smart home devices: switch, dim, or query them by name.",
		Parameters:   SchemaFor(&homeyArgs{}),
		ActivityHint: "Controlling {device_name}",
	}
}

func (t *HomeyTool) Execute(ctx context.Context, args map[string]any, _ *Ambient) (string, error) {
	action, _ := args["action"].(string)
	if action == "" {
		return ErrorResult("action parameter is required"), nil
	}
	if t.cfg.BaseURL == "" {
		return ErrorResult("homey is not configured: base_url is missing"), nil
	}

	headers := map[string]string{}
	if t.cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + t.cfg.APIKey
	}

	switch action {
	case "list_devices":
		data, err := t.get(ctx, "/api/devices", headers)
		if err != nil {
			return ErrorResult("failed to list devices: %v", err), nil
		}
		return data, nil

	case "get_device":
		name, _ := args["device_name"].(string)
		if name == "" {
			return ErrorResult("device_name is required for get_device"), nil
		}
		data, err := t.get(ctx, "/api/devices?name="+name, headers)
		if err != nil {
			return ErrorResult("failed to read device %q: %v", name, err), nil
		}
		return data, nil

	case "control_device":
		name, _ := args["device_name"].(string)
		capability, _ := args["capability"].(string)
		if name == "" || capability == "" {
			return ErrorResult("device_name and capability are required for control_device"), nil
		}
		payload := map[string]any{
			"device":     name,
			"capability": capability,
			"value":      args["value"],
		}
		if _, err := t.httpClient.PostJSON(ctx, t.cfg.BaseURL+"/api/devices/control", headers, payload); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return ErrorResult("failed to control %q: %v", name, err), nil
		}
		return fmt.Sprintf("Set %s %s=%v", name, capability, args["value"]), nil

	default:
		return ErrorResult("unknown action %q", action), nil
	}
}

func (t *HomeyTool) get(ctx context.Context, path string, headers map[string]string) (string, error) {
	resp, err := t.httpClient.Do(ctx, http.MethodGet, t.cfg.BaseURL+path, headers, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	var payload any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	pretty, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", err
	}
	return string(pretty), nil
}
