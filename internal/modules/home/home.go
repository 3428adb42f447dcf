// Package home controls smart home devices through the Home Assistant
// REST API.
//
// Device discovery flattens groups and resolves each entity's area via
// a template call, returning opaque device IDs of the form
// "home:device:<entity_id>". Control functions are hidden from the
// model until get_device_functions advertises the subset that matches
// the device type.
package home

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ankleBowl/LucyServer/internal/capability"
)

// settings is the per-user Home Assistant configuration.
type settings struct {
	HassURL     string `json:"hass_url"`
	HassToken   string `json:"hass_token"`
	DefaultRoom string `json:"default_room"`
}

// Module implements the home capability.
type Module struct {
	ctx        *capability.Context
	httpClient *http.Client
	cfg        settings
}

// New constructs the module.
func New() capability.Module {
	return &Module{httpClient: &http.Client{Timeout: 15 * time.Second}}
}

func (m *Module) Name() string { return "home" }

func (m *Module) Setup(c *capability.Context) error {
	m.ctx = c
	def := settings{DefaultRoom: "garage"}
	if err := c.Settings.Load("homeassistant", def, &m.cfg); err != nil {
		return fmt.Errorf("load homeassistant settings: %w", err)
	}
	return nil
}

func (m *Module) Functions() []capability.Function {
	return []capability.Function{
		{
			Name:        "get_devices",
			Description: "Searches for smart devices in the Home. room is the room to search in (e.g., 'living room'). You may use 'all' to search all rooms and 'default' to search the default room. If the user does not specify a room, use the default room.",
			Args:        []string{"room"},
			Handler:     m.handleGetDevices,
		},
		{
			Name:        "get_device_functions",
			Description: "Returns the available functions to control a specific device.",
			Args:        []string{"device_id"},
			Handler:     m.handleGetDeviceFunctions,
		},
		// Control functions are advertised per device type by
		// get_device_functions, not in the module documentation.
		{
			Name:        "turn_on_lights",
			Description: "Turns on a list of light devices.",
			Args:        []string{"device_ids"},
			Hidden:      true,
			Handler:     m.handleTurnOnLights,
		},
		{
			Name:        "turn_off_lights",
			Description: "Turns off a list of light devices.",
			Args:        []string{"device_ids"},
			Hidden:      true,
			Handler:     m.handleTurnOffLights,
		},
		{
			Name:        "set_lights",
			Description: "Sets the brightness percentage (0-100) and/or the color name (e.g., 'red', 'blue', 'default') of a list of light devices. You can optionally specify either brightness_pct or color_name or both.",
			Args:        []string{"device_ids", "brightness_pct", "color_name"},
			Hidden:      true,
			Handler:     m.handleSetLights,
		},
	}
}

// configured reports whether the user has wired up Home Assistant.
func (m *Module) configured() bool {
	return m.cfg.HassURL != "" && m.cfg.HassToken != ""
}

const notConfiguredMsg = "Home Assistant URL or token is not set. Ask the user to set it by modifying the configuration file."

// request performs one authenticated Home Assistant API call. A nil
// body means GET.
func (m *Module) request(ctx context.Context, endpoint string, body any) ([]byte, error) {
	method := http.MethodGet
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		method = http.MethodPost
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, m.cfg.HassURL+endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.cfg.HassToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("homeassistant request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("homeassistant returned %d for %s", resp.StatusCode, endpoint)
	}
	return data, nil
}

// entityState is one entry from /api/states.
type entityState struct {
	EntityID   string         `json:"entity_id"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

// device is one discovery result.
type device struct {
	ID    string `json:"id"`
	Room  string `json:"room"`
	Name  string `json:"name"`
	Type  string `json:"type"`
	State string `json:"state"`
}

func (m *Module) handleGetDevices(ctx context.Context, args map[string]any) (any, error) {
	if !m.configured() {
		return notConfiguredMsg, nil
	}
	room, _ := capability.StringArg(args, "room")
	if room == "" || strings.EqualFold(room, "default") {
		room = m.cfg.DefaultRoom
	}

	raw, err := m.request(ctx, "/states", nil)
	if err != nil {
		return nil, err
	}
	var states []entityState
	if err := json.Unmarshal(raw, &states); err != nil {
		return nil, fmt.Errorf("decode states: %w", err)
	}

	entities := make(map[string]entityState, len(states))
	for _, st := range states {
		entities[st.EntityID] = st
	}

	// Groups expose their members in attributes.entity_id; drop the
	// members so the model only sees the group.
	for _, st := range states {
		members, ok := st.Attributes["entity_id"].([]any)
		if !ok {
			continue
		}
		for _, member := range members {
			if id, ok := member.(string); ok {
				delete(entities, id)
			}
		}
	}

	ids := make([]string, 0, len(entities))
	for id := range entities {
		ids = append(ids, id)
	}
	areas, err := m.entityAreas(ctx, ids)
	if err != nil {
		return nil, err
	}

	var out []device
	seenRooms := make(map[string]struct{})
	for id, st := range entities {
		area := areas[id]
		if area == "" {
			continue
		}
		seenRooms[area] = struct{}{}
		if !strings.EqualFold(room, "all") && !strings.EqualFold(area, room) {
			continue
		}
		name := st.EntityID
		if fn, ok := st.Attributes["friendly_name"].(string); ok {
			name = fn
		}
		out = append(out, device{
			ID:    "home:device:" + st.EntityID,
			Room:  area,
			Name:  name,
			Type:  strings.SplitN(st.EntityID, ".", 2)[0],
			State: st.State,
		})
	}

	if len(out) == 0 {
		rooms := make([]string, 0, len(seenRooms))
		for r := range seenRooms {
			rooms = append(rooms, r)
		}
		return map[string]any{
			"error":       fmt.Sprintf("Room '%s' does not exist", room),
			"valid_rooms": rooms,
		}, nil
	}
	return map[string]any{"devices": out}, nil
}

// entityAreas resolves each entity's area name through the template
// API. The template renders a tuple of quoted names in input order.
func (m *Module) entityAreas(ctx context.Context, entityIDs []string) (map[string]string, error) {
	if len(entityIDs) == 0 {
		return map[string]string{}, nil
	}

	var tmpl strings.Builder
	tmpl.WriteString("{{ ")
	for i, id := range entityIDs {
		if i > 0 {
			tmpl.WriteString(", ")
		}
		fmt.Fprintf(&tmpl, "area_name('%s')", id)
	}
	tmpl.WriteString(" }}")

	raw, err := m.request(ctx, "/template", map[string]string{"template": tmpl.String()})
	if err != nil {
		return nil, err
	}

	text := strings.Trim(strings.TrimSpace(string(raw)), "()[]")
	parts := strings.Split(text, ", ")

	areas := make(map[string]string, len(entityIDs))
	for i, id := range entityIDs {
		if i >= len(parts) {
			break
		}
		name := strings.Trim(parts[i], "'\"")
		if name == "None" || name == "on" {
			name = ""
		}
		areas[id] = name
	}
	return areas, nil
}

func (m *Module) handleGetDeviceFunctions(ctx context.Context, args map[string]any) (any, error) {
	if !m.configured() {
		return notConfiguredMsg, nil
	}
	deviceID, _ := capability.StringArg(args, "device_id")
	deviceType, err := entityDomain(deviceID)
	if err != nil {
		return map[string]string{"error": err.Error()}, nil
	}

	if deviceType != "light" {
		return map[string]string{"error": fmt.Sprintf("Device type '%s' is not supported yet.", deviceType)}, nil
	}

	advertised := map[string]bool{"turn_on_lights": true, "turn_off_lights": true, "set_lights": true}
	var descriptors []capability.Descriptor
	for _, f := range m.Functions() {
		if advertised[f.Name] {
			descriptors = append(descriptors, capability.DescribeFunction(m.Name(), f))
		}
	}
	return map[string]any{"functions": descriptors}, nil
}

func (m *Module) handleTurnOnLights(ctx context.Context, args map[string]any) (any, error) {
	return m.triggerAll(ctx, args, "turn_on", nil)
}

func (m *Module) handleTurnOffLights(ctx context.Context, args map[string]any) (any, error) {
	return m.triggerAll(ctx, args, "turn_off", nil)
}

func (m *Module) handleSetLights(ctx context.Context, args map[string]any) (any, error) {
	data := map[string]any{}
	if pct, ok := capability.IntArg(args, "brightness_pct"); ok {
		data["brightness_pct"] = pct
	}
	if color, ok := capability.StringArg(args, "color_name"); ok && color != "" {
		data["color_name"] = color
	}
	if len(data) == 0 {
		return map[string]string{"error": "You must specify either brightness_pct or color_name or both."}, nil
	}
	return m.triggerAll(ctx, args, "turn_on", data)
}

// triggerAll calls a service for every device in the device_ids
// argument.
func (m *Module) triggerAll(ctx context.Context, args map[string]any, service string, extra map[string]any) (any, error) {
	if !m.configured() {
		return notConfiguredMsg, nil
	}
	rawIDs, ok := args["device_ids"].([]any)
	if !ok || len(rawIDs) == 0 {
		return map[string]string{"error": "device_ids is required."}, nil
	}

	for _, rawID := range rawIDs {
		deviceID, _ := rawID.(string)
		entityID, err := entityFromDeviceID(deviceID)
		if err != nil {
			return map[string]string{"error": err.Error()}, nil
		}
		domain, err := entityDomain(deviceID)
		if err != nil {
			return map[string]string{"error": err.Error()}, nil
		}

		body := map[string]any{"entity_id": entityID}
		for k, v := range extra {
			body[k] = v
		}
		if _, err := m.request(ctx, fmt.Sprintf("/services/%s/%s", domain, service), body); err != nil {
			return nil, err
		}
	}
	return map[string]string{"status": "success"}, nil
}

// entityFromDeviceID strips the "home:device:" prefix.
func entityFromDeviceID(deviceID string) (string, error) {
	parts := strings.Split(deviceID, ":")
	if len(parts) != 3 || parts[0] != "home" || parts[1] != "device" || parts[2] == "" {
		return "", fmt.Errorf("invalid device ID %q, expected 'home:device:<entity_id>'", deviceID)
	}
	return parts[2], nil
}

// entityDomain returns the Home Assistant domain of a device ID.
func entityDomain(deviceID string) (string, error) {
	entityID, err := entityFromDeviceID(deviceID)
	if err != nil {
		return "", err
	}
	return strings.SplitN(entityID, ".", 2)[0], nil
}
