package loader

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/kernelworks/skillkern/internal/manifest"
)

// minimalSchema is the fallback when no better schema can be produced.
// Schema generation degrades, it never fails a tools/list response.
var minimalSchema = json.RawMessage(`{"type":"object"}`)

// reservedParams never appear in a generated schema: they are filled by
// the kernel, not the caller.
var reservedParams = map[string]bool{
	"self":         true,
	"context":      true,
	"project_root": true,
}

// Schema returns the input schema for a command. In-process commands
// with a struct argument are reflected; everything else falls back to
// the manifest's explicit parameter descriptors, then to the minimal
// object schema.
func (l *Loader) Schema(record *manifest.ToolRecord) json.RawMessage {
	if record.Mode == manifest.ModeInProcess {
		if h, err := l.Handler(record); err == nil {
			if s := h.inputSchema(); s != nil {
				return s
			}
		} else {
			l.logger.Debug("schema reflection unavailable", "tool", record.FQName, "error", err)
		}
	}
	if s := schemaFromParams(record.Params); s != nil {
		return s
	}
	return minimalSchema
}

// ListSchema is the listing-time variant of Schema: it reflects only
// skills that are already loaded and never forces a load, so listing
// tools stays cheap regardless of how many skills are installed.
func (l *Loader) ListSchema(record *manifest.ToolRecord) json.RawMessage {
	if record.Mode == manifest.ModeInProcess && l.Loaded(record.Skill) {
		return l.Schema(record)
	}
	if s := schemaFromParams(record.Params); s != nil {
		return s
	}
	return minimalSchema
}

// inputSchema lazily reflects the handler's argument struct. Returns
// nil when the handler has no struct argument (map handlers use the
// declared descriptors instead).
func (h *Handler) inputSchema() json.RawMessage {
	h.schemaOnce.Do(h.buildSchema)
	return h.schema
}

// schemaDefaults returns default values to merge into missing call
// arguments, keyed by property name.
func (h *Handler) schemaDefaults() map[string]any {
	h.schemaOnce.Do(h.buildSchema)
	if h.defaults != nil {
		return h.defaults
	}
	defaults := make(map[string]any)
	for _, p := range h.record.Params {
		if p.Default != nil {
			defaults[p.Name] = p.Default
		}
	}
	return defaults
}

func (h *Handler) buildSchema() {
	if h.argType == nil {
		return
	}

	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	s := reflector.ReflectFromType(h.argType)
	if s == nil || s.Properties == nil {
		return
	}

	defaults := make(map[string]any)
	var drop []string
	for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
		if reservedParams[pair.Key] {
			drop = append(drop, pair.Key)
			continue
		}
		if pair.Value != nil && pair.Value.Default != nil {
			defaults[pair.Key] = pair.Value.Default
		}
	}
	for _, key := range drop {
		s.Properties.Delete(key)
	}

	pointerFields := make(map[string]bool)
	for i := 0; i < h.argType.NumField(); i++ {
		f := h.argType.Field(i)
		if f.Type.Kind() != reflect.Ptr {
			continue
		}
		name := f.Name
		if tag, ok := f.Tag.Lookup("json"); ok {
			if before, _, _ := strings.Cut(tag, ","); before != "" && before != "-" {
				name = before
			}
		}
		pointerFields[name] = true
	}

	// A property with a default or a pointer type is optional;
	// reserved names are gone.
	required := s.Required[:0]
	for _, name := range s.Required {
		if reservedParams[name] {
			continue
		}
		if _, hasDefault := defaults[name]; hasDefault {
			continue
		}
		if pointerFields[name] {
			continue
		}
		required = append(required, name)
	}
	s.Required = required

	data, err := json.Marshal(s)
	if err != nil {
		return
	}
	h.schema = data
	h.defaults = defaults
}

// schemaFromParams builds a schema from explicit parameter descriptors.
func schemaFromParams(params []manifest.ParamDef) json.RawMessage {
	if len(params) == 0 {
		return nil
	}

	type property struct {
		Type        string `json:"type"`
		Description string `json:"description,omitempty"`
		Default     any    `json:"default,omitempty"`
	}
	properties := make(map[string]property, len(params))
	var required []string
	for _, p := range params {
		typ := p.Type
		if typ == "" {
			typ = "string"
		}
		properties[p.Name] = property{
			Type:        typ,
			Description: p.Description,
			Default:     p.Default,
		}
		if p.Required && p.Default == nil {
			required = append(required, p.Name)
		}
	}

	doc := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil
	}
	return data
}
