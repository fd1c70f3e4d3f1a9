package permission

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Source yields a complete policy set, typically from outside the process.
type Source interface {
	Load(ctx context.Context) (PolicySet, error)
}

// SourceFunc adapts a function to [Source].
type SourceFunc func(ctx context.Context) (PolicySet, error)

func (f SourceFunc) Load(ctx context.Context) (PolicySet, error) { return f(ctx) }

// FileSource reads a policy set from a YAML or JSON file. The format is
// chosen by extension; anything other than .json is parsed as YAML.
type FileSource struct {
	Path string
}

func (s FileSource) Load(ctx context.Context) (PolicySet, error) {
	if err := ctx.Err(); err != nil {
		return PolicySet{}, err
	}

	raw, err := os.ReadFile(s.Path)
	if err != nil {
		return PolicySet{}, fmt.Errorf("policy: read %s: %w", s.Path, err)
	}

	if strings.EqualFold(filepath.Ext(s.Path), ".json") {
		return ParseJSON(raw)
	}
	return ParseYAML(raw)
}

// ParseYAML decodes a policy set, rejecting unknown fields.
func ParseYAML(raw []byte) (PolicySet, error) {
	var set PolicySet
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&set); err != nil {
		return PolicySet{}, fmt.Errorf("policy: decode yaml: %w", err)
	}
	return set, set.Validate()
}

// ParseJSON decodes a policy set, rejecting unknown fields.
func ParseJSON(raw []byte) (PolicySet, error) {
	var set PolicySet
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&set); err != nil {
		return PolicySet{}, fmt.Errorf("policy: decode json: %w", err)
	}
	return set, set.Validate()
}
