// Package definition loads declarative workflow definitions from YAML
// files and turns them into submit requests. A definition names the
// workflow and lists its steps with optional dependencies and payloads.
package definition

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"FlowChain/internal/workflow"
)

// Definition is the on-disk shape of a workflow definition.
//
//	name: nightly-report
//	steps:
//	  - step: 1
//	    type: polygon_area
//	    payload:
//	      points: [[0, 0], [4, 0], [4, 3]]
//	  - step: 2
//	    type: report
//	    depends_on: 1
//	    payload:
//	      title: Area summary
type Definition struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Step is a single entry in a definition's step list.
type Step struct {
	Step      int            `yaml:"step"`
	Type      string         `yaml:"type"`
	DependsOn *int           `yaml:"depends_on"`
	Payload   map[string]any `yaml:"payload"`
}

// Parse decodes a single YAML document into a submit request. Structural
// validation (unique steps, resolvable dependencies) happens at submit
// time; Parse only rejects documents that are not well-formed.
func Parse(data []byte) (workflow.SubmitRequest, error) {
	var def Definition
	decoder := yaml.NewDecoder(strings.NewReader(string(data)))
	decoder.KnownFields(true)
	if err := decoder.Decode(&def); err != nil {
		return workflow.SubmitRequest{}, fmt.Errorf("decode workflow definition: %w", err)
	}
	if strings.TrimSpace(def.Name) == "" {
		return workflow.SubmitRequest{}, fmt.Errorf("workflow definition is missing a name")
	}
	if len(def.Steps) == 0 {
		return workflow.SubmitRequest{}, fmt.Errorf("workflow definition %q has no steps", def.Name)
	}

	req := workflow.SubmitRequest{Name: strings.TrimSpace(def.Name)}
	for _, step := range def.Steps {
		req.Steps = append(req.Steps, workflow.Step{
			StepNumber: step.Step,
			TaskType:   strings.TrimSpace(step.Type),
			DependsOn:  step.DependsOn,
			Payload:    normalizePayload(step.Payload),
		})
	}
	return req, nil
}

// LoadFile reads and parses one definition file.
func LoadFile(path string) (workflow.SubmitRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return workflow.SubmitRequest{}, fmt.Errorf("read workflow definition %s: %w", path, err)
	}
	req, err := Parse(data)
	if err != nil {
		return workflow.SubmitRequest{}, fmt.Errorf("%s: %w", path, err)
	}
	return req, nil
}

// LoadDir parses every .yaml/.yml file in dir, sorted by file name so
// repeated loads submit in a stable order.
func LoadDir(dir string) ([]workflow.SubmitRequest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read definitions directory %s: %w", dir, err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml":
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(paths)

	requests := make([]workflow.SubmitRequest, 0, len(paths))
	for _, path := range paths {
		req, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, nil
}

// normalizePayload converts YAML mapping values into the map[string]any
// shape the rest of the engine expects. yaml.v3 produces string keys for
// top-level mappings; nested values may still carry map[any]any.
func normalizePayload(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch value := v.(type) {
	case map[string]any:
		return normalizePayload(value)
	case map[any]any:
		out := make(map[string]any, len(value))
		for k, item := range value {
			out[fmt.Sprint(k)] = normalizeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = normalizeValue(item)
		}
		return out
	default:
		return v
	}
}
