// Copyright (c) 2025, NVIDIA CORPORATION.  All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package merge

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
	"k8s.io/apimachinery/pkg/util/sets"
)

// Config is the merged configuration tree consumed by modules.
// It is immutable: accessors return copies.
type Config struct {
	tree       map[string]any
	appendable sets.Set[string]
	sources    []string
}

// Empty returns a Config with no keys.
func Empty() *Config {
	return &Config{tree: map[string]any{}, appendable: sets.New[string]()}
}

// Tree returns a deep copy of the merged tree.
func (c *Config) Tree() map[string]any {
	return copyMap(c.tree)
}

// Sources lists the merged layer names in precedence order.
func (c *Config) Sources() []string {
	return append([]string(nil), c.sources...)
}

// Appendable returns the sorted set of appendable key paths in effect.
func (c *Config) Appendable() []string {
	return sets.List(c.appendable)
}

// Layer exposes the merged result as a single layer that carries its
// accumulated appendable declarations.
func (c *Config) Layer(name string) Layer {
	return Layer{Name: name, Data: c.Tree(), Appendable: c.Appendable()}
}

// Get returns the value at a dotted key path.
func (c *Config) Get(path string) (any, bool) {
	var cur any = c.tree
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return normalize(cur), true
}

// Has reports whether path is set.
func (c *Config) Has(path string) bool {
	_, ok := c.Get(path)
	return ok
}

// String returns the value at path formatted as a string, or "" when unset.
func (c *Config) String(path string) string {
	v, ok := c.Get(path)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Bool returns the boolean at path, or def when unset or not a boolean.
func (c *Config) Bool(path string, def bool) bool {
	v, ok := c.Get(path)
	if !ok {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		switch strings.ToLower(b) {
		case "true", "yes", "on", "1":
			return true
		case "false", "no", "off", "0":
			return false
		}
	}
	return def
}

// Strings returns the sequence at path as strings. A scalar string is
// returned as a single element list.
func (c *Config) Strings(path string) []string {
	v, ok := c.Get(path)
	if !ok || v == nil {
		return nil
	}
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case string:
		return []string{t}
	default:
		return []string{fmt.Sprint(t)}
	}
}

// Map returns the mapping at path, or nil.
func (c *Config) Map(path string) map[string]any {
	v, _ := c.Get(path)
	m, _ := v.(map[string]any)
	return m
}

// Slice returns the sequence at path, or nil.
func (c *Config) Slice(path string) []any {
	v, _ := c.Get(path)
	s, _ := v.([]any)
	return s
}

// Decode unmarshals the value at path into out using YAML field tags.
// An unset path leaves out untouched.
func (c *Config) Decode(path string, out any) error {
	v, ok := c.Get(path)
	if !ok {
		return nil
	}
	b, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}
