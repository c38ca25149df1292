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
	"maps"

	"k8s.io/apimachinery/pkg/util/sets"

	cnserrors "github.com/NVIDIA/cns-init/pkg/errors"
)

// DirectiveKey is the reserved top-level key through which a fragment
// declares additional appendable paths. It never appears in the merged tree.
const DirectiveKey = "appendable"

// Layer is one configuration fragment in precedence order.
type Layer struct {
	// Name identifies the layer in reports (e.g. "defaults", "user-data").
	Name string

	// Data is the fragment tree. It is never modified.
	Data map[string]any

	// Appendable declares additional appendable key paths for this and all
	// later layers, in addition to any DirectiveKey entry inside Data.
	Appendable []string
}

// Option configures a Builder.
type Option func(*Builder)

// WithTable replaces the default appendable table.
func WithTable(t Table) Option {
	return func(b *Builder) {
		b.table = t
	}
}

// Builder merges configuration layers.
type Builder struct {
	table Table
}

// NewBuilder returns a Builder using DefaultTable unless overridden.
func NewBuilder(opts ...Option) (*Builder, error) {
	b := &Builder{table: DefaultTable}
	for _, opt := range opts {
		opt(b)
	}
	if err := b.table.Validate(); err != nil {
		return nil, cnserrors.Wrap(cnserrors.ErrCodeInvalidRequest, "invalid merge table", err)
	}
	return b, nil
}

// Merge folds layers left to right into a new Config. Later layers win:
// scalars replace, mappings recurse, sequences replace unless their path is
// appendable, in which case the later items not already present in the
// earlier sequence are appended. Appendable declarations accumulate in
// layer order and apply from the declaring layer onwards.
func (b *Builder) Merge(layers ...Layer) (*Config, error) {
	return b.MergeInto(nil, layers...)
}

// MergeInto continues merging from a previously merged Config. Merging
// [A, B, C] gives the same tree as merging C into the result of [A, B].
// base is not modified.
func (b *Builder) MergeInto(base *Config, layers ...Layer) (*Config, error) {
	out := &Config{
		tree:       map[string]any{},
		appendable: sets.New(b.table.Paths...),
	}
	if base != nil {
		out.tree = copyMap(base.tree)
		out.appendable = out.appendable.Union(base.appendable)
		out.sources = append(out.sources, base.sources...)
	}

	for _, layer := range layers {
		data, declared, err := splitDirective(layer)
		if err != nil {
			return nil, err
		}
		out.appendable.Insert(declared...)
		mergeMaps(out.tree, data, "", out.appendable)
		out.sources = append(out.sources, layer.Name)
	}
	return out, nil
}

// splitDirective separates the appendable directive from the layer data.
// The returned map shares no mutable state with the layer.
func splitDirective(layer Layer) (map[string]any, []string, error) {
	declared := make([]string, 0, len(layer.Appendable))
	for _, p := range layer.Appendable {
		if err := validatePath(p); err != nil {
			return nil, nil, layerError(layer, err)
		}
		declared = append(declared, p)
	}

	raw, ok := layer.Data[DirectiveKey]
	if !ok {
		return layer.Data, declared, nil
	}

	paths, err := directivePaths(raw)
	if err != nil {
		return nil, nil, layerError(layer, err)
	}
	declared = append(declared, paths...)

	data := maps.Clone(layer.Data)
	delete(data, DirectiveKey)
	return data, declared, nil
}

func directivePaths(raw any) ([]string, error) {
	switch v := raw.(type) {
	case string:
		return []string{v}, validatePath(v)
	case []string:
		for _, p := range v {
			if err := validatePath(p); err != nil {
				return nil, err
			}
		}
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			p, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s entries must be strings, got %T", DirectiveKey, item)
			}
			if err := validatePath(p); err != nil {
				return nil, err
			}
			out = append(out, p)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s must be a list of key paths, got %T", DirectiveKey, raw)
	}
}

func layerError(layer Layer, err error) error {
	return cnserrors.WrapWithContext(cnserrors.ErrCodeInvalidRequest, "invalid config layer", err,
		map[string]any{"layer": layer.Name})
}

// mergeMaps merges src into dst. dst is owned by the builder; every value
// taken from src is deep-copied before it is stored.
func mergeMaps(dst, src map[string]any, prefix string, appendable sets.Set[string]) {
	for key, srcVal := range src {
		path := joinPath(prefix, key)
		srcVal = normalize(srcVal)

		dstVal, exists := dst[key]
		if !exists {
			dst[key] = srcVal
			continue
		}

		if dstMap, ok := dstVal.(map[string]any); ok {
			if srcMap, ok := srcVal.(map[string]any); ok {
				mergeMaps(dstMap, srcMap, path, appendable)
				continue
			}
		}

		if appendable.Has(path) {
			if dstSeq, ok := dstVal.([]any); ok {
				if srcSeq, ok := srcVal.([]any); ok {
					dst[key] = appendUnique(dstSeq, srcSeq)
					continue
				}
			}
		}

		dst[key] = srcVal
	}
}

// appendUnique appends the items of later that are not equal to any item of
// earlier. Duplicates inside a single layer are kept.
func appendUnique(earlier, later []any) []any {
	out := make([]any, len(earlier), len(earlier)+len(later))
	copy(out, earlier)
	for _, item := range later {
		if !containsEqual(earlier, item) {
			out = append(out, item)
		}
	}
	return out
}

func containsEqual(seq []any, v any) bool {
	for _, item := range seq {
		if Equal(item, v) {
			return true
		}
	}
	return false
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
