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

// Package serializer writes query, status and report output.
//
// # Formats
//
// JSON:
//   - Indented, machine-parseable
//   - Field names follow the json struct tags
//
// YAML:
//   - Human-readable with preserved structure
//   - gopkg.in/yaml.v3
//
// Table:
//   - One FIELD/VALUE row per leaf, keys flattened with dots
//   - Nested slices are indexed as "[n]"
//   - Times are RFC 3339, durations use time.Duration.String and raw
//     byte slices are summarized by length
//
// # Usage
//
//	w := serializer.NewFileWriterOrStdout(serializer.FormatYAML, path)
//	defer w.Close()
//	if err := w.Serialize(ctx, record); err != nil {
//	    return err
//	}
//
// An empty path writes to stdout. Unknown formats fall back to JSON with a
// warning; use ParseFormat to reject them instead.
package serializer
