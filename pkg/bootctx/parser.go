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

package bootctx

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ParserOption configures a Parser.
type ParserOption func(*Parser)

// Parser splits small system files (kernel command line, os-release, DMI
// attributes) into entries and key/value pairs.
type Parser struct {
	delimiter       string
	maxSize         int
	skipComments    bool
	kvDelimiter     string
	vTrimChars      string
	skipEmptyValues bool
}

// WithDelimiter sets the delimiter used to split entries.
// A single space switches to whitespace splitting that keeps double-quoted
// runs together, as the kernel does for its command line.
func WithDelimiter(delim string) ParserOption {
	return func(p *Parser) {
		p.delimiter = delim
	}
}

// WithMaxSize sets the maximum accepted content size in bytes. Default is 64KB.
func WithMaxSize(size int) ParserOption {
	return func(p *Parser) {
		p.maxSize = size
	}
}

// WithSkipComments sets whether entries starting with '#' are dropped.
func WithSkipComments(skip bool) ParserOption {
	return func(p *Parser) {
		p.skipComments = skip
	}
}

// WithKVDelimiter sets the key/value delimiter used by Map. Default is "=".
func WithKVDelimiter(kvDelim string) ParserOption {
	return func(p *Parser) {
		p.kvDelimiter = kvDelim
	}
}

// WithVTrimChars sets characters trimmed from both ends of values.
func WithVTrimChars(trimChars string) ParserOption {
	return func(p *Parser) {
		p.vTrimChars = trimChars
	}
}

// WithSkipEmptyValues drops keys whose value is empty after trimming.
func WithSkipEmptyValues(skip bool) ParserOption {
	return func(p *Parser) {
		p.skipEmptyValues = skip
	}
}

// NewParser creates a parser with newline delimiter, "=" key/value
// delimiter, comment skipping and a 64KB size limit.
func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{
		delimiter:    "\n",
		maxSize:      64 << 10,
		skipComments: true,
		kvDelimiter:  "=",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ReadEntries reads path and splits it into non-empty entries.
func (p *Parser) ReadEntries(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %q: %w", path, err)
	}

	return p.Entries(b)
}

// ReadMap reads path and parses it into key/value pairs.
func (p *Parser) ReadMap(path string) (map[string]string, error) {
	entries, err := p.ReadEntries(path)
	if err != nil {
		return nil, err
	}
	return p.Map(entries), nil
}

// Entries splits content into non-empty entries.
func (p *Parser) Entries(b []byte) ([]string, error) {
	if !utf8.Valid(b) {
		return nil, fmt.Errorf("content is not valid UTF-8")
	}
	if len(b) > p.maxSize {
		return nil, fmt.Errorf("content exceeds maximum size of %d bytes", p.maxSize)
	}

	var parts []string
	if p.delimiter == " " {
		parts = splitQuoted(string(b))
	} else {
		parts = strings.Split(string(b), p.delimiter)
	}

	result := make([]string, 0, len(parts))
	for _, part := range parts {
		clean := strings.TrimSpace(part)
		if clean == "" {
			continue
		}
		if p.skipComments && strings.HasPrefix(clean, "#") {
			continue
		}
		result = append(result, clean)
	}
	return result, nil
}

// Map converts entries to key/value pairs. Entries without a delimiter map
// to an empty value. Later keys win.
func (p *Parser) Map(entries []string) map[string]string {
	result := make(map[string]string, len(entries))
	for _, entry := range entries {
		key, value, found := strings.Cut(entry, p.kvDelimiter)
		key = strings.TrimSpace(key)
		if !found {
			if p.skipEmptyValues {
				continue
			}
			result[key] = ""
			continue
		}

		value = strings.TrimSpace(value)
		if p.vTrimChars != "" {
			value = strings.Trim(value, p.vTrimChars)
		}
		if p.skipEmptyValues && value == "" {
			slog.Debug("skipping entry with empty value", "key", key)
			continue
		}
		result[key] = value
	}
	return result
}

// splitQuoted splits on whitespace outside double quotes and drops the quotes.
func splitQuoted(s string) []string {
	var (
		fields  []string
		cur     strings.Builder
		inQuote bool
		started bool
	)
	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
			started = true
		case unicode.IsSpace(r) && !inQuote:
			if started {
				fields = append(fields, cur.String())
				cur.Reset()
				started = false
			}
		default:
			cur.WriteRune(r)
			started = true
		}
	}
	if started {
		fields = append(fields, cur.String())
	}
	return fields
}
