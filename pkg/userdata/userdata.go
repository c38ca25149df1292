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

package userdata

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	cnserrors "github.com/NVIDIA/cns-init/pkg/errors"
	"github.com/NVIDIA/cns-init/pkg/merge"
)

// PartType classifies a user-data part.
type PartType string

const (
	TypeCloudConfig PartType = "text/cloud-config"
	TypeScript      PartType = "text/x-shellscript"
	TypeBoothook    PartType = "text/cloud-boothook"
	TypeInclude     PartType = "text/x-include-url"
	TypeMultipart   PartType = "multipart/mixed"
	TypeUnknown     PartType = "text/plain"
)

// Start markers recognised at the beginning of a part.
var starts = []struct {
	prefix string
	typ    PartType
}{
	{"#cloud-config", TypeCloudConfig},
	{"#cloud-boothook", TypeBoothook},
	{"#include", TypeInclude},
	{"#!", TypeScript},
}

// MaxSize bounds decompressed user-data.
const MaxSize = 16 << 20

// Part is one decoded piece of user-data.
type Part struct {
	Name    string   `json:"name" yaml:"name"`
	Type    PartType `json:"type" yaml:"type"`
	Content []byte   `json:"-" yaml:"-"`
}

// Data is user-data split into its consumable pieces.
type Data struct {
	// Configs are the cloud-config fragments in document order.
	Configs []merge.Layer

	Scripts   []Part
	Boothooks []Part

	// Ignored lists parts that were not understood.
	Ignored []Part
}

// Empty reports whether nothing usable was found.
func (d *Data) Empty() bool {
	return len(d.Configs) == 0 && len(d.Scripts) == 0 && len(d.Boothooks) == 0
}

// Parse decodes a raw user-data or vendor-data blob. source names the blob
// in layer names ("user-data", "vendor-data"). gzip compression and MIME
// multipart documents are unpacked. Malformed cloud-config parts are
// skipped with a warning; only undecodable containers return an error.
func Parse(source string, raw []byte) (*Data, error) {
	d := &Data{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return d, nil
	}

	raw, err := decompress(raw)
	if err != nil {
		return nil, cnserrors.WrapWithContext(cnserrors.ErrCodeInvalidRequest, "failed to decompress", err,
			map[string]any{"source": source})
	}

	p := &parser{source: source, data: d}
	if err := p.walk(source, raw, ""); err != nil {
		return nil, cnserrors.WrapWithContext(cnserrors.ErrCodeInvalidRequest, "failed to parse", err,
			map[string]any{"source": source})
	}
	return d, nil
}

type parser struct {
	source string
	data   *Data
	index  int
}

func (p *parser) walk(name string, content []byte, declared string) error {
	if isMIME(content) {
		return p.walkMIME(content)
	}

	typ := classify(content, declared)
	part := Part{Name: name, Type: typ, Content: content}
	switch typ {
	case TypeCloudConfig:
		cfg, err := decodeCloudConfig(content)
		if err != nil {
			slog.Warn("skipping malformed cloud-config", "source", p.source, "part", name, "error", err)
			p.data.Ignored = append(p.data.Ignored, part)
			return nil
		}
		p.index++
		p.data.Configs = append(p.data.Configs, merge.Layer{
			Name: fmt.Sprintf("%s[%d]", p.source, p.index-1),
			Data: cfg,
		})
	case TypeScript:
		p.data.Scripts = append(p.data.Scripts, part)
	case TypeBoothook:
		p.data.Boothooks = append(p.data.Boothooks, part)
	default:
		slog.Warn("ignoring unsupported user-data part", "source", p.source, "part", name, "type", typ)
		p.data.Ignored = append(p.data.Ignored, part)
	}
	return nil
}

func (p *parser) walkMIME(content []byte) error {
	msg, err := mail.ReadMessage(bytes.NewReader(content))
	if err != nil {
		return fmt.Errorf("invalid MIME document: %w", err)
	}
	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	if err != nil {
		return fmt.Errorf("invalid Content-Type: %w", err)
	}

	if !strings.HasPrefix(mediaType, "multipart/") {
		body, err := readBody(msg.Body, msg.Header.Get("Content-Transfer-Encoding"))
		if err != nil {
			return err
		}
		return p.walk(p.source, body, mediaType)
	}

	mr := multipart.NewReader(msg.Body, params["boundary"])
	for i := 0; ; i++ {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("invalid multipart section: %w", err)
		}
		body, err := readBody(part, part.Header.Get("Content-Transfer-Encoding"))
		if err != nil {
			return err
		}
		name := part.FileName()
		if name == "" {
			name = fmt.Sprintf("part-%03d", i+1)
		}
		partType, _, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if strings.HasPrefix(partType, "multipart/") {
			// Nested containers keep their own headers.
			var buf bytes.Buffer
			fmt.Fprintf(&buf, "Content-Type: %s\r\n\r\n", part.Header.Get("Content-Type"))
			buf.Write(body)
			if err := p.walkMIME(buf.Bytes()); err != nil {
				return err
			}
			continue
		}
		if err := p.walk(name, body, partType); err != nil {
			return err
		}
	}
}

func readBody(r io.Reader, encoding string) ([]byte, error) {
	var body []byte
	var err error
	if strings.EqualFold(strings.TrimSpace(encoding), "base64") {
		body, err = io.ReadAll(io.LimitReader(base64.NewDecoder(base64.StdEncoding, r), MaxSize+1))
	} else {
		body, err = io.ReadAll(io.LimitReader(r, MaxSize+1))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read part: %w", err)
	}
	if len(body) > MaxSize {
		return nil, fmt.Errorf("part exceeds %d bytes", MaxSize)
	}
	return body, nil
}

// classify detects the part type from its first line, falling back to the
// declared MIME type.
func classify(content []byte, declared string) PartType {
	trimmed := bytes.TrimLeft(content, " \t\r\n")
	for _, s := range starts {
		if bytes.HasPrefix(trimmed, []byte(s.prefix)) {
			return s.typ
		}
	}
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return TypeCloudConfig
	}
	switch PartType(declared) {
	case TypeCloudConfig, TypeScript, TypeBoothook, TypeInclude:
		return PartType(declared)
	case "text/cloud-config-jsonp", "application/json":
		return TypeCloudConfig
	}
	return TypeUnknown
}

func decodeCloudConfig(content []byte) (map[string]any, error) {
	trimmed := bytes.TrimSpace(content)
	out := map[string]any{}
	if len(trimmed) > 0 && trimmed[0] == '{' {
		if err := json.Unmarshal(jsonc.ToJSON(trimmed), &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	if err := yaml.Unmarshal(trimmed, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func isMIME(content []byte) bool {
	sc := bufio.NewScanner(bytes.NewReader(content))
	if !sc.Scan() {
		return false
	}
	first := strings.ToLower(sc.Text())
	return strings.HasPrefix(first, "content-type:") || strings.HasPrefix(first, "mime-version:")
}

var gzipMagic = []byte{0x1f, 0x8b}

func decompress(raw []byte) ([]byte, error) {
	if !bytes.HasPrefix(raw, gzipMagic) {
		return raw, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	out, err := io.ReadAll(io.LimitReader(zr, MaxSize+1))
	if err != nil {
		return nil, err
	}
	if len(out) > MaxSize {
		return nil, fmt.Errorf("decompressed user-data exceeds %d bytes", MaxSize)
	}
	return out, nil
}
