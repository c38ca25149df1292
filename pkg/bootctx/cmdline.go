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
	"log/slog"
	"strings"

	"gopkg.in/yaml.v3"
)

// Datasource hint option keys. Short aliases accepted on the command line
// are expanded to these names.
const (
	OptSeedFrom      = "seedfrom"
	OptInstanceID    = "instance-id"
	OptLocalHostname = "local-hostname"
)

var hintAliases = map[string]string{
	"s": OptSeedFrom,
	"i": OptInstanceID,
	"h": OptLocalHostname,
}

const (
	ccBegin = "cc:"
	ccEnd   = "end_cc"
)

// Hints carries operator and hardware hints about the running platform.
type Hints struct {
	// Datasource is the name requested via ds=, ci.ds= or the SMBIOS serial.
	Datasource string `json:"datasource,omitempty" yaml:"datasource,omitempty"`

	// Options are the ';' separated settings following the datasource name.
	Options map[string]string `json:"options,omitempty" yaml:"options,omitempty"`

	// Platform is derived from DMI when the hardware identifies itself.
	Platform string `json:"platform,omitempty" yaml:"platform,omitempty"`
}

// Requested reports whether the operator asked for the named datasource.
func (h Hints) Requested(name string) bool {
	return h.Datasource != "" && strings.EqualFold(h.Datasource, name)
}

func parseArgs(cmdline string) map[string]string {
	entries, err := NewParser(WithDelimiter(" "), WithSkipComments(false)).Entries([]byte(cmdline))
	if err != nil {
		slog.Debug("unparseable kernel command line", "error", err)
		return map[string]string{}
	}
	return NewParser().Map(entries)
}

func parseHints(args map[string]string, dmi DMI) Hints {
	h := Hints{
		Options:  map[string]string{},
		Platform: detectPlatform(dmi),
	}

	switch {
	case args["ds"] != "":
		h.Datasource, h.Options = parseDatasourceSpec(args["ds"])
	case args["ci.ds"] != "":
		h.Datasource = args["ci.ds"]
	case args["ci.datasource"] != "":
		h.Datasource = args["ci.datasource"]
	case strings.HasPrefix(dmi.ProductSerial, "ds="):
		h.Datasource, h.Options = parseDatasourceSpec(strings.TrimPrefix(dmi.ProductSerial, "ds="))
	}
	return h
}

// parseDatasourceSpec splits "nocloud;s=http://10.0.0.1/;h=node1".
func parseDatasourceSpec(spec string) (string, map[string]string) {
	parts := strings.Split(spec, ";")
	opts := make(map[string]string, len(parts)-1)
	for _, part := range parts[1:] {
		k, v, _ := strings.Cut(part, "=")
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if long, ok := hintAliases[k]; ok {
			k = long
		}
		opts[k] = strings.TrimSpace(v)
	}
	return strings.TrimSpace(parts[0]), opts
}

// parseCmdlineConfig extracts every "cc: ... end_cc" section, joins them with
// newlines and decodes the result as YAML. A literal "\n" becomes a newline
// because the kernel command line cannot carry one.
func parseCmdlineConfig(cmdline string) map[string]any {
	var sections []string
	rest := cmdline
	for {
		begin := indexToken(rest, ccBegin)
		if begin < 0 {
			break
		}
		rest = rest[begin+len(ccBegin):]
		end := indexToken(rest, ccEnd)
		if end < 0 {
			sections = append(sections, strings.TrimSpace(rest))
			break
		}
		sections = append(sections, strings.TrimSpace(rest[:end]))
		rest = rest[end+len(ccEnd):]
	}
	if len(sections) == 0 {
		return nil
	}

	text := strings.ReplaceAll(strings.Join(sections, "\n"), `\n`, "\n")
	cfg := map[string]any{}
	if err := yaml.Unmarshal([]byte(text), &cfg); err != nil {
		slog.Warn("ignoring invalid command line config", "error", err)
		return nil
	}
	return cfg
}

// indexToken finds tok at the start of s or after whitespace.
func indexToken(s, tok string) int {
	offset := 0
	for {
		i := strings.Index(s[offset:], tok)
		if i < 0 {
			return -1
		}
		i += offset
		if i == 0 || s[i-1] == ' ' || s[i-1] == '\t' {
			return i
		}
		offset = i + len(tok)
	}
}
