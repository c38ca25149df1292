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

package ovf

import (
	"encoding/base64"
	"encoding/xml"
	"log/slog"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	cnserrors "github.com/NVIDIA/cns-init/pkg/errors"
)

const envNamespace = "http://schemas.dmtf.org/ovf/environment/1"

// Environment file names accepted in a seed directory or on a cdrom.
var envFileNames = []string{"ovf-env.xml", "ovf_env.xml", "OVF_ENV.XML", "OVF-ENV.XML"}

// OVF property keys.
const (
	propSeedFrom      = "seedfrom"
	propLocalHostname = "local-hostname"
	propHostname      = "hostname"
	propPublicKeys    = "public-keys"
	propInstanceID    = "instance-id"
	propPassword      = "password"
	propUserData      = "user-data"
	propNetworkConfig = "network-config"
)

var (
	metadataProps = []string{propSeedFrom, propLocalHostname, propPublicKeys, propInstanceID}
	configProps   = []string{propPassword}
)

type environmentDoc struct {
	XMLName  xml.Name          `xml:"Environment"`
	Sections []propertySection `xml:"PropertySection"`
}

type propertySection struct {
	Properties []property `xml:"Property"`
}

type property struct {
	Key   string `xml:"http://schemas.dmtf.org/ovf/environment/1 key,attr"`
	Value string `xml:"http://schemas.dmtf.org/ovf/environment/1 value,attr"`
}

// Environment is the decoded content of an ovf-env.xml document.
type Environment struct {
	Metadata      map[string]any
	UserData      []byte
	Config        map[string]any
	NetworkConfig map[string]any
}

// Properties returns the key/value pairs of the first PropertySection.
func Properties(contents []byte) (map[string]string, error) {
	var doc environmentDoc
	if err := xml.Unmarshal(contents, &doc); err != nil {
		return nil, cnserrors.Wrap(cnserrors.ErrCodeInvalidRequest, "invalid OVF environment", err)
	}
	if doc.XMLName.Space != "" && doc.XMLName.Space != envNamespace {
		return nil, cnserrors.NewWithContext(cnserrors.ErrCodeInvalidRequest, "unexpected OVF environment namespace",
			map[string]any{"namespace": doc.XMLName.Space})
	}
	if len(doc.Sections) == 0 {
		return nil, cnserrors.New(cnserrors.ErrCodeInvalidRequest, "OVF environment has no PropertySection")
	}

	props := make(map[string]string, len(doc.Sections[0].Properties))
	for _, p := range doc.Sections[0].Properties {
		props[p.Key] = p.Value
	}
	return props, nil
}

// ParseEnvironment maps OVF properties onto metadata, user-data and config.
// Network configuration is only honoured from transports the hypervisor
// controls, so callers reading a seed directory pass readNetwork=false.
func ParseEnvironment(contents []byte, readNetwork bool) (*Environment, error) {
	props, err := Properties(contents)
	if err != nil {
		return nil, err
	}

	env := &Environment{
		Metadata: map[string]any{},
		Config:   map[string]any{},
	}
	for key, val := range props {
		if key == propHostname {
			key = propLocalHostname
		}
		switch {
		case slices.Contains(metadataProps, key):
			env.Metadata[key] = val
		case slices.Contains(configProps, key):
			env.Config[key] = val
		case key == propNetworkConfig && readNetwork:
			env.NetworkConfig = decodeNetworkConfig(val)
		case key == propUserData:
			if b, err := base64.StdEncoding.DecodeString(val); err == nil {
				env.UserData = b
			} else {
				env.UserData = []byte(val)
			}
		}
	}
	return env, nil
}

// decodeNetworkConfig returns the "network" key of a base64 YAML document,
// or nil when the value is malformed.
func decodeNetworkConfig(val string) map[string]any {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(val))
	if err != nil {
		slog.Debug("ignoring network-config in wrong format", "error", err)
		return nil
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		slog.Debug("ignoring network-config in wrong format", "error", err)
		return nil
	}
	network, _ := doc["network"].(map[string]any)
	return network
}
