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

package header

import (
	"time"
)

// APIVersion is the API version stamped on every document cnsinit writes.
const APIVersion = "cnsinit.nvidia.com/v1alpha1"

// Kind represents the type of a cnsinit document.
type Kind string

// Valid Kind constants.
const (
	KindInstanceRecord Kind = "InstanceRecord"
	KindBootReport     Kind = "BootReport"
	KindQueryResult    Kind = "QueryResult"
	KindStatus         Kind = "Status"
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	return string(k)
}

// IsValid checks if the Kind is one of the recognized kinds.
func (k Kind) IsValid() bool {
	switch k {
	case KindInstanceRecord, KindBootReport, KindQueryResult, KindStatus:
		return true
	default:
		return false
	}
}

// Option is a functional option for configuring Header instances.
type Option func(*Header)

// WithMetadata adds a metadata key-value pair to the Header.
func WithMetadata(key, value string) Option {
	return func(h *Header) {
		if h.Metadata == nil {
			h.Metadata = make(map[string]string)
		}
		h.Metadata[key] = value
	}
}

// WithTimestamp records t under the "timestamp" metadata key.
func WithTimestamp(t time.Time) Option {
	return WithMetadata("timestamp", t.UTC().Format(time.RFC3339))
}

// New creates a Header of the given kind at APIVersion.
func New(kind Kind, opts ...Option) Header {
	h := Header{
		Kind:       kind,
		APIVersion: APIVersion,
	}
	for _, opt := range opts {
		opt(&h)
	}
	return h
}

// Header carries Kubernetes-style kind and apiVersion fields so files
// written by cnsinit are self-describing.
type Header struct {
	Kind       Kind              `json:"kind,omitempty" yaml:"kind,omitempty"`
	APIVersion string            `json:"apiVersion,omitempty" yaml:"apiVersion,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Is reports whether the header describes a document of kind at APIVersion.
func (h Header) Is(kind Kind) bool {
	return h.Kind == kind && h.APIVersion == APIVersion
}
