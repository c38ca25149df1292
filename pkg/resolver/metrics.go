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

package resolver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	probeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cnsinit_probe_total",
			Help: "Total number of datasource probes",
		},
		[]string{"datasource", "outcome"}, // found, absent, error, timeout
	)

	fetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cnsinit_fetch_total",
			Help: "Total number of datasource fetches",
		},
		[]string{"datasource", "status"},
	)

	resolutionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cnsinit_resolution_total",
			Help: "Total number of datasource resolutions",
		},
		[]string{"status"}, // resolved or exhausted
	)

	resolutionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cnsinit_resolution_duration_seconds",
			Help:    "Time taken to select a datasource",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		},
	)
)
