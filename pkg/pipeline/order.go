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

package pipeline

import (
	"fmt"
	"strings"

	"github.com/NVIDIA/cns-init/pkg/datasource"
	cnserrors "github.com/NVIDIA/cns-init/pkg/errors"
	"github.com/NVIDIA/cns-init/pkg/module"
)

// planned is a module selected for a stage with its effective frequency.
type planned struct {
	mod       module.Module
	spec      module.Spec
	frequency module.Frequency
}

func key(name string) string {
	return datasource.NormalizeName(name)
}

// edges returns, for every planned module index, the indexes that must run
// after it. Constraints naming modules outside the plan are ignored.
func edges(plan []planned) [][]int {
	index := make(map[string]int, len(plan))
	for i, p := range plan {
		index[key(p.spec.Name)] = i
	}

	out := make([][]int, len(plan))
	add := func(from, to int) {
		for _, existing := range out[from] {
			if existing == to {
				return
			}
		}
		out[from] = append(out[from], to)
	}
	for i, p := range plan {
		for _, name := range p.spec.Before {
			if j, ok := index[key(name)]; ok && j != i {
				add(i, j)
			}
		}
		for _, name := range p.spec.After {
			if j, ok := index[key(name)]; ok && j != i {
				add(j, i)
			}
		}
	}
	return out
}

// findCycle returns the first cycle found by a depth-first walk in declared
// order, as a closed path of module names, or nil.
func findCycle(plan []planned, next [][]int) []string {
	visited := make([]bool, len(plan))
	onStack := make([]bool, len(plan))
	var path []int
	var cycle []string

	var dfs func(n int) bool
	dfs = func(n int) bool {
		visited[n] = true
		onStack[n] = true
		path = append(path, n)

		for _, m := range next[n] {
			if !visited[m] {
				if dfs(m) {
					return true
				}
			} else if onStack[m] {
				start := 0
				for i, p := range path {
					if p == m {
						start = i
						break
					}
				}
				for _, p := range path[start:] {
					cycle = append(cycle, plan[p].spec.Name)
				}
				cycle = append(cycle, plan[m].spec.Name)
				return true
			}
		}

		path = path[:len(path)-1]
		onStack[n] = false
		return false
	}

	for i := range plan {
		if !visited[i] && dfs(i) {
			return cycle
		}
	}
	return nil
}

// order sorts plan so that every Before/After constraint holds. Among
// modules that are ready at the same time, declared order wins. A cycle is
// an ORDERING_CYCLE error naming the modules involved.
func order(stage module.Stage, plan []planned) ([]planned, error) {
	next := edges(plan)
	if cycle := findCycle(plan, next); cycle != nil {
		return nil, cnserrors.NewWithContext(cnserrors.ErrCodeOrderingCycle,
			fmt.Sprintf("ordering cycle in stage %s: %s", stage, strings.Join(cycle, " -> ")),
			map[string]any{"stage": string(stage), "cycle": cycle})
	}

	inDegree := make([]int, len(plan))
	for _, targets := range next {
		for _, m := range targets {
			inDegree[m]++
		}
	}

	// Kahn's algorithm; the ready set is scanned lowest index first.
	done := make([]bool, len(plan))
	result := make([]planned, 0, len(plan))
	for len(result) < len(plan) {
		picked := -1
		for i := range plan {
			if !done[i] && inDegree[i] == 0 {
				picked = i
				break
			}
		}
		if picked < 0 {
			// Unreachable once findCycle passed.
			return nil, cnserrors.New(cnserrors.ErrCodeOrderingCycle,
				fmt.Sprintf("ordering cycle in stage %s", stage))
		}
		done[picked] = true
		result = append(result, plan[picked])
		for _, m := range next[picked] {
			inDegree[m]--
		}
	}
	return result, nil
}
