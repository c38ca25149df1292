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

package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Version
		wantErr error
	}{
		{"1", New(1, 0), nil},
		{"v1", New(1, 0), nil},
		{"1.2", New(1, 2), nil},
		{"v2.10", New(2, 10), nil},
		{" 1.0 ", New(1, 0), nil},
		{"", Version{}, ErrEmptyVersion},
		{"v", Version{}, ErrEmptyVersion},
		{"1.2.3", Version{}, ErrTooManyComponents},
		{"a.b", Version{}, ErrNonNumeric},
		{"1.", Version{}, ErrNonNumeric},
		{"-1", Version{}, ErrNonNumeric},
		{"+1", Version{}, ErrNonNumeric},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompare(t *testing.T) {
	assert.Equal(t, 0, New(1, 2).Compare(New(1, 2)))
	assert.Equal(t, -1, New(1, 2).Compare(New(1, 3)))
	assert.Equal(t, 1, New(2, 0).Compare(New(1, 9)))
}

func TestCheck(t *testing.T) {
	reader := New(1, 0)

	assert.NoError(t, reader.Check("1"))
	assert.NoError(t, reader.Check("1.7"))
	assert.Error(t, reader.Check("2.0"))
	assert.Error(t, reader.Check("garbage"))
}

func TestMustParsePanics(t *testing.T) {
	assert.Panics(t, func() { MustParse("x") })
	assert.Equal(t, New(1, 1), MustParse("1.1"))
}
