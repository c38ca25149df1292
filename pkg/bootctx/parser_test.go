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
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParserEntriesQuoted(t *testing.T) {
	p := NewParser(WithDelimiter(" "), WithSkipComments(false))

	got, err := p.Entries([]byte(`ro  console="ttyS0 115200" ds=nocloud quiet`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"ro", "console=ttyS0 115200", "ds=nocloud", "quiet"}
	if len(got) != len(want) {
		t.Fatalf("got %d entries %q, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestParserMap(t *testing.T) {
	p := NewParser(WithVTrimChars(`"'`), WithSkipEmptyValues(true))

	entries, err := p.Entries([]byte("ID=\"rhel\"\n# comment\nEMPTY=\nFLAG\nVERSION_ID='9.4'\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := p.Map(entries)

	if m["ID"] != "rhel" {
		t.Errorf("ID = %q, want rhel", m["ID"])
	}
	if m["VERSION_ID"] != "9.4" {
		t.Errorf("VERSION_ID = %q, want 9.4", m["VERSION_ID"])
	}
	if _, ok := m["EMPTY"]; ok {
		t.Error("EMPTY should be skipped")
	}
	if _, ok := m["FLAG"]; ok {
		t.Error("FLAG should be skipped")
	}
}

func TestParserLimits(t *testing.T) {
	p := NewParser(WithMaxSize(8))
	if _, err := p.Entries([]byte(strings.Repeat("a", 9))); err == nil {
		t.Error("expected size error")
	}
	if _, err := NewParser().Entries([]byte{0xff, 0xfe}); err == nil {
		t.Error("expected UTF-8 error")
	}
	if _, err := NewParser().ReadEntries(""); err == nil {
		t.Error("expected empty path error")
	}
}

func TestParserReadMap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv")
	if err := os.WriteFile(path, []byte("a=1\nb = 2\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	m, err := NewParser().ReadMap(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m["a"] != "1" || m["b"] != "2" {
		t.Errorf("unexpected map %v", m)
	}
}
