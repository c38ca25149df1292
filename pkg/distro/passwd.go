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

package distro

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	cnserrors "github.com/NVIDIA/cns-init/pkg/errors"
)

const (
	passwdFile = "/etc/passwd"
	groupFile  = "/etc/group"
)

type passwdEntry struct {
	Name string
	UID  int
	GID  int
	Home string
}

// lookupUser reads the user from the target's passwd file so that files
// written below an alternate root get the target's ids.
func lookupUser(fs billy.Filesystem, name string) (passwdEntry, error) {
	var found *passwdEntry
	err := scanColon(fs, passwdFile, func(fields []string) bool {
		if len(fields) < 6 || fields[0] != name {
			return true
		}
		uid, err1 := strconv.Atoi(fields[2])
		gid, err2 := strconv.Atoi(fields[3])
		if err1 != nil || err2 != nil {
			return true
		}
		found = &passwdEntry{Name: name, UID: uid, GID: gid, Home: fields[5]}
		return false
	})
	if err != nil {
		return passwdEntry{}, err
	}
	if found == nil {
		return passwdEntry{}, cnserrors.NewWithContext(cnserrors.ErrCodeNotFound, "user not found",
			map[string]any{"user": name})
	}
	return *found, nil
}

func lookupGroup(fs billy.Filesystem, name string) (int, error) {
	gid := -1
	err := scanColon(fs, groupFile, func(fields []string) bool {
		if len(fields) < 3 || fields[0] != name {
			return true
		}
		if id, err := strconv.Atoi(fields[2]); err == nil {
			gid = id
		}
		return false
	})
	if err != nil {
		return 0, err
	}
	if gid < 0 {
		return 0, cnserrors.NewWithContext(cnserrors.ErrCodeNotFound, "group not found",
			map[string]any{"group": name})
	}
	return gid, nil
}

// lookupOwner resolves "user", "user:group" or numeric ids.
func lookupOwner(fs billy.Filesystem, owner string) (int, int, error) {
	userPart, groupPart, hasGroup := strings.Cut(owner, ":")

	var uid, gid int
	if id, err := strconv.Atoi(userPart); err == nil {
		uid, gid = id, -1
	} else {
		entry, err := lookupUser(fs, userPart)
		if err != nil {
			return 0, 0, err
		}
		uid, gid = entry.UID, entry.GID
	}

	if hasGroup && groupPart != "" {
		if id, err := strconv.Atoi(groupPart); err == nil {
			gid = id
		} else {
			id, err := lookupGroup(fs, groupPart)
			if err != nil {
				return 0, 0, err
			}
			gid = id
		}
	}
	return uid, gid, nil
}

func scanColon(fs billy.Filesystem, file string, fn func(fields []string) bool) error {
	b, err := util.ReadFile(fs, file)
	if err != nil {
		return cnserrors.WrapWithContext(cnserrors.ErrCodeNotFound, "failed to read account database", err,
			map[string]any{"path": file})
	}
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !fn(strings.Split(line, ":")) {
			return nil
		}
	}
	return sc.Err()
}
