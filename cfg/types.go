// Copyright 2024 Google LLC
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

package cfg

import (
	"fmt"
	"strconv"

	"github.com/eduos/corekernel/common"
	"github.com/eduos/corekernel/internal/klog"
)

// Octal is the datatype for params such as file-mode that accept a
// base-8 value.
type Octal int

func (o *Octal) UnmarshalText(text []byte) error {
	v, err := strconv.ParseInt(string(text) /*base=*/, 8 /*bitSize=*/, 32)
	if err != nil {
		return err
	}
	*o = Octal(v)
	return nil
}

func (o Octal) MarshalText() ([]byte, error) {
	return []byte(strconv.FormatInt(int64(o), 8)), nil
}

// LogSeverity is cfg's scalar form of klog.Severity: the same six
// values, decoded from a config string the same way every other scalar
// type here is, then converted with Severity before it reaches klog.
type LogSeverity string

func (l *LogSeverity) UnmarshalText(text []byte) error {
	sev, err := klog.ParseSeverity(string(text))
	if err != nil {
		return fmt.Errorf("invalid log severity: %w", err)
	}
	*l = LogSeverity(sev)
	return nil
}

// Severity converts to the klog type used by the logger itself.
func (l LogSeverity) Severity() klog.Severity {
	return klog.Severity(l)
}

// Rank returns the integer representation of the severity rank.
// Returns -1 if the severity is unknown.
func (l LogSeverity) Rank() int {
	return klog.Severity(l).Rank()
}

// ResolvedPath represents a file path that has been made absolute,
// resolved relative to the parent process's directory when daemonizing
// changed the working directory out from under it.
type ResolvedPath string

func (p *ResolvedPath) UnmarshalText(text []byte) error {
	path, err := common.GetResolvedPath(string(text))
	if err != nil {
		return err
	}
	*p = ResolvedPath(path)
	return nil
}
