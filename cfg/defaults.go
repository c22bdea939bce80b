// Copyright 2024 Google Inc. All Rights Reserved.
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

import "time"

// GetDefaultLoggingConfig returns the default logging configuration used
// during startup, before the provided configuration has been parsed.
func GetDefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Severity: "INFO",
		Format:   "json",
		LogRotate: LogRotateConfig{
			BackupFileCount: 10,
			Compress:        true,
			MaxFileSizeMB:   512,
		},
	}
}

// GetDefaultDiskConfig returns the default disk configuration.
func GetDefaultDiskConfig() DiskConfig {
	return DiskConfig{
		ImagePath:           "corekernel.img",
		ImageSectors:        8192,
		SwapImagePath:       "corekernel.swap",
		SwapSectors:         4096,
		BufferCacheCapacity: 64,
	}
}

// GetDefaultVMConfig returns the default virtual memory configuration.
func GetDefaultVMConfig() VMConfig {
	return VMConfig{
		NumFrames:    256,
		TickInterval: 250 * time.Millisecond,
	}
}
