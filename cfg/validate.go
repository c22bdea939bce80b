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

import (
	"fmt"

	"github.com/eduos/corekernel/internal/swap"
)

func isValidLogRotateConfig(config *LogRotateConfig) error {
	if config.MaxFileSizeMB <= 0 {
		return fmt.Errorf("max-file-size-mb should be at least 1")
	}
	if config.BackupFileCount < 0 {
		return fmt.Errorf("backup-file-count should be 0 (to retain all backup files) or a positive value")
	}
	return nil
}

func isValidDiskConfig(config *DiskConfig) error {
	if config.ImageSectors == 0 {
		return fmt.Errorf("disk-sectors must be positive")
	}
	if config.SwapSectors%swap.SectorsPerSlot != 0 {
		return fmt.Errorf("swap-sectors must be a multiple of %d", swap.SectorsPerSlot)
	}
	if config.BufferCacheCapacity <= 0 {
		return fmt.Errorf("buffer-cache-capacity must be positive")
	}
	return nil
}

func isValidVMConfig(config *VMConfig) error {
	if config.NumFrames <= 0 {
		return fmt.Errorf("num-frames must be positive")
	}
	if config.TickInterval <= 0 {
		return fmt.Errorf("tick-interval must be positive")
	}
	return nil
}

// ValidateConfig returns a non-nil error if the config is invalid.
func ValidateConfig(config *Config) error {
	if err := isValidLogRotateConfig(&config.Logging.LogRotate); err != nil {
		return fmt.Errorf("error parsing log-rotate config: %w", err)
	}
	if !config.Logging.Severity.Severity().Valid() {
		return fmt.Errorf("invalid logging.severity: %q", config.Logging.Severity)
	}
	if err := isValidDiskConfig(&config.Disk); err != nil {
		return fmt.Errorf("error parsing disk config: %w", err)
	}
	if err := isValidVMConfig(&config.VM); err != nil {
		return fmt.Errorf("error parsing vm config: %w", err)
	}
	return nil
}
