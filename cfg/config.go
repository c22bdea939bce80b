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
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the kernel's top-level configuration, bound from flags,
// environment variables, and an optional YAML config file the same way
// the teacher's mount configuration is: flags registered here, bound to
// viper keys in BindFlags, then unmarshaled into this struct via
// mapstructure (see decode_hook.go for the custom scalar decoders).
type Config struct {
	AppName string `yaml:"app-name"`

	Debug DebugConfig `yaml:"debug"`

	Disk DiskConfig `yaml:"disk"`

	Logging LoggingConfig `yaml:"logging"`

	VM VMConfig `yaml:"vm"`
}

type DebugConfig struct {
	ExitOnInvariantViolation bool `yaml:"exit-on-invariant-violation"`

	LogMutex bool `yaml:"log-mutex"`
}

// DiskConfig locates the backing store for the filesystem and swap area.
type DiskConfig struct {
	// ImagePath is the filesystem disk image, created if it does not
	// already exist.
	ImagePath ResolvedPath `yaml:"image-path"`

	// ImageSectors is the number of 512-byte sectors a freshly created
	// image is given.
	ImageSectors uint32 `yaml:"image-sectors"`

	// SwapImagePath is the dedicated swap area's backing file.
	SwapImagePath ResolvedPath `yaml:"swap-image-path"`

	// SwapSectors is the number of 512-byte sectors a freshly created
	// swap image is given; must be a multiple of swap.SectorsPerSlot.
	SwapSectors uint32 `yaml:"swap-sectors"`

	// BufferCacheCapacity overrides bufcache.Capacity, mostly for tests
	// that want a tiny cache to force eviction.
	BufferCacheCapacity int `yaml:"buffer-cache-capacity"`

	// SeedImagePath, if set, is copied byte-for-byte into a freshly
	// created disk image before it is formatted, letting an operator
	// boot from a prebuilt filesystem snapshot instead of an empty one.
	SeedImagePath ResolvedPath `yaml:"seed-image-path"`
}

// LoggingConfig controls the kernel's own log output, independent of any
// filesystem it is serving.
type LoggingConfig struct {
	Severity LogSeverity `yaml:"severity"`

	Format string `yaml:"format"` // "json" or "text"

	FilePath ResolvedPath `yaml:"file-path"` // empty means log to stderr

	LogRotate LogRotateConfig `yaml:"log-rotate"`
}

// LogRotateConfig mirrors klog.RotateConfig in config-file form.
type LogRotateConfig struct {
	MaxFileSizeMB   int  `yaml:"max-file-size-mb"`
	BackupFileCount int  `yaml:"backup-file-count"`
	Compress        bool `yaml:"compress"`
}

// VMConfig sizes the virtual memory subsystem.
type VMConfig struct {
	NumFrames int `yaml:"num-frames"`

	// TickInterval is the duration of one simulated clock tick, used to
	// schedule the buffer cache's periodic flush (spec: every 10 ticks).
	TickInterval time.Duration `yaml:"tick-interval"`
}

// BindFlags registers every flag this kernel accepts and binds it to the
// matching viper configuration key, following the teacher's
// flag-then-bind pattern so config-file, environment, and flag sources
// all resolve through the same viper.Unmarshal call.
func BindFlags(flagSet *pflag.FlagSet) error {
	var err error

	flagSet.StringP("app-name", "", "corekernel", "The application name of this boot.")
	if err = viper.BindPFlag("app-name", flagSet.Lookup("app-name")); err != nil {
		return err
	}

	flagSet.BoolP("debug_invariants", "", false, "Exit when internal invariants are violated.")
	if err = viper.BindPFlag("debug.exit-on-invariant-violation", flagSet.Lookup("debug_invariants")); err != nil {
		return err
	}

	flagSet.BoolP("debug_mutex", "", false, "Recorded in the config only; no subsystem reads it.")
	if err = viper.BindPFlag("debug.log-mutex", flagSet.Lookup("debug_mutex")); err != nil {
		return err
	}

	flagSet.StringP("disk-image", "", "corekernel.img", "Path to the filesystem disk image.")
	if err = viper.BindPFlag("disk.image-path", flagSet.Lookup("disk-image")); err != nil {
		return err
	}

	flagSet.Uint32P("disk-sectors", "", 8192, "Sectors to allocate for a freshly created disk image.")
	if err = viper.BindPFlag("disk.image-sectors", flagSet.Lookup("disk-sectors")); err != nil {
		return err
	}

	flagSet.StringP("swap-image", "", "corekernel.swap", "Path to the swap area backing file.")
	if err = viper.BindPFlag("disk.swap-image-path", flagSet.Lookup("swap-image")); err != nil {
		return err
	}

	flagSet.Uint32P("swap-sectors", "", 4096, "Sectors to allocate for a freshly created swap image.")
	if err = viper.BindPFlag("disk.swap-sectors", flagSet.Lookup("swap-sectors")); err != nil {
		return err
	}

	flagSet.IntP("buffer-cache-capacity", "", 64, "Number of sectors the buffer cache holds at once.")
	if err = viper.BindPFlag("disk.buffer-cache-capacity", flagSet.Lookup("buffer-cache-capacity")); err != nil {
		return err
	}

	flagSet.StringP("seed-disk-image", "", "", "Optional prebuilt disk image to copy in when creating a fresh one.")
	if err = viper.BindPFlag("disk.seed-image-path", flagSet.Lookup("seed-disk-image")); err != nil {
		return err
	}

	flagSet.StringP("log-severity", "", "INFO", "Minimum severity the kernel logs: TRACE, DEBUG, INFO, WARNING, ERROR, OFF.")
	if err = viper.BindPFlag("logging.severity", flagSet.Lookup("log-severity")); err != nil {
		return err
	}

	flagSet.StringP("log-format", "", "json", "Log output format: json or text.")
	if err = viper.BindPFlag("logging.format", flagSet.Lookup("log-format")); err != nil {
		return err
	}

	flagSet.StringP("log-file", "", "", "Path to a log file; defaults to stderr when empty.")
	if err = viper.BindPFlag("logging.file-path", flagSet.Lookup("log-file")); err != nil {
		return err
	}

	flagSet.IntP("num-frames", "", 256, "Number of physical page frames the kernel manages.")
	if err = viper.BindPFlag("vm.num-frames", flagSet.Lookup("num-frames")); err != nil {
		return err
	}

	flagSet.DurationP("tick-interval", "", 250*time.Millisecond, "Duration of one simulated clock tick.")
	if err = viper.BindPFlag("vm.tick-interval", flagSet.Lookup("tick-interval")); err != nil {
		return err
	}

	return nil
}
