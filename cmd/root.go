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

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/eduos/corekernel/cfg"
	"github.com/eduos/corekernel/common"
	"github.com/eduos/corekernel/internal/kernel"
	"github.com/eduos/corekernel/internal/klog"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// runProtected boots and runs the kernel, recovering a panic into the
// crash file rather than losing it when the launching terminal is gone
// (the kernel typically runs detached).
func runProtected(crashWriter *CrashWriter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			trace := debug.Stack()
			if crashWriter != nil {
				_, _ = crashWriter.Write(fmt.Appendf(nil, "panic: %v\n%s", r, trace))
			}
			err = fmt.Errorf("kernel panicked: %v", r)
		}
	}()

	k, bootErr := kernel.Boot(BootConfig)
	if bootErr != nil {
		return fmt.Errorf("booting kernel: %w", bootErr)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	klog.Infof("shutting down on signal")
	return k.Shutdown()
}

var (
	cfgFile       string
	bindErr       error
	configFileErr error
	unmarshalErr  error
	BootConfig    cfg.Config
)

var rootCmd = &cobra.Command{
	Use:   "corekernel [flags]",
	Short: "Boot the teaching kernel against an on-disk filesystem image",
	Long: `corekernel is an educational kernel that implements a buffered
block layer, an on-disk filesystem, and a demand-paged virtual memory
subsystem over a plain file used as its backing disk image.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if configFileErr != nil {
			return configFileErr
		}
		if unmarshalErr != nil {
			return unmarshalErr
		}
		if err := cfg.ValidateConfig(&BootConfig); err != nil {
			return err
		}

		var crashWriter *CrashWriter
		if BootConfig.Debug.ExitOnInvariantViolation {
			crashWriter = &CrashWriter{fileName: BootConfig.AppName + ".crash"}
		}
		return runProtected(crashWriter)
	},
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to the config-file")
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())
}

func initConfig() {
	BootConfig.Logging = cfg.GetDefaultLoggingConfig()
	decodeOpts := []viper.DecoderConfigOption{
		viper.DecodeHook(cfg.DecodeHook()),
		func(dc *mapstructure.DecoderConfig) { dc.TagName = "yaml" },
	}
	if cfgFile == "" {
		unmarshalErr = viper.Unmarshal(&BootConfig, decodeOpts...)
		return
	}
	// Use config file from the flag.
	resolved, err := common.GetResolvedPath(cfgFile)
	if err != nil {
		configFileErr = fmt.Errorf("error while resolving config file path: %w", err)
		return
	}
	viper.SetConfigFile(resolved)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		configFileErr = fmt.Errorf("error while reading config file: %w", err)
		return
	}
	unmarshalErr = viper.Unmarshal(&BootConfig, decodeOpts...)
}
