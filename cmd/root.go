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

// Package cmd is the cobra CLI surface, mirroring the teacher's cmd/root.go
// + cmd/mount.go split: Execute builds a single "mount" command, bound to
// viper through cfg.BindFlags exactly the way the teacher's rootCmd binds
// cfg.Config.
package cmd

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/opensysctl/sysctlfs/cfg"
)

var (
	cfgFile      string
	crashLogPath string
	bindErr      error
	unmarshalErr error

	// Config is the fully decoded configuration for this invocation,
	// populated by initConfig before rootCmd.RunE runs.
	Config cfg.Config
)

var rootCmd = &cobra.Command{
	Use:   "sysctlfs [flags] mount_point",
	Short: "Mount a simulated /proc/sys registration tree as a local file system",
	Long: `sysctlfs is a FUSE file system presenting an in-process
registration graph of named tunables ("sysctls") under a sys/ directory,
the same shape the kernel's /proc/sys exposes. Subsystems register and
unregister path prefixes at runtime; this binary demonstrates that core
with a small set of illustrative tunables (see the systables package).`,
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if unmarshalErr != nil {
			return unmarshalErr
		}
		return runMount(args[0])
	},
}

// Execute runs the root command, exiting the process with status 1 on
// error exactly as the teacher's cmd.Execute does. A panic escaping RunE
// (an invariant violation aborting a debug build, most plausibly) is
// recovered here, its stack trace persisted via CrashWriter when
// --crash-log-path was set, and then re-raised so the process still exits
// non-zero the way an unrecovered panic normally would.
func Execute() {
	defer func() {
		if r := recover(); r != nil {
			if crashLogPath != "" {
				w := &CrashWriter{fileName: crashLogPath}
				fmt.Fprintf(w, "panic: %v\n%s\n", r, debug.Stack())
			}
			panic(r)
		}
	}()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a YAML config file.")
	rootCmd.PersistentFlags().StringVar(&crashLogPath, "crash-log-path", "", "Append panic stack traces to this file instead of only stderr.")
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())

	viper.SetEnvPrefix("SYSCTLFS")
	viper.AutomaticEnv()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err != nil {
			unmarshalErr = fmt.Errorf("cmd: read config file %q: %w", cfgFile, err)
			return
		}
	}
	unmarshalErr = viper.Unmarshal(&Config)
}
