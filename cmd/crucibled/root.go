// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	config  *Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "crucibled",
	Short: "Crucible - agent evaluation platform over isolated Postgres schemas",
	Long: `Crucible provisions schema-cloned environments for agents to act
against, snapshots state around each run, and scores the resulting diff
against declarative expectations.`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./crucibled.yaml)")

	// Server flags
	rootCmd.PersistentFlags().String("addr", ":8080", "HTTP listen address")

	// Database flags
	rootCmd.PersistentFlags().String("db-dsn", "", "PostgreSQL DSN (overrides individual database.* settings)")

	// Auth flags
	rootCmd.PersistentFlags().String("auth-mode", "dev", "authentication mode (dev, apikey, control_plane)")

	// Logging flags
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (json, console)")

	// Suite seeding flags
	rootCmd.PersistentFlags().String("suites-dir", "", "directory of suite YAML files to seed (empty=disabled)")

	// Bind flags to viper
	_ = viper.BindPFlag("server.addr", rootCmd.PersistentFlags().Lookup("addr"))
	_ = viper.BindPFlag("database.dsn", rootCmd.PersistentFlags().Lookup("db-dsn"))
	_ = viper.BindPFlag("auth.mode", rootCmd.PersistentFlags().Lookup("auth-mode"))
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("suites.dir", rootCmd.PersistentFlags().Lookup("suites-dir"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	var err error
	config, err = LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
}
