// Copyright (C) 2019-2024 Algorand, Inc.
// This file is part of go-algorand
//
// go-algorand is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// go-algorand is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with go-algorand.  If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/algorand/go-meshnet/config"
	"github.com/algorand/go-meshnet/daemon/meshnoded"
	"github.com/algorand/go-meshnet/util/codecs"
)

const dataDirEnv = "MESHNET_DATA"

var dataDirectory string
var logToStdout bool
var peerOverride string
var listenOverride string

func init() {
	rootCmd.PersistentFlags().StringVarP(&dataDirectory, "datadir", "d", "", "Node data directory, defaults to $"+dataDirEnv)
	rootCmd.PersistentFlags().BoolVarP(&logToStdout, "stdout", "o", false, "Write to stdout instead of node.log by overriding config.LogSizeLimit to 0")
	rootCmd.PersistentFlags().StringVarP(&peerOverride, "peers", "p", "", "Override PersistentPeers with a semicolon separated list of multiaddrs")
	rootCmd.PersistentFlags().StringVarP(&listenOverride, "listen", "l", "", "Override config.NetAddress with a multiaddr")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(peerIDCmd)
	rootCmd.AddCommand(configCmd)
}

var rootCmd = &cobra.Command{
	Use:           "meshnoded",
	Short:         "Run a mesh network node",
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveDataDir() (string, error) {
	dir := dataDirectory
	if dir == "" {
		dir = os.Getenv(dataDirEnv)
	}
	if dir == "" {
		return "", fmt.Errorf("data directory not specified, please use -d or set $%s in your environment", dataDirEnv)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("can't convert data directory's path to absolute, %v", dir)
	}
	if fi, err := os.Stat(abs); err != nil || !fi.IsDir() {
		return "", fmt.Errorf("data directory %s does not appear to be valid", dir)
	}
	return abs, nil
}

// loadConfig reads config.json from dataDir, applying the command line overrides.
func loadConfig(dataDir string) (config.Local, error) {
	cfg, err := config.LoadConfigFromDisk(dataDir)
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("cannot load config: %w", err)
	}
	if logToStdout {
		cfg.LogSizeLimit = 0
	}
	if peerOverride != "" {
		cfg.PersistentPeers = peerOverride
	}
	if listenOverride != "" {
		cfg.NetAddress = listenOverride
	}
	return cfg, nil
}

func run() error {
	dataDir, err := resolveDataDir()
	if err != nil {
		return err
	}

	// the lock guarantees a single node per data directory
	lockPath := filepath.Join(dataDir, config.LockFilename)
	fileLock := flock.New(lockPath)
	locked, err := fileLock.TryLock()
	if err != nil {
		return fmt.Errorf("unexpected failure in establishing %s: %w", config.LockFilename, err)
	}
	if !locked {
		return fmt.Errorf("failed to lock %s; is an instance of meshnoded already running in this data directory?", config.LockFilename)
	}
	defer fileLock.Unlock()

	cfg, err := loadConfig(dataDir)
	if err != nil {
		return err
	}
	fmt.Printf("Config loaded from %s\n", dataDir)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	s := meshnoded.Server{RootPath: dataDir}
	if err := s.Initialize(cfg); err != nil {
		return err
	}
	if err := s.Start(); err != nil {
		s.Stop()
		return err
	}
	fmt.Printf("Node running as %s\n", s.Network().ID())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	s.Stop()
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display the build version and license",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), config.FormatVersionAndLicense())
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or initialize the node configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, err := resolveDataDir()
		if err != nil {
			return err
		}
		cfg, err := loadConfig(dataDir)
		if err != nil {
			return err
		}
		if err := codecs.NewFormattedJSONEncoder(cmd.OutOrStdout()).Encode(cfg); err != nil {
			return err
		}
		return cfg.Validate()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write config.json with the non-default values of the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, err := resolveDataDir()
		if err != nil {
			return err
		}
		cfg, err := loadConfig(dataDir)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := cfg.SaveToDisk(dataDir); err != nil {
			return err
		}
		changed := config.GetNonDefaultConfigValues(cfg, configFieldNames())
		if len(changed) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Wrote default configuration")
			return nil
		}
		keys := make([]string, 0, len(changed))
		for k := range changed {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote configuration, non-default: %s\n", strings.Join(keys, ", "))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
}

func configFieldNames() []string {
	t := reflect.TypeOf(config.Local{})
	names := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		if name := t.Field(i).Name; name != "Version" {
			names = append(names, name)
		}
	}
	return names
}
