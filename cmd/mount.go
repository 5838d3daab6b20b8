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
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/timeutil"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sys/unix"

	"github.com/opensysctl/sysctlfs/fs"
	"github.com/opensysctl/sysctlfs/internal/logger"
	"github.com/opensysctl/sysctlfs/registry"
	"github.com/opensysctl/sysctlfs/systables"
)

const fsName = "sysctlfs"

// runMount builds the registry tree, seeds it with the demo tunables
// (systables), mounts it at mountPoint and blocks until it is unmounted.
// Grounded on the teacher's mountWithStorageHandle/populateArgs split in
// cmd/mount.go and cmd/root.go, generalized from a GCS bucket mount to this
// module's registry.Tree mount.
func runMount(mountPoint string) error {
	logger.SetLevel(Config.Logging.Severity)
	logger.SetFormat(Config.Logging.Format)
	if Config.Logging.FilePath != "" {
		if err := logger.InitLogFile(Config.Logging.FilePath); err != nil {
			return err
		}
	}

	if Config.Metrics.ListenAddr != "" {
		go serveMetrics(Config.Metrics.ListenAddr)
	}

	clock := timeutil.RealClock()
	tree := registry.NewTree(clock)

	seed, err := loadSeed(Config.SeedFile)
	if err != nil {
		return err
	}
	handles, err := systables.Register(tree, tree.RootGroup(), seed)
	if err != nil {
		return fmt.Errorf("cmd: register systables: %w", err)
	}
	defer systables.Unregister(tree, handles)

	uid, gid := unix.Geteuid(), unix.Getegid()
	if uid == 0 && Config.FileSystem.Uid < 0 {
		fmt.Fprintln(os.Stdout, `
WARNING: sysctlfs invoked as root. This will cause every entry to be owned
by root. If this is not what you intended, invoke sysctlfs as the user that
will be interacting with the file system.`)
	}
	if Config.FileSystem.Uid >= 0 {
		uid = Config.FileSystem.Uid
	}
	if Config.FileSystem.Gid >= 0 {
		gid = Config.FileSystem.Gid
	}

	server, err := fs.NewServer(&fs.ServerConfig{
		Tree:  tree,
		Group: tree.RootGroup(),
		Clock: clock,
		Uid:   uint32(uid),
		Gid:   uint32(gid),
	})
	if err != nil {
		return fmt.Errorf("cmd: fs.NewServer: %w", err)
	}

	logger.Infof("Mounting %s at %q...", fsName, mountPoint)
	mfs, err := fuse.Mount(mountPoint, server, &fuse.MountConfig{})
	if err != nil {
		return fmt.Errorf("cmd: mount: %w", err)
	}

	registerSIGINTHandler(mountPoint)

	logger.Infof("File system has been successfully mounted.")
	if err := mfs.Join(context.Background()); err != nil {
		return fmt.Errorf("cmd: MountedFileSystem.Join: %w", err)
	}
	return nil
}

// registerSIGINTHandler lets the operator unmount with Ctrl-C, grounded on
// the teacher's cmd/legacy_main.go function of the same name.
func registerSIGINTHandler(mountPoint string) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt)

	go func() {
		for range signalChan {
			logger.Infof("Received SIGINT, attempting to unmount...")
			if err := fuse.Unmount(mountPoint); err != nil {
				logger.Errorf("Failed to unmount in response to SIGINT: %v", err)
				continue
			}
			logger.Infof("Successfully unmounted in response to SIGINT.")
			return
		}
	}()
}

// loadSeed decodes the demo tunables' default values: the embedded seed
// unless the operator pointed --seed-file at an override.
func loadSeed(path string) (systables.Seed, error) {
	if path == "" {
		return systables.DefaultSeed()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return systables.Seed{}, fmt.Errorf("cmd: read seed file %q: %w", path, err)
	}
	return systables.LoadSeed(raw)
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Infof("Serving Prometheus metrics on %s/metrics", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Errorf("metrics server: %v", err)
	}
}
