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

// Package kernel assembles every subsystem package into one bootable
// kernel instance, the way the teacher's cmd/mount.go wires a GCS bucket,
// file cache, and FUSE server into a single mounted filesystem.
package kernel

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/eduos/corekernel/cfg"
	"github.com/eduos/corekernel/clock"
	"github.com/eduos/corekernel/common"
	"github.com/eduos/corekernel/internal/blockdev"
	"github.com/eduos/corekernel/internal/bufcache"
	"github.com/eduos/corekernel/internal/frame"
	"github.com/eduos/corekernel/internal/freemap"
	"github.com/eduos/corekernel/internal/inode"
	"github.com/eduos/corekernel/internal/kernelapi"
	"github.com/eduos/corekernel/internal/klog"
	"github.com/eduos/corekernel/internal/metrics"
	"github.com/eduos/corekernel/internal/mmap"
	"github.com/eduos/corekernel/internal/page"
	"github.com/eduos/corekernel/internal/swap"
	"github.com/prometheus/client_golang/prometheus"
)

const superblockMagic uint32 = 0x4b524e4c // "KRNL"

// superblock is the single sector that lets a reopened disk image find
// its freemap and root directory without recomputing their layout.
type superblock struct {
	magic           uint32
	freemapAtSector uint32
	managedSectors  uint32
	rootSector      uint32
}

func (s *superblock) marshal() []byte {
	buf := make([]byte, blockdev.SectorSize)
	binary.LittleEndian.PutUint32(buf[0:4], s.magic)
	binary.LittleEndian.PutUint32(buf[4:8], s.freemapAtSector)
	binary.LittleEndian.PutUint32(buf[8:12], s.managedSectors)
	binary.LittleEndian.PutUint32(buf[12:16], s.rootSector)
	return buf
}

func unmarshalSuperblock(buf []byte) (*superblock, error) {
	s := &superblock{
		magic:           binary.LittleEndian.Uint32(buf[0:4]),
		freemapAtSector: binary.LittleEndian.Uint32(buf[4:8]),
		managedSectors:  binary.LittleEndian.Uint32(buf[8:12]),
		rootSector:      binary.LittleEndian.Uint32(buf[12:16]),
	}
	if s.magic != superblockMagic {
		return nil, fmt.Errorf("kernel: not a corekernel disk image")
	}
	return s, nil
}

// Kernel holds every live subsystem for one booted instance: the
// buffer-cached filesystem, the virtual memory machinery, and the
// syscall surface processes issue requests through.
type Kernel struct {
	fsDev   *blockdev.FileDevice
	swapDev *blockdev.FileDevice

	Cache   *bufcache.Cache
	Free    *freemap.Map
	Inodes  *inode.Store
	Frames  *frame.Table
	Swap    *swap.Area
	Pages   *page.Table
	Mmap    *mmap.Manager
	Metrics *metrics.Registry
	API     *kernelapi.API

	Root uint32

	stopFlush func() error
}

// Boot brings up a kernel instance from the given configuration,
// creating the disk and swap images on first run and reopening them on
// every run after (the disk image via its superblock and free-sector
// bitmap; the swap area starts with every slot free).
func Boot(c cfg.Config) (*Kernel, error) {
	if err := configureLogging(c.Logging); err != nil {
		return nil, fmt.Errorf("kernel: configuring logging: %w", err)
	}

	fsDev, freshImage, err := openOrCreateImage(string(c.Disk.ImagePath), c.Disk.ImageSectors)
	if err != nil {
		return nil, fmt.Errorf("kernel: opening disk image: %w", err)
	}
	if freshImage && c.Disk.SeedImagePath != "" {
		if err := seedImage(string(c.Disk.ImagePath), string(c.Disk.SeedImagePath)); err != nil {
			fsDev.Close()
			return nil, fmt.Errorf("kernel: seeding disk image: %w", err)
		}
		fsDev.Close()
		fsDev, err = blockdev.OpenFileDevice(string(c.Disk.ImagePath))
		if err != nil {
			return nil, fmt.Errorf("kernel: reopening seeded disk image: %w", err)
		}
		freshImage = false
	}

	swapDev, _, err := openOrCreateImage(string(c.Disk.SwapImagePath), c.Disk.SwapSectors)
	if err != nil {
		fsDev.Close()
		return nil, fmt.Errorf("kernel: opening swap image: %w", err)
	}

	cache, err := bufcache.New(fsDev, c.Disk.BufferCacheCapacity, clock.RealClock{})
	if err != nil {
		return nil, fmt.Errorf("kernel: starting buffer cache: %w", err)
	}

	reg := metrics.NewRegistry(prometheus.NewRegistry())
	cache.SetMetrics(reg)

	free, store, root, err := mountFilesystem(fsDev, cache, c.Disk.ImageSectors, freshImage)
	if err != nil {
		return nil, fmt.Errorf("kernel: mounting filesystem: %w", err)
	}

	frames, err := frame.New(c.VM.NumFrames)
	if err != nil {
		return nil, fmt.Errorf("kernel: sizing frame table: %w", err)
	}

	swapArea, err := swap.Open(swapDev)
	if err != nil {
		return nil, fmt.Errorf("kernel: opening swap area: %w", err)
	}

	stop := cache.StartPeriodicFlush(c.VM.TickInterval)

	k := &Kernel{
		fsDev:     fsDev,
		swapDev:   swapDev,
		Cache:     cache,
		Free:      free,
		Inodes:    store,
		Frames:    frames,
		Swap:      swapArea,
		Pages:     page.NewTable(),
		Mmap:      mmap.NewManager(),
		Metrics:   reg,
		API:       kernelapi.New(store, root),
		Root:      root,
		stopFlush: stop,
	}
	klog.Infof("kernel booted: disk=%s (%d sectors) swap=%s (%d sectors) frames=%d",
		c.Disk.ImagePath, c.Disk.ImageSectors, c.Disk.SwapImagePath, c.Disk.SwapSectors, c.VM.NumFrames)
	return k, nil
}

func configureLogging(lc cfg.LoggingConfig) error {
	sev := lc.Severity.Severity()
	if lc.FilePath == "" {
		klog.SetFormat(lc.Format)
		return klog.SetSeverity(sev)
	}
	rotate := klog.RotateConfig{
		MaxFileSizeMB: lc.LogRotate.MaxFileSizeMB,
		BackupCount:   lc.LogRotate.BackupFileCount,
		Compress:      lc.LogRotate.Compress,
	}
	return klog.InitLogFile(string(lc.FilePath), sev, lc.Format, rotate)
}

// seedImage overwrites the disk image at path with the contents of
// seedPath, truncated or zero-padded to path's existing size.
func seedImage(path, seedPath string) error {
	seed, err := os.Open(seedPath)
	if err != nil {
		return err
	}
	defer seed.Close()

	fi, err := os.Stat(path)
	if err != nil {
		return err
	}

	dst, err := os.OpenFile(path, os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = common.CopyWhole(dst, seed, fi.Size())
	if err != nil && err != io.EOF {
		return err
	}
	return nil
}

// openOrCreateImage opens path as a block device, creating it with
// sectorCount sectors if it does not already exist. The returned bool
// reports whether the image was freshly created.
func openOrCreateImage(path string, sectorCount uint32) (*blockdev.FileDevice, bool, error) {
	if _, err := os.Stat(path); err == nil {
		dev, err := blockdev.OpenFileDevice(path)
		return dev, false, err
	} else if !os.IsNotExist(err) {
		return nil, false, err
	}
	dev, err := blockdev.CreateFileDevice(path, sectorCount)
	return dev, true, err
}

// mountFilesystem loads (or, on a fresh image, initializes) the
// freemap and root directory, following the layout sector 0 holds the
// superblock, the freemap's own bitmap sectors start at sector 1, and
// the root directory's inode is the first allocation after the freemap
// has claimed sector 0 for the superblock.
func mountFilesystem(dev blockdev.Device, cache *bufcache.Cache, imageSectors uint32, fresh bool) (*freemap.Map, *inode.Store, uint32, error) {
	const freemapAt = 1
	managed := imageSectors - freemapAt

	if !fresh {
		buf := make([]byte, blockdev.SectorSize)
		if err := dev.ReadSector(0, buf); err != nil {
			return nil, nil, 0, err
		}
		sb, err := unmarshalSuperblock(buf)
		if err != nil {
			return nil, nil, 0, err
		}
		free, err := freemap.Open(dev, sb.freemapAtSector, sb.managedSectors)
		if err != nil {
			return nil, nil, 0, err
		}
		store := inode.NewStore(cache, free)
		return free, store, sb.rootSector, nil
	}

	free, err := freemap.Create(dev, freemapAt, managed)
	if err != nil {
		return nil, nil, 0, err
	}
	if sbSector, err := free.Allocate(1); err != nil {
		return nil, nil, 0, err
	} else if sbSector != 0 {
		return nil, nil, 0, fmt.Errorf("kernel: superblock sector 0 is not free (allocator returned %d)", sbSector)
	}
	store := inode.NewStore(cache, free)
	root, err := store.Create(true, 0, 0)
	if err != nil {
		return nil, nil, 0, err
	}
	if err := root.SetParent(root.Sector()); err != nil {
		return nil, nil, 0, err
	}
	rootSector := root.Sector()
	if err := root.Close(); err != nil {
		return nil, nil, 0, err
	}

	sb := &superblock{magic: superblockMagic, freemapAtSector: freemapAt, managedSectors: managed, rootSector: rootSector}
	if err := dev.WriteSector(0, sb.marshal()); err != nil {
		return nil, nil, 0, err
	}
	return free, store, rootSector, nil
}

// Shutdown flushes the buffer cache and freemap and closes both backing
// images, composing its cleanup the way the teacher joins its mount
// shutdown callbacks into one function.
func (k *Kernel) Shutdown() error {
	shutdown := common.JoinShutdownFunc(
		func(context.Context) error {
			if k.stopFlush != nil {
				return k.stopFlush()
			}
			return nil
		},
		func(context.Context) error { return k.Free.Flush() },
		func(context.Context) error { return k.fsDev.Close() },
		func(context.Context) error { return k.swapDev.Close() },
	)
	err := shutdown(context.Background())
	klog.Infof("kernel shutdown complete")
	return err
}
