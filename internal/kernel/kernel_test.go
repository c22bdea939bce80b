package kernel_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/eduos/corekernel/cfg"
	"github.com/eduos/corekernel/internal/kernel"
	"github.com/eduos/corekernel/internal/process"
	"github.com/stretchr/testify/suite"
)

type KernelSuite struct {
	suite.Suite
}

func TestKernelSuite(t *testing.T) {
	suite.Run(t, new(KernelSuite))
}

func (s *KernelSuite) testConfig() cfg.Config {
	dir := s.T().TempDir()
	c := cfg.Config{
		AppName: "corekernel-test",
		Disk: cfg.DiskConfig{
			ImagePath:           cfg.ResolvedPath(filepath.Join(dir, "fs.img")),
			ImageSectors:        512,
			SwapImagePath:       cfg.ResolvedPath(filepath.Join(dir, "swap.img")),
			SwapSectors:         64,
			BufferCacheCapacity: 16,
		},
		Logging: cfg.GetDefaultLoggingConfig(),
		VM: cfg.VMConfig{
			NumFrames:    8,
			TickInterval: 50 * time.Millisecond,
		},
	}
	c.Logging.FilePath = ""
	return c
}

func (s *KernelSuite) TestBootCreatesFreshImageAndRoot() {
	k, err := kernel.Boot(s.testConfig())
	s.Require().NoError(err)
	defer k.Shutdown()

	root, err := k.Inodes.Open(k.Root)
	s.Require().NoError(err)
	defer root.Close()

	isDir, err := root.IsDir()
	s.NoError(err)
	s.True(isDir)
}

func (s *KernelSuite) TestReopenRecoversSameRoot() {
	c := s.testConfig()

	k1, err := kernel.Boot(c)
	s.Require().NoError(err)
	proc := process.New(k1.Root, 0, k1.Frames, k1.Swap)
	s.Require().NoError(k1.API.Create(proc, "/hello.txt", 0))
	s.Require().NoError(k1.Shutdown())

	k2, err := kernel.Boot(c)
	s.Require().NoError(err)
	defer k2.Shutdown()

	s.Equal(k1.Root, k2.Root)
}
