package kernelapi_test

import (
	"testing"

	"github.com/eduos/corekernel/clock"
	"github.com/eduos/corekernel/internal/blockdev"
	"github.com/eduos/corekernel/internal/bufcache"
	"github.com/eduos/corekernel/internal/freemap"
	"github.com/eduos/corekernel/internal/inode"
	"github.com/eduos/corekernel/internal/kernelapi"
	"github.com/eduos/corekernel/internal/process"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type KernelAPISuite struct {
	suite.Suite
	api  *kernelapi.API
	proc *process.Process
}

func TestKernelAPISuite(t *testing.T) {
	suite.Run(t, new(KernelAPISuite))
}

func (s *KernelAPISuite) SetupTest() {
	dev := blockdev.NewMemDevice(1024)
	cache, err := bufcache.New(dev, bufcache.Capacity, clock.RealClock{})
	require.NoError(s.T(), err)
	free, err := freemap.Create(dev, 0, 1024)
	require.NoError(s.T(), err)
	store := inode.NewStore(cache, free)

	root, err := store.Create(true, 0, 0)
	require.NoError(s.T(), err)
	rootSector := root.Sector()
	require.NoError(s.T(), root.Close())

	s.api = kernelapi.New(store, rootSector)
	s.proc = process.New(rootSector, 0, nil, nil)
}

func (s *KernelAPISuite) TestCreateOpenWriteReadClose() {
	require.NoError(s.T(), s.api.Create(s.proc, "/greeting.txt", 0))

	fd, err := s.api.Open(s.proc, "/greeting.txt")
	require.NoError(s.T(), err)

	n, err := s.api.Write(s.proc, fd, []byte("hi"))
	require.NoError(s.T(), err)
	s.Equal(2, n)

	require.NoError(s.T(), s.api.Seek(s.proc, fd, 0))
	buf := make([]byte, 2)
	n, err = s.api.Read(s.proc, fd, buf)
	require.NoError(s.T(), err)
	s.Equal("hi", string(buf[:n]))

	require.NoError(s.T(), s.api.Close(s.proc, fd))
}

func (s *KernelAPISuite) TestMkdirChdirAndRelativeCreate() {
	require.NoError(s.T(), s.api.Mkdir(s.proc, "/sub"))
	require.NoError(s.T(), s.api.Chdir(s.proc, "/sub"))
	require.NoError(s.T(), s.api.Create(s.proc, "inner.txt", 0))

	fd, err := s.api.Open(s.proc, "inner.txt")
	require.NoError(s.T(), err)
	require.NoError(s.T(), s.api.Close(s.proc, fd))
}

func (s *KernelAPISuite) TestRemoveDeletesEntryImmediatelyButDefersInode() {
	require.NoError(s.T(), s.api.Create(s.proc, "/doomed.txt", 0))
	fd, err := s.api.Open(s.proc, "/doomed.txt")
	require.NoError(s.T(), err)

	require.NoError(s.T(), s.api.Remove(s.proc, "/doomed.txt"))

	// Still writable through the already-open descriptor.
	_, err = s.api.Write(s.proc, fd, []byte("x"))
	require.NoError(s.T(), err)

	require.NoError(s.T(), s.api.Close(s.proc, fd))

	_, err = s.api.Open(s.proc, "/doomed.txt")
	s.Error(err)
}

func (s *KernelAPISuite) TestRemoveRejectsNonEmptyDirectory() {
	require.NoError(s.T(), s.api.Mkdir(s.proc, "/d"))
	require.NoError(s.T(), s.api.Create(s.proc, "/d/x", 0))

	s.Error(s.api.Remove(s.proc, "/d"))

	require.NoError(s.T(), s.api.Remove(s.proc, "/d/x"))
	require.NoError(s.T(), s.api.Remove(s.proc, "/d"))
}

func (s *KernelAPISuite) TestReaddirAndIsDir() {
	require.NoError(s.T(), s.api.Create(s.proc, "/a.txt", 0))
	require.NoError(s.T(), s.api.Mkdir(s.proc, "/sub"))

	fd, err := s.api.Open(s.proc, "/")
	require.NoError(s.T(), err)
	isDir, err := s.api.IsDir(s.proc, fd)
	require.NoError(s.T(), err)
	s.True(isDir)

	entries, err := s.api.Readdir(s.proc, fd)
	require.NoError(s.T(), err)
	s.Len(entries, 2)
}

func (s *KernelAPISuite) TestMmapMunmapRoundTrip() {
	require.NoError(s.T(), s.api.Create(s.proc, "/mapped.txt", 0))
	fd, err := s.api.Open(s.proc, "/mapped.txt")
	require.NoError(s.T(), err)
	_, err = s.api.Write(s.proc, fd, make([]byte, 100))
	require.NoError(s.T(), err)

	id, err := s.api.Mmap(s.proc, fd, 0x40000000)
	require.NoError(s.T(), err)

	require.NoError(s.T(), s.api.Munmap(s.proc, id, nil))
}
