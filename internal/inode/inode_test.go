package inode_test

import (
	"testing"

	"github.com/eduos/corekernel/clock"
	"github.com/eduos/corekernel/internal/blockdev"
	"github.com/eduos/corekernel/internal/bufcache"
	"github.com/eduos/corekernel/internal/freemap"
	"github.com/eduos/corekernel/internal/inode"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type InodeSuite struct {
	suite.Suite
	store *inode.Store
	free  *freemap.Map
}

func TestInodeSuite(t *testing.T) {
	suite.Run(t, new(InodeSuite))
}

func (s *InodeSuite) newStore(totalSectors uint32) {
	dev := blockdev.NewMemDevice(totalSectors)
	cache, err := bufcache.New(dev, bufcache.Capacity, clock.RealClock{})
	require.NoError(s.T(), err)
	free, err := freemap.Create(dev, 0, totalSectors)
	require.NoError(s.T(), err)
	s.free = free
	s.store = inode.NewStore(cache, free)
}

func (s *InodeSuite) TestCreateAndOpenRoundTrip() {
	s.newStore(512)
	ino, err := s.store.Create(true, 0, 0)
	require.NoError(s.T(), err)
	defer ino.Close()

	isDir, err := ino.IsDir()
	require.NoError(s.T(), err)
	s.True(isDir)

	length, err := ino.Length()
	require.NoError(s.T(), err)
	s.Equal(uint32(0), length)
}

func (s *InodeSuite) TestWriteThenReadRoundTrip() {
	s.newStore(512)
	ino, err := s.store.Create(false, 0, 0)
	require.NoError(s.T(), err)
	defer ino.Close()

	payload := []byte("hello, kernel")
	n, err := ino.WriteAt(0, payload)
	require.NoError(s.T(), err)
	s.Equal(len(payload), n)

	length, err := ino.Length()
	require.NoError(s.T(), err)
	s.Equal(uint32(len(payload)), length)

	got := make([]byte, len(payload))
	n, err = ino.ReadAt(0, got)
	require.NoError(s.T(), err)
	s.Equal(len(payload), n)
	s.Equal(payload, got)
}

func (s *InodeSuite) TestWriteSpanningMultipleSectorsGrowsFile() {
	s.newStore(2048)
	ino, err := s.store.Create(false, 0, 0)
	require.NoError(s.T(), err)
	defer ino.Close()

	payload := make([]byte, blockdev.SectorSize*3+17)
	for i := range payload {
		payload[i] = byte(i)
	}
	n, err := ino.WriteAt(0, payload)
	require.NoError(s.T(), err)
	s.Equal(len(payload), n)

	got := make([]byte, len(payload))
	_, err = ino.ReadAt(0, got)
	require.NoError(s.T(), err)
	s.Equal(payload, got)
}

func (s *InodeSuite) TestReadPastEndIsShort() {
	s.newStore(512)
	ino, err := s.store.Create(false, 0, 0)
	require.NoError(s.T(), err)
	defer ino.Close()

	_, err = ino.WriteAt(0, []byte("abc"))
	require.NoError(s.T(), err)

	buf := make([]byte, 10)
	n, err := ino.ReadAt(0, buf)
	require.NoError(s.T(), err)
	s.Equal(3, n)
}

func (s *InodeSuite) TestDenyWriteRejectsWrites() {
	s.newStore(512)
	ino, err := s.store.Create(false, 0, 0)
	require.NoError(s.T(), err)
	defer ino.Close()

	ino.DenyWrite()
	n, err := ino.WriteAt(0, []byte("x"))
	s.NoError(err)
	s.Equal(0, n)

	ino.AllowWrite()
	n, err = ino.WriteAt(0, []byte("x"))
	s.NoError(err)
	s.Equal(1, n)
}

func (s *InodeSuite) TestCreateWithNonzeroLengthPreallocatesAndMatchesFilesize() {
	s.newStore(2048)
	size := uint32(blockdev.SectorSize*2 + 5)
	ino, err := s.store.Create(false, 0, size)
	require.NoError(s.T(), err)
	defer ino.Close()

	length, err := ino.Length()
	require.NoError(s.T(), err)
	s.Equal(size, length)

	buf := make([]byte, size)
	n, err := ino.ReadAt(0, buf)
	require.NoError(s.T(), err)
	s.Equal(int(size), n)
	s.Equal(make([]byte, size), buf)
}

func (s *InodeSuite) TestCreateRejectsLengthExceedingMaximum() {
	s.newStore(512)
	_, err := s.store.Create(false, 0, inode.MaxFileSize+1)
	s.Error(err)
}

func (s *InodeSuite) TestConcurrentOpensShareOneInMemoryInode() {
	s.newStore(512)
	created, err := s.store.Create(false, 0, 0)
	require.NoError(s.T(), err)
	sector := created.Sector()

	opened, err := s.store.Open(sector)
	require.NoError(s.T(), err)

	s.Same(created, opened)
	require.NoError(s.T(), created.Close())
	require.NoError(s.T(), opened.Close())
}

func (s *InodeSuite) TestRemoveWhileOpenDefersRelease() {
	s.newStore(512)
	ino, err := s.store.Create(false, 0, 0)
	require.NoError(s.T(), err)

	_, err = ino.WriteAt(0, []byte("data"))
	require.NoError(s.T(), err)

	before := s.free.FreeCount()
	ino.MarkRemoved()
	// Still open: sectors must not be released yet.
	s.Equal(before, s.free.FreeCount())

	require.NoError(s.T(), ino.Close())
	s.Greater(s.free.FreeCount(), before)
}
