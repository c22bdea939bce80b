package bufcache_test

import (
	"testing"
	"time"

	"github.com/eduos/corekernel/clock"
	"github.com/eduos/corekernel/internal/blockdev"
	"github.com/eduos/corekernel/internal/bufcache"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type BufCacheSuite struct {
	suite.Suite
	dev   blockdev.Device
	cache *bufcache.Cache
}

func TestBufCacheSuite(t *testing.T) {
	suite.Run(t, new(BufCacheSuite))
}

func (s *BufCacheSuite) newCache(capacity int, sectors uint32) {
	s.dev = blockdev.NewMemDevice(sectors)
	c, err := bufcache.New(s.dev, capacity, clock.RealClock{})
	require.NoError(s.T(), err)
	s.cache = c
}

func (s *BufCacheSuite) TestReadMissLoadsFromDevice() {
	s.newCache(4, 4)
	want := make([]byte, blockdev.SectorSize)
	for i := range want {
		want[i] = 0x7A
	}
	require.NoError(s.T(), s.dev.WriteSector(1, want))

	got := make([]byte, blockdev.SectorSize)
	require.NoError(s.T(), s.cache.Read(1, 0, got, len(got)))
	s.Equal(want, got)
	s.Equal(1, s.cache.Len())
}

func (s *BufCacheSuite) TestWriteIsBufferedUntilFlush() {
	s.newCache(4, 4)
	buf := []byte{1, 2, 3, 4}
	require.NoError(s.T(), s.cache.Write(0, 0, buf, len(buf)))

	onDisk := make([]byte, blockdev.SectorSize)
	require.NoError(s.T(), s.dev.ReadSector(0, onDisk))
	s.NotEqual(byte(1), onDisk[0], "write should not hit the device before a flush")

	require.NoError(s.T(), s.cache.Flush())
	require.NoError(s.T(), s.dev.ReadSector(0, onDisk))
	s.Equal(buf, onDisk[:len(buf)])
}

func (s *BufCacheSuite) TestEvictionWritesBackDirtySector() {
	s.newCache(2, 8)
	buf := []byte{0xFF}

	require.NoError(s.T(), s.cache.Write(0, 0, buf, 1))
	require.NoError(s.T(), s.cache.Write(1, 0, buf, 1))
	s.Equal(2, s.cache.Len())

	// Loading a third sector evicts sector 0 (FIFO), which must be
	// written back since it is dirty.
	readBuf := make([]byte, 1)
	require.NoError(s.T(), s.cache.Read(2, 0, readBuf, 1))
	s.Equal(2, s.cache.Len())

	onDisk := make([]byte, blockdev.SectorSize)
	require.NoError(s.T(), s.dev.ReadSector(0, onDisk))
	s.Equal(byte(0xFF), onDisk[0])
}

func (s *BufCacheSuite) TestCapacityNeverExceeded() {
	s.newCache(2, 16)
	buf := []byte{0}
	for sector := uint32(0); sector < 10; sector++ {
		require.NoError(s.T(), s.cache.Read(sector, 0, buf, 1))
		s.LessOrEqual(s.cache.Len(), 2)
	}
}

func (s *BufCacheSuite) TestRejectsOutOfRangeAccess() {
	s.newCache(2, 4)
	buf := make([]byte, 1)
	s.Error(s.cache.Read(0, blockdev.SectorSize, buf, 1))
	s.Error(s.cache.Write(0, -1, buf, 1))
}

func (s *BufCacheSuite) TestNewRejectsNonPositiveCapacity() {
	dev := blockdev.NewMemDevice(1)
	_, err := bufcache.New(dev, 0, clock.RealClock{})
	s.Error(err)
}

func (s *BufCacheSuite) TestPeriodicFlushWritesBackOnSchedule() {
	s.dev = blockdev.NewMemDevice(1)
	sc := clock.NewSimulatedClock(time.Unix(0, 0))
	c, err := bufcache.New(s.dev, 1, sc)
	require.NoError(s.T(), err)
	s.cache = c

	require.NoError(s.T(), s.cache.Write(0, 0, []byte{9}, 1))
	stop := s.cache.StartPeriodicFlush(time.Second)

	for i := 0; i < bufcache.FlushEveryNTicks; i++ {
		time.Sleep(10 * time.Millisecond) // let the flush goroutine register its next After call
		sc.AdvanceTime(time.Second)
	}

	require.Eventually(s.T(), func() bool {
		onDisk := make([]byte, blockdev.SectorSize)
		_ = s.dev.ReadSector(0, onDisk)
		return onDisk[0] == 9
	}, time.Second, 5*time.Millisecond)

	require.NoError(s.T(), stop())
}
