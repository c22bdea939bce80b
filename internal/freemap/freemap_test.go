package freemap_test

import (
	"testing"

	"github.com/eduos/corekernel/internal/blockdev"
	"github.com/eduos/corekernel/internal/freemap"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type FreemapSuite struct {
	suite.Suite
}

func TestFreemapSuite(t *testing.T) {
	suite.Run(t, new(FreemapSuite))
}

func (s *FreemapSuite) TestCreateReservesOwnSectors() {
	dev := blockdev.NewMemDevice(200)
	m, err := freemap.Create(dev, 0, 200)
	require.NoError(s.T(), err)
	s.Less(m.FreeCount(), uint32(200))
}

func (s *FreemapSuite) TestAllocateFindsConsecutiveRun() {
	dev := blockdev.NewMemDevice(64)
	m, err := freemap.Create(dev, 0, 64)
	require.NoError(s.T(), err)

	before := m.FreeCount()
	start, err := m.Allocate(4)
	require.NoError(s.T(), err)
	s.Equal(before-4, m.FreeCount())

	// Allocating again must not reuse the same sectors.
	start2, err := m.Allocate(4)
	require.NoError(s.T(), err)
	s.NotEqual(start, start2)
}

func (s *FreemapSuite) TestAllocateFailsWhenExhausted() {
	dev := blockdev.NewMemDevice(8)
	m, err := freemap.Create(dev, 0, 8)
	require.NoError(s.T(), err)

	_, err = m.Allocate(m.FreeCount() + 1)
	s.Error(err)
}

func (s *FreemapSuite) TestReleaseMakesSectorsReusable() {
	dev := blockdev.NewMemDevice(32)
	m, err := freemap.Create(dev, 0, 32)
	require.NoError(s.T(), err)

	start, err := m.Allocate(2)
	require.NoError(s.T(), err)
	before := m.FreeCount()

	require.NoError(s.T(), m.Release(start, 2))
	s.Equal(before+2, m.FreeCount())
}

func (s *FreemapSuite) TestReleaseRejectsAlreadyFree() {
	dev := blockdev.NewMemDevice(16)
	m, err := freemap.Create(dev, 0, 16)
	require.NoError(s.T(), err)
	s.Error(m.Release(5, 1))  // in range but never allocated
	s.Error(m.Release(31, 1)) // out of bounds entirely
}

func (s *FreemapSuite) TestPersistsAcrossReopen() {
	dev := blockdev.NewMemDevice(64)
	m, err := freemap.Create(dev, 0, 64)
	require.NoError(s.T(), err)

	start, err := m.Allocate(3)
	require.NoError(s.T(), err)
	require.NoError(s.T(), m.Close())

	reopened, err := freemap.Open(dev, 0, 64)
	require.NoError(s.T(), err)
	s.Equal(m.FreeCount(), reopened.FreeCount())

	require.NoError(s.T(), reopened.Release(start, 3))
	s.Equal(m.FreeCount()+3, reopened.FreeCount())
}
