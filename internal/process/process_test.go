package process_test

import (
	"bytes"
	"testing"

	"github.com/eduos/corekernel/clock"
	"github.com/eduos/corekernel/internal/blockdev"
	"github.com/eduos/corekernel/internal/bufcache"
	"github.com/eduos/corekernel/internal/frame"
	"github.com/eduos/corekernel/internal/freemap"
	"github.com/eduos/corekernel/internal/inode"
	"github.com/eduos/corekernel/internal/page"
	"github.com/eduos/corekernel/internal/process"
	"github.com/eduos/corekernel/internal/swap"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type ProcessSuite struct {
	suite.Suite
	store *inode.Store
}

func TestProcessSuite(t *testing.T) {
	suite.Run(t, new(ProcessSuite))
}

func (s *ProcessSuite) SetupTest() {
	dev := blockdev.NewMemDevice(256)
	cache, err := bufcache.New(dev, bufcache.Capacity, clock.RealClock{})
	require.NoError(s.T(), err)
	free, err := freemap.Create(dev, 0, 256)
	require.NoError(s.T(), err)
	s.store = inode.NewStore(cache, free)
}

func (s *ProcessSuite) TestEachProcessGetsAUniqueID() {
	a := process.New(0, 0, nil, nil)
	b := process.New(0, 0, nil, nil)
	s.NotEqual(a.ID, b.ID)
}

func (s *ProcessSuite) TestAddHandleAssignsDistinctFDs() {
	p := process.New(0, 0, nil, nil)
	ino, err := s.store.Create(false, 0, 0)
	require.NoError(s.T(), err)

	fd1 := p.AddHandle(ino)
	ino2, err := s.store.Create(false, 0, 0)
	require.NoError(s.T(), err)
	fd2 := p.AddHandle(ino2)

	s.NotEqual(fd1, fd2)
}

func (s *ProcessSuite) TestHandleCursorAdvancesIndependently() {
	p := process.New(0, 0, nil, nil)
	ino, err := s.store.Create(false, 0, 0)
	require.NoError(s.T(), err)
	fd := p.AddHandle(ino)

	h, err := p.Handle(fd)
	require.NoError(s.T(), err)

	n, err := h.Write([]byte("hello"))
	require.NoError(s.T(), err)
	s.Equal(5, n)
	s.Equal(uint32(5), h.Tell())

	ino2, err := s.store.Open(ino.Sector())
	require.NoError(s.T(), err)
	h2, err := p.Handle(p.AddHandle(ino2))
	require.NoError(s.T(), err)
	s.Equal(uint32(0), h2.Tell(), "a second handle on the same inode keeps its own cursor")

	h.Seek(0)
	buf := make([]byte, 5)
	n, err = h.Read(buf)
	require.NoError(s.T(), err)
	s.Equal("hello", string(buf[:n]))
	s.Equal(uint32(5), h.Tell())
}

func (s *ProcessSuite) TestCloseHandleClosesInode() {
	p := process.New(0, 0, nil, nil)
	ino, err := s.store.Create(false, 0, 0)
	require.NoError(s.T(), err)
	fd := p.AddHandle(ino)

	require.NoError(s.T(), p.CloseHandle(fd))
	_, err = p.Handle(fd)
	s.Error(err)
}

func (s *ProcessSuite) TestExitClosesAllOpenHandles() {
	p := process.New(0, 0, nil, nil)
	ino1, err := s.store.Create(false, 0, 0)
	require.NoError(s.T(), err)
	ino2, err := s.store.Create(false, 0, 0)
	require.NoError(s.T(), err)
	p.AddHandle(ino1)
	p.AddHandle(ino2)

	require.NoError(s.T(), p.Exit())
}

func (s *ProcessSuite) TestCwdDefaultsAndCanBeChanged() {
	p := process.New(7, 0, nil, nil)
	s.Equal(uint32(7), p.Cwd())
	p.SetCwd(9)
	s.Equal(uint32(9), p.Cwd())
}

func (s *ProcessSuite) TestExitFreesSwapSlotsAndFrames() {
	frames, err := frame.New(1)
	require.NoError(s.T(), err)
	dev := blockdev.NewMemDevice(swap.SectorsPerSlot * 2)
	area, err := swap.Open(dev)
	require.NoError(s.T(), err)

	p := process.New(0, 0, frames, area)

	slot, err := area.Allocate()
	require.NoError(s.T(), err)
	p.PageTable.Insert(page.Record{Addr: 0x1000, Location: page.Swap, SwapSlot: slot})

	owner := &fakePTE{}
	f, _, err := frames.Allocate(owner)
	require.NoError(s.T(), err)
	p.PageTable.Insert(page.Record{Addr: 0x2000, Location: page.Memory, Frame: f})

	require.NoError(s.T(), p.Exit())

	freeSlot, err := area.Allocate()
	require.NoError(s.T(), err)
	s.Equal(slot, freeSlot, "the slot freed by Exit should be reallocatable")

	another := &fakePTE{}
	_, evicted, err := frames.Allocate(another)
	require.NoError(s.T(), err)
	s.Nil(evicted, "the frame freed by Exit should be reusable without eviction")
}

func (s *ProcessSuite) TestExitWithDirtyPagesWritesBackMmapMappings() {
	p := process.New(0, 0, nil, nil)
	ino, err := s.store.Create(false, 0, 4096)
	require.NoError(s.T(), err)

	_, err = p.Mmap.Mmap(p.PageTable, ino, ino.Sector(), 0x400000)
	require.NoError(s.T(), err)

	dirty := bytes.Repeat([]byte{0x7a}, 4096)
	require.NoError(s.T(), p.ExitWithDirtyPages(map[uint32][]byte{0x400000: dirty}))

	got := make([]byte, 4096)
	_, err = ino.ReadAt(0, got)
	require.NoError(s.T(), err)
	s.Equal(dirty, got)
}

type fakePTE struct {
	accessed bool
	dirty    bool
}

func (f *fakePTE) Accessed() bool { return f.accessed }
func (f *fakePTE) ClearAccessed() { f.accessed = false }
func (f *fakePTE) Dirty() bool    { return f.dirty }
func (f *fakePTE) Unmap()         {}
