package frame_test

import (
	"testing"

	"github.com/eduos/corekernel/internal/frame"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type fakePTE struct {
	name     string
	accessed bool
	dirty    bool
	unmapped bool
}

func (p *fakePTE) Accessed() bool { return p.accessed }
func (p *fakePTE) ClearAccessed() { p.accessed = false }
func (p *fakePTE) Dirty() bool    { return p.dirty }
func (p *fakePTE) Unmap()         { p.unmapped = true }

type FrameSuite struct {
	suite.Suite
}

func TestFrameSuite(t *testing.T) {
	suite.Run(t, new(FrameSuite))
}

func (s *FrameSuite) TestAllocateFillsPoolBeforeEvicting() {
	t, err := frame.New(2)
	require.NoError(s.T(), err)

	a := &fakePTE{name: "a"}
	b := &fakePTE{name: "b"}

	_, evicted, err := t.Allocate(a)
	require.NoError(s.T(), err)
	s.Nil(evicted)

	_, evicted, err = t.Allocate(b)
	require.NoError(s.T(), err)
	s.Nil(evicted)
}

func (s *FrameSuite) TestClockAlgorithmGivesAccessedFramesASecondChance() {
	t, err := frame.New(2)
	require.NoError(s.T(), err)

	a := &fakePTE{name: "a", accessed: true}
	b := &fakePTE{name: "b", accessed: false}
	c := &fakePTE{name: "c"}

	t.Allocate(a)
	t.Allocate(b)

	_, evicted, err := t.Allocate(c)
	require.NoError(s.T(), err)
	s.Same(b, evicted, "the non-accessed frame should be evicted first")
	s.True(b.unmapped)
	s.False(a.accessed, "the accessed frame's bit should be cleared on its reprieve")
}

func (s *FrameSuite) TestPinnedFramesAreNeverEvicted() {
	tbl, err := frame.New(2)
	require.NoError(s.T(), err)

	a := &fakePTE{name: "a"}
	b := &fakePTE{name: "b"}

	fa, _, err := tbl.Allocate(a)
	require.NoError(s.T(), err)
	fa.Pin()
	_, _, err = tbl.Allocate(b)
	require.NoError(s.T(), err)

	c := &fakePTE{name: "c"}
	_, evicted, err := tbl.Allocate(c)
	require.NoError(s.T(), err)
	s.Same(b, evicted)
}

func (s *FrameSuite) TestFreeReturnsFrameToPool() {
	tbl, err := frame.New(1)
	require.NoError(s.T(), err)

	a := &fakePTE{name: "a"}
	fa, _, err := tbl.Allocate(a)
	require.NoError(s.T(), err)
	tbl.Free(fa)

	b := &fakePTE{name: "b"}
	_, evicted, err := tbl.Allocate(b)
	require.NoError(s.T(), err)
	s.Nil(evicted)
}
