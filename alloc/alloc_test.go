package alloc

import (
	"testing"

	"github.com/anttila/branchfs/brancherr"
	"github.com/anttila/branchfs/window/memwindow"
	"github.com/stvp/assert"
)

func TestReserve(t *testing.T) {
	t.Parallel()

	win := memwindow.New(1024)
	a := New(win, 0, 1024, 0)

	off1, err := a.Reserve(100)
	assert.Nil(t, err)
	assert.Equal(t, off1, uint64(0))

	off2, err := a.Reserve(100)
	assert.Nil(t, err)
	assert.Equal(t, off2, uint64(100))

	assert.Equal(t, a.BumpOffset(), uint64(200))
}

func TestReserveNoSpace(t *testing.T) {
	t.Parallel()

	win := memwindow.New(100)
	a := New(win, 0, 100, 0)

	_, err := a.Reserve(50)
	assert.Nil(t, err)

	_, err = a.Reserve(60)
	assert.NotNil(t, err)
	assert.Equal(t, brancherr.CodeOf(err), brancherr.NOSPC)
}

func TestBranchAllocAppendPublish(t *testing.T) {
	t.Parallel()

	win := memwindow.New(1024)
	b := NewBranchAlloc(win, 0, 256, 0)

	assert.Equal(t, b.Size(), uint64(0))

	ptr, off, err := b.Append(16)
	assert.Nil(t, err)
	assert.Equal(t, off, uint64(0))
	assert.Equal(t, len(ptr), 16)

	// Size does not reflect the in-flight append until Publish.
	assert.Equal(t, b.Size(), uint64(0))

	copy(ptr, []byte("0123456789abcdef"))
	b.Publish(off, 16)
	assert.Equal(t, b.Size(), uint64(16))

	ptr2, off2, err := b.Append(8)
	assert.Nil(t, err)
	assert.Equal(t, off2, uint64(16))
	assert.Equal(t, len(ptr2), 8)
}

func TestBranchAllocExhausted(t *testing.T) {
	t.Parallel()

	win := memwindow.New(1024)
	b := NewBranchAlloc(win, 0, 32, 0)

	_, _, err := b.Append(20)
	assert.Nil(t, err)

	_, _, err = b.Append(20)
	assert.NotNil(t, err)
	assert.Equal(t, brancherr.CodeOf(err), brancherr.NOSPC)
}
