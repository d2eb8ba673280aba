package staticlist

import (
	"errors"
	"testing"

	"github.com/vmkern/coresched/internal/schederr"
)

type elem struct {
	val int
	idx int
}

func (e *elem) SetIndex(i int) { e.idx = i }

func TestAppendCapacity(t *testing.T) {
	l := New[*elem](2)
	if _, err := l.Append(&elem{val: 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Append(&elem{val: 2}); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Append(&elem{val: 3}); !errors.Is(err, schederr.ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded, got %v", err)
	}
}

func TestSwapRemoveUpdatesIndex(t *testing.T) {
	l := New[*elem](4)
	a, _ := l.Append(&elem{val: 1})
	b, _ := l.Append(&elem{val: 2})
	c, _ := l.Append(&elem{val: 3})
	_ = a

	l.RemoveAt(b) // swaps in the last element (val=3) at index b

	if l.Len() != 2 {
		t.Fatalf("expected len 2, got %d", l.Len())
	}
	moved := l.At(b)
	if moved.val != 3 {
		t.Fatalf("expected element with val=3 at index %d, got val=%d", b, moved.val)
	}
	if moved.idx != b {
		t.Fatalf("expected SetIndex to update idx to %d, got %d", b, moved.idx)
	}
	_ = c
}

func TestRemoveMatch(t *testing.T) {
	l := New[*elem](4)
	l.Append(&elem{val: 10})
	l.Append(&elem{val: 20})

	if !l.RemoveMatch(func(e *elem) bool { return e.val == 10 }) {
		t.Fatal("expected a match to be removed")
	}
	if l.Len() != 1 {
		t.Fatalf("expected len 1, got %d", l.Len())
	}
	if l.At(0).val != 20 {
		t.Fatalf("expected remaining element val=20, got %d", l.At(0).val)
	}
}
