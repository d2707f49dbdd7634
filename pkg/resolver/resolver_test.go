package resolver

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type node struct {
	name string
	next *node
}

func TestGetOrAssignID_MonotonicAndStable(t *testing.T) {
	s := New[*node]()
	defer s.Close()

	var created []string
	s.OnIDCreated(func(id string, ref *node) {
		created = append(created, id+":"+ref.name)
	})

	a, b := &node{name: "a"}, &node{name: "b"}
	assert.Equal(t, "0", s.GetOrAssignID(a))
	assert.Equal(t, "1", s.GetOrAssignID(b))
	assert.Equal(t, "0", s.GetOrAssignID(a))
	assert.Equal(t, []string{"0:a", "1:b"}, created)
}

func TestGetOrAssignID_IdentityNotValue(t *testing.T) {
	s := New[*node]()
	defer s.Close()

	a1, a2 := &node{name: "same"}, &node{name: "same"}
	assert.NotEqual(t, s.GetOrAssignID(a1), s.GetOrAssignID(a2))
}

func TestGetOrAssignID_CycleSerializedOnce(t *testing.T) {
	s := New[*node]()
	defer s.Close()

	a := &node{name: "a"}
	b := &node{name: "b", next: a}
	a.next = b

	visits := map[string]int{}
	var walk func(id string, n *node)
	walk = func(id string, n *node) {
		visits[n.name]++
		if n.next != nil {
			s.GetOrAssignID(n.next)
		}
	}
	s.OnIDCreated(walk)

	s.GetOrAssignID(a)
	assert.Equal(t, map[string]int{"a": 1, "b": 1}, visits)
}

func TestAssign_ReservedID(t *testing.T) {
	s := New[*node]()
	defer s.Close()

	root := &node{name: "root"}
	created := 0
	s.OnIDCreated(func(string, *node) { created++ })

	s.Assign("root", root)
	assert.Equal(t, "root", s.GetOrAssignID(root))
	assert.Zero(t, created)

	id, ok := s.LookupID(root)
	require.True(t, ok)
	assert.Equal(t, "root", id)
}

func TestRequestReference_AlreadyMaterializedFiresSynchronously(t *testing.T) {
	s := New[*node]()
	defer s.Close()

	a := &node{name: "a"}
	s.MarkReady("0", a)

	requested := 0
	s.OnReferenceRequested(func(string) { requested++ })

	var got *node
	s.RequestReference("0", func(ref *node, ok bool) {
		require.True(t, ok)
		got = ref
	})
	assert.Same(t, a, got)
	assert.Zero(t, requested)
}

func TestRequestReference_DeferredUntilReady(t *testing.T) {
	s := New[*node]()
	defer s.Close()

	var requested []string
	s.OnReferenceRequested(func(id string) { requested = append(requested, id) })

	var order []string
	s.RequestReference("3", func(ref *node, ok bool) { order = append(order, "first:"+ref.name) })
	s.RequestReference("3", func(ref *node, ok bool) { order = append(order, "second:"+ref.name) })

	assert.Empty(t, order)
	assert.Equal(t, 1, s.Pending())
	assert.Equal(t, []string{"3", "3"}, requested)

	s.MarkReady("3", &node{name: "x"})
	assert.Equal(t, []string{"first:x", "second:x"}, order)
	assert.Zero(t, s.Pending())
}

func TestRequestReference_ReentrantFromRequestedHook(t *testing.T) {
	s := New[*node]()
	defer s.Close()

	// Constructing "0" requests "1", constructing "1" requests "0" back.
	built := map[string]*node{}
	s.OnReferenceRequested(func(id string) {
		if _, ok := built[id]; ok {
			return
		}
		n := &node{name: "n" + id}
		built[id] = n
		s.MarkReady(id, n)

		other := "1"
		if id == "1" {
			other = "0"
		}
		s.RequestReference(other, func(ref *node, ok bool) {
			require.True(t, ok)
			n.next = ref
		})
	})

	var root *node
	s.RequestReference("0", func(ref *node, ok bool) { root = ref })

	require.NotNil(t, root)
	require.NotNil(t, root.next)
	assert.Same(t, root, root.next.next)
	assert.Zero(t, s.Pending())
}

func TestMarkReady_FirstRegistrationWins(t *testing.T) {
	s := New[*node]()
	defer s.Close()

	a, b := &node{name: "a"}, &node{name: "b"}
	s.MarkReady("0", a)
	s.MarkReady("0", b)

	got, ok := s.Resolved("0")
	require.True(t, ok)
	assert.Same(t, a, got)
}

func TestResolveRemainingAsAbsent(t *testing.T) {
	s := New[*node]()
	defer s.Close()

	calls := 0
	s.RequestReference("missing", func(ref *node, ok bool) {
		calls++
		assert.False(t, ok)
		assert.Nil(t, ref)
	})

	sibling := false
	s.RequestReference("present", func(ref *node, ok bool) { sibling = ok })
	s.MarkReady("present", &node{})
	assert.True(t, sibling, "a dangling ID must not block its siblings")

	s.ResolveRemainingAsAbsent()
	assert.Equal(t, 1, calls)

	s.ResolveRemainingAsAbsent()
	assert.Equal(t, 1, calls, "settled callbacks never fire twice")
}

func TestResolveAbsent_SettlesOneID(t *testing.T) {
	s := New[*node]()
	defer s.Close()

	var got []string
	s.RequestReference("gone", func(_ *node, ok bool) { got = append(got, "gone:"+strconv.FormatBool(ok)) })
	s.RequestReference("later", func(_ *node, ok bool) { got = append(got, "later:"+strconv.FormatBool(ok)) })

	s.ResolveAbsent("gone")
	assert.Equal(t, []string{"gone:false"}, got)
	assert.Equal(t, 1, s.Pending())

	s.MarkReady("later", &node{})
	assert.Equal(t, []string{"gone:false", "later:true"}, got)
}

func TestResolveRemainingAsAbsent_LeavesRequestsMadeByCallbacks(t *testing.T) {
	s := New[*node]()
	defer s.Close()

	var requested []string
	s.OnReferenceRequested(func(id string) { requested = append(requested, id) })

	var settled []string
	s.RequestReference("a", func(_ *node, ok bool) {
		settled = append(settled, "a:"+strconv.FormatBool(ok))
		s.RequestReference("b", func(_ *node, ok bool) {
			settled = append(settled, "b:"+strconv.FormatBool(ok))
		})
		s.RequestReference("a", func(_ *node, ok bool) {
			settled = append(settled, "a again:"+strconv.FormatBool(ok))
		})
	})

	s.ResolveRemainingAsAbsent()
	assert.Equal(t, []string{"a:false"}, settled)
	assert.Equal(t, 2, s.Pending())
	assert.Equal(t, []string{"a", "b", "a"}, requested)

	b := &node{name: "b"}
	s.MarkReady("b", b)
	assert.Equal(t, []string{"a:false", "b:true"}, settled, "a later request can still be built")

	s.ResolveRemainingAsAbsent()
	assert.Equal(t, []string{"a:false", "b:true", "a again:false"}, settled)
	assert.Zero(t, s.Pending())
}

func TestRequestReferences(t *testing.T) {
	t.Run("fires once after all members resolve", func(t *testing.T) {
		s := New[*node]()
		defer s.Close()

		a := &node{name: "a"}
		s.MarkReady("0", a)

		fired := 0
		var results []Result[*node]
		err := s.RequestReferences("owner/list", []string{"0", "1", "2"}, func(rs []Result[*node]) {
			fired++
			results = rs
		})
		require.NoError(t, err)
		assert.Zero(t, fired)

		c := &node{name: "c"}
		s.MarkReady("2", c)
		assert.Zero(t, fired)

		s.ResolveRemainingAsAbsent()
		require.Equal(t, 1, fired)
		require.Len(t, results, 3)
		assert.Equal(t, Result[*node]{ID: "0", Ref: a, OK: true}, results[0])
		assert.Equal(t, Result[*node]{ID: "1"}, results[1])
		assert.Equal(t, Result[*node]{ID: "2", Ref: c, OK: true}, results[2])

		s.ResolveRemainingAsAbsent()
		assert.Equal(t, 1, fired)
	})

	t.Run("all present fires synchronously", func(t *testing.T) {
		s := New[*node]()
		defer s.Close()
		s.MarkReady("0", &node{})
		s.MarkReady("1", &node{})

		fired := 0
		require.NoError(t, s.RequestReferences("o", []string{"0", "1"}, func([]Result[*node]) { fired++ }))
		assert.Equal(t, 1, fired)
	})

	t.Run("repeated ids count per position", func(t *testing.T) {
		s := New[*node]()
		defer s.Close()

		fired := 0
		require.NoError(t, s.RequestReferences("o", []string{"0", "0"}, func(rs []Result[*node]) {
			fired++
			assert.True(t, rs[0].OK)
			assert.True(t, rs[1].OK)
		}))
		s.MarkReady("0", &node{})
		assert.Equal(t, 1, fired)
	})

	t.Run("empty fires immediately", func(t *testing.T) {
		s := New[*node]()
		defer s.Close()

		fired := 0
		require.NoError(t, s.RequestReferences("o", nil, func(rs []Result[*node]) {
			fired++
			assert.Nil(t, rs)
		}))
		assert.Equal(t, 1, fired)
	})

	t.Run("duplicate pending owner", func(t *testing.T) {
		s := New[*node]()
		defer s.Close()

		require.NoError(t, s.RequestReferences("o", []string{"9"}, func([]Result[*node]) {}))
		err := s.RequestReferences("o", []string{"8"}, func([]Result[*node]) {})
		require.ErrorIs(t, err, ErrDuplicateBatch)

		s.ResolveRemainingAsAbsent()
		require.NoError(t, s.RequestReferences("o", []string{"7"}, func([]Result[*node]) {}),
			"owner key is free again once its batch fired")
	})
}

func TestClose(t *testing.T) {
	s := New[*node]()
	s.GetOrAssignID(&node{})
	s.Close()
	s.Close()

	assert.PanicsWithValue(t, ErrSessionClosed, func() {
		s.GetOrAssignID(&node{})
	})
	assert.PanicsWithValue(t, ErrSessionClosed, func() {
		s.RequestReference("0", func(*node, bool) {})
	})
}
