package container_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/container"
)

func TestPriorityQueueOrder(t *testing.T) {
	q := container.NewPriorityQueue[string]()
	q.Push("c", 3)
	q.Push("a", 1)
	q.Push("b", 2)
	q.Heapify()
	assert.Equal(t, 3, q.Len())
	assert.Equal(t, "a", q.First())

	v, p := q.HeapPop()
	assert.Equal(t, "a", v)
	assert.Equal(t, 1., p)
	v, _ = q.HeapPop()
	assert.Equal(t, "b", v)
	v, _ = q.HeapPop()
	assert.Equal(t, "c", v)
	assert.Equal(t, 0, q.Len())
}

func TestPriorityQueueStableTies(t *testing.T) {
	q := container.NewPriorityQueue[string]()
	for _, name := range []string{"North", "East", "South", "West", "Center"} {
		q.Push(name, -10)
	}
	q.Heapify()
	got := make([]string, 0)
	for q.Len() > 0 {
		v, _ := q.HeapPop()
		got = append(got, v)
	}
	assert.Equal(t, []string{"North", "East", "South", "West", "Center"}, got)

	// 堆操作加入的元素同样保持加入顺序
	q.HeapPush("x", 0)
	q.HeapPush("y", 0)
	q.HeapPush("z", -1)
	v, _ := q.HeapPop()
	assert.Equal(t, "z", v)
	v, _ = q.HeapPop()
	assert.Equal(t, "x", v)
}
