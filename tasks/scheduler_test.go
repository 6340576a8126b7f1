package tasks

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type countingTask struct {
	Schedulable
	runs      int
	onPerform func(*countingTask)
}

func (t *countingTask) PerformTask() {
	t.runs++
	if t.onPerform != nil {
		t.onPerform(t)
	}
}

func TestScheduleTwiceIsNoop(t *testing.T) {
	s := NewScheduler()
	task := &countingTask{}
	s.Schedule(task)
	s.Schedule(task)
	s.Proceed()
	assert.Equal(t, 1, task.runs)
	assert.True(t, s.IsIdle())
}

func TestProceedRunsOnePass(t *testing.T) {
	s := NewScheduler()
	task := &countingTask{}
	task.onPerform = func(ct *countingTask) {
		if ct.runs < 3 {
			s.Schedule(ct)
		}
	}
	s.Schedule(task)

	s.Proceed()
	assert.Equal(t, 1, task.runs)
	assert.False(t, s.IsIdle())

	s.Proceed()
	assert.Equal(t, 2, task.runs)

	s.Proceed()
	assert.Equal(t, 3, task.runs)
	assert.True(t, s.IsIdle())
}

func TestProceedOrderIsFifo(t *testing.T) {
	s := NewScheduler()
	var order []int
	mk := func(id int) *countingTask {
		task := &countingTask{}
		task.onPerform = func(*countingTask) { order = append(order, id) }
		return task
	}
	a, b, c := mk(1), mk(2), mk(3)
	s.Schedule(a)
	s.Schedule(b)
	s.Schedule(c)
	s.Proceed()
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestIsScheduled(t *testing.T) {
	s := NewScheduler()
	task := &countingTask{}
	assert.False(t, task.IsScheduled())
	s.Schedule(task)
	assert.True(t, task.IsScheduled())
	s.Proceed()
	assert.False(t, task.IsScheduled())
}
