/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import (
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition never became true")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestScheduleRuns(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	var ran atomic.Int32
	s.Schedule("room", time.Millisecond, func() { ran.Add(1) })

	waitFor(t, func() bool { return ran.Load() == 1 })

	if s.Pending("room") {
		t.Error("finished task is still pending")
	}
}

func TestScheduleReplacesPendingTask(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	var first, second atomic.Int32
	s.Schedule("room", time.Hour, func() { first.Add(1) })
	s.Schedule("room", time.Millisecond, func() { second.Add(1) })

	waitFor(t, func() bool { return second.Load() == 1 })

	if first.Load() != 0 {
		t.Error("replaced task ran")
	}
}

func TestCancel(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	var ran atomic.Int32
	s.Schedule("room", 20*time.Millisecond, func() { ran.Add(1) })

	if !s.Cancel("room") {
		t.Fatal("Cancel found nothing to cancel")
	}
	if s.Cancel("room") {
		t.Error("second Cancel reported a task")
	}

	time.Sleep(50 * time.Millisecond)
	if ran.Load() != 0 {
		t.Error("canceled task ran")
	}
}

func TestStopRefusesNewWork(t *testing.T) {
	s := NewScheduler()

	s.Schedule("a", time.Hour, func() {})
	s.Stop()

	if s.Pending("a") {
		t.Error("Stop left a task pending")
	}

	s.Schedule("b", time.Millisecond, func() { t.Error("task ran after Stop") })
	if s.Pending("b") {
		t.Error("Schedule after Stop queued a task")
	}
	time.Sleep(10 * time.Millisecond)
}
