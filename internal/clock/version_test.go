package clock

import "testing"

func TestIncrement(t *testing.T) {
	v := New()
	v = Increment(v, "peer1")
	if v["peer1"] != 1 {
		t.Errorf("expected 1, got %d", v["peer1"])
	}
	v = Increment(v, "peer1")
	if v["peer1"] != 2 {
		t.Errorf("expected 2, got %d", v["peer1"])
	}
}

func TestIncrementNil(t *testing.T) {
	var v Vector
	v = Increment(v, "peer1")
	if v["peer1"] != 1 {
		t.Errorf("expected 1, got %d", v["peer1"])
	}
}

func TestMerge(t *testing.T) {
	a := Vector{"a": 1, "b": 2}
	b := Vector{"a": 3, "c": 4}
	merged := Merge(a, b)
	if merged["a"] != 3 || merged["b"] != 2 || merged["c"] != 4 {
		t.Errorf("merge failed: %v", merged)
	}
}

func TestCompare(t *testing.T) {
	a := Vector{"a": 1, "b": 2}
	b := Vector{"a": 1, "b": 2}
	if Compare(a, b) != Equal {
		t.Error("expected Equal")
	}

	c := Vector{"a": 2, "b": 2}
	if Compare(a, c) != Before {
		t.Error("expected Before")
	}
	if Compare(c, a) != After {
		t.Error("expected After")
	}

	d := Vector{"a": 2, "b": 1}
	if Compare(a, d) != Concurrent {
		t.Error("expected Concurrent")
	}
}

func TestDominatesAndAtLeast(t *testing.T) {
	a := Vector{"a": 2}
	b := Vector{"a": 1}
	if !Dominates(a, b) {
		t.Error("expected a to dominate b")
	}
	if !AtLeast(a, a) {
		t.Error("expected AtLeast to hold for equal vectors")
	}
	if Dominates(a, a) {
		t.Error("equal vectors should not strictly dominate")
	}
}

func TestIsEmpty(t *testing.T) {
	if !IsEmpty(New()) {
		t.Error("expected empty vector to report empty")
	}
	if IsEmpty(Vector{"a": 1}) {
		t.Error("expected non-empty vector to report non-empty")
	}
}

func TestCloneNil(t *testing.T) {
	if Clone(nil) != nil {
		t.Error("expected nil clone of nil vector")
	}
}
