package utils

import "testing"

func TestAtoiDefault(t *testing.T) {
	if AtoiDefault("42", 0) != 42 {
		t.Fatalf("parse failed")
	}
	if AtoiDefault("", 10) != 10 {
		t.Fatalf("empty default failed")
	}
	if AtoiDefault("x", 5) != 5 {
		t.Fatalf("garbage default failed")
	}
}

func TestClampPage(t *testing.T) {
	page, size := ClampPage(0, 0, 200)
	if page != 1 || size != 1 {
		t.Fatalf("floor: page=%d size=%d", page, size)
	}
	page, size = ClampPage(3, 1000, 200)
	if page != 3 || size != 200 {
		t.Fatalf("cap: page=%d size=%d", page, size)
	}
	_, size = ClampPage(1, 1000, 0)
	if size != 1000 {
		t.Fatalf("max disabled: size=%d", size)
	}
}
