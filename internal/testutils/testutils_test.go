package testutils

import (
	"bytes"
	"testing"
	"time"
)

func TestCatalog(t *testing.T) {
	cat := Catalog()
	if got := len(cat.Messages()); got != 6 {
		t.Errorf("sample schema has %d messages, want 6", got)
	}
	if got := len(cat.AircraftList()); got != 2 {
		t.Errorf("sample schema has %d aircraft, want 2", got)
	}
	if cat.DefaultStride != 16 {
		t.Errorf("DefaultStride = %d, want 16", cat.DefaultStride)
	}
}

func TestGPSFrame(t *testing.T) {
	got := GPSFrame(12.5, 1).Bytes()
	want := []byte{
		0x00, 0x00, 0x48, 0x41, // 12.5f
		0x01, 0x00, 0x00, 0x00, // aircraft 1
		0x0a, 0x00, // message 10
		0x00, 0x65, 0xcd, 0x1d, // 500000000
		0x08,
	}
	if !bytes.Equal(got, want) {
		t.Errorf("GPSFrame() = % x, want % x", got, want)
	}
}

func TestConcat(t *testing.T) {
	a := NewFrame(1, 1, 15)
	b := NewFrame(2, 1, 15)
	if got := len(Concat(a, b)); got != 20 {
		t.Errorf("len(Concat()) = %d, want 20", got)
	}
}

func TestWaitForCondition(t *testing.T) {
	t.Run("condition met immediately", func(t *testing.T) {
		if err := WaitForCondition(func() bool { return true }, 1*time.Second); err != nil {
			t.Errorf("WaitForCondition() unexpected error: %v", err)
		}
	})

	t.Run("condition met after delay", func(t *testing.T) {
		start := time.Now()
		err := WaitForCondition(func() bool {
			return time.Since(start) > 200*time.Millisecond
		}, 2*time.Second)
		if err != nil {
			t.Errorf("WaitForCondition() unexpected error: %v", err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		err := WaitForCondition(func() bool { return false }, 300*time.Millisecond)
		if err == nil {
			t.Error("WaitForCondition() expected timeout error")
		}
	})
}
