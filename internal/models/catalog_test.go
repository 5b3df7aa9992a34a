package models

import (
	"testing"
	"time"
)

func TestCascade(t *testing.T) {
	tests := []struct {
		name      string
		requested string
		fallback  []string
		want      []string
	}{
		{"requested first", "small.en", []string{"base.en", "tiny.en"}, []string{"small.en", "base.en", "tiny.en"}},
		{"requested deduplicated", "base.en", []string{"base.en", "tiny.en"}, []string{"base.en", "tiny.en"}},
		{"no request", "", []string{"base.en", "tiny.en"}, []string{"base.en", "tiny.en"}},
		{"blank and duplicate fallback", " ", []string{"tiny.en", "", "tiny.en"}, []string{"tiny.en"}},
		{"unknown id kept", "custom", nil, []string{"custom"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Cascade(tt.requested, tt.fallback)
			if len(got) != len(tt.want) {
				t.Fatalf("Cascade() = %v, want %v", got, tt.want)
			}
			for i, c := range got {
				if c.ID != tt.want[i] {
					t.Errorf("Cascade()[%d] = %q, want %q", i, c.ID, tt.want[i])
				}
			}
		})
	}
}

func TestLookup(t *testing.T) {
	c, ok := Lookup("small.en")
	if !ok || c.Size != SizeMedium {
		t.Errorf("Lookup(small.en) = %+v, %v", c, ok)
	}
	c, ok = Lookup("mystery")
	if ok {
		t.Error("Lookup(mystery) ok = true")
	}
	if c.ID != "mystery" || c.Size != SizeMedium {
		t.Errorf("Lookup(mystery) = %+v", c)
	}
}

func TestFileName(t *testing.T) {
	if got := FileName("base.en", DeviceAccelerated); got != "ggml-base.en-q5_1.bin" {
		t.Errorf("accelerated = %q", got)
	}
	if got := FileName("base.en", DeviceGeneric); got != "ggml-base.en.bin" {
		t.Errorf("generic = %q", got)
	}
}

func TestTimeoutsFor(t *testing.T) {
	to := DefaultTimeouts()
	tests := []struct {
		size SizeClass
		want time.Duration
	}{
		{SizeSmall, 60 * time.Second},
		{SizeMedium, 120 * time.Second},
		{SizeLarge, 300 * time.Second},
	}
	for _, tt := range tests {
		if got := to.For(tt.size); got != tt.want {
			t.Errorf("For(%v) = %v, want %v", tt.size, got, tt.want)
		}
	}
}

func TestDeviceOrder(t *testing.T) {
	if len(Devices) != 2 || Devices[0] != DeviceAccelerated || Devices[1] != DeviceGeneric {
		t.Errorf("Devices = %v, want [accelerated generic]", Devices)
	}
}
