package viewport

import (
	"fmt"
	"reflect"
	"testing"

	"pgregory.net/rapid"
)

func ident(s string) string { return s }

func TestCalculateDefaults(t *testing.T) {
	threads := make([]string, 20)
	for i := range threads {
		threads[i] = fmt.Sprintf("t%d", i)
	}
	// 20 threads of 200 each; scrolled to 2000 with a 500 viewport the
	// window spans 1200..3300.
	w := Calculate(threads, ident, nil, 2000, 500, DefaultDimensions())

	if w.OffscreenUpperHeight != 1000 {
		t.Fatalf("upper = %v, want 1000", w.OffscreenUpperHeight)
	}
	if want := threads[5:17]; !reflect.DeepEqual(w.Visible, want) {
		t.Fatalf("visible = %v, want %v", w.Visible, want)
	}
	if w.OffscreenLowerHeight != 600 {
		t.Fatalf("lower = %v, want 600", w.OffscreenLowerHeight)
	}
	if w.TotalHeight != 4000 {
		t.Fatalf("total = %v", w.TotalHeight)
	}
}

func TestCalculateUsesMeasuredHeights(t *testing.T) {
	threads := []string{"a", "b", "c"}
	heights := map[string]float64{"a": 1000, "b": 0}
	w := Calculate(threads, ident, heights, 1500, 100, Dimensions{DefaultHeight: 50})

	// b has a zero height and falls back to the default like c.
	if w.OffscreenUpperHeight != 1100 || len(w.Visible) != 0 {
		t.Fatalf("window = %+v", w)
	}

	w = Calculate(threads, ident, heights, 950, 100, Dimensions{DefaultHeight: 50})
	if w.OffscreenUpperHeight != 0 || !reflect.DeepEqual(w.Visible, []string{"a", "b"}) || w.OffscreenLowerHeight != 50 {
		t.Fatalf("window = %+v", w)
	}
}

func TestCalculateEmpty(t *testing.T) {
	w := Calculate[string](nil, ident, nil, 0, 100, DefaultDimensions())
	if len(w.Visible) != 0 || w.TotalHeight != 0 {
		t.Fatalf("window = %+v", w)
	}
}

func TestOffsetOf(t *testing.T) {
	threads := []string{"a", "b", "c"}
	heights := map[string]float64{"a": 120}
	if off, ok := OffsetOf(threads, ident, "c", heights, DefaultDimensions()); !ok || off != 320 {
		t.Fatalf("offset = %v %v", off, ok)
	}
	if _, ok := OffsetOf(threads, ident, "z", heights, DefaultDimensions()); ok {
		t.Fatal("expected miss")
	}
}

func TestPropertyConservesHeight(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 40).Draw(t, "n")
		threads := make([]string, n)
		heights := map[string]float64{}
		sum := 0.0
		dims := Dimensions{
			DefaultHeight: float64(rapid.IntRange(1, 400).Draw(t, "default")),
			MarginAbove:   float64(rapid.IntRange(0, 1000).Draw(t, "above")),
			MarginBelow:   float64(rapid.IntRange(0, 1000).Draw(t, "below")),
		}
		for i := range threads {
			threads[i] = fmt.Sprintf("t%d", i)
			if rapid.Bool().Draw(t, fmt.Sprintf("measured%d", i)) {
				heights[threads[i]] = float64(rapid.IntRange(1, 1000).Draw(t, fmt.Sprintf("h%d", i)))
			}
			sum += heightOf(threads[i], heights, dims)
		}
		scrollTop := float64(rapid.IntRange(0, 20000).Draw(t, "scroll"))
		viewportHeight := float64(rapid.IntRange(0, 2000).Draw(t, "viewport"))

		w := Calculate(threads, ident, heights, scrollTop, viewportHeight, dims)

		visible := 0.0
		for _, id := range w.Visible {
			visible += heightOf(id, heights, dims)
		}
		if got := w.OffscreenUpperHeight + visible + w.OffscreenLowerHeight; got != sum {
			t.Fatalf("upper+visible+lower = %v, total = %v", got, sum)
		}
		// Visible threads form a contiguous, ordered run of the input.
		if len(w.Visible) > 0 {
			start := -1
			for i, id := range threads {
				if id == w.Visible[0] {
					start = i
				}
			}
			if !reflect.DeepEqual(w.Visible, threads[start:start+len(w.Visible)]) {
				t.Fatalf("visible %v is not an ordered run of %v", w.Visible, threads)
			}
		}
	})
}
