// Package viewport works out which threads of a long list need rendering
// for the current scroll position. Threads outside the window collapse into
// an upper and a lower spacer of the same total height.
package viewport

const (
	DefaultThreadHeight = 200
	DefaultMarginAbove  = 800
	DefaultMarginBelow  = 800
)

// Dimensions are the layout constants of the calculation. DefaultHeight
// stands in for threads that have not been measured yet.
type Dimensions struct {
	DefaultHeight float64
	MarginAbove   float64
	MarginBelow   float64
}

func DefaultDimensions() Dimensions {
	return Dimensions{
		DefaultHeight: DefaultThreadHeight,
		MarginAbove:   DefaultMarginAbove,
		MarginBelow:   DefaultMarginBelow,
	}
}

// Window is the result of Calculate. Visible keeps the input order.
type Window[T any] struct {
	Visible              []T     `json:"visible"`
	OffscreenUpperHeight float64 `json:"offscreenUpperHeight"`
	OffscreenLowerHeight float64 `json:"offscreenLowerHeight"`
	TotalHeight          float64 `json:"totalHeight"`
}

// Calculate makes one pass over threads, keyed by id, accumulating their
// heights. A thread is above the window when its bottom edge lies above
// scrollTop-MarginAbove and below it when its top edge lies past
// scrollTop+viewportHeight+MarginBelow.
func Calculate[T any](threads []T, id func(T) string, heights map[string]float64, scrollTop, viewportHeight float64, dims Dimensions) Window[T] {
	w := Window[T]{Visible: make([]T, 0, len(threads))}
	top := scrollTop - dims.MarginAbove
	bottom := scrollTop + viewportHeight + dims.MarginBelow

	for _, thread := range threads {
		h := heightOf(id(thread), heights, dims)
		switch {
		case w.TotalHeight+h < top:
			w.OffscreenUpperHeight += h
		case w.TotalHeight < bottom:
			w.Visible = append(w.Visible, thread)
		default:
			w.OffscreenLowerHeight += h
		}
		w.TotalHeight += h
	}
	return w
}

// OffsetOf returns the distance from the top of the list to the thread
// with the given id, for scrolling it into view.
func OffsetOf[T any](threads []T, id func(T) string, target string, heights map[string]float64, dims Dimensions) (float64, bool) {
	offset := 0.0
	for _, thread := range threads {
		key := id(thread)
		if key == target {
			return offset, true
		}
		offset += heightOf(key, heights, dims)
	}
	return 0, false
}

// heightOf treats unmeasured and zero-height threads alike.
func heightOf(id string, heights map[string]float64, dims Dimensions) float64 {
	if h, ok := heights[id]; ok && h > 0 {
		return h
	}
	return dims.DefaultHeight
}
