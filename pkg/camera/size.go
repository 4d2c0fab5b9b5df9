package camera

import "errors"

var ErrNoSizes = errors.New("no sizes reported")

// LargestSize returns the size with the biggest area.
func LargestSize(sizes []Size) (Size, error) {
	if len(sizes) == 0 {
		return Size{}, ErrNoSizes
	}
	largest := sizes[0]
	for _, s := range sizes[1:] {
		if s.Area() > largest.Area() {
			largest = s
		}
	}

	return largest, nil
}

// ChooseOptimalSize picks the smallest choice that is at least width x height
// and has the aspect ratio of aspect, compared in integer pixels. When
// nothing qualifies it returns the first choice and ok is false.
func ChooseOptimalSize(choices []Size, width, height int, aspect Size) (size Size, ok bool, err error) {
	if len(choices) == 0 {
		return Size{}, false, ErrNoSizes
	}

	var best *Size
	for i := range choices {
		c := choices[i]
		if aspect.Width == 0 || c.Height != c.Width*aspect.Height/aspect.Width {
			continue
		}
		if c.Width < width || c.Height < height {
			continue
		}
		if best == nil || c.Area() < best.Area() {
			best = &choices[i]
		}
	}
	if best == nil {
		return choices[0], false, nil
	}

	return *best, true, nil
}
