package editor

import (
	"fmt"
	"math"
	"unicode/utf16"
)

// ColorFromUserID picks a light, fully saturated color for an author. The
// same id always gets the same color.
func ColorFromUserID(id string) string {
	a := 1
	for _, unit := range utf16.Encode([]rune(id)) {
		a = 17 * (a + int(unit)) % 360
	}
	return hslToHex(float64(a)/360, 1, 0.75)
}

func hslToHex(h, s, l float64) string {
	if s == 0 {
		return rgbToHex(l, l, l)
	}
	var2 := (l + s) - s*l
	if l < 0.5 {
		var2 = l * (1 + s)
	}
	var1 := 2*l - var2
	hueToRGB := func(hue float64) float64 {
		if hue < 0 {
			hue += 1
		}
		if hue > 1 {
			hue -= 1
		}
		switch {
		case 6*hue < 1:
			return var1 + (var2-var1)*6*hue
		case 2*hue < 1:
			return var2
		case 3*hue < 2:
			return var1 + (var2-var1)*6*(2.0/3-hue)
		}
		return var1
	}
	return rgbToHex(hueToRGB(h+1.0/3), hueToRGB(h), hueToRGB(h-1.0/3))
}

func rgbToHex(r, g, b float64) string {
	digit := func(n float64) int {
		return int(math.Floor(255*n + 0.5))
	}
	return fmt.Sprintf("#%02x%02x%02x", digit(r), digit(g), digit(b))
}
