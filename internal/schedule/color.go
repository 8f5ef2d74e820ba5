package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var errInvalidHex = errors.New("invalid hex color")

// parseHex accepts "#rgb", "#rrggbb" and the same without "#".
func parseHex(hex string) (r, g, b int64, err error) {
	h := strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return 0, 0, 0, errInvalidHex
	}
	if r, err = strconv.ParseInt(h[0:2], 16, 64); err != nil {
		return 0, 0, 0, errInvalidHex
	}
	if g, err = strconv.ParseInt(h[2:4], 16, 64); err != nil {
		return 0, 0, 0, errInvalidHex
	}
	if b, err = strconv.ParseInt(h[4:6], 16, 64); err != nil {
		return 0, 0, 0, errInvalidHex
	}
	return r, g, b, nil
}

// InvertColor returns the inverse of hex. With bw set it instead picks
// black or white, whichever reads better on top of hex.
func InvertColor(hex string, bw bool) (string, error) {
	r, g, b, err := parseHex(hex)
	if err != nil {
		return "", err
	}
	if bw {
		if float64(r)*0.299+float64(g)*0.587+float64(b)*0.114 > 149 {
			return "#000000", nil
		}
		return "#FFFFFF", nil
	}
	return fmt.Sprintf("#%02x%02x%02x", 255-r, 255-g, 255-b), nil
}
