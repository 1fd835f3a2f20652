package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{0, "0s"},
		{1.33, "1s"},
		{42, "42s"},
		{59.4, "59s"},
		{60, "1m 0s"},
		{90, "1m 30s"},
		{754, "12m 34s"},
		{-5, "0s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.seconds), "seconds=%v", tt.seconds)
	}
}

func TestFormatSpeed(t *testing.T) {
	tests := []struct {
		speed float64
		want  string
	}{
		{0, "0 units/s"},
		{3, "3 units/s"},
		{3.4, "3 units/s"},
		{3.6, "4 units/s"},
		{999, "999 units/s"},
		{1000, "1.0k units/s"},
		{1500, "1.5k units/s"},
		{-1, "0 units/s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatSpeed(tt.speed), "speed=%v", tt.speed)
	}
}
