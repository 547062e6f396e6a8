package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.2", "1.2.0", 0},
		{"1.2.3", "1.2.3.1", -1},
		{"1.2.3.1", "1.2.3", 1},
		{"1.10.0", "1.2.0", 1},
		{"1.2", "1.2.1", -1},
		{"0.0.0", "0.0.0", 0},
		{"2", "10", -1},
		{"v1.0.0", "0.0.0", 0},
		{"1.x.3", "1.0.3", 0},
		{"", "0", 0},
		{" 1.2 ", "1.2", 0},
	}
	for _, tt := range tests {
		t.Run(tt.a+"_vs_"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, Compare(tt.a, tt.b))
			assert.Equal(t, -tt.want, Compare(tt.b, tt.a))
		})
	}
}

func TestCompareOrderProperties(t *testing.T) {
	versions := []string{"0", "0.1", "1", "1.0.1", "1.2", "1.2.3", "1.2.3.1", "1.10", "2.0.0", "10.0"}
	for _, a := range versions {
		assert.Equal(t, 0, Compare(a, a), a)
		for _, b := range versions {
			assert.Equal(t, Compare(a, b), -Compare(b, a), "%s %s", a, b)
			for _, c := range versions {
				if Compare(a, b) <= 0 && Compare(b, c) <= 0 {
					assert.LessOrEqual(t, Compare(a, c), 0, "%s %s %s", a, b, c)
				}
			}
		}
	}
}

func TestAtLeast(t *testing.T) {
	assert.True(t, AtLeast("1.2.0", "1.2"))
	assert.True(t, AtLeast("1.3", "1.2.9"))
	assert.False(t, AtLeast("1.2", "1.2.1"))
}
