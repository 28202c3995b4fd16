package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoiseSkip(t *testing.T) {
	n := NewNoise()

	skipped := []string{
		"https://www.google-analytics.com/collect",
		"https://shop.example.com/gen_204?x=1",
		"https://shop.example.com/telemetry/batch",
		"https://cdn.example.com/fonts/main.woff2",
		"https://cdn.example.com/logo.png",
		"https://cdn.example.com/app.css",
	}
	for _, u := range skipped {
		assert.True(t, n.Skip(u), u)
	}

	kept := []string{
		"https://api.example.com/v1/users",
		"https://shop.example.com/api/cart?item=3",
	}
	for _, u := range kept {
		assert.False(t, n.Skip(u), u)
	}
}

func TestNoiseExtraPatterns(t *testing.T) {
	n := NewNoise("*internal-metrics*")
	assert.True(t, n.Skip("https://shop.example.com/internal-metrics/push"))
	assert.False(t, NewNoise().Skip("https://shop.example.com/internal-metrics/push"))
}
