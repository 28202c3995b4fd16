package traffic

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeaderCaseInsensitive(t *testing.T) {
	h := make(Header)
	h.Set("Content-Type", "application/json")

	assert.Equal(t, "application/json", h.Get("content-type"))
	assert.Equal(t, "application/json", h.Get("CONTENT-TYPE"))
	assert.True(t, h.Has("Content-Type"))

	h.Del("CONTENT-type")
	assert.False(t, h.Has("content-type"))
}

func TestHeaderNilSafe(t *testing.T) {
	var h Header
	assert.Equal(t, "", h.Get("cookie"))
	assert.False(t, h.Has("cookie"))
	assert.Nil(t, h.Clone())
}

func TestNewExchange(t *testing.T) {
	ex := NewExchange(KindRequestResponse)
	assert.NotEmpty(t, ex.ID)
	assert.Equal(t, KindRequestResponse, ex.Kind)
	assert.NotEmpty(t, ex.Timestamp)

	other := NewExchange(KindNavigation)
	assert.NotEqual(t, ex.ID, other.ID)
}

func TestCapBody(t *testing.T) {
	small := "hello"
	assert.Equal(t, small, CapBody(small))

	big := strings.Repeat("x", BodyCap+100)
	capped := CapBody(big)
	assert.Contains(t, capped, "[truncated: 500100 bytes]")
	assert.Equal(t, big[:BodyCap], capped[:BodyCap])
}

func TestParseCookie(t *testing.T) {
	got := ParseCookie("sid=abc123; theme=dark; flag")
	assert.Equal(t, map[string]string{"sid": "abc123", "theme": "dark"}, got)

	assert.Empty(t, ParseCookie(""))
}
