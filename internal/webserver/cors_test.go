package webserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContainsOrigin(t *testing.T) {
	origins := []string{"https://a.example.com", "https://b.example.com"}
	assert.True(t, containsOrigin(origins, "https://a.example.com"))
	assert.False(t, containsOrigin(origins, "https://evil.example.com"))
	assert.False(t, containsOrigin(nil, "https://a.example.com"))
}
