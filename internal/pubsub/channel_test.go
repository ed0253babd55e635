package pubsub

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryFindExactMatchWinsOverRegex(t *testing.T) {
	r := NewRegistry()
	wildcard := &Channel{Pattern: regexp.MustCompile(`^room-.*$`), Name: "wildcard"}
	exact := &Channel{Name: "room-1"}

	r.Register(wildcard)
	r.Register(exact)

	found, ok := r.Find("room-1")
	require.True(t, ok)
	assert.Same(t, exact, found)
}

func TestRegistryFindRegexTriesInRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	first := &Channel{Pattern: regexp.MustCompile(`^room-.*$`)}
	second := &Channel{Pattern: regexp.MustCompile(`^room-1$`)}

	r.Register(first)
	r.Register(second)

	found, ok := r.Find("room-1")
	require.True(t, ok)
	assert.Same(t, first, found, "first-registered matching pattern should win")
}

func TestRegistryFindUnregisteredChannelIsOpen(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Find("nothing-registered")
	assert.False(t, ok)
}

func TestChannelMatches(t *testing.T) {
	exact := &Channel{Name: "messages"}
	assert.True(t, exact.Matches("messages"))
	assert.False(t, exact.Matches("other"))

	pattern := &Channel{Pattern: regexp.MustCompile(`^room-\d+$`)}
	assert.True(t, pattern.Matches("room-42"))
	assert.False(t, pattern.Matches("room-abc"))
}
