package loom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMorphMapLifecycle exercises SetMorphMap/ResolveMorphAlias/MorphAliasFor
// together in one test function since morphMap is process-wide singleton
// state: freezing happens on the first read across the whole test binary,
// so every morph-map behavior has to be asserted against one populated map.
func TestMorphMapLifecycle(t *testing.T) {
	postType := &EntityType{Name: "Post", TableName: "posts"}
	videoType := &EntityType{Name: "Video", TableName: "videos"}
	SetMorphMap(map[string]*EntityType{"post": postType, "video": videoType})

	alias, ok := MorphAliasFor(postType)
	require.True(t, ok)
	assert.Equal(t, "post", alias)

	_, ok = MorphAliasFor(&EntityType{Name: "Unregistered"})
	assert.False(t, ok)

	et, err := ResolveMorphAlias("video")
	require.NoError(t, err)
	assert.Same(t, videoType, et)

	_, err = ResolveMorphAlias("comment")
	require.Error(t, err)
	assert.True(t, IsMorphUnresolved(err))

	// The map is now frozen since ResolveMorphAlias read it above.
	assert.Panics(t, func() {
		SetMorphMap(map[string]*EntityType{"post": postType})
	})
}
