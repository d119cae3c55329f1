package identify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOrgan(t *testing.T) {
	for _, raw := range []string{"leaf", "flower", "fruit", "bark", "auto", "unspecified"} {
		organ, err := ParseOrgan(raw)
		require.NoError(t, err)
		assert.Equal(t, Organ(raw), organ)
	}

	_, err := ParseOrgan("stem")
	assert.ErrorIs(t, err, ErrInvalidOrganValue)

	_, err = ParseOrgan("")
	assert.ErrorIs(t, err, ErrInvalidOrganValue)

	_, err = ParseOrgan("Leaf")
	assert.ErrorIs(t, err, ErrInvalidOrganValue)
}

func TestResolveOrgansBroadcast(t *testing.T) {
	resolved := ResolveOrgans([]Organ{OrganLeaf}, 4)
	assert.Equal(t, []Organ{OrganLeaf, OrganLeaf, OrganLeaf, OrganLeaf}, resolved)
}

func TestResolveOrgansPositional(t *testing.T) {
	resolved := ResolveOrgans([]Organ{OrganLeaf, OrganFlower, OrganBark}, 3)
	assert.Equal(t, []Organ{OrganLeaf, OrganFlower, OrganBark}, resolved)
}

func TestResolveOrgansTranslatesSentinel(t *testing.T) {
	resolved := ResolveOrgans([]Organ{OrganLeaf, OrganUnspecified, OrganFlower}, 3)
	assert.Equal(t, []Organ{OrganLeaf, OrganAuto, OrganFlower}, resolved)

	// Broadcast of the sentinel becomes automatic detection everywhere.
	resolved = ResolveOrgans([]Organ{OrganUnspecified}, 2)
	assert.Equal(t, []Organ{OrganAuto, OrganAuto}, resolved)

	for _, organ := range resolved {
		assert.NotEqual(t, OrganUnspecified, organ)
	}
}
