package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSICCodesArray(t *testing.T) {
	require.Equal(t, []string{"62012", "72190"}, (&Company{SICCodes: "62012, 72190"}).SICCodesArray())
	require.Equal(t, []string{"62012", "72190"}, (&Company{SICCodes: `["62012","72190"]`}).SICCodesArray())
	require.Nil(t, (&Company{SICCodes: "  "}).SICCodesArray())
	require.Equal(t, []string{"86900"}, (&Company{SICCodes: "86900"}).SICCodesArray())
}

func TestWorkpackageGrantIDs(t *testing.T) {
	var wp GrantMatchWorkpackage
	wp.SetGrantIDs([]uint{3, 1, 2})
	require.Equal(t, []uint{3, 1, 2}, wp.GrantIDList())

	var empty GrantMatchWorkpackage
	require.Empty(t, empty.GrantIDList())
}
