package utils_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maxgio92/xstat/internal/utils"
)

func TestHash(t *testing.T) {
	require.NotEqual(t, utils.Hash("foo"), utils.Hash("bar"),
		"Hash should differ for different inputs",
	)

	require.Equal(
		t, utils.Hash("baz"), utils.Hash("baz"),
		"Hash should be deterministic for the same input",
	)
}

func TestConcat(t *testing.T) {
	require.Equal(t, "", utils.Concat())
	require.Equal(t, "mainfoobar", utils.Concat("main", "foo", "bar"))
	require.Equal(t, utils.Hash("mainfoo"), utils.Hash(utils.Concat("main", "foo")))
}
