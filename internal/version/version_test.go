package version_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maxgio92/xstat/internal/version"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    version.Version
		wantErr bool
	}{
		{"full", "1.2.3", version.Version{Major: 1, Minor: 2, Revision: 3}, false},
		{"prefixed", "v4.5.6", version.Version{Major: 4, Minor: 5, Revision: 6}, false},
		{"short", "2.1", version.Version{Major: 2, Minor: 1}, false},
		{"prerelease", "1.0.0-rc1", version.Version{Major: 1}, false},
		{"empty", "", version.Version{}, true},
		{"words", "dev", version.Version{}, true},
		{"too many", "1.2.3.4", version.Version{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := version.Parse(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, version.ErrMalformedVersion)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, v)
		})
	}
}

func TestBuild(t *testing.T) {
	orig := version.Current
	defer func() { version.Current = orig }()

	version.Current = "1.2.3"
	require.Equal(t, "1.2.3", version.Build().String())

	version.Current = "dev"
	require.Equal(t, version.Version{}, version.Build())
}
