package library

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilenameParser(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		want    ContentMeta
		wantErr bool
	}{
		{
			name: "full tags",
			path: "/games/Some Game [0100005501E68000][v65536].nsp",
			want: ContentMeta{TitleID: "0100005501E68000", Version: 65536, Name: "Some Game"},
		},
		{
			name: "no version tag",
			path: "/games/Another [0100000000001000].xci",
			want: ContentMeta{TitleID: "0100000000001000", Version: 0, Name: "Another"},
		},
		{
			name: "lowercase hex normalized",
			path: "/games/lower [0100005501e68000][v3].nsz",
			want: ContentMeta{TitleID: "0100005501E68000", Version: 3, Name: "lower"},
		},
		{
			name:    "no title tag",
			path:    "/games/untagged.nsp",
			wantErr: true,
		},
		{
			name:    "short hex tag",
			path:    "/games/bad [0100][v1].nsp",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metas, err := FilenameParser{}.Parse(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Len(t, metas, 1)
			assert.Equal(t, tt.want, metas[0])
		})
	}
}

func TestSelectContent(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		_, ok := SelectContent(nil)
		assert.False(t, ok)
	})

	t.Run("single", func(t *testing.T) {
		m, ok := SelectContent([]ContentMeta{{TitleID: "0100000000001800", Version: 2}})
		require.True(t, ok)
		assert.Equal(t, "0100000000001800", m.TitleID)
	})

	t.Run("base game beats higher-versioned update", func(t *testing.T) {
		m, ok := SelectContent([]ContentMeta{
			{TitleID: "0100000000001800", Version: 65536}, // update
			{TitleID: "0100000000001000", Version: 0},     // base
		})
		require.True(t, ok)
		assert.Equal(t, "0100000000001000", m.TitleID)
		assert.Equal(t, 0, m.Version)
	})

	t.Run("highest version among non-base", func(t *testing.T) {
		m, ok := SelectContent([]ContentMeta{
			{TitleID: "0100000000001800", Version: 1},
			{TitleID: "0100000000001800", Version: 3},
			{TitleID: "0100000000001800", Version: 2},
		})
		require.True(t, ok)
		assert.Equal(t, 3, m.Version)
	})
}

func TestDownloadID(t *testing.T) {
	assert.Equal(t, "010005501E68C000_v65536.xci", DownloadID("010005501E68C000", 65536, "xci"))
	assert.Equal(t, "0100000000001000_v0.nsp", DownloadID("0100000000001000", 0, "nsp"))
}
