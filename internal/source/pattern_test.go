package source

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkerPattern_Match(t *testing.T) {
	testCases := []struct {
		name    string
		pattern MarkerPattern
		line    string
		want    string
		ok      bool
	}{
		{
			name:    "after and first field",
			pattern: MarkerPattern{Marker: "-m pkg.mod", After: "--path=", Pick: FirstField},
			line:    "+ python -m pkg.mod --path=ARM_scene_a --verbose",
			want:    "ARM_scene_a",
			ok:      true,
		},
		{
			name:    "last path segment",
			pattern: MarkerPattern{Marker: "PC_PATH=", Pick: LastPathSegment},
			line:    "PC_PATH=/data/pc/scene_b/",
			want:    "scene_b",
			ok:      true,
		},
		{
			name:    "marker missing",
			pattern: MarkerPattern{Marker: "PC_PATH="},
			line:    "nothing here",
		},
		{
			name:    "required after missing",
			pattern: MarkerPattern{Marker: "Archive:", After: "/mnt/", RequireAfter: true},
			line:    "Archive: /tmp/x.zip",
		},
		{
			name:    "empty pick",
			pattern: MarkerPattern{Marker: "PC_PATH=", Pick: FirstField},
			line:    "PC_PATH=   ",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := tc.pattern.Match(tc.line)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestExtract_PriorityOrder(t *testing.T) {
	low := MarkerPattern{Label: "low", Marker: "B="}
	high := MarkerPattern{Label: "high", Marker: "A="}
	text := "B=first\nA=second"

	got, ok := Extract(text, high, low)
	require.True(t, ok)
	assert.Equal(t, "second", got)

	got, ok = Extract(text, low, high)
	require.True(t, ok)
	assert.Equal(t, "first", got)

	_, ok = Extract(text, MarkerPattern{Marker: "C="})
	assert.False(t, ok)
}

type consoleFunc func(ctx context.Context, jobURL string) (string, error)

func (f consoleFunc) FetchConsole(ctx context.Context, jobURL string) (string, error) {
	return f(ctx, jobURL)
}

func TestExtractFrom(t *testing.T) {
	console := consoleFunc(func(_ context.Context, jobURL string) (string, error) {
		if jobURL == "bad" {
			return "", errors.New("404")
		}
		return "PC_PATH=/a/scene_c", nil
	})
	p := MarkerPattern{Marker: "PC_PATH=", Pick: LastPathSegment}

	got, ok, err := ExtractFrom(context.Background(), console, "good", p)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "scene_c", got)

	_, _, err = ExtractFrom(context.Background(), console, "bad", p)
	assert.Error(t, err)
}
