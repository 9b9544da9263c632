package staging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"sparkify/pkg/errors"
)

func TestToGJSONPath(t *testing.T) {
	tests := []struct {
		expr    string
		want    string
		wantErr bool
	}{
		{expr: "$['userId']", want: "userId"},
		{expr: `$["itemInSession"]`, want: "itemInSession"},
		{expr: "$.song", want: "song"},
		{expr: "$.song.artist_id", want: "song.artist_id"},
		{expr: "$['tags'][0]", want: "tags.0"},
		{expr: "$['a.b']", want: `a\.b`},
		{expr: "$['x]y']", want: `x\]y`},
		{expr: "  $['ts']  ", want: "ts"},
		{expr: "userId", wantErr: true},
		{expr: "$", wantErr: true},
		{expr: "$['open", wantErr: true},
		{expr: "$[*]", wantErr: true},
		{expr: "$..name", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := toGJSONPath(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEscapedPathsResolve(t *testing.T) {
	record := `{"a.b": 1, "x]y": "z", "tags": ["rock", "pop"], "song": {"artist_id": "AR1"}}`

	paths, err := ConvertJSONPaths([]string{"$['a.b']", "$['x]y']", "$['tags'][1]", "$.song.artist_id"})
	require.NoError(t, err)

	results := gjson.GetMany(record, paths...)
	assert.Equal(t, int64(1), results[0].Int())
	assert.Equal(t, "z", results[1].String())
	assert.Equal(t, "pop", results[2].String())
	assert.Equal(t, "AR1", results[3].String())
}

func TestParseJSONPaths(t *testing.T) {
	paths, err := ParseJSONPaths([]byte(`{
    "jsonpaths": [
        "$['artist']",
        "$['userId']"
    ]
}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"artist", "userId"}, paths)

	_, err = ParseJSONPaths([]byte(`{"jsonpaths": []}`))
	assert.True(t, errors.IsCode(err, errors.ErrCodeMalformedRecord))

	_, err = ParseJSONPaths([]byte(`not json`))
	assert.True(t, errors.IsCode(err, errors.ErrCodeMalformedRecord))

	_, err = ParseJSONPaths([]byte(`{"jsonpaths": ["$['ok']", "bad"]}`))
	require.Error(t, err)
	var appErr *errors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, 1, appErr.Context["position"])
}
