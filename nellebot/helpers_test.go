package nellebot

import (
	"github.com/stretchr/testify/assert"
	"log/slog"
	"testing"
)

func TestStructToSlogValue(t *testing.T) {
	type inner struct {
		Name string `json:"name"`
	}
	type outer struct {
		Token  string   `json:"token" log:"[redacted]"`
		Inner  *inner   `json:"inner"`
		Empty  string   `json:"empty"`
		IDs    []string `json:"ids"`
		hidden string
	}
	v := structToSlogValue(outer{Token: "secret", Inner: &inner{Name: "nellebot"}, hidden: "x"})
	assert.Equal(t, slog.KindGroup, v.Kind())

	attrs := map[string]slog.Value{}
	for _, a := range v.Group() {
		attrs[a.Key] = a.Value
	}
	assert.Equal(t, "[redacted]", attrs["token"].String())
	assert.NotContains(t, attrs, "empty")
	assert.NotContains(t, attrs, "ids")
	assert.NotContains(t, attrs, "hidden")
	assert.Equal(t, "nellebot", attrs["inner"].Group()[0].Value.String())

	assert.Equal(t, slog.KindAny, structToSlogValue(nil).Kind())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "blåbær", truncate("blåbærsyltetøy", 6))
	assert.Equal(t, "hei", truncate("hei", 10))
}

func TestChunkItems(t *testing.T) {
	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, chunkItems(2, 1, 2, 3, 4, 5))
	assert.Nil(t, chunkItems[int](3))
}
