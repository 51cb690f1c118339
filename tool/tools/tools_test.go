package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiammomo/ShuaiTravelAgent/tool"
)

func newRegistry(t *testing.T) *tool.Registry {
	t.Helper()
	r, err := tool.NewRegistry(4)
	require.NoError(t, err)
	t.Cleanup(r.Close)
	Register(r)
	return r
}

func TestCityInfoReturnsAttractions(t *testing.T) {
	r := newRegistry(t)
	out, err := r.Execute(context.Background(), "city_info_or_attractions", tool.Params{
		"cities": []string{"北京"},
	})
	require.NoError(t, err)
	assert.True(t, out["success"].(bool))
	info := out["info"].([]map[string]any)
	require.Len(t, info, 1)
	assert.Equal(t, "北京", info[0]["name"])
}

func TestCityInfoUnknownCityIsEmptyNotError(t *testing.T) {
	r := newRegistry(t)
	out, err := r.Execute(context.Background(), "city_info_or_attractions", tool.Params{
		"cities": []string{"亚特兰蒂斯"},
	})
	require.NoError(t, err)
	assert.False(t, out["success"].(bool))
}

func TestRoutePlanBuildsRequestedDayCount(t *testing.T) {
	r := newRegistry(t)
	out, err := r.Execute(context.Background(), "route_or_plan", tool.Params{
		"cities": []string{"成都"},
		"days":   3,
	})
	require.NoError(t, err)
	plan := out["route_plan"].([]map[string]any)
	assert.Len(t, plan, 3)
}

func TestRecommendFiltersByInterest(t *testing.T) {
	r := newRegistry(t)
	out, err := r.Execute(context.Background(), "search_or_recommend", tool.Params{
		"interests": []string{"food"},
	})
	require.NoError(t, err)
	cities := out["cities"].([]map[string]any)
	require.NotEmpty(t, cities)
	for _, c := range cities {
		assert.NotEmpty(t, c["name"])
	}
}
