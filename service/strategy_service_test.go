package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseStrategyResponsePlainJSON(t *testing.T) {
	content := `{"queries": ["机场 遥感影像", "港口 船舶 卫星图"], "scene_type": "aerial", "key_features": ["小目标", "俯视视角"]}`

	strategy, err := parseStrategyResponse(content)

	assert.NoError(t, err)
	assert.Equal(t, []string{"机场 遥感影像", "港口 船舶 卫星图"}, strategy.Queries)
	assert.Equal(t, "aerial", strategy.SceneType)
	assert.Len(t, strategy.KeyFeatures, 2)
}

func TestParseStrategyResponseFencedJSON(t *testing.T) {
	content := "以下是生成的策略：\n```json\n{\"queries\": [\"舰船 航拍\"], \"scene_type\": \"harbor\"}\n```\n"

	strategy, err := parseStrategyResponse(content)

	assert.NoError(t, err)
	assert.Equal(t, []string{"舰船 航拍"}, strategy.Queries)
	assert.Equal(t, "harbor", strategy.SceneType)
}

func TestParseStrategyResponseRejectsNonJSON(t *testing.T) {
	_, err := parseStrategyResponse("抱歉，我无法生成搜索关键词。")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "parse strategy response failed")
}

func TestFallbackStrategyUsesClassNames(t *testing.T) {
	strategy := fallbackStrategy([]string{"plane", " ship ", ""})

	assert.Equal(t, []string{"plane 遥感影像", "ship 遥感影像"}, strategy.Queries)
	assert.Equal(t, "unknown", strategy.SceneType)
}

func TestFallbackStrategyWithoutClassNames(t *testing.T) {
	strategy := fallbackStrategy(nil)

	assert.Len(t, strategy.Queries, 1)
	assert.Contains(t, strategy.Queries[0], "遥感影像")
}

func TestBuildStrategyPromptCapsSampleImages(t *testing.T) {
	images := []string{"a.jpg", "b.jpg", "c.jpg", "d.jpg", "e.jpg", "f.jpg", "g.jpg"}

	prompt := buildStrategyPrompt(images, []string{"plane", "ship"}, 5)

	assert.Contains(t, prompt, "plane, ship")
	assert.Contains(t, prompt, "7 张")
	assert.Contains(t, prompt, "e.jpg")
	assert.NotContains(t, prompt, "f.jpg")
	assert.True(t, strings.Contains(prompt, "5 个搜索关键词"))
}
