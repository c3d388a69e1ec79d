package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"evolabeler/config"

	openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultQwenBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	DefaultQwenModel   = "qwen-plus"

	defaultQueryCount = 5

	strategySystemPrompt = `你是目标检测数据采集策略专家。根据给出的类别与场景信息，生成适合图片搜索引擎的中文搜索关键词。
只输出 JSON，格式为 {"queries": ["..."], "scene_type": "...", "key_features": ["..."]}。`
)

// QwenStrategyService 调用 Qwen 的 OpenAI 兼容接口生成数据搜索策略，
// 实现 StrategyGenerator。LLM 不可用时退化为按类别名拼接关键词。
type QwenStrategyService struct {
	client *openai.Client
	model  string
}

func NewQwenStrategyService() *QwenStrategyService {
	baseURL := DefaultQwenBaseURL
	model := DefaultQwenModel
	apiKey := ""
	if config.AppConfig != nil {
		qwen := config.AppConfig.Qwen
		apiKey = qwen.APIKey
		if strings.TrimSpace(qwen.BaseURL) != "" {
			baseURL = qwen.BaseURL
		}
		if strings.TrimSpace(qwen.Model) != "" {
			model = qwen.Model
		}
	}

	clientConfig := openai.DefaultConfig(apiKey)
	clientConfig.BaseURL = baseURL

	return &QwenStrategyService{
		client: openai.NewClientWithConfig(clientConfig),
		model:  model,
	}
}

// GenerateStrategy 基于类别名与样例图片信息生成搜索策略。
// LLM 调用失败或输出不可解析时回退到类别名关键词，保证采集不中断。
func (s *QwenStrategyService) GenerateStrategy(ctx context.Context, imagePaths []string, classNames []string) (SearchStrategy, error) {
	logger := serviceLogger().With("service", "QwenStrategyService", "method", "GenerateStrategy")

	userPrompt := buildStrategyPrompt(imagePaths, classNames, defaultQueryCount)

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: strategySystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		Temperature: 0.7,
	})
	if err != nil {
		logger.Warn("llm strategy generation failed, falling back to class names", "error", err)
		return fallbackStrategy(classNames), nil
	}
	if len(resp.Choices) == 0 {
		logger.Warn("llm returned no choices, falling back to class names")
		return fallbackStrategy(classNames), nil
	}

	strategy, err := parseStrategyResponse(resp.Choices[0].Message.Content)
	if err != nil || len(strategy.Queries) == 0 {
		logger.Warn("parse llm strategy failed, falling back to class names", "error", err)
		return fallbackStrategy(classNames), nil
	}

	logger.Info("strategy generated",
		"query_count", len(strategy.Queries),
		"scene_type", strategy.SceneType,
	)
	return strategy, nil
}

func buildStrategyPrompt(imagePaths, classNames []string, numQueries int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "目标类别: %s\n", strings.Join(classNames, ", "))
	if len(imagePaths) > 0 {
		sampleCount := len(imagePaths)
		if sampleCount > 5 {
			sampleCount = 5
		}
		fmt.Fprintf(&sb, "样例图片 (%d 张): %s\n", len(imagePaths), strings.Join(imagePaths[:sampleCount], ", "))
	}
	fmt.Fprintf(&sb, "请生成 %d 个搜索关键词。", numQueries)
	return sb.String()
}

// parseStrategyResponse 解析 LLM 输出中的 JSON 文档。
func parseStrategyResponse(content string) (SearchStrategy, error) {
	var strategy SearchStrategy
	document := extractJSONDocument(content)
	if err := json.Unmarshal([]byte(document), &strategy); err != nil {
		return SearchStrategy{}, fmt.Errorf("parse strategy response failed: %w", err)
	}
	return strategy, nil
}

// fallbackStrategy 按类别名拼接通用关键词。
func fallbackStrategy(classNames []string) SearchStrategy {
	queries := make([]string, 0, len(classNames))
	for _, className := range classNames {
		name := strings.TrimSpace(className)
		if name == "" {
			continue
		}
		queries = append(queries, name+" 遥感影像")
	}
	if len(queries) == 0 {
		queries = append(queries, "遥感影像 目标检测 数据集")
	}
	return SearchStrategy{
		Queries:   queries,
		SceneType: "unknown",
	}
}
