package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config 生成管道的全部可识别配置项。选项集是封闭的：
// 未知键在加载时报错，而不是被静默忽略。
type Config struct {
	LLM        LLMConfig        `yaml:"llm"`
	Generation GenerationConfig `yaml:"generation"`
	Context    ContextConfig    `yaml:"context"`
	Output     OutputConfig     `yaml:"output"`
}

// LLMConfig 模型后端配置。
type LLMConfig struct {
	Provider       string  `yaml:"provider"`
	Model          string  `yaml:"model"`
	Temperature    float64 `yaml:"temperature"`
	APIKey         string  `yaml:"api_key"`
	BaseURL        string  `yaml:"base_url"`
	MaxRetries     int     `yaml:"max_retries"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// GenerationConfig 字数预算与容差带。
type GenerationConfig struct {
	WordsPerSection int     `yaml:"words_per_section"`
	MinTolerance    float64 `yaml:"min_tolerance"`
	MaxTolerance    float64 `yaml:"max_tolerance"`
	LengthRetries   int     `yaml:"length_retries"`
}

// ContextConfig 上下文窗口限额。
type ContextConfig struct {
	MaxContextTokens     int `yaml:"max_context_tokens"`
	RecentSummariesCount int `yaml:"recent_summaries_count"`
	TailChars            int `yaml:"tail_chars"`
}

// OutputConfig 输出目录与导出选项。
type OutputConfig struct {
	Directory  string `yaml:"directory"`
	HTMLExport bool   `yaml:"html_export"`
}

// DefaultConfig 返回可直接运行的默认配置（mock 后端除外需显式指定 provider）。
func DefaultConfig() Config {
	return Config{
		LLM: LLMConfig{
			Provider:       "deepseek",
			Model:          "deepseek-chat",
			Temperature:    0.7,
			MaxRetries:     3,
			TimeoutSeconds: 120,
		},
		Generation: GenerationConfig{
			WordsPerSection: 2500,
			MinTolerance:    0.8,
			MaxTolerance:    1.2,
			LengthRetries:   2,
		},
		Context: ContextConfig{
			MaxContextTokens:     8000,
			RecentSummariesCount: 5,
			TailChars:            500,
		},
		Output: OutputConfig{
			Directory: "./output",
		},
	}
}

// LoadConfig reads YAML config from disk. 未知键直接报错。
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return ParseConfig(data)
}

// ParseConfig 严格解析配置并套用默认值与校验。
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.LLM.APIKey = expandEnv(cfg.LLM.APIKey)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var envRef = regexp.MustCompile(`^\$\{(\w+)\}$`)

// expandEnv 支持 api_key: ${DEEPSEEK_API_KEY} 的写法。
func expandEnv(v string) string {
	if m := envRef.FindStringSubmatch(v); m != nil {
		return os.Getenv(m[1])
	}
	return v
}

// Validate 校验配置取值。
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "deepseek", "mock":
	case "":
		return errors.New("llm.provider is required")
	default:
		return fmt.Errorf("llm.provider %q not supported", c.LLM.Provider)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature %v out of range [0, 2]", c.LLM.Temperature)
	}
	if c.Generation.WordsPerSection <= 0 {
		return errors.New("generation.words_per_section must be positive")
	}
	if c.Generation.MinTolerance <= 0 || c.Generation.MinTolerance > 1 {
		return fmt.Errorf("generation.min_tolerance %v out of range (0, 1]", c.Generation.MinTolerance)
	}
	if c.Generation.MaxTolerance < 1 {
		return fmt.Errorf("generation.max_tolerance %v must be at least 1", c.Generation.MaxTolerance)
	}
	if c.Context.MaxContextTokens <= 0 {
		return errors.New("context.max_context_tokens must be positive")
	}
	if c.Context.RecentSummariesCount <= 0 {
		return errors.New("context.recent_summaries_count must be positive")
	}
	if c.Output.Directory == "" {
		return errors.New("output.directory is required")
	}
	return nil
}
