package upstream

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultSystemPrompt = `You are a helpful AI assistant. Provide clear, concise, and helpful responses. Format your responses nicely with proper spacing and structure when appropriate.`

// Config of the chat completions API that messages are relayed to.
type Config struct {
	URL          string            `yaml:"url"`
	APIKey       string            `yaml:"apiKey"`
	Model        string            `yaml:"model"`
	SystemPrompt string            `yaml:"systemPrompt"`
	Temperature  float64           `yaml:"temperature"`
	MaxTokens    int               `yaml:"maxTokens"`
	Referer      string            `yaml:"referer"`
	Title        string            `yaml:"title"`
	Headers      map[string]string `yaml:"headers"`
	// Timeout bounds the whole upstream call, including the stream.
	Timeout time.Duration `yaml:"timeout"`
	// ReadTimeout bounds the wait for each line of the stream.
	ReadTimeout time.Duration `yaml:"readTimeout"`
}

func DefaultConfig() Config {
	return Config{
		URL:          "https://openrouter.ai/api/v1/chat/completions",
		Model:        "deepseek/deepseek-chat",
		SystemPrompt: DefaultSystemPrompt,
		Temperature:  0.7,
		MaxTokens:    2000,
		Referer:      "http://localhost:8000",
		Title:        "AI Chatbot",
		Timeout:      30 * time.Second,
		ReadTimeout:  30 * time.Second,
	}
}

// LoadConfig reads a YAML file over the top of base. Fields missing from the
// file keep their value from base.
func LoadConfig(name string, base Config) (config Config, err error) {
	f, err := os.Open(name)
	if err != nil {
		return config, err
	}
	defer f.Close()
	config = base
	if err = yaml.NewDecoder(f).Decode(&config); err != nil {
		return config, fmt.Errorf("failed to decode %s: %w", name, err)
	}
	return config, nil
}

func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("upstream URL is required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("upstream API key is required")
	}
	if c.Model == "" {
		return fmt.Errorf("upstream model is required")
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max tokens must not be negative, got %d", c.MaxTokens)
	}
	if c.Timeout < 0 || c.ReadTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	return nil
}
