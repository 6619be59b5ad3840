package config

import (
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"docchat/internal/models"
)

type ServerConfig struct {
	Port string `yaml:"port"`
}

type DatabaseConfig struct {
	URL   string `yaml:"url"`
	Key   string `yaml:"key"`
	Debug bool   `yaml:"debug"`
}

type StorageConfig struct {
	URL        string `yaml:"url"`
	ServiceKey string `yaml:"service_key"`
	Bucket     string `yaml:"bucket"`
}

type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	BaseURL     string  `yaml:"base_url"`
	Key         string  `yaml:"key"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

type RAGConfig struct {
	// MatchThreshold is a sensitivity knob, not an architectural constant:
	// deployments tune it per corpus (0.1 and 0.5 are both in use).
	MatchThreshold float64 `yaml:"match_threshold"`
	MatchCount     int     `yaml:"match_count"`
	MaxInputChars  int     `yaml:"max_input_chars"`
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Storage  StorageConfig  `yaml:"storage"`
	EmbedLLM LLMConfig      `yaml:"embed_llm"`
	ChatLLM  LLMConfig      `yaml:"chat_llm"`
	RAG      RAGConfig      `yaml:"rag"`
}

// LoadConfig reads the YAML config file, then lets environment variables
// (optionally from a .env file) override the secrets so the service can run
// with the same variables the hosted functions used.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	overrideFromEnv(&cfg)
	cfg.applyDefaults()
	return &cfg, nil
}

func overrideFromEnv(cfg *Config) {
	setFromEnv(&cfg.Database.URL, "SUPABASE_DB_URL")
	setFromEnv(&cfg.Database.Key, "SUPABASE_DB_PASSWORD")
	setFromEnv(&cfg.Storage.URL, "SUPABASE_URL")
	setFromEnv(&cfg.Storage.ServiceKey, "SUPABASE_SERVICE_ROLE_KEY")
	setFromEnv(&cfg.ChatLLM.Key, "OPENROUTER_KEY")
	setFromEnv(&cfg.EmbedLLM.BaseURL, "EMBED_BASE_URL")
	setFromEnv(&cfg.Server.Port, "HTTP_PORT")
}

func setFromEnv(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Storage.Bucket == "" {
		cfg.Storage.Bucket = "files"
	}
	if cfg.EmbedLLM.Provider == "" {
		cfg.EmbedLLM.Provider = "ollama"
	}
	if cfg.EmbedLLM.BaseURL == "" {
		cfg.EmbedLLM.BaseURL = "http://localhost:11434"
	}
	if cfg.EmbedLLM.Model == "" {
		cfg.EmbedLLM.Model = "nomic-embed-text"
	}
	if cfg.ChatLLM.BaseURL == "" {
		cfg.ChatLLM.BaseURL = "https://openrouter.ai/api"
	}
	if cfg.ChatLLM.Model == "" {
		cfg.ChatLLM.Model = "openai/gpt-3.5-turbo"
	}
	if cfg.ChatLLM.MaxTokens == 0 {
		cfg.ChatLLM.MaxTokens = 1024
	}
	if cfg.RAG.MatchThreshold == 0 {
		cfg.RAG.MatchThreshold = 0.5
	}
	if cfg.RAG.MatchCount == 0 {
		cfg.RAG.MatchCount = 5
	}
	if cfg.RAG.MaxInputChars == 0 {
		cfg.RAG.MaxInputChars = 4000
	}
}

// Validate enumerates every missing required setting at once so a bad deploy
// fails fast with the full list instead of one field per restart.
func (cfg *Config) Validate() error {
	var missing []string
	if cfg.Database.URL == "" {
		missing = append(missing, "database.url")
	}
	if cfg.Storage.URL == "" {
		missing = append(missing, "storage.url")
	}
	if cfg.Storage.ServiceKey == "" {
		missing = append(missing, "storage.service_key")
	}
	if cfg.ChatLLM.Key == "" {
		missing = append(missing, "chat_llm.key")
	}
	if len(missing) > 0 {
		return &models.ConfigError{Missing: missing}
	}
	return nil
}
