package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

func init() {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found, falling back to system environment variables")
	}
}

type Config struct {
	ListenAddr  string `env:"LISTEN_ADDR" envDefault:":8080"`
	StoragePath string `env:"STORAGE_PATH" envDefault:"datastore.json"`

	// Primary provider: any OpenAI-compatible chat completions endpoint.
	OpenAIBaseURL string `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIModel   string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`

	ProviderTimeout time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"20s"`
	IdleTimeout     time.Duration `env:"IDLE_TIMEOUT" envDefault:"5m"`

	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile     string `env:"LOG_FILE"`
	LogMaxSize  int    `env:"LOG_MAX_SIZE_MB" envDefault:"10"`
	LogBackups  int    `env:"LOG_BACKUPS" envDefault:"3"`
	LogCompress bool   `env:"LOG_COMPRESS" envDefault:"true"`
}

func New() *Config {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}
