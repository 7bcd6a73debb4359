package openai

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"
)

// Config for the chat-completions backend. With AzureEndpoint set the client talks to an
// Azure OpenAI deployment; otherwise it uses the OpenAI API (or BaseURL when given).
type Config struct {
	APIKey        string // if empty, falls back to env AZURE_OPENAI_API_KEY then OPENAI_API_KEY
	AzureEndpoint string
	APIVersion    string // Azure api-version, e.g. "2024-06-01"
	Model         string // model name, or deployment name on Azure
	BaseURL       string
	Timeout       time.Duration // http client timeout
	HTTPClient    *http.Client
}

type Client struct {
	cfg    Config
	api    openai.Client
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("AZURE_OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2024-06-01"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}

	// the invoker owns the retry policy: exactly one request per call
	opts := []option.RequestOption{
		option.WithMaxRetries(0),
		option.WithHTTPClient(cfg.HTTPClient),
	}
	if cfg.AzureEndpoint != "" {
		opts = append(opts,
			azure.WithEndpoint(cfg.AzureEndpoint, cfg.APIVersion),
			azure.WithAPIKey(cfg.APIKey),
		)
	} else {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
	}

	return &Client{
		cfg:    cfg,
		api:    openai.NewClient(opts...),
		logger: logger,
	}
}
