package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/a-h/chatrelay/server"
	"github.com/a-h/chatrelay/upstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type ServeCommand struct {
	ListenAddr     string        `help:"The address to listen on." env:"LISTEN_ADDR" default:"localhost:8000"`
	UpstreamURL    string        `help:"The URL of the chat completions API." env:"UPSTREAM_URL" default:"https://openrouter.ai/api/v1/chat/completions"`
	APIKey         string        `help:"The API key of the chat completions API." env:"OPENROUTER_API_KEY" default:""`
	Model          string        `help:"The model to chat with." env:"CHAT_MODEL" default:"deepseek/deepseek-chat"`
	SystemPrompt   string        `help:"A file containing the system prompt to use." env:"SYSTEM_PROMPT" default:""`
	Temperature    float64       `help:"The sampling temperature." env:"TEMPERATURE" default:"0.7"`
	MaxTokens      int           `help:"The maximum number of tokens to generate." env:"MAX_TOKENS" default:"2000"`
	Referer        string        `help:"The HTTP-Referer header sent to the API." env:"REFERER" default:"http://localhost:8000"`
	Title          string        `help:"The X-Title header sent to the API." env:"TITLE" default:"AI Chatbot"`
	Timeout        time.Duration `help:"The maximum duration of an upstream call." env:"TIMEOUT" default:"30s"`
	ReadTimeout    time.Duration `help:"The maximum wait for upstream data." env:"READ_TIMEOUT" default:"30s"`
	UpstreamConfig string        `help:"A YAML file of upstream settings, which take precedence over flags." env:"UPSTREAM_CONFIG" default:""`
	TLSCertFile    string        `help:"The TLS certificate file." env:"TLS_CERT_FILE" default:""`
	TLSKeyFile     string        `help:"The TLS key file." env:"TLS_KEY_FILE" default:""`
	LogLevel       string        `help:"The log level to use." env:"LOG_LEVEL" default:"info"`
}

func readFileOrDefault(filename, defaultContent string) (string, error) {
	if filename == "" {
		return defaultContent, nil
	}
	contents, err := os.ReadFile(filename)
	if err != nil {
		return "", fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return string(contents), nil
}

func (c ServeCommand) upstreamConfig() (config upstream.Config, err error) {
	systemPrompt, err := readFileOrDefault(c.SystemPrompt, upstream.DefaultSystemPrompt)
	if err != nil {
		return config, fmt.Errorf("failed to read system prompt: %w", err)
	}
	config = upstream.Config{
		URL:          c.UpstreamURL,
		APIKey:       c.APIKey,
		Model:        c.Model,
		SystemPrompt: systemPrompt,
		Temperature:  c.Temperature,
		MaxTokens:    c.MaxTokens,
		Referer:      c.Referer,
		Title:        c.Title,
		Timeout:      c.Timeout,
		ReadTimeout:  c.ReadTimeout,
	}
	if c.UpstreamConfig != "" {
		if config, err = upstream.LoadConfig(c.UpstreamConfig, config); err != nil {
			return config, fmt.Errorf("failed to load upstream config: %w", err)
		}
	}
	if err = config.Validate(); err != nil {
		return config, fmt.Errorf("invalid upstream config: %w", err)
	}
	return config, nil
}

func (c ServeCommand) Run(ctx context.Context) (err error) {
	log := getLogger(c.LogLevel)

	config, err := c.upstreamConfig()
	if err != nil {
		return err
	}
	log.Info("relaying to upstream", slog.String("url", config.URL), slog.String("model", config.Model))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	h := server.New(log, upstream.New(config, &http.Client{}), reg)

	log.Info("Listening", slog.String("addr", c.ListenAddr))
	s := &http.Server{
		Addr:    c.ListenAddr,
		Handler: h,
	}
	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			log.Error("failed to shut down", slog.Any("error", err))
		}
	}()
	if c.TLSCertFile != "" && c.TLSKeyFile != "" {
		log.Info("Enabling TLS mode")
		var cert tls.Certificate
		cert, err = tls.LoadX509KeyPair(c.TLSCertFile, c.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("failed to load cert: %w", err)
		}
		s.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
		err = s.ListenAndServeTLS(c.TLSCertFile, c.TLSKeyFile)
	} else {
		err = s.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
