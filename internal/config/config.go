// Package config loads the service configuration from a YAML file and the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Listen   string `yaml:"listen"`
	BaseURL  string `yaml:"base_url"`
	LogLevel string `yaml:"log_level"`

	Mongo struct {
		URI         string      `yaml:"uri"`
		Database    string      `yaml:"database"`
		Collections Collections `yaml:"collections"`
	} `yaml:"mongo"`

	Slack struct {
		Token string `yaml:"token"`
	} `yaml:"slack"`

	SMTP struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		From     string `yaml:"from"`
		FromName string `yaml:"from_name"`
	} `yaml:"smtp"`

	Redis struct {
		Addr             string        `yaml:"addr"`
		FlowcellCacheTTL time.Duration `yaml:"flowcell_cache_ttl"`
	} `yaml:"redis"`

	Audit struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"audit"`

	Notify struct {
		Workers int           `yaml:"workers"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"notify"`
}

// Collections names the Mongo collections the service reads and writes.
type Collections struct {
	RunningNotes string `yaml:"running_notes"`
	Projects     string `yaml:"projects"`
	Flowcells    string `yaml:"flowcells"`
	XFlowcells   string `yaml:"x_flowcells"`
	Worksets     string `yaml:"worksets"`
	NanoporeRuns string `yaml:"nanopore_runs"`
	Users        string `yaml:"users"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c := &Config{
		Listen:   ":8888",
		BaseURL:  "http://localhost:8888",
		LogLevel: "info",
	}
	c.Mongo.URI = "mongodb://localhost:27017"
	c.Mongo.Database = "genstat"
	c.Mongo.Collections = Collections{
		RunningNotes: "running_notes",
		Projects:     "projects",
		Flowcells:    "flowcells",
		XFlowcells:   "x_flowcells",
		Worksets:     "worksets",
		NanoporeRuns: "nanopore_runs",
		Users:        "gs_users",
	}
	c.SMTP.Host = "localhost"
	c.SMTP.Port = 25
	c.SMTP.From = "genomics-bioinfo@scilifelab.se"
	c.SMTP.FromName = "genomics-status"
	c.Redis.FlowcellCacheTTL = 3 * time.Minute
	c.Audit.Driver = "postgres"
	c.Notify.Workers = 4
	c.Notify.Timeout = 20 * time.Second
	return c
}

// Load reads path over the defaults, then applies environment overrides. An empty path
// skips the file.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	c.applyEnv()
	return c, nil
}

func (c *Config) applyEnv() {
	c.Mongo.URI = getEnv("MONGODB_URI", c.Mongo.URI)
	c.Slack.Token = getEnv("SLACK_TOKEN", c.Slack.Token)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Audit.DSN = getEnv("AUDIT_DSN", c.Audit.DSN)
	if port := os.Getenv("PORT"); port != "" {
		if _, err := strconv.Atoi(port); err == nil {
			c.Listen = ":" + port
		}
	}
}

// Level maps log_level to a slog level, defaulting to info.
func (c *Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
