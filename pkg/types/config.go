// Package types provides configuration types for the forecasting backend.
package types

import "time"

// ServerConfig represents server configuration
type ServerConfig struct {
	Host          string        `json:"host"`
	Port          int           `json:"port"`
	WebSocketPath string        `json:"websocketPath"`
	ReadTimeout   time.Duration `json:"readTimeout"`
	WriteTimeout  time.Duration `json:"writeTimeout"`
	EnableMetrics bool          `json:"enableMetrics"`
	MaxUploadSize int64         `json:"maxUploadSize"`
}

// WalkForwardConfig holds the window sizes applied when a request omits them.
type WalkForwardConfig struct {
	InSampleDays  int `json:"insampleDays"`
	OutSampleDays int `json:"outsampleDays"`
}

// DataConfig represents data storage configuration
type DataConfig struct {
	DataDir string `json:"dataDir"`
}
