package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"sync"
	"time"
)

// Config holds all application configuration values for the playback gateway.
// It covers the portal connection identity, playback timeouts, catalog caching
// and the operational switches for logging and URL obfuscation.
type Config struct {
	BaseURL               string        `json:"baseURL"`               // Base URL of this gateway, used to build proxied stream URLs
	ListenPort            int           `json:"listenPort"`            // TCP port the HTTP server binds to
	PortalURL             string        `json:"portalURL"`             // Base URL of the Stalker middleware server
	MACAddress            string        `json:"macAddress"`            // Device MAC address used as the portal identity
	UserAgent             string        `json:"userAgent"`             // HTTP User-Agent for portal and upstream requests
	ResolveTimeout        time.Duration `json:"resolveTimeout"`        // Timeout for the redirect-following resolution request
	PortalTimeout         time.Duration `json:"portalTimeout"`         // Timeout for portal catalog/link API calls
	EngineReadyTimeout    time.Duration `json:"engineReadyTimeout"`    // How long an engine may take to signal readiness
	ImportRefreshInterval time.Duration `json:"importRefreshInterval"` // Interval for refreshing the imported catalog
	CacheEnabled          bool          `json:"cacheEnabled"`          // Whether catalog caching is enabled
	CacheDuration         time.Duration `json:"cacheDuration"`         // Duration before catalog cache entries expire
	WorkerThreads         int           `json:"workerThreads"`         // Worker pool size for catalog imports
	RequestsPerSecond     int           `json:"requestsPerSecond"`     // Portal request rate limit
	SurfaceBufferSize     int64         `json:"surfaceBufferSize"`     // Media surface ring buffer size in MB
	Autoplay              bool          `json:"autoplay"`              // Whether playback may start without an explicit user action
	Debug                 bool          `json:"debug"`                 // Enable debug logging
	ObfuscateUrls         bool          `json:"obfuscateUrls"`         // Obfuscate stream URLs in logs
}

// ConfigFile represents the JSON file structure for the configuration.
// Duration fields are stored as strings (e.g. "10s") and parsed on load.
type ConfigFile struct {
	BaseURL               string `json:"baseURL"`
	ListenPort            int    `json:"listenPort"`
	PortalURL             string `json:"portalURL"`
	MACAddress            string `json:"macAddress"`
	UserAgent             string `json:"userAgent"`
	ResolveTimeout        string `json:"resolveTimeout"`        // Duration string (e.g. "10s")
	PortalTimeout         string `json:"portalTimeout"`         // Duration string (e.g. "15s")
	EngineReadyTimeout    string `json:"engineReadyTimeout"`    // Duration string (e.g. "15s")
	ImportRefreshInterval string `json:"importRefreshInterval"` // Duration string (e.g. "12h")
	CacheEnabled          bool   `json:"cacheEnabled"`
	CacheDuration         string `json:"cacheDuration"` // Duration string (e.g. "30m")
	WorkerThreads         int    `json:"workerThreads"`
	RequestsPerSecond     int    `json:"requestsPerSecond"`
	SurfaceBufferSize     int64  `json:"surfaceBufferSize"`
	Autoplay              *bool  `json:"autoplay,omitempty"` // pointer so an absent key defaults to true
	Debug                 bool   `json:"debug"`
	ObfuscateUrls         bool   `json:"obfuscateUrls"`
}

var (
	configCache *Config      // Cached configuration instance (singleton)
	configMutex sync.RWMutex // Mutex for safe concurrent access to configCache
)

// configPath is where the gateway looks for its settings file.
const configPath = "/settings/config.json"

// LoadConfig loads the configuration from file or returns the cached instance.
//
// Process:
//   - Uses double-checked locking to avoid redundant reloads.
//   - Attempts to load from /settings/config.json.
//   - Falls back to default config if file is missing or invalid.
//   - Runs validation to ensure safe defaults.
//
// Returns:
//   - *Config: fully validated configuration object
func LoadConfig() *Config {
	configMutex.RLock()
	if configCache != nil {
		defer configMutex.RUnlock()
		return configCache
	}
	configMutex.RUnlock()

	configMutex.Lock()
	defer configMutex.Unlock()

	// Double-check under write lock
	if configCache != nil {
		return configCache
	}

	config, err := loadFromFile(configPath)
	if err != nil {
		log.Printf("Failed to load config from %s: %v", configPath, err)
		log.Printf("Falling back to default configuration...")
		if errors.Is(err, os.ErrNotExist) {
			if werr := CreateExampleConfig(configPath); werr == nil {
				log.Printf("Wrote example config to %s", configPath)
			}
		}
		config = getDefaultConfig()
	}

	// Ensure safe defaults for missing values
	validateAndSetDefaults(config)

	// Cache for future calls
	configCache = config

	// Debug logging of loaded config
	if config.Debug {
		log.Printf("Configuration loaded:")
		log.Printf("  Portal: %s (mac: %s)", obfuscateURL(config.PortalURL), config.MACAddress)
		log.Printf("  Base URL: %s", config.BaseURL)
		log.Printf("  Resolve timeout: %s", config.ResolveTimeout)
		log.Printf("  Engine ready timeout: %s", config.EngineReadyTimeout)
		log.Printf("  Debug: %v", config.Debug)
		log.Printf("  Obfuscate URLs: %v", config.ObfuscateUrls)
	}

	return config
}

// loadFromFile reads and parses the configuration from a JSON file.
func loadFromFile(path string) (*Config, error) {

	// read from the file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// unmarshal the config file
	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// convert to our settings
	return convertFromFile(&configFile)
}

// convertFromFile converts a ConfigFile to Config,
// parsing duration strings into time.Duration.
func convertFromFile(cf *ConfigFile) (*Config, error) {
	config := &Config{
		BaseURL:           cf.BaseURL,
		ListenPort:        cf.ListenPort,
		PortalURL:         cf.PortalURL,
		MACAddress:        cf.MACAddress,
		UserAgent:         cf.UserAgent,
		CacheEnabled:      cf.CacheEnabled,
		WorkerThreads:     cf.WorkerThreads,
		RequestsPerSecond: cf.RequestsPerSecond,
		SurfaceBufferSize: cf.SurfaceBufferSize,
		Autoplay:          true,
		Debug:             cf.Debug,
		ObfuscateUrls:     cf.ObfuscateUrls,
	}

	if cf.Autoplay != nil {
		config.Autoplay = *cf.Autoplay
	}

	// Parse duration fields; unset strings fall through to defaults later
	var err error
	if cf.ResolveTimeout != "" {
		if config.ResolveTimeout, err = time.ParseDuration(cf.ResolveTimeout); err != nil {
			return nil, fmt.Errorf("invalid resolveTimeout: %w", err)
		}
	}
	if cf.PortalTimeout != "" {
		if config.PortalTimeout, err = time.ParseDuration(cf.PortalTimeout); err != nil {
			return nil, fmt.Errorf("invalid portalTimeout: %w", err)
		}
	}
	if cf.EngineReadyTimeout != "" {
		if config.EngineReadyTimeout, err = time.ParseDuration(cf.EngineReadyTimeout); err != nil {
			return nil, fmt.Errorf("invalid engineReadyTimeout: %w", err)
		}
	}
	if cf.ImportRefreshInterval != "" {
		if config.ImportRefreshInterval, err = time.ParseDuration(cf.ImportRefreshInterval); err != nil {
			return nil, fmt.Errorf("invalid importRefreshInterval: %w", err)
		}
	}
	if cf.CacheDuration != "" {
		if config.CacheDuration, err = time.ParseDuration(cf.CacheDuration); err != nil {
			return nil, fmt.Errorf("invalid cacheDuration: %w", err)
		}
	}

	return config, nil
}

// getDefaultConfig returns a baseline configuration
// with sensible defaults when no file is present.
func getDefaultConfig() *Config {
	return &Config{
		BaseURL:               "http://localhost:8080",
		ListenPort:            8080,
		PortalURL:             "",
		MACAddress:            "00:1A:79:00:00:00",
		UserAgent:             "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36",
		ResolveTimeout:        10 * time.Second,
		PortalTimeout:         15 * time.Second,
		EngineReadyTimeout:    15 * time.Second,
		ImportRefreshInterval: 12 * time.Hour,
		CacheEnabled:          true,
		CacheDuration:         30 * time.Minute,
		WorkerThreads:         8,
		RequestsPerSecond:     5,
		SurfaceBufferSize:     4,
		Autoplay:              true,
		Debug:                 false,
		ObfuscateUrls:         false,
	}
}

// validateAndSetDefaults ensures all config values are valid,
// filling in defaults for missing/invalid ones.
func validateAndSetDefaults(config *Config) {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8080"
	}
	if config.ListenPort <= 0 {
		config.ListenPort = 8080
	}
	if config.MACAddress == "" {
		config.MACAddress = "00:1A:79:00:00:00"
	}
	if config.UserAgent == "" {
		config.UserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"
	}
	if config.ResolveTimeout <= 0 {
		config.ResolveTimeout = 10 * time.Second
	}
	if config.PortalTimeout <= 0 {
		config.PortalTimeout = 15 * time.Second
	}
	if config.EngineReadyTimeout <= 0 {
		config.EngineReadyTimeout = 15 * time.Second
	}
	if config.ImportRefreshInterval <= 0 {
		config.ImportRefreshInterval = 12 * time.Hour
	}
	if config.CacheDuration <= 0 {
		config.CacheDuration = 30 * time.Minute
	}
	if config.WorkerThreads <= 0 {
		config.WorkerThreads = 8
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 5
	}
	if config.SurfaceBufferSize <= 0 {
		config.SurfaceBufferSize = 4
	}
}

// CreateExampleConfig creates an example config file on disk.
func CreateExampleConfig(path string) error {
	autoplay := true
	example := ConfigFile{
		BaseURL:               "http://localhost:8080",
		ListenPort:            8080,
		PortalURL:             "http://portal.example.com/stalker_portal",
		MACAddress:            "00:1A:79:12:34:56",
		UserAgent:             "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36",
		ResolveTimeout:        "10s",
		PortalTimeout:         "15s",
		EngineReadyTimeout:    "15s",
		ImportRefreshInterval: "12h",
		CacheEnabled:          true,
		CacheDuration:         "30m",
		WorkerThreads:         4,
		RequestsPerSecond:     5,
		SurfaceBufferSize:     4,
		Autoplay:              &autoplay,
		Debug:                 false,
		ObfuscateUrls:         true,
	}

	// setup the data properly
	data, err := json.MarshalIndent(example, "", "  ")
	if err != nil {
		return err
	}

	// write the config file
	return os.WriteFile(path, data, 0644)
}

// ClearConfigCache resets the configCache to nil.
// Forces a reload on the next LoadConfig() call.
func ClearConfigCache() {
	configMutex.Lock()
	defer configMutex.Unlock()
	configCache = nil
}

// obfuscateURL masks sensitive parts of a URL for logging.
//
// Example:
//
//	Input:  "http://example.com/secret/stream.m3u8?token=abc"
//	Output: "http://example.com/***?***"
func obfuscateURL(urlStr string) string {
	if urlStr == "" {
		return ""
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return "***OBFUSCATED***"
	}
	result := u.Scheme + "://" + u.Host
	if u.Path != "" && u.Path != "/" {
		result += "/***"
	}
	if u.RawQuery != "" {
		result += "?***"
	}
	if u.Fragment != "" {
		result += "#***"
	}
	return result
}
