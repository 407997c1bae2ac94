package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port     int
	Password string

	DBDriver string // sqlite3, mysql or postgres
	DBDSN    string

	CameraDevice string // numeric device id or a stream URL
	CascadePath  string
	ModelPath    string
	LabelMapPath string

	Categories []string

	WindowSize           int
	MajorityRatio        float64
	ConfidenceThreshold  float64 // lower is better, accepted only below this
	MinFaceSize          int     // pixels, applied to both width and height
	FrameRate            int
	FrameTimeout         time.Duration
	RecognizeTimeout     time.Duration
	StopTimeout          time.Duration
	MaxConsecutiveMisses int

	SnapshotDirectory     string
	SnapshotBufferLimit   int
	SnapshotFlushInterval int // seconds

	LogDirectory string
	Timezone     string         // IANA name, empty for local time
	Location     *time.Location // nil when Timezone does not resolve
}

// values resolves a key from the environment first and the optional YAML
// file second.
type values struct {
	file map[string]string
}

// Load reads .env (if present), the YAML file named by CONFIG_FILE (if set)
// and the process environment, in increasing order of precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := values{file: map[string]string{}}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		file, err := readFile(path)
		if err != nil {
			return nil, err
		}
		v.file = file
	}

	cfg := v.build()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	out := map[string]string{}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return out, nil
}

func (v values) build() *Config {
	cfg := &Config{
		Port:     v.getInt("PORT", 8080),
		Password: v.get("PASSWORD", "attendance"),

		DBDriver: v.get("DB_DRIVER", "sqlite3"),
		DBDSN:    v.get("DB_DSN", filepath.Join(".", "data", "attendance.db")),

		CameraDevice: v.get("CAMERA_DEVICE", "0"),
		CascadePath:  v.get("CASCADE_PATH", filepath.Join(".", "models", "haarcascade_frontalface_default.xml")),
		ModelPath:    v.get("MODEL_PATH", filepath.Join(".", "models", "trained_model.yml")),
		LabelMapPath: v.get("LABEL_MAP_PATH", filepath.Join(".", "models", "label_map.txt")),

		Categories: v.getList("CATEGORIES", []string{"AI", "ERP"}),

		WindowSize:           v.getInt("WINDOW_SIZE", 50),
		MajorityRatio:        v.getFloat("MAJORITY_RATIO", 0.6),
		ConfidenceThreshold:  v.getFloat("CONFIDENCE_THRESHOLD", 200.0),
		MinFaceSize:          v.getInt("MIN_FACE_SIZE", 50),
		FrameRate:            v.getInt("FRAME_RATE", 30),
		FrameTimeout:         v.getMillis("FRAME_TIMEOUT_MS", 2000),
		RecognizeTimeout:     v.getMillis("RECOGNIZE_TIMEOUT_MS", 500),
		StopTimeout:          v.getMillis("STOP_TIMEOUT_MS", 1000),
		MaxConsecutiveMisses: v.getInt("MAX_MISSES", 150),

		SnapshotDirectory:     v.get("SNAPSHOT_DIR", filepath.Join(".", "snapshots")),
		SnapshotBufferLimit:   v.getInt("SNAPSHOT_BUFFER_LIMIT", 20),
		SnapshotFlushInterval: v.getInt("SNAPSHOT_FLUSH_INTERVAL", 30),

		LogDirectory: v.get("LOG_DIR", filepath.Join(".", "logs")),
		Timezone:     v.get("TIMEZONE", ""),
		Location:     time.Local,
	}

	if cfg.Timezone != "" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			loc = nil
		}
		cfg.Location = loc
	}

	return cfg
}

// Validate rejects settings the decision engine cannot work with.
func (c *Config) Validate() error {
	if c.WindowSize < 1 {
		return fmt.Errorf("WINDOW_SIZE must be at least 1, got %d", c.WindowSize)
	}
	if c.MajorityRatio <= 0 || c.MajorityRatio > 1 {
		return fmt.Errorf("MAJORITY_RATIO must be in (0, 1], got %v", c.MajorityRatio)
	}
	if c.ConfidenceThreshold <= 0 {
		return fmt.Errorf("CONFIDENCE_THRESHOLD must be positive, got %v", c.ConfidenceThreshold)
	}
	if c.FrameRate < 1 {
		return fmt.Errorf("FRAME_RATE must be at least 1, got %d", c.FrameRate)
	}
	if c.FrameTimeout <= 0 {
		return fmt.Errorf("FRAME_TIMEOUT_MS must be positive, got %d", c.FrameTimeout.Milliseconds())
	}
	if c.RecognizeTimeout <= 0 {
		return fmt.Errorf("RECOGNIZE_TIMEOUT_MS must be positive, got %d", c.RecognizeTimeout.Milliseconds())
	}
	if c.StopTimeout <= 0 {
		return fmt.Errorf("STOP_TIMEOUT_MS must be positive, got %d", c.StopTimeout.Milliseconds())
	}
	if c.Location == nil {
		return fmt.Errorf("TIMEZONE %q is not a known time zone", c.Timezone)
	}
	if c.SnapshotFlushInterval < 1 {
		return fmt.Errorf("SNAPSHOT_FLUSH_INTERVAL must be at least 1 second, got %d", c.SnapshotFlushInterval)
	}
	if len(c.Categories) == 0 {
		return fmt.Errorf("CATEGORIES must name at least one category")
	}
	return nil
}

// FrameInterval is the capture loop tick derived from FrameRate.
func (c *Config) FrameInterval() time.Duration {
	return time.Second / time.Duration(c.FrameRate)
}

// HasCategory reports whether name is one of the configured categories.
func (c *Config) HasCategory(name string) bool {
	for _, category := range c.Categories {
		if category == name {
			return true
		}
	}
	return false
}

func (v values) lookup(key string) (string, bool) {
	if value := os.Getenv(key); value != "" {
		return value, true
	}
	if value, ok := v.file[key]; ok && value != "" {
		return value, true
	}
	return "", false
}

func (v values) get(key, defaultValue string) string {
	if value, ok := v.lookup(key); ok {
		return value
	}
	return defaultValue
}

func (v values) getInt(key string, defaultValue int) int {
	if value, ok := v.lookup(key); ok {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func (v values) getFloat(key string, defaultValue float64) float64 {
	if value, ok := v.lookup(key); ok {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func (v values) getMillis(key string, defaultValue int) time.Duration {
	return time.Duration(v.getInt(key, defaultValue)) * time.Millisecond
}

func (v values) getList(key string, defaultValue []string) []string {
	value, ok := v.lookup(key)
	if !ok {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
