package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type MySQLConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

type Config struct {
	Addr      string
	Store     string // sqlite, mysql or memory
	DBPath    string
	SeedPath  string
	LogLevel  string
	Shutdown  time.Duration // grace period for open requests
	ReadLimit int64
	MySQL     MySQLConfig
}

// Load reads an optional .env file, then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, err
	}
	return FromEnv(), nil
}

func FromEnv() Config {
	port := getenv("PORT", "8080")

	return Config{
		Addr:      getenv("ORDEN_ADDR", ":"+port),
		Store:     strings.ToLower(getenv("ORDEN_STORE", "sqlite")),
		DBPath:    getenv("ORDEN_DB_PATH", "orden.db"),
		SeedPath:  os.Getenv("ORDEN_SEED"),
		LogLevel:  getenv("ORDEN_LOG_LEVEL", "info"),
		Shutdown:  time.Duration(getenvInt("ORDEN_SHUTDOWN_MS", 10_000, 0, 120_000)) * time.Millisecond,
		ReadLimit: int64(getenvInt("ORDEN_WS_READ_LIMIT", 4096, 512, 1<<20)),
		MySQL: MySQLConfig{
			Host:     getenv("DB_HOST", "127.0.0.1"),
			Port:     getenv("DB_PORT", "3306"),
			User:     getenv("DB_USER", "orden"),
			Password: getenv("DB_PASSWORD", "orden"),
			DBName:   getenv("DB_NAME", "orden"),
		},
	}
}

func getenv(key, fallback string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	return val
}

func getenvInt(key string, fallback int, min int, max int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	if min > 0 && v < min {
		return fallback
	}
	if max > 0 && v > max {
		return fallback
	}
	return v
}
