package pathing

import (
	"os"
	"path/filepath"
)

func GetConfigPath() string {
	return filepath.Join(GetConfigDir(), "p1_logger.toml")
}

// Daily files land here unless output.dir says otherwise.
func GetDataDir() string {
	return "/var/lib/p1_logger"
}

func GetConfigDir() string {
	return "/etc/p1_logger"
}

func GetMeterDbPath() string {
	return filepath.Join(GetDataDir(), "p1-readings.db")
}

// EnsureDir creates dir and its parents when missing.
func EnsureDir(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}
