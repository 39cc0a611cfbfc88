// Package reliability drives engines with long randomized workloads.
// The suites only run when SCOPEZ_RELIABILITY_LEVEL is basic or stress.
package reliability

import (
	"time"

	"github.com/spf13/viper"
)

// Levels.
const (
	LevelBasic  = "basic"
	LevelStress = "stress"
)

// ReliabilityConfig holds configuration for reliability testing.
type ReliabilityConfig struct {
	Level    string        // "basic" or "stress"
	Duration time.Duration // Upper bound for loop-driven suites
	Steps    int           // Notifications per storm
	Storms   int           // Independent storms per strategy
	Seed     int64         // 0 picks a time-based seed
}

// getReliabilityConfig reads SCOPEZ_RELIABILITY_* variables.
func getReliabilityConfig() ReliabilityConfig {
	vp := viper.New()
	vp.SetEnvPrefix("scopez_reliability")
	vp.AutomaticEnv()

	vp.SetDefault("level", "")
	vp.SetDefault("duration", "30s")
	vp.SetDefault("steps", 2000)
	vp.SetDefault("storms", 20)
	vp.SetDefault("seed", 0)

	cfg := ReliabilityConfig{
		Level:    vp.GetString("level"),
		Duration: vp.GetDuration("duration"),
		Steps:    vp.GetInt("steps"),
		Storms:   vp.GetInt("storms"),
		Seed:     vp.GetInt64("seed"),
	}
	if cfg.Level == LevelStress {
		cfg.Steps *= 10
		cfg.Storms *= 5
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 30 * time.Second
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	return cfg
}

// skipUnlessEnabled skips t when no reliability level is set.
func skipUnlessEnabled(t interface{ Skip(...any) }, cfg ReliabilityConfig) {
	if cfg.Level != LevelBasic && cfg.Level != LevelStress {
		t.Skip("SCOPEZ_RELIABILITY_LEVEL not set, skipping reliability tests")
	}
}
