package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/udisondev/lockout/internal/model"
)

// PathEnv overrides the config file location.
const PathEnv = "LOCKOUT_CONFIG"

// DefaultPath is where the world server looks for its config.
const DefaultPath = "config/worldserver.yaml"

// Store backends.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Instances holds instance and lockout tuning.
type Instances struct {
	ResetCheckInterval time.Duration `yaml:"reset_check_interval"`
	TickInterval       time.Duration `yaml:"tick_interval"`
	TickWorkers        int           `yaml:"tick_workers"`  // 0 = unlimited
	IdleTimeout        time.Duration `yaml:"idle_timeout"`  // empty instance lifetime
	MaxInstances       int           `yaml:"max_instances"` // 0 = unlimited
	LockPolicy         string        `yaml:"lock_policy"`   // on_enter | on_first_kill
	InstancesPerHour   int           `yaml:"instances_per_hour"`
	ResetEpoch         time.Time     `yaml:"reset_epoch"` // fixed schedules align to this instant

	PersistRetryDelay  time.Duration `yaml:"persist_retry_delay"`
	PersistMaxAttempts int           `yaml:"persist_max_attempts"`
}

// DefaultInstances returns Instances with production defaults.
func DefaultInstances() Instances {
	return Instances{
		ResetCheckInterval: time.Minute,
		TickInterval:       100 * time.Millisecond,
		IdleTimeout:        5 * time.Minute,
		LockPolicy:         "on_first_kill",
		InstancesPerHour:   10,
		ResetEpoch:         time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC), // Tuesday
		PersistRetryDelay:  5 * time.Second,
		PersistMaxAttempts: 5,
	}
}

// Reset describes a map's reset schedule.
type Reset struct {
	Kind   string        `yaml:"kind"` // fixed | relative
	Period time.Duration `yaml:"period"`
}

// Spawn is one entity seeded into new instances.
type Spawn struct {
	NpcID     int32 `yaml:"npc_id"`
	X         int32 `yaml:"x"`
	Y         int32 `yaml:"y"`
	Z         int32 `yaml:"z"`
	Encounter *int  `yaml:"encounter"` // omitted = trash
}

// Map is the static data of one map at one difficulty.
type Map struct {
	MapID      model.MapID      `yaml:"map_id"`
	Difficulty model.Difficulty `yaml:"difficulty"`
	Name       string           `yaml:"name"`
	Kind       string           `yaml:"kind"` // dungeon | raid
	MaxPlayers int32            `yaml:"max_players"`
	Encounters uint8            `yaml:"encounters"`

	Resettable       *bool  `yaml:"resettable"`     // default true
	GroupRequired    *bool  `yaml:"group_required"` // default true for raids
	SoloLockOverride bool   `yaml:"solo_lock_override"`
	LockPolicy       string `yaml:"lock_policy"` // empty = server default
	Reset            Reset  `yaml:"reset"`

	Entrance model.Location `yaml:"entrance"`
	Exit     model.Location `yaml:"exit"`
	Spawns   []Spawn        `yaml:"spawns"`
}

// WorldServer holds all configuration for the world server.
type WorldServer struct {
	LogLevel   string `yaml:"log_level"`
	Store      string `yaml:"store"` // postgres | sqlite
	SQLitePath string `yaml:"sqlite_path"`

	// Database
	Database DatabaseConfig `yaml:"database"`

	Instances Instances `yaml:"instances"`

	// AccessLevels grants administrative levels by player id.
	AccessLevels map[model.PlayerID]int `yaml:"access_levels"`

	Maps []Map `yaml:"maps"`
}

// DefaultWorldServer returns WorldServer config with sensible defaults.
func DefaultWorldServer() WorldServer {
	return WorldServer{
		LogLevel:     "info",
		Store:        StorePostgres,
		SQLitePath:   "data/lockout.db",
		Database:     DefaultDatabase(),
		Instances:    DefaultInstances(),
		AccessLevels: map[model.PlayerID]int{},
	}
}

// Path returns the config path from the environment or the default.
func Path() string {
	if p := os.Getenv(PathEnv); p != "" {
		return p
	}
	return DefaultPath
}

// LoadWorldServer loads world server config from a YAML file.
// If the file doesn't exist, returns defaults.
func LoadWorldServer(path string) (WorldServer, error) {
	cfg := DefaultWorldServer()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("validating config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks settings that have no safe fallback.
func (c WorldServer) Validate() error {
	var errs []error
	switch c.Store {
	case StorePostgres:
	case StoreSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("sqlite_path is required for the sqlite store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	if c.Instances.ResetCheckInterval < 0 || c.Instances.TickInterval < 0 {
		errs = append(errs, errors.New("intervals must not be negative"))
	}
	if c.Instances.InstancesPerHour < 0 {
		errs = append(errs, errors.New("instances_per_hour must not be negative"))
	}
	if _, err := c.Instances.Policy(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Templates(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Schedules(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
