package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode string `mapstructure:"mode"`
	Port int    `mapstructure:"port"`

	StoreDriver   string `mapstructure:"store_driver"`
	MongoURI      string `mapstructure:"mongo_uri"`
	MongoDatabase string `mapstructure:"mongo_database"`
	RedisURL      string `mapstructure:"redis_url"`

	JoinCooldown time.Duration `mapstructure:"join_cooldown"`

	ReadAttempts int           `mapstructure:"read_attempts"`
	ReadBackoff  time.Duration `mapstructure:"read_backoff"`

	ProximityRadiusKm float64 `mapstructure:"proximity_radius_km"`
	CandidateAttempts int     `mapstructure:"candidate_attempts"`
	QuickRoomCapacity int     `mapstructure:"quick_room_capacity"`
	QuickRoomName     string  `mapstructure:"quick_room_name"`

	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	SweepGrace    time.Duration `mapstructure:"sweep_grace"`

	LocationURL  string  `mapstructure:"location_url"`
	StaticLat    float64 `mapstructure:"static_lat"`
	StaticLon    float64 `mapstructure:"static_lon"`
	StaticCity   string  `mapstructure:"static_city"`
	UseStaticLoc bool    `mapstructure:"use_static_loc"`

	Secret string `mapstructure:"secret"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("store_driver", "memory")
	v.SetDefault("mongo_uri", "mongodb://localhost:27017")
	v.SetDefault("mongo_database", "roomcore")
	v.SetDefault("redis_url", "redis://localhost:6379/0")
	v.SetDefault("join_cooldown", "3s")
	v.SetDefault("read_attempts", 3)
	v.SetDefault("read_backoff", "100ms")
	v.SetDefault("proximity_radius_km", 25.0)
	v.SetDefault("candidate_attempts", 3)
	v.SetDefault("quick_room_capacity", 8)
	v.SetDefault("quick_room_name", "Quick Room")
	v.SetDefault("sweep_interval", "5m")
	v.SetDefault("sweep_grace", "1m")
	v.SetDefault("secret", "change-me")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
