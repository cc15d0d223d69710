package cmd

import (
	"errors"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	app       = "intern-allocator"
	envPrefix = "ALLOCATOR"
)

type Config struct {
	Store      *StoreConfig      `mapstructure:"store"`
	Similarity *SimilarityConfig `mapstructure:"similarity"`
	Geocoder   *GeocoderConfig   `mapstructure:"geocoder"`
	Queue      *QueueConfig      `mapstructure:"queue"`
	Lock       *LockConfig       `mapstructure:"lock"`
	Schedule   *ScheduleConfig   `mapstructure:"schedule"`
	Allocation *AllocationConfig `mapstructure:"allocation"`
	Server     *ServerConfig     `mapstructure:"server"`
}

type StoreConfig struct {
	// Driver is one of sqlite, postgres or memory.
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn" json:"-"`
	DSNFile         string        `mapstructure:"dsn-file"`
	MaxOpenConns    int           `mapstructure:"max-open-conns"`
	MaxIdleConns    int           `mapstructure:"max-idle-conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn-max-lifetime"`
}

type SimilarityConfig struct {
	// Provider is one of engine, gemini or none.
	Provider string        `mapstructure:"provider"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Engine   *EngineConfig `mapstructure:"engine"`
	Gemini   *GeminiConfig `mapstructure:"gemini"`
}

type EngineConfig struct {
	URL string `mapstructure:"url"`
}

type GeminiConfig struct {
	APIKeyFile   string `mapstructure:"api-key-file"`
	Model        string `mapstructure:"model"`
	MaxRetries   int    `mapstructure:"max-retries"`
	MaxLogLength int    `mapstructure:"max-log-length"`
}

type GeocoderConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	URL       string        `mapstructure:"url"`
	UserAgent string        `mapstructure:"user-agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type QueueConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Addr         string `mapstructure:"addr"`
	PasswordFile string `mapstructure:"password-file"`
	Key          string `mapstructure:"key"`
}

type LockConfig struct {
	// Backend is store, local or redis. store uses the database shared by every
	// command and falls back to local for the memory driver.
	Backend      string        `mapstructure:"backend"`
	Addr         string        `mapstructure:"addr"`
	PasswordFile string        `mapstructure:"password-file"`
	Key          string        `mapstructure:"key"`
	TTL          time.Duration `mapstructure:"ttl"`
}

type ScheduleConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type AllocationConfig struct {
	CapacityAccounting bool          `mapstructure:"capacity-accounting"`
	ManualTimeout      time.Duration `mapstructure:"manual-timeout"`
}

type ServerConfig struct {
	Listen         string `mapstructure:"listen"`
	AdminTokenFile string `mapstructure:"admin-token-file"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "intern-allocator scores internship applications and shortlists candidates under reserved quotas",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	setDefaults()

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindEnv("similarity.engine.url", envPrefix+"_SIMILARITY_ENGINE_URL", "AI_SERVICE_URL"); err != nil {
		log.Fatalf("binding AI_SERVICE_URL environment variable: %v", err)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is intern-allocator.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func setDefaults() {
	viper.SetDefault("store.driver", "sqlite")
	viper.SetDefault("store.dsn", app+".db")
	viper.SetDefault("store.dsn-file", "")
	viper.SetDefault("store.max-open-conns", 10)
	viper.SetDefault("store.max-idle-conns", 5)
	viper.SetDefault("store.conn-max-lifetime", 30*time.Minute)

	viper.SetDefault("similarity.provider", "engine")
	viper.SetDefault("similarity.timeout", 3*time.Second)
	viper.SetDefault("similarity.engine.url", "")
	viper.SetDefault("similarity.gemini.api-key-file", "")
	viper.SetDefault("similarity.gemini.model", "")
	viper.SetDefault("similarity.gemini.max-retries", 3)
	viper.SetDefault("similarity.gemini.max-log-length", 2000)

	viper.SetDefault("geocoder.enabled", false)
	viper.SetDefault("geocoder.url", "")
	viper.SetDefault("geocoder.user-agent", "")
	viper.SetDefault("geocoder.timeout", 10*time.Second)

	viper.SetDefault("queue.enabled", false)
	viper.SetDefault("queue.addr", "localhost:6379")
	viper.SetDefault("queue.password-file", "")
	viper.SetDefault("queue.key", "")

	viper.SetDefault("lock.backend", "store")
	viper.SetDefault("lock.addr", "localhost:6379")
	viper.SetDefault("lock.password-file", "")
	viper.SetDefault("lock.key", "")
	viper.SetDefault("lock.ttl", 10*time.Minute)

	viper.SetDefault("schedule.interval", time.Hour)

	viper.SetDefault("allocation.capacity-accounting", true)
	viper.SetDefault("allocation.manual-timeout", 2*time.Minute)

	viper.SetDefault("server.listen", ":8080")
	viper.SetDefault("server.admin-token-file", "")
}

func initConfig() {
	// .env is optional and never overrides variables already set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("loading .env: %v", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// Without a config file the defaults and environment are used.
		if cfgFile == "" && errors.As(err, &notFound) {
			return
		}
		log.Fatal(err)
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	return config, nil
}
