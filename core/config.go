package core

import (
	"fmt"
	"log"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	serverConfig struct {
		Address         string
		Host            string
		DebugHost       string
		SessionTTL      time.Duration
		ShutdownTimeout time.Duration
	}

	databaseConfig struct {
		Engine        string // postgres | sqlite
		Host          string
		Port          int
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
		Path          string // sqlite file
	}

	examConfig struct {
		LiveWindow          time.Duration
		RandomQuestionCount int
		NotifyAbsent        bool
		ExpiryTimeout       time.Duration
	}

	redisConfig struct {
		Addr           string
		Password       string
		DB             int
		LeaderboardTTL time.Duration
	}

	bootstrapConfig struct {
		AdminUsername string
		AdminPassword string
	}

	Config struct {
		Env              string
		Build            string
		Debug            bool
		TestMode         bool
		AppName          string
		SecretKey        string
		RollbarToken     string
		SendgridAPIKey   string
		DefaultFromEmail mail.Address
		Server           serverConfig
		Database         databaseConfig
		Exam             examConfig
		Redis            redisConfig
		Bootstrap        bootstrapConfig
	}
)

func (c databaseConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c databaseConfig) IsSQLite() bool {
	return c.Engine == "sqlite"
}

// NewConfig loads the configuration from the environment, after reading `config/.env.<env>` if present.
func NewConfig() *Config {
	conf := viper.New()

	// defaults
	conf.SetTypeByDefaultValue(true)
	conf.SetDefault("build", "dev")
	conf.SetDefault("debug", true)
	conf.SetDefault("appName", "Mtihani")
	conf.SetDefault("secretKey", "o6(k!g$9)c-wxu1r^2s=n@5ya8vb+e3j#7p*zq4hm0fdt_l")
	conf.SetDefault("defaultFromName", "Mtihani")
	conf.SetDefault("defaultFromEmail", "noreply@localhost")
	conf.SetDefault("serverAddress", ":8000")
	conf.SetDefault("serverHost", "localhost")
	conf.SetDefault("serverDebugHost", "localhost:4000")
	conf.SetDefault("serverSessionTTL", 8*time.Hour)
	conf.SetDefault("serverShutdownTimeout", 5*time.Second)
	conf.SetDefault("databaseEngine", "postgres")
	conf.SetDefault("databaseHost", "localhost")
	conf.SetDefault("databasePort", 5432)
	conf.SetDefault("databaseName", "mtihani")
	conf.SetDefault("databaseUser", "mtihani")
	conf.SetDefault("databasePassword", "mtihani")
	conf.SetDefault("databaseAdminUser", "postgres")
	conf.SetDefault("databaseAdminPassword", "")
	conf.SetDefault("databaseDisableTLS", true)
	conf.SetDefault("databasePath", "mtihani.db")
	conf.SetDefault("examLiveWindow", 3*time.Hour+30*time.Minute)
	conf.SetDefault("examRandomQuestionCount", 20)
	conf.SetDefault("examNotifyAbsent", true)
	conf.SetDefault("examExpiryTimeout", time.Minute)
	conf.SetDefault("redisAddr", "")
	conf.SetDefault("redisDB", 0)
	conf.SetDefault("redisLeaderboardTTL", 5*time.Minute)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		conf.SetDefault("testMode", true)
	}
	conf.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join("config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	conf.AutomaticEnv()

	return &Config{
		Env:            env,
		Build:          conf.GetString("build"),
		Debug:          conf.GetBool("debug"),
		TestMode:       conf.GetBool("testMode"),
		AppName:        conf.GetString("appName"),
		SecretKey:      conf.GetString("secretKey"),
		RollbarToken:   conf.GetString("rollbarToken"),
		SendgridAPIKey: conf.GetString("sendgridAPIKey"),
		DefaultFromEmail: mail.Address{
			Name:    conf.GetString("defaultFromName"),
			Address: conf.GetString("defaultFromEmail"),
		},
		Server: serverConfig{
			Address:         conf.GetString("serverAddress"),
			Host:            conf.GetString("serverHost"),
			DebugHost:       conf.GetString("serverDebugHost"),
			SessionTTL:      conf.GetDuration("serverSessionTTL"),
			ShutdownTimeout: conf.GetDuration("serverShutdownTimeout"),
		},
		Database: databaseConfig{
			Engine:        conf.GetString("databaseEngine"),
			Host:          conf.GetString("databaseHost"),
			Port:          conf.GetInt("databasePort"),
			Name:          conf.GetString("databaseName"),
			User:          conf.GetString("databaseUser"),
			Password:      conf.GetString("databasePassword"),
			AdminUser:     conf.GetString("databaseAdminUser"),
			AdminPassword: conf.GetString("databaseAdminPassword"),
			DisableTLS:    conf.GetBool("databaseDisableTLS"),
			Path:          conf.GetString("databasePath"),
		},
		Exam: examConfig{
			LiveWindow:          conf.GetDuration("examLiveWindow"),
			RandomQuestionCount: conf.GetInt("examRandomQuestionCount"),
			NotifyAbsent:        conf.GetBool("examNotifyAbsent"),
			ExpiryTimeout:       conf.GetDuration("examExpiryTimeout"),
		},
		Redis: redisConfig{
			Addr:           conf.GetString("redisAddr"),
			Password:       conf.GetString("redisPassword"),
			DB:             conf.GetInt("redisDB"),
			LeaderboardTTL: conf.GetDuration("redisLeaderboardTTL"),
		},
		Bootstrap: bootstrapConfig{
			AdminUsername: conf.GetString("bootstrapAdminUsername"),
			AdminPassword: conf.GetString("bootstrapAdminPassword"),
		},
	}
}
