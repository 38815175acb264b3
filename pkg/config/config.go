package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	App      AppConfig      `yaml:"app"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Realtime RealtimeConfig `yaml:"realtime"`
}

// AppConfig 应用配置
type AppConfig struct {
	Name      string `yaml:"name"`
	Version   string `yaml:"version"`
	JWTSecret string `yaml:"jwt_secret"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTP HTTPConfig `yaml:"http"`
}

// HTTPConfig HTTP服务配置
type HTTPConfig struct {
	Network string `yaml:"network"`
	Addr    string `yaml:"addr"`
	Timeout string `yaml:"timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	MongoDB    MongoDBConfig    `yaml:"mongodb"`
	PostgreSQL PostgreSQLConfig `yaml:"postgresql"`
}

// MongoDBConfig MongoDB配置
type MongoDBConfig struct {
	URI    string `yaml:"uri"`
	DBName string `yaml:"db_name"`
}

// PostgreSQLConfig PostgreSQL配置
type PostgreSQLConfig struct {
	DSN    string `yaml:"dsn"`
	DBName string `yaml:"db_name"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// KafkaConfig Kafka配置
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	GroupID string   `yaml:"group_id"`
}

// RealtimeConfig 实时服务配置
type RealtimeConfig struct {
	OfflineDebounce  time.Duration `yaml:"offline_debounce"`  // 离线去抖窗口
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"` // 心跳/空闲超时
	MachineID        int64         `yaml:"machine_id"`        // snowflake机器ID
}

// LoadConfig 加载配置：配置文件 + 环境变量覆盖
func LoadConfig(serviceName string) *Config {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("..")
	v.AddConfigPath("../..")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, serviceName)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("Config file not found, using defaults and environment")
		} else {
			panic(fmt.Sprintf("failed to read config file: %v", err))
		}
	}

	return &Config{
		App: AppConfig{
			Name:      serviceName,
			Version:   v.GetString("app.version"),
			JWTSecret: v.GetString("app.jwt_secret"),
		},
		Server: ServerConfig{
			HTTP: HTTPConfig{
				Network: "tcp",
				Addr:    ":" + v.GetString("server.http.port"),
				Timeout: v.GetString("server.http.timeout"),
			},
		},
		Database: DatabaseConfig{
			MongoDB: MongoDBConfig{
				URI:    v.GetString("database.mongodb.uri"),
				DBName: v.GetString("database.mongodb.db_name"),
			},
			PostgreSQL: PostgreSQLConfig{
				DSN:    v.GetString("database.postgresql.dsn"),
				DBName: v.GetString("database.postgresql.db_name"),
			},
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Kafka: KafkaConfig{
			Brokers: v.GetStringSlice("kafka.brokers"),
			GroupID: v.GetString("kafka.group_id"),
		},
		Realtime: RealtimeConfig{
			OfflineDebounce:  v.GetDuration("realtime.offline_debounce"),
			HeartbeatTimeout: v.GetDuration("realtime.heartbeat_timeout"),
			MachineID:        v.GetInt64("realtime.machine_id"),
		},
	}
}

// setDefaults 设置默认值
func setDefaults(v *viper.Viper, serviceName string) {
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.jwt_secret", "skillswap")

	v.SetDefault("server.http.port", "21010")
	v.SetDefault("server.http.timeout", "30s")

	v.SetDefault("database.mongodb.uri", "mongodb://localhost:27017")
	v.SetDefault("database.mongodb.db_name", serviceName+"DB")
	v.SetDefault("database.postgresql.dsn",
		"host=localhost user=postgres password=postgres dbname=skillswapDB port=5432 sslmode=disable")
	v.SetDefault("database.postgresql.db_name", "skillswapDB")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.group_id", serviceName+"-group")

	v.SetDefault("realtime.offline_debounce", 5*time.Second)
	v.SetDefault("realtime.heartbeat_timeout", 30*time.Second)
	v.SetDefault("realtime.machine_id", 1)
}
