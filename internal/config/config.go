package config

import (
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env         string `yaml:"env" env-default:"local"`
	MetricsAddr string `yaml:"metrics_addr" env-default:":9100"`
	PixelPath   string `yaml:"pixel_path" env-default:"/pixel.gif"`
	Stream      Stream `yaml:"stream"`
	Flush       Flush  `yaml:"flush"`
	Storage     Storage
	Redis       RedisStorage
}

// Stream selects and configures the record source. Source is either
// "kinesis" or "kafka"; only the matching sub-config is read.
type Stream struct {
	Source    string        `yaml:"source" env-default:"kinesis"`
	BatchSize int           `yaml:"batch_size" env-default:"100"`
	BatchWait time.Duration `yaml:"batch_wait" env-default:"2s"`
	Kinesis   Kinesis       `yaml:"kinesis"`
	Kafka     KafkaStorage  `yaml:"kafka"`
}

type Kinesis struct {
	Region     string `yaml:"region"`
	StreamName string `yaml:"stream_name"`
}

type KafkaStorage struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

// Flush drives the accumulator: a batch is written when it holds
// SizeThreshold events or Interval has passed since the last flush.
type Flush struct {
	SizeThreshold int           `yaml:"size_threshold" env-default:"500"`
	Interval      time.Duration `yaml:"interval" env-default:"60s"`
}

type Storage struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password" env:"STORAGE_PASSWORD"`
	DbName   string `yaml:"dbname"`
	SslMode  string `yaml:"sslmode"`
}

type RedisStorage struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel" env-default:"events"`
}

func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	return MustLoadByPath(configPath)
}

func MustLoadByPath(configPath string) *Config {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file does not exist: " + configPath)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		panic("cannot read config: " + err.Error())
	}

	return &cfg
}
