package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Admin    AdminConfig    `mapstructure:"admin"`
	OSS      OSSConfig      `mapstructure:"oss"`
	Queue    QueueConfig    `mapstructure:"queue"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Pricing  PricingConfig  `mapstructure:"pricing"`
	Slicer   SlicerConfig   `mapstructure:"slicer"`
	Watcher  WatcherConfig  `mapstructure:"watcher"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

// AdminConfig 运营后台登录配置，密码以 bcrypt 哈希保存
type AdminConfig struct {
	PasswordHash string `mapstructure:"password_hash"`
}

type OSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	BucketName      string `mapstructure:"bucket_name"`
	CDNDomain       string `mapstructure:"cdn_domain"`
}

type QueueConfig struct {
	SliceQueue string `mapstructure:"slice_queue"`
	MaxWorkers int    `mapstructure:"max_workers"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

type UploadConfig struct {
	MaxSize           int64    `mapstructure:"max_size"`           // 最大文件大小（字节）
	Dir               string   `mapstructure:"dir"`                // 模型文件存储目录
	ExpireHours       int      `mapstructure:"expire_hours"`       // 孤儿文件过期时间（小时）
	AllowedExtensions []string `mapstructure:"allowed_extensions"` // 允许的扩展名
}

// PricingConfig 报价配置，未配置的材料回退到内置默认表
type PricingConfig struct {
	Materials map[string]MaterialRate `mapstructure:"materials"`
}

// MaterialRate 单个材料的密度与克单价
type MaterialRate struct {
	Density     float64 `mapstructure:"density"`       // g/cm3
	CostPerGram float64 `mapstructure:"cost_per_gram"` // 元/g
}

// SlicerConfig 外部切片引擎配置，Path 为空时仅做几何估算
type SlicerConfig struct {
	Path           string `mapstructure:"path"`            // 切片器可执行文件路径
	ProfilePath    string `mapstructure:"profile_path"`    // 切片配置文件
	OutputDir      string `mapstructure:"output_dir"`      // 切片产物目录
	TimeoutSeconds int    `mapstructure:"timeout_seconds"` // 单次切片超时
}

type WatcherConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds"`
	MaxAttempts     int `mapstructure:"max_attempts"`
}

func Load(configPath string) (*Config, error) {
	// 优先尝试读取 config.local.yaml（包含真实密钥，不提交到git）
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")

	// 检查 config.local.yaml 是否存在
	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// 环境变量覆盖
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Queue.SliceQueue == "" {
		cfg.Queue.SliceQueue = "slice_jobs"
	}
	if cfg.Queue.MaxWorkers <= 0 {
		cfg.Queue.MaxWorkers = 2
	}
	if cfg.Upload.MaxSize <= 0 {
		cfg.Upload.MaxSize = 100 << 20
	}
	if cfg.Upload.Dir == "" {
		cfg.Upload.Dir = "./data/uploads"
	}
	if cfg.Upload.ExpireHours <= 0 {
		cfg.Upload.ExpireHours = 24
	}
	if len(cfg.Upload.AllowedExtensions) == 0 {
		cfg.Upload.AllowedExtensions = []string{".stl"}
	}
	if cfg.Slicer.OutputDir == "" {
		cfg.Slicer.OutputDir = "./data/sliced"
	}
	if cfg.Slicer.TimeoutSeconds <= 0 {
		cfg.Slicer.TimeoutSeconds = 300
	}
	if cfg.Watcher.IntervalSeconds <= 0 {
		cfg.Watcher.IntervalSeconds = 5
	}
	if cfg.Watcher.MaxAttempts <= 0 {
		cfg.Watcher.MaxAttempts = 60
	}
}
