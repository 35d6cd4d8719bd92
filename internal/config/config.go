// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Ledger        LedgerConfig        `mapstructure:"ledger"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Search        SearchConfig        `mapstructure:"search"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储读模型镜像库 MySQL 的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
	RefreshTokenExpireDays int    `mapstructure:"refresh_token_expire_days"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// LedgerConfig 存储账本网关相关的配置。
type LedgerConfig struct {
	GatewayURL     string `mapstructure:"gateway_url"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	AppName        string `mapstructure:"app_name"`
}

// CacheConfig 存储本地物化视图缓存的配置。
type CacheConfig struct {
	// TTLSeconds 是缓存条目的可用寿命（秒）。
	// 超龄条目按未命中处理，不做主动剔除，由账本回源刷新。
	TTLSeconds int `mapstructure:"ttl_seconds"`
}

// KafkaConfig 存储向量索引任务队列的 Kafka 配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

// ElasticsearchConfig 存储全文镜像 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储载荷归档对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
	Prompt     LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 配置系统提示与上下文包裹格式（可选）。
type LLMPromptConfig struct {
	Rules        string `mapstructure:"rules"`
	RefStart     string `mapstructure:"ref_start"`
	RefEnd       string `mapstructure:"ref_end"`
	NoResultText string `mapstructure:"no_result_text"`
}

// SearchConfig 存储语义检索相关的配置。
type SearchConfig struct {
	// Threshold 是 Search 的默认相似度下限；SimilarThreshold 是“以文找文”的下限。
	Threshold        float64 `mapstructure:"threshold"`
	SimilarThreshold float64 `mapstructure:"similar_threshold"`
	// SemanticWeight / KeywordWeight 是混合搜索重排时语义分与关键词分的权重。
	SemanticWeight float64 `mapstructure:"semantic_weight"`
	KeywordWeight  float64 `mapstructure:"keyword_weight"`
	// ClusterFlipRadius 是簇未命中时按位翻转扩散的最大位数。
	ClusterFlipRadius int `mapstructure:"cluster_flip_radius"`
	DefaultLimit      int `mapstructure:"default_limit"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}

	applyDefaults()
}

// applyDefaults 为未配置的检索与缓存参数填入默认值。
func applyDefaults() {
	if Conf.Cache.TTLSeconds <= 0 {
		Conf.Cache.TTLSeconds = 300
	}
	if Conf.Search.Threshold <= 0 {
		Conf.Search.Threshold = 0.7
	}
	if Conf.Search.SimilarThreshold <= 0 {
		Conf.Search.SimilarThreshold = 0.8
	}
	if Conf.Search.SemanticWeight <= 0 {
		Conf.Search.SemanticWeight = 0.7
	}
	if Conf.Search.KeywordWeight <= 0 {
		Conf.Search.KeywordWeight = 0.3
	}
	if Conf.Search.ClusterFlipRadius <= 0 {
		Conf.Search.ClusterFlipRadius = 3
	}
	if Conf.Search.DefaultLimit <= 0 {
		Conf.Search.DefaultLimit = 10
	}
	if Conf.Ledger.TimeoutSeconds <= 0 {
		Conf.Ledger.TimeoutSeconds = 30
	}
}
