package config

import (
	"log"
	"os"

	"github.com/BurntSushi/toml"
)

type MainConfig struct {
	AppName           string `toml:"appName"`
	Host              string `toml:"host"`
	Port              int    `toml:"port"`
	EnableTLSRedirect bool   `toml:"enableTLSRedirect"`
}

type MysqlConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	DatabaseName string `toml:"databaseName"`
}

type LogConfig struct {
	LogPath string `toml:"logPath"`
}

type MilvusConfig struct {
	Address        string `toml:"address"`
	Username       string `toml:"username"`
	Password       string `toml:"password"`
	DBName         string `toml:"dbName"`
	CollectionName string `toml:"collectionName"`
	MetricType     string `toml:"metricType"`
}

type Neo4jConfig struct {
	URI      string `toml:"uri"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	Database string `toml:"database"`
}

type KafkaConfig struct {
	Brokers         []string `toml:"brokers"`
	ClientID        string   `toml:"clientID"`
	IngestTopic     string   `toml:"ingestTopic"`
	ConsumerGroupID string   `toml:"consumerGroupID"`
	Partitions      int32    `toml:"partitions"`
	Replication     int16    `toml:"replication"`
}

type RedisConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"poolSize"`
	MinIdleConns int    `toml:"minIdleConns"`
}

type AIEmbeddingConfig struct {
	Provider       string `toml:"provider"`
	APIKey         string `toml:"apiKey"`
	BaseURL        string `toml:"baseURL"`
	Model          string `toml:"model"`
	Dimensions     int    `toml:"dimensions"`
	TimeoutSeconds int    `toml:"timeoutSeconds"`
	RetryTimes     int    `toml:"retryTimes"`
}

type AIConfig struct {
	Embedding AIEmbeddingConfig `toml:"embedding"`
}

// IngestConfig 摄取管线的全局默认（KB 可覆盖 chunk 参数）
type IngestConfig struct {
	ChunkSize       int      `toml:"chunkSize"`
	ChunkOverlap    int      `toml:"chunkOverlap"`
	MaxDocumentSize int64    `toml:"maxDocumentSize"`
	AllowedTypes    []string `toml:"allowedTypes"`
	EmbedBatchSize  int      `toml:"embedBatchSize"`
}

// RetrievalConfig 混合检索与融合的全局默认（KB 可覆盖权重）
type RetrievalConfig struct {
	MaxTopK            int     `toml:"maxTopK"`
	DefaultTopK        int     `toml:"defaultTopK"`
	CandidateMultiple  int     `toml:"candidateMultiple"`
	ExpandDepth        int     `toml:"expandDepth"`
	ExpandNodeBudget   int     `toml:"expandNodeBudget"`
	VectorWeight       float64 `toml:"vectorWeight"`
	GraphWeight        float64 `toml:"graphWeight"`
	DualEvidenceBonus  float64 `toml:"dualEvidenceBonus"`
	QueryTimeoutMs     int     `toml:"queryTimeoutMs"`
	PerCallTimeoutMs   int     `toml:"perCallTimeoutMs"`
	AllowUngrounded    bool    `toml:"allowUngrounded"`
	EntityLinkMaxNames int     `toml:"entityLinkMaxNames"`
}

type Config struct {
	MainConfig      `toml:"mainConfig"`
	MysqlConfig     `toml:"mysqlConfig"`
	MilvusConfig    `toml:"milvusConfig"`
	Neo4jConfig     `toml:"neo4jConfig"`
	KafkaConfig     `toml:"kafkaConfig"`
	RedisConfig     `toml:"redisConfig"`
	AIConfig        `toml:"aiConfig"`
	IngestConfig    `toml:"ingestConfig"`
	RetrievalConfig `toml:"retrievalConfig"`
	LogConfig       `toml:"logConfig"`
}

var config *Config

func defaults() *Config {
	return &Config{
		MainConfig:   MainConfig{AppName: "ShopSage", Host: "0.0.0.0", Port: 8777},
		MilvusConfig: MilvusConfig{DBName: "shopsage", CollectionName: "kb_vectors", MetricType: "COSINE"},
		IngestConfig: IngestConfig{
			ChunkSize:       500,
			ChunkOverlap:    50,
			MaxDocumentSize: 20 << 20,
			AllowedTypes:    []string{"text/plain", "text/markdown", "application/json", "text/csv"},
			EmbedBatchSize:  32,
		},
		RetrievalConfig: RetrievalConfig{
			MaxTopK:            20,
			DefaultTopK:        10,
			CandidateMultiple:  4,
			ExpandDepth:        1,
			ExpandNodeBudget:   64,
			VectorWeight:       0.6,
			GraphWeight:        0.3,
			DualEvidenceBonus:  0.1,
			QueryTimeoutMs:     8000,
			PerCallTimeoutMs:   3000,
			EntityLinkMaxNames: 5,
		},
	}
}

func LoadConfig() error {
	configPath := os.Getenv("SHOPSAGE_CONFIG")
	if configPath == "" {
		configPath = "configs/config_local.toml"
	}
	if _, err := toml.DecodeFile(configPath, config); err != nil {
		log.Printf("load config %s failed: %v, using defaults", configPath, err)
		return err
	}
	return nil
}

func GetConfig() *Config {
	if config == nil {
		config = defaults()
		_ = LoadConfig()
	}
	return config
}

// SetConfig 测试用：直接注入配置
func SetConfig(c *Config) {
	config = c
}
