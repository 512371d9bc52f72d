package http

import (
	"context"
	"fmt"
	"strings"

	"ShopSage/internal/config"
	"ShopSage/internal/initial"
	kbService "ShopSage/internal/modules/knowledge/application/service"
	krepo "ShopSage/internal/modules/knowledge/domain/repository"
	"ShopSage/internal/modules/knowledge/infrastructure/chunking"
	"ShopSage/internal/modules/knowledge/infrastructure/embedding"
	"ShopSage/internal/modules/knowledge/infrastructure/graphdb"
	"ShopSage/internal/modules/knowledge/infrastructure/mq"
	"ShopSage/internal/modules/knowledge/infrastructure/mq/kafka"
	"ShopSage/internal/modules/knowledge/infrastructure/persistence"
	kbPipeline "ShopSage/internal/modules/knowledge/infrastructure/pipeline"
	"ShopSage/internal/modules/knowledge/infrastructure/queue"
	"ShopSage/internal/modules/knowledge/infrastructure/vectordb"
	kbHandler "ShopSage/internal/modules/knowledge/interface/http"
	recService "ShopSage/internal/modules/recommend/application/service"
	recPersistence "ShopSage/internal/modules/recommend/infrastructure/persistence"
	"ShopSage/internal/modules/recommend/infrastructure/assemble"
	"ShopSage/internal/modules/recommend/infrastructure/retrieval"
	recHandler "ShopSage/internal/modules/recommend/interface/http"
	"ShopSage/pkg/back"
	"ShopSage/pkg/redis"
	"ShopSage/pkg/retry"
	"ShopSage/pkg/ssl"
	"ShopSage/pkg/zlog"

	einoEmbedding "github.com/cloudwego/eino/components/embedding"
	cors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	mentity "github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"
)

var GE *gin.Engine

// IngestWorker 由 main 启动；Kafka 未配置时为 nil，摄取走上传接口的同步兜底
var IngestWorker *queue.IngestConsumerWorker

func init() {
	conf := config.GetConfig()

	GE = gin.Default()
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"*"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-Tenant-ID"}
	GE.Use(cors.New(corsConfig))
	if conf.MainConfig.EnableTLSRedirect {
		GE.Use(ssl.TlsHandler(conf.MainConfig.Host, conf.MainConfig.Port))
	}

	// 存储适配：外部服务未配置时退化为内存实现，本地联调不依赖 Milvus/Neo4j
	var vs krepo.VectorStore
	if initial.MilvusClient != nil {
		metric := mentity.MetricType(strings.ToUpper(strings.TrimSpace(conf.MilvusConfig.MetricType)))
		if metric == "" {
			metric = mentity.COSINE
		}
		store, err := vectordb.NewMilvusStore(initial.MilvusClient, metric)
		if err != nil {
			zlog.Fatal(err.Error())
		}
		vs = store
	} else {
		zlog.Warn("Milvus 未配置，向量库使用内存实现")
		vs = vectordb.NewMemoryStore()
	}

	var gs krepo.GraphStore
	if initial.Neo4jDriver != nil {
		store, err := graphdb.NewNeo4jStore(initial.Neo4jDriver, conf.Neo4jConfig.Database)
		if err != nil {
			zlog.Fatal(err.Error())
		}
		gs = store
	} else {
		zlog.Warn("Neo4j 未配置，知识图谱使用内存实现")
		gs = graphdb.NewMemoryStore()
	}

	kbRepo := persistence.NewKBRepository(initial.GormDB)
	docRepo := persistence.NewDocumentRepository(initial.GormDB)
	jobRepo := persistence.NewRebuildJobRepository(initial.GormDB)
	sessionRepo := recPersistence.NewSessionRepository(initial.GormDB)

	embedder, meta, err := embedding.NewEmbedderFromConfig(context.Background(), conf, conf.AIConfig.Embedding.Dimensions)
	if err != nil {
		zlog.Fatal(err.Error())
	}
	// 摄取路径带重试，retryTimes 为总尝试次数
	ingestPolicy := retry.DefaultPolicy()
	if rt := conf.AIConfig.Embedding.RetryTimes; rt > 0 {
		ingestPolicy.MaxAttempts = rt
	}
	ingestEmbedder := embedding.NewRetryingEmbedder(embedder, ingestPolicy, conf.AIConfig.Embedding.Dimensions)
	chunker := chunking.NewRecursiveChunker(conf.IngestConfig.ChunkSize, conf.IngestConfig.ChunkOverlap)

	ingestPipeline, err := kbPipeline.NewIngestPipeline(
		kbRepo, docRepo, vs, gs,
		ingestEmbedder, chunker,
		meta.Provider, meta.Model,
		conf.IngestConfig.EmbedBatchSize,
	)
	if err != nil {
		zlog.Fatal(err.Error())
	}
	indexManager := kbPipeline.NewIndexManager(kbRepo, docRepo, jobRepo, vs, gs, ingestPipeline)

	// Kafka 可选：配置了 broker 才走异步摄取
	var publisher mq.Publisher
	if len(conf.KafkaConfig.Brokers) > 0 {
		topic := conf.KafkaConfig.IngestTopic
		if topic == "" {
			topic = "shopsage.ingest"
		}
		partitions := conf.KafkaConfig.Partitions
		if partitions <= 0 {
			partitions = 3
		}
		replication := conf.KafkaConfig.Replication
		if replication <= 0 {
			replication = 1
		}
		if err := kafka.EnsureTopic(kafka.TopicAdminConfig{
			Brokers:  conf.KafkaConfig.Brokers,
			ClientID: conf.KafkaConfig.ClientID,
		}, topic, partitions, replication); err != nil {
			zlog.Warn("kafka topic ensure failed", zap.Error(err))
		}
		p, err := kafka.NewSaramaPublisher(kafka.PublisherConfig{
			Brokers:  conf.KafkaConfig.Brokers,
			ClientID: conf.KafkaConfig.ClientID,
		})
		if err != nil {
			zlog.Warn("kafka publisher init failed, ingest falls back to inline", zap.Error(err))
		} else {
			publisher = p
		}

		groupID := conf.KafkaConfig.ConsumerGroupID
		if groupID == "" {
			groupID = "shopsage-ingest"
		}
		consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers:  conf.KafkaConfig.Brokers,
			GroupID:  groupID,
			Topics:   []string{topic},
			ClientID: conf.KafkaConfig.ClientID,
		})
		if err != nil {
			zlog.Warn("kafka consumer init failed", zap.Error(err))
		} else {
			IngestWorker = queue.NewIngestConsumerWorker(consumer, docRepo, ingestPipeline)
		}
	}

	ingestTopic := conf.KafkaConfig.IngestTopic
	if ingestTopic == "" {
		ingestTopic = "shopsage.ingest"
	}

	// 查询路径不重试，失败直接反馈给调用方
	factory := func(ctx context.Context, dim int) (einoEmbedding.Embedder, error) {
		e, _, err := embedding.NewEmbedderFromConfig(ctx, conf, dim)
		if err != nil {
			return nil, err
		}
		return embedding.NewRetryingEmbedder(e, retry.NoRetry(), dim), nil
	}

	kbSvc := kbService.NewKBService(kbRepo, docRepo, vs, gs)
	ingestSvc := kbService.NewIngestService(kbRepo, docRepo, ingestPipeline, publisher, ingestTopic, conf.IngestConfig)
	graphSvc := kbService.NewGraphService(kbRepo, gs, kbService.EmbedderFactory(factory))
	rebuildSvc := kbService.NewRebuildService(indexManager, jobRepo)

	retriever, err := retrieval.NewHybridRetriever(vs, gs, retrieval.EmbedderFactory(factory), conf.RetrievalConfig)
	if err != nil {
		zlog.Fatal(err.Error())
	}
	recommendSvc := recService.NewRecommendService(kbRepo, sessionRepo, retriever, assemble.NewAssembler(), conf.RetrievalConfig)

	kbH := kbHandler.NewKBHandler(kbSvc, rebuildSvc)
	docH := kbHandler.NewDocumentHandler(ingestSvc)
	graphH := kbHandler.NewGraphHandler(graphSvc)
	chatH := recHandler.NewChatHandler(recommendSvc)

	GE.GET("/health", func(c *gin.Context) {
		status := gin.H{"status": "ok"}
		if sqlDB, err := initial.GormDB.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			status["mysql"] = "unavailable"
			status["status"] = "degraded"
		}
		if err := vs.Ping(c.Request.Context()); err != nil {
			status["vector_store"] = fmt.Sprintf("unavailable: %v", err)
			status["status"] = "degraded"
		}
		if err := gs.Ping(c.Request.Context()); err != nil {
			status["graph_store"] = fmt.Sprintf("unavailable: %v", err)
			status["status"] = "degraded"
		}
		if len(conf.RedisConfig.Host) > 0 && !redis.IsConnected() {
			status["redis"] = "unavailable"
			status["status"] = "degraded"
		}
		back.Success(c, status)
	})

	api := GE.Group("/api")

	api.POST("/kb", kbH.Create)
	api.GET("/kb", kbH.List)
	api.GET("/kb/:kbId", kbH.Get)
	api.PUT("/kb/:kbId", kbH.Update)
	api.DELETE("/kb/:kbId", kbH.Delete)

	api.POST("/kb/:kbId/documents", docH.Upload)
	api.GET("/kb/:kbId/documents", docH.List)
	api.GET("/kb/:kbId/documents/:docId", docH.Get)
	api.POST("/kb/:kbId/documents/:docId/reingest", docH.Reingest)
	api.DELETE("/kb/:kbId/documents/:docId", docH.Delete)

	api.POST("/kb/:kbId/rebuild", kbH.Rebuild)
	api.GET("/kb/:kbId/rebuild", kbH.RebuildStatus)
	api.POST("/kb/:kbId/rebuild/cancel", kbH.RebuildCancel)

	api.GET("/kb/:kbId/graph/subgraph", graphH.Subgraph)
	api.GET("/kb/:kbId/graph/sample", graphH.Sample)
	api.GET("/kb/:kbId/graph/labels", graphH.Labels)
	api.GET("/kb/:kbId/graph/stats", graphH.Stats)
	api.GET("/kb/:kbId/graph/node", graphH.Node)
	api.POST("/kb/:kbId/graph/entities", graphH.BulkEntities)
	api.POST("/kb/:kbId/graph/indexEntities", graphH.IndexEntities)

	api.POST("/chat/recommendations", chatH.Recommend)
	api.GET("/chat/sessions/:sessionId/messages", chatH.History)
	api.DELETE("/chat/sessions/:sessionId", chatH.DeleteSession)
}
