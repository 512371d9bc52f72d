package initial

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ShopSage/internal/config"
	"ShopSage/pkg/zlog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

var Neo4jDriver neo4j.DriverWithContext

func init() {
	conf := config.GetConfig()
	uri := strings.TrimSpace(conf.Neo4jConfig.URI)
	if uri == "" {
		return
	}

	driver, err := neo4j.NewDriverWithContext(uri,
		neo4j.BasicAuth(conf.Neo4jConfig.Username, conf.Neo4jConfig.Password, ""))
	if err != nil {
		zlog.Fatal(fmt.Sprintf("neo4j init failed: %v", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		zlog.Fatal(fmt.Sprintf("neo4j connectivity check failed: %v", err))
		return
	}
	Neo4jDriver = driver
}
