package config

import (
	"os"
	"strings"
	"time"
)

// MySQLConfig MySQL 连接配置。
type MySQLConfig struct {
	DSN             string        `json:"dsn" yaml:"dsn"`                         // 主库连接串
	ReplicaDSNs     []string      `json:"replicaDSNs" yaml:"replicaDSNs"`         // 只读副本连接串，空则读写都走主库
	MaxOpenConns    int           `json:"maxOpenConns" yaml:"maxOpenConns"`       // 最大打开连接数
	MaxIdleConns    int           `json:"maxIdleConns" yaml:"maxIdleConns"`       // 最大空闲连接数
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" yaml:"connMaxLifetime"` // 连接最长存活时间
	SlowThreshold   time.Duration `json:"slowThreshold" yaml:"slowThreshold"`     // 慢查询日志阈值
}

// DefaultMySQLConfig 返回本地开发的默认配置。
// DSN 优先读取 MYSQL_DSN，未设置时对齐 docker-compose 的本地实例。
func DefaultMySQLConfig() MySQLConfig {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "chat:chat@tcp(127.0.0.1:3306)/chatcore?charset=utf8mb4&parseTime=True&loc=Local"
	}
	var replicas []string
	for _, raw := range strings.Split(os.Getenv("MYSQL_REPLICA_DSN"), ",") {
		if raw = strings.TrimSpace(raw); raw != "" {
			replicas = append(replicas, raw)
		}
	}
	return MySQLConfig{
		DSN:             dsn,
		ReplicaDSNs:     replicas,
		MaxOpenConns:    100,
		MaxIdleConns:    10,
		ConnMaxLifetime: time.Hour,
		SlowThreshold:   200 * time.Millisecond,
	}
}
