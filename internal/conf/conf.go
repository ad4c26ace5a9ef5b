package conf

import (
	"encoding/json"
	"fmt"
	"time"
)

// Bootstrap 配置根节点，对应 configs/config.yaml
type Bootstrap struct {
	Server  *Server  `json:"server"`
	Data    *Data    `json:"data"`
	Gateway *Gateway `json:"gateway"`
	Ledger  *Ledger  `json:"ledger"`
}

// Server 服务监听配置
type Server struct {
	Http *Server_HTTP `json:"http"`
	// Grpc 仅提供健康检查与反射，供部署探针使用
	Grpc *Server_GRPC `json:"grpc"`
}

type Server_HTTP struct {
	Network string    `json:"network"`
	Addr    string    `json:"addr"`
	Timeout *Duration `json:"timeout"`
}

type Server_GRPC struct {
	Network string    `json:"network"`
	Addr    string    `json:"addr"`
	Timeout *Duration `json:"timeout"`
}

// Data 存储与中间件配置
type Data struct {
	Database *Data_Database `json:"database"`
	Redis    *Data_Redis    `json:"redis"`
	Rocketmq *Data_RocketMQ `json:"rocketmq"`
}

type Data_Database struct {
	// Driver mysql 或 sqlite（单店离线部署）
	Driver string `json:"driver"`
	Source string `json:"source"`
	// AutoMigrate 启动时同步表结构
	AutoMigrate bool `json:"auto_migrate"`
}

type Data_Redis struct {
	Addr         string    `json:"addr"`
	Password     string    `json:"password"`
	Db           int32     `json:"db"`
	ReadTimeout  *Duration `json:"read_timeout"`
	WriteTimeout *Duration `json:"write_timeout"`
}

type Data_RocketMQ struct {
	Enabled     bool     `json:"enabled"`
	NameServers []string `json:"name_servers"`
	GroupName   string   `json:"group_name"`
	RetryTimes  int32    `json:"retry_times"`
	// EventTopic 网关事件入站 topic
	EventTopic string `json:"event_topic"`
	// StatusTopic 支付状态变更出站 topic
	StatusTopic string `json:"status_topic"`
}

// Gateway 支付网关配置
type Gateway struct {
	// Mode sandbox 或 live，启动时选定一次
	Mode          string    `json:"mode"`
	Endpoint      string    `json:"endpoint"`
	ApiKey        string    `json:"api_key"`
	WebhookSecret string    `json:"webhook_secret"`
	Timeout       *Duration `json:"timeout"`
	// SignatureTolerance 签名时间戳允许的偏差
	SignatureTolerance *Duration `json:"signature_tolerance"`
}

// Ledger 账本业务参数
type Ledger struct {
	Currency           string    `json:"currency"`
	LockExpiry         *Duration `json:"lock_expiry"`
	StatusCacheTtl     *Duration `json:"status_cache_ttl"`
	EventDedupeTtl     *Duration `json:"event_dedupe_ttl"`
	StalePendingAfter  *Duration `json:"stale_pending_after"`
	ReconcileBatchSize int32     `json:"reconcile_batch_size"`
	ReconcileSchedule  string    `json:"reconcile_schedule"`
}

// Duration 支持 "5s"、"1m" 形式的时长配置
type Duration struct {
	time.Duration
}

// NewDuration 构造时长配置
func NewDuration(d time.Duration) *Duration {
	return &Duration{Duration: d}
}

// AsDuration 返回 time.Duration，nil 时为 0
func (d *Duration) AsDuration() time.Duration {
	if d == nil {
		return 0
	}
	return d.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("invalid duration: %s", string(b))
	}
}
