// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"log"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 是所有服务共享的基础设施配置。
// 业务相关的配置项（如过期扫描周期）也放在这里，由各服务按需取用。
type Config struct {
	Infra struct {
		Jaeger struct {
			Endpoint string `yaml:"endpoint"`
		} `yaml:"jaeger"`
		Kafka struct {
			Brokers []string `yaml:"brokers"`
		} `yaml:"kafka"`
		Mysql struct {
			DSN string `yaml:"dsn"`
		} `yaml:"mysql"`
		Redis struct {
			Addr string `yaml:"addr"`
		} `yaml:"redis"`
		Zookeeper struct {
			Servers []string `yaml:"servers"`
		} `yaml:"zookeeper"`
		Nacos struct {
			ServerAddrs string `yaml:"serverAddrs"`
			Namespace   string `yaml:"namespace"`
			Group       string `yaml:"group"`
		} `yaml:"nacos"`
	} `yaml:"infra"`

	Coupon struct {
		SweepInterval      Duration `yaml:"sweepInterval"`      // 过期扫描周期
		WarningHorizonDays int      `yaml:"warningHorizonDays"` // 即将过期的提前预警天数
	} `yaml:"coupon"`

	Payment struct {
		ValidateTimeout Duration `yaml:"validateTimeout"` // 校验调用在支付交互路径上，必须短超时
		ConfirmTimeout  Duration `yaml:"confirmTimeout"`
	} `yaml:"payment"`
}

// Duration 让配置文件里可以写 "2s" / "1h" 这样的时长字面量。
type Duration time.Duration

// UnmarshalYAML 实现 yaml.Unmarshaler。
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Std 转换为标准库的 time.Duration。
func (d Duration) Std() time.Duration { return time.Duration(d) }

var currentConfig *Config

// Init 加载配置文件并应用环境变量覆盖。必须在 StartService 之前调用。
func Init() {
	path := getEnv("CONFIG_PATH", "configs/config.yaml")

	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("WARN: config file %s not readable (%v), using defaults", path, err)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Fatalf("FATAL: failed to parse config file %s: %v", path, err)
	}

	// 环境变量优先级高于配置文件，方便容器化部署时注入
	if v, ok := os.LookupEnv("KAFKA_BROKERS"); ok {
		cfg.Infra.Kafka.Brokers = strings.Split(v, ",")
	}
	if v, ok := os.LookupEnv("MYSQL_DSN"); ok {
		cfg.Infra.Mysql.DSN = v
	}
	if v, ok := os.LookupEnv("REDIS_ADDR"); ok {
		cfg.Infra.Redis.Addr = v
	}
	if v, ok := os.LookupEnv("JAEGER_ENDPOINT"); ok {
		cfg.Infra.Jaeger.Endpoint = v
	}
	if v, ok := os.LookupEnv("ZOOKEEPER_SERVERS"); ok {
		cfg.Infra.Zookeeper.Servers = strings.Split(v, ",")
	}
	if v, ok := os.LookupEnv("NACOS_SERVER_ADDRS"); ok {
		cfg.Infra.Nacos.ServerAddrs = v
	}
	if v, ok := os.LookupEnv("NACOS_NAMESPACE"); ok {
		cfg.Infra.Nacos.Namespace = v
	}
	if v, ok := os.LookupEnv("NACOS_GROUP"); ok {
		cfg.Infra.Nacos.Group = v
	}

	currentConfig = cfg
}

// GetCurrentConfig 返回当前配置。在 Init 之前调用会返回默认值。
func GetCurrentConfig() *Config {
	if currentConfig == nil {
		currentConfig = defaultConfig()
	}
	return currentConfig
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.Infra.Jaeger.Endpoint = "http://localhost:14268/api/traces"
	cfg.Infra.Kafka.Brokers = []string{"localhost:9092"}
	cfg.Infra.Mysql.DSN = "root:root@tcp(localhost:3306)/caremesh?charset=utf8mb4&parseTime=True&loc=Local"
	cfg.Infra.Redis.Addr = "localhost:6379"
	cfg.Infra.Zookeeper.Servers = []string{"localhost:2181"}
	cfg.Infra.Nacos.ServerAddrs = "localhost:8848"
	cfg.Infra.Nacos.Group = "DEFAULT_GROUP"
	cfg.Coupon.SweepInterval = Duration(time.Hour)
	cfg.Coupon.WarningHorizonDays = 30
	cfg.Payment.ValidateTimeout = Duration(2 * time.Second)
	cfg.Payment.ConfirmTimeout = Duration(5 * time.Second)
	return cfg
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
