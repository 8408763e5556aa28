package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 保存整个流水线的配置。
type Config struct {
	App         AppConfig         `json:"app"`
	Browser     BrowserConfig     `json:"browser"`
	Supplier    SupplierConfig    `json:"supplier"`
	Walker      WalkerConfig      `json:"walker"`
	Marketplace MarketplaceConfig `json:"marketplace"`
	Matcher     MatcherConfig     `json:"matcher"`
	Fees        FeesConfig        `json:"fees"`
	Limits      LimitsConfig      `json:"limits"`
	Store       StoreConfig       `json:"store"`
	Redis       RedisConfig       `json:"redis"`
	Report      ReportConfig      `json:"report"`
	Email       EmailConfig       `json:"email"`
	API         APIConfig         `json:"api"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env                 string        `json:"env"`                   // 运行环境: local / prod
	LogLevel            string        `json:"log_level"`             // 日志级别: debug / info / warn / error
	MetricsAddr         string        `json:"metrics_addr"`          // Prometheus 监听地址，为空则不启动
	SaveInterval        int           `json:"save_interval"`         // 每处理多少个单位保存一次进度
	BatchSize           int           `json:"batch_size"`            // 每多少个商品递增一次批次号
	SupplierCacheMaxAge time.Duration `json:"supplier_cache_max_age"` // 供应商缓存新鲜度（如 "24h"）
	ForceRefresh        bool          `json:"force_refresh"`         // 忽略新鲜缓存，强制重新遍历
	RunInterval         time.Duration `json:"run_interval"`          // 周期运行间隔，0 表示只运行一次
}

// BrowserConfig 浏览器会话配置。
type BrowserConfig struct {
	Driver               string        `json:"driver"`                 // rod / chromedp
	BinPath              string        `json:"bin_path"`               // 浏览器可执行文件路径
	ProxyURL             string        `json:"proxy_url"`              // 代理服务器 URL
	Headless             bool          `json:"headless"`               // 是否使用无头模式
	MaxTabs              int           `json:"max_tabs"`               // 最大同时打开的页面数
	PageTimeout          time.Duration `json:"page_timeout"`           // 单次导航超时
	MaxReconnectAttempts int           `json:"max_reconnect_attempts"` // 断线后最大重连次数
	ReconnectBackoff     time.Duration `json:"reconnect_backoff"`      // 重连初始退避
	HealthInterval       time.Duration `json:"health_interval"`        // 连接健康检查间隔
	UserAgent            string        `json:"user_agent"`
	BlockedURLs          []string      `json:"blocked_urls"`           // 不加载的资源模式（图片、字体等）
}

// SupplierConfig 供应商站点配置。
type SupplierConfig struct {
	Name            string        `json:"name"`             // 供应商标识（通常是域名）
	BaseURL         string        `json:"base_url"`         // 站点首页
	Categories      []string      `json:"categories"`       // 静态分类入口（优先级从高到低）
	CategoryFile    string        `json:"category_file"`    // 分类排名 JSON（URL 数组或 {url,score} 数组），优先于 Categories
	SelectorFile    string        `json:"selector_file"`    // 选择器 JSON 文件
	AuthMaxAttempts int           `json:"auth_max_attempts"` // 登录态校验最大重试次数
	AuthCooldown    time.Duration `json:"auth_cooldown"`    // 登录失败熔断冷却时间
	RateLimit       float64       `json:"rate_limit"`       // 供应商请求速率（token/s）
	RateBurst       float64       `json:"rate_burst"`       // 供应商限流桶容量
}

// WalkerConfig 分类遍历配置。
type WalkerConfig struct {
	ProbeThreshold int    `json:"probe_threshold"` // 子分类商品数达到该值时跳过父分类
	MaxPages       int    `json:"max_pages"`       // 单分类最大翻页数
	PageParam      string `json:"page_param"`      // 翻页参数名
	Concurrency    int    `json:"concurrency"`     // 探测并发度
}

// MarketplaceConfig 目标平台站点配置。
type MarketplaceConfig struct {
	Domain       string  `json:"domain"`        // 平台域名
	SearchURL    string  `json:"search_url"`    // 搜索 URL 模板，{query} 为占位符
	ListingURL   string  `json:"listing_url"`   // 商品详情 URL 模板，{id} 为占位符
	SelectorFile string  `json:"selector_file"` // 平台选择器 JSON 文件
	RateLimit    float64 `json:"rate_limit"`    // 平台请求速率（token/s）
	RateBurst    float64 `json:"rate_burst"`    // 平台限流桶容量
}

// MatcherConfig 匹配与打分配置。
type MatcherConfig struct {
	HighThreshold   float64       `json:"high_threshold"`   // 高置信度下限（闭区间）
	MediumThreshold float64       `json:"medium_threshold"` // 中置信度下限（闭区间）
	BrandWeight     float64       `json:"brand_weight"`
	ModelWeight     float64       `json:"model_weight"`
	SizeWeight      float64       `json:"size_weight"`
	CoreWeight      float64       `json:"core_weight"`
	MaxAttempts     int           `json:"max_attempts"`    // 搜索最大尝试次数
	InitialBackoff  time.Duration `json:"initial_backoff"` // 搜索重试初始退避
	MaxBackoff      time.Duration `json:"max_backoff"`     // 搜索重试最大退避
	ListingTTL      time.Duration `json:"listing_ttl"`     // 平台商品缓存有效期
	MaxCandidates   int           `json:"max_candidates"`  // 标题搜索最多评估的候选数
	QueryWords      int           `json:"query_words"`     // 标题搜索词数上限
}

// FeesConfig 平台费用模型。
type FeesConfig struct {
	ReferralRate   float64 `json:"referral_rate"`
	MinReferralFee float64 `json:"min_referral_fee"`
	FulfillmentFee float64 `json:"fulfillment_fee"`
	PrepFee        float64 `json:"prep_fee"`
	ClosingFee     float64 `json:"closing_fee"`
	VATRate        float64 `json:"vat_rate"`
	VATRegistered  bool    `json:"vat_registered"` // 为 true 时售价与进价均按不含税计算
}

// LimitsConfig 利润筛选条件。
type LimitsConfig struct {
	MinROI    float64 `json:"min_roi"`    // 最低 ROI（百分比）
	MinProfit float64 `json:"min_profit"` // 最低净利润
	MinPrice  float64 `json:"min_price"`  // 进价下限（0 表示不限）
	MaxPrice  float64 `json:"max_price"`  // 进价上限（0 表示不限）
}

// StoreConfig 持久化后端配置。
type StoreConfig struct {
	Backend    string `json:"backend"`     // file / sqlite / redis
	Dir        string `json:"dir"`         // file 后端目录
	SQLitePath string `json:"sqlite_path"` // sqlite 后端文件
	KeyPrefix  string `json:"key_prefix"`  // redis 后端键前缀
}

// RedisConfig Redis 配置。Addr 为空表示不使用 Redis。
type RedisConfig struct {
	Addr     string `json:"addr"`     // Redis 地址 (host:port)
	Password string `json:"password"` // Redis 密码
	DB       int    `json:"db"`
}

// ReportConfig 报表输出配置。
type ReportConfig struct {
	CSVPath  string `json:"csv_path"`  // CSV 报表路径，为空不输出
	MySQLDSN string `json:"mysql_dsn"` // 报表落库 DSN，为空不落库
	EmailTo  string `json:"email_to"`  // 报表邮件收件人，为空不发送
}

// EmailConfig 邮件通知配置。
type EmailConfig struct {
	SMTPHost  string `json:"smtp_host"`
	SMTPPort  int    `json:"smtp_port"`
	SMTPUser  string `json:"smtp_user"`
	SMTPPass  string `json:"smtp_pass"`
	FromEmail string `json:"from_email"`
}

// APIConfig 只读状态接口配置。
type APIConfig struct {
	Addr string `json:"addr"` // 监听地址，为空则不启动
}

// Load 从 JSON 文件加载配置。
//
// 加载顺序：.env（如存在）→ JSON 文件 → 默认值补齐 → 环境变量覆盖 → 校验。
//
// 参数:
//
//	configPath: 配置文件路径（如果为空则使用默认路径 "configs/config.json")
//
// 返回值:
//
//	*Config: 加载完成的配置对象
//	error: 读取、解析或校验失败返回错误
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	// .env 只补充未设置的环境变量，不存在时忽略
	_ = godotenv.Load()

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		cfg = getDefaultConfig()
	case err != nil:
		return nil, fmt.Errorf("read config file: %w", err)
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
		applyDefaults(cfg)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置的取值范围。
func (c *Config) Validate() error {
	var errs []error
	if c.Supplier.Name == "" {
		errs = append(errs, errors.New("supplier.name is required"))
	}
	if c.Matcher.HighThreshold < c.Matcher.MediumThreshold {
		errs = append(errs, fmt.Errorf("matcher.high_threshold %.2f below medium_threshold %.2f",
			c.Matcher.HighThreshold, c.Matcher.MediumThreshold))
	}
	if c.Matcher.MediumThreshold < 0 || c.Matcher.HighThreshold > 1 {
		errs = append(errs, errors.New("matcher thresholds must be within [0,1]"))
	}
	if c.Matcher.BrandWeight < 0 || c.Matcher.ModelWeight < 0 || c.Matcher.SizeWeight < 0 || c.Matcher.CoreWeight < 0 {
		errs = append(errs, errors.New("matcher weights must be non-negative"))
	}
	if c.Browser.MaxTabs <= 0 {
		errs = append(errs, errors.New("browser.max_tabs must be positive"))
	}
	switch c.Browser.Driver {
	case "rod", "chromedp":
	default:
		errs = append(errs, fmt.Errorf("unknown browser.driver %q", c.Browser.Driver))
	}
	switch c.Store.Backend {
	case "file", "sqlite":
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("store.backend=redis requires redis.addr"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.backend %q", c.Store.Backend))
	}
	if c.App.RunInterval < 0 {
		errs = append(errs, errors.New("app.run_interval must not be negative"))
	}
	if c.Limits.MaxPrice > 0 && c.Limits.MinPrice > c.Limits.MaxPrice {
		errs = append(errs, errors.New("limits.min_price above limits.max_price"))
	}
	if c.Fees.ReferralRate < 0 || c.Fees.ReferralRate >= 1 {
		errs = append(errs, errors.New("fees.referral_rate must be within [0,1)"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// getDefaultConfig 返回默认配置。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:                 "local",
			LogLevel:            "info",
			MetricsAddr:         ":2112",
			SaveInterval:        10,
			BatchSize:           100,
			SupplierCacheMaxAge: 24 * time.Hour,
		},
		Browser: BrowserConfig{
			Driver:               "rod",
			Headless:             true,
			MaxTabs:              3,
			PageTimeout:          45 * time.Second,
			MaxReconnectAttempts: 3,
			ReconnectBackoff:     2 * time.Second,
			HealthInterval:       30 * time.Second,
			UserAgent:            "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
			BlockedURLs:          []string{"*.png", "*.jpg", "*.jpeg", "*.gif", "*.webp", "*.woff", "*.woff2", "*doubleclick.net*", "*google-analytics.com*"},
		},
		Supplier: SupplierConfig{
			Name:            "supplier.example",
			AuthMaxAttempts: 2,
			AuthCooldown:    10 * time.Minute,
			RateLimit:       1,
			RateBurst:       2,
		},
		Walker: WalkerConfig{
			ProbeThreshold: 2,
			MaxPages:       50,
			PageParam:      "page",
			Concurrency:    2,
		},
		Marketplace: MarketplaceConfig{
			Domain:     "www.amazon.co.uk",
			SearchURL:  "https://www.amazon.co.uk/s?k={query}",
			ListingURL: "https://www.amazon.co.uk/dp/{id}",
			RateLimit:  0.5,
			RateBurst:  1,
		},
		Matcher: MatcherConfig{
			HighThreshold:   0.75,
			MediumThreshold: 0.55,
			BrandWeight:     0.4,
			ModelWeight:     0.3,
			SizeWeight:      0.2,
			CoreWeight:      0.1,
			MaxAttempts:     3,
			InitialBackoff:  2 * time.Second,
			MaxBackoff:      20 * time.Second,
			ListingTTL:      72 * time.Hour,
			MaxCandidates:   5,
			QueryWords:      8,
		},
		Fees: FeesConfig{
			ReferralRate:   0.15,
			MinReferralFee: 0.25,
			FulfillmentFee: 2.41,
			VATRate:        0.2,
		},
		Limits: LimitsConfig{
			MinROI:    30,
			MinProfit: 3,
		},
		Store: StoreConfig{
			Backend:    "file",
			Dir:        "data",
			SQLitePath: "data/fbahunter.db",
			KeyPrefix:  "fbahunter:kv:",
		},
		Report: ReportConfig{
			CSVPath: "data/report.csv",
		},
		Email: EmailConfig{
			SMTPHost: "smtp.gmail.com",
			SMTPPort: 587,
		},
		API: APIConfig{
			Addr: ":8081",
		},
	}
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	d := getDefaultConfig()

	setString(&cfg.App.Env, d.App.Env)
	setString(&cfg.App.LogLevel, d.App.LogLevel)
	setInt(&cfg.App.SaveInterval, d.App.SaveInterval)
	setInt(&cfg.App.BatchSize, d.App.BatchSize)
	setDuration(&cfg.App.SupplierCacheMaxAge, d.App.SupplierCacheMaxAge)

	setString(&cfg.Browser.Driver, d.Browser.Driver)
	setInt(&cfg.Browser.MaxTabs, d.Browser.MaxTabs)
	setDuration(&cfg.Browser.PageTimeout, d.Browser.PageTimeout)
	setInt(&cfg.Browser.MaxReconnectAttempts, d.Browser.MaxReconnectAttempts)
	setDuration(&cfg.Browser.ReconnectBackoff, d.Browser.ReconnectBackoff)
	setDuration(&cfg.Browser.HealthInterval, d.Browser.HealthInterval)
	setString(&cfg.Browser.UserAgent, d.Browser.UserAgent)
	if cfg.Browser.BlockedURLs == nil {
		cfg.Browser.BlockedURLs = d.Browser.BlockedURLs
	}

	setString(&cfg.Supplier.Name, d.Supplier.Name)
	setInt(&cfg.Supplier.AuthMaxAttempts, d.Supplier.AuthMaxAttempts)
	setDuration(&cfg.Supplier.AuthCooldown, d.Supplier.AuthCooldown)
	setFloat(&cfg.Supplier.RateLimit, d.Supplier.RateLimit)
	setFloat(&cfg.Supplier.RateBurst, d.Supplier.RateBurst)

	setInt(&cfg.Walker.ProbeThreshold, d.Walker.ProbeThreshold)
	setInt(&cfg.Walker.MaxPages, d.Walker.MaxPages)
	setString(&cfg.Walker.PageParam, d.Walker.PageParam)
	setInt(&cfg.Walker.Concurrency, d.Walker.Concurrency)

	setString(&cfg.Marketplace.Domain, d.Marketplace.Domain)
	setString(&cfg.Marketplace.SearchURL, d.Marketplace.SearchURL)
	setString(&cfg.Marketplace.ListingURL, d.Marketplace.ListingURL)
	setFloat(&cfg.Marketplace.RateLimit, d.Marketplace.RateLimit)
	setFloat(&cfg.Marketplace.RateBurst, d.Marketplace.RateBurst)

	setFloat(&cfg.Matcher.HighThreshold, d.Matcher.HighThreshold)
	setFloat(&cfg.Matcher.MediumThreshold, d.Matcher.MediumThreshold)
	if cfg.Matcher.BrandWeight+cfg.Matcher.ModelWeight+cfg.Matcher.SizeWeight+cfg.Matcher.CoreWeight == 0 {
		cfg.Matcher.BrandWeight = d.Matcher.BrandWeight
		cfg.Matcher.ModelWeight = d.Matcher.ModelWeight
		cfg.Matcher.SizeWeight = d.Matcher.SizeWeight
		cfg.Matcher.CoreWeight = d.Matcher.CoreWeight
	}
	setInt(&cfg.Matcher.MaxAttempts, d.Matcher.MaxAttempts)
	setDuration(&cfg.Matcher.InitialBackoff, d.Matcher.InitialBackoff)
	setDuration(&cfg.Matcher.MaxBackoff, d.Matcher.MaxBackoff)
	setDuration(&cfg.Matcher.ListingTTL, d.Matcher.ListingTTL)
	setInt(&cfg.Matcher.MaxCandidates, d.Matcher.MaxCandidates)
	setInt(&cfg.Matcher.QueryWords, d.Matcher.QueryWords)

	setFloat(&cfg.Fees.ReferralRate, d.Fees.ReferralRate)
	setFloat(&cfg.Fees.VATRate, d.Fees.VATRate)

	setString(&cfg.Store.Backend, d.Store.Backend)
	setString(&cfg.Store.Dir, d.Store.Dir)
	setString(&cfg.Store.SQLitePath, d.Store.SQLitePath)
	setString(&cfg.Store.KeyPrefix, d.Store.KeyPrefix)

	setInt(&cfg.Email.SMTPPort, d.Email.SMTPPort)
}

func setString(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if *dst == 0 {
		*dst = v
	}
}

func setFloat(dst *float64, v float64) {
	if *dst == 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if *dst == 0 {
		*dst = v
	}
}

func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	_ = viper.BindEnv("db_host", "DB_HOST")
	_ = viper.BindEnv("db_password", "DB_PASSWORD")
	_ = viper.BindEnv("redis_addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = viper.BindEnv("smtp_pass", "SMTP_PASS")
	_ = viper.BindEnv("chrome_bin", "CHROME_BIN")

	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("APP_METRICS_ADDR"); v != "" {
		cfg.App.MetricsAddr = v
	}
	envInt("APP_SAVE_INTERVAL", &cfg.App.SaveInterval)
	envInt("APP_BATCH_SIZE", &cfg.App.BatchSize)
	envDuration("APP_SUPPLIER_CACHE_MAX_AGE", &cfg.App.SupplierCacheMaxAge)
	envBool("APP_FORCE_REFRESH", &cfg.App.ForceRefresh)
	envDuration("APP_RUN_INTERVAL", &cfg.App.RunInterval)

	if v := viper.GetString("chrome_bin"); v != "" {
		cfg.Browser.BinPath = v
	}
	if v := os.Getenv("BROWSER_DRIVER"); v != "" {
		cfg.Browser.Driver = v
	}
	if v := os.Getenv("HTTP_PROXY"); v != "" {
		cfg.Browser.ProxyURL = v
	} else if v := os.Getenv("BROWSER_PROXY_URL"); v != "" {
		cfg.Browser.ProxyURL = v
	}
	envBool("BROWSER_HEADLESS", &cfg.Browser.Headless)
	envInt("BROWSER_MAX_TABS", &cfg.Browser.MaxTabs)
	envDuration("BROWSER_PAGE_TIMEOUT", &cfg.Browser.PageTimeout)

	if v := os.Getenv("SUPPLIER_NAME"); v != "" {
		cfg.Supplier.Name = v
	}
	if v := os.Getenv("SUPPLIER_BASE_URL"); v != "" {
		cfg.Supplier.BaseURL = v
	}
	if v := os.Getenv("SUPPLIER_CATEGORY_FILE"); v != "" {
		cfg.Supplier.CategoryFile = v
	}
	if v := os.Getenv("SUPPLIER_SELECTOR_FILE"); v != "" {
		cfg.Supplier.SelectorFile = v
	}
	envFloat("SUPPLIER_RATE_LIMIT", &cfg.Supplier.RateLimit)

	envFloat("MATCHER_HIGH_THRESHOLD", &cfg.Matcher.HighThreshold)
	envFloat("MATCHER_MEDIUM_THRESHOLD", &cfg.Matcher.MediumThreshold)
	envFloat("LIMITS_MIN_ROI", &cfg.Limits.MinROI)
	envFloat("LIMITS_MIN_PROFIT", &cfg.Limits.MinProfit)

	if v := os.Getenv("STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("STORE_DIR"); v != "" {
		cfg.Store.Dir = v
	}

	if v := viper.GetString("redis_addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := viper.GetString("redis_password"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("REPORT_CSV_PATH"); v != "" {
		cfg.Report.CSVPath = v
	}
	if v := os.Getenv("REPORT_EMAIL_TO"); v != "" {
		cfg.Report.EmailTo = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.Report.MySQLDSN = v
	} else if hasAnyEnv("DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME") || viper.GetString("db_host") != "" {
		cfg.Report.MySQLDSN = overrideDSN(cfg.Report.MySQLDSN)
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Email.SMTPHost = v
	}
	envInt("SMTP_PORT", &cfg.Email.SMTPPort)
	if v := os.Getenv("SMTP_USER"); v != "" {
		cfg.Email.SMTPUser = v
	}
	if v := viper.GetString("smtp_pass"); v != "" {
		cfg.Email.SMTPPass = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		cfg.Email.FromEmail = v
	}

	if v := os.Getenv("API_ADDR"); v != "" {
		cfg.API.Addr = v
	}
}

// overrideDSN 用 DB_* 环境变量改写报表库 DSN。
func overrideDSN(dsn string) string {
	parsed := parseMySQLDSN(dsn)
	if v := viper.GetString("db_host"); v != "" {
		parsed.Addr = v + ":" + getenvDefault("DB_PORT", parsed.Addr, "3306")
	} else if v := os.Getenv("DB_PORT"); v != "" {
		host, _, _ := strings.Cut(parsed.Addr, ":")
		parsed.Addr = host + ":" + v
	}
	if v := os.Getenv("DB_USER"); v != "" {
		parsed.User = v
	}
	if v := viper.GetString("db_password"); v != "" {
		parsed.Passwd = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		parsed.DBName = v
	}
	return parsed.FormatDSN()
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func hasAnyEnv(keys ...string) bool {
	for _, key := range keys {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

func getenvDefault(envKey, fallbackAddr, defaultValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if _, port, ok := strings.Cut(fallbackAddr, ":"); ok && port != "" {
		return port
	}
	return defaultValue
}

func parseMySQLDSN(dsn string) *mysql.Config {
	if dsn != "" {
		if parsed, err := mysql.ParseDSN(dsn); err == nil {
			return parsed
		}
	}
	cfg := mysql.NewConfig()
	cfg.User = "root"
	cfg.Net = "tcp"
	cfg.Addr = "localhost:3306"
	cfg.DBName = "fbahunter"
	cfg.ParseTime = true
	return cfg
}
