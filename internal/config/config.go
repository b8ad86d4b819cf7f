// 包 config 负责加载与校验应用配置（settings.yaml / settings.toml），
// 对外提供结构体 Config 及默认值/合法性校验。
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// MaxDownloadConcurrency 为并发下载上限。
const MaxDownloadConcurrency = 20

// 仅保留当前需要的字段，避免过度设计（KISS/YAGNI）。
type Config struct {
	SaveDir       string      `yaml:"SAVE_DIR" toml:"SAVE_DIR"`
	OtherFilesDir string      `yaml:"OTHER_FILES_DIR" toml:"OTHER_FILES_DIR"`
	Extensions    []string    `yaml:"EXTENSIONS" toml:"EXTENSIONS"`
	Categories    Categories  `yaml:"CATEGORIES" toml:"CATEGORIES"`
	Concurrency   Concurrency `yaml:"CONCURRENCY" toml:"CONCURRENCY"`
	Retry         Retry       `yaml:"RETRY" toml:"RETRY"`
	Pagination    Pagination  `yaml:"PAGINATION" toml:"PAGINATION"`
	Timeouts      Timeouts    `yaml:"TIMEOUTS" toml:"TIMEOUTS"`
	Ledger        Ledger      `yaml:"LEDGER" toml:"LEDGER"`
	SimpleMode    bool        `yaml:"SIMPLE_MODE" toml:"SIMPLE_MODE"`
	Database      Database    `yaml:"DATABASE" toml:"DATABASE"`
	Proxy         Proxy       `yaml:"PROXY" toml:"PROXY"`
	LogLevel      string      `yaml:"LOG_LEVEL" toml:"LOG_LEVEL"`
	LogFormat     string      `yaml:"LOG_FORMAT" toml:"LOG_FORMAT"` // text|json|pretty
	LogLocale     string      `yaml:"LOG_LOCALE" toml:"LOG_LOCALE"` // zh-CN|en
	LogColor      string      `yaml:"LOG_COLOR" toml:"LOG_COLOR"`   // auto|always|never
}

// Categories 控制提取哪些来源的文件。
type Categories struct {
	Main          *bool `yaml:"main" toml:"main"`
	Attachments   *bool `yaml:"attachments" toml:"attachments"`
	ContentImages *bool `yaml:"content_images" toml:"content_images"`
}

// Enabled 返回三类开关（未配置视为开启）。
func (c Categories) Enabled() (main, attachments, content bool) {
	return boolOr(c.Main, true), boolOr(c.Attachments, true), boolOr(c.ContentImages, true)
}

type Concurrency struct {
	// Download：并发下载文件数（1..20）
	Download int `yaml:"download" toml:"download"`
	// Prepare：并发拉取帖子详情数
	Prepare int `yaml:"prepare" toml:"prepare"`
}

type Retry struct {
	Attempts int      `yaml:"attempts" toml:"attempts"`
	Delay    Duration `yaml:"delay" toml:"delay"`
}

type Pagination struct {
	PageSize int      `yaml:"page_size" toml:"page_size"`
	MaxPages int      `yaml:"max_pages" toml:"max_pages"`
	Interval Duration `yaml:"interval" toml:"interval"`
	// FetchDetails：是否逐帖拉取详情（列表接口的 content 可能被截断）
	FetchDetails *bool `yaml:"fetch_details" toml:"fetch_details"`
}

type Timeouts struct {
	Probe    Duration `yaml:"probe" toml:"probe"`
	Request  Duration `yaml:"request" toml:"request"`
	Download Duration `yaml:"download" toml:"download"`
}

type Ledger struct {
	Type string `yaml:"type" toml:"type"` // json (default) | sqlite
	Path string `yaml:"path" toml:"path"` // 默认 OTHER_FILES_DIR/file_hashes.json
}

type Database struct {
	Type string `yaml:"type" toml:"type"` // sqlite (default)
	DSN  string `yaml:"dsn" toml:"dsn"`   // OTHER_FILES_DIR/archive.db
}

type Proxy struct {
	HTTP  string `yaml:"http" toml:"http"`
	HTTPS string `yaml:"https" toml:"https"`
}

// Duration 支持 "500ms"/"3s" 形式（YAML 与 TOML 通用）。
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", string(b), err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DefaultExtensions 与原始下载器的默认勾选一致。
var DefaultExtensions = []string{
	"jpg", "png", "gif", "webp", "mp4", "mov", "zip", "rar", "7z", "pdf", "psd", "mp3", "wav",
}

func Load(path string) (*Config, error) {
	// Load 从文件读取配置并反序列化为 Config，按扩展名选择 YAML/TOML，同时进行基础校验与默认值填充。
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var c Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("unmarshal config %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("unmarshal config %s: %w", path, err)
		}
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// Default 返回仅含默认值的配置（无配置文件时使用）。
func Default() *Config {
	c := &Config{}
	_ = c.Validate()
	return c
}

func (c *Config) Validate() error {
	// Validate 负责合法性检查与默认值设置，避免在业务层分散判空逻辑。
	if c.SaveDir == "" {
		c.SaveDir = filepath.Join("Kemono Downloader", "Downloads")
	}
	if c.OtherFilesDir == "" {
		c.OtherFilesDir = filepath.Join(filepath.Dir(c.SaveDir), "Other Files")
	}
	if len(c.Extensions) == 0 {
		c.Extensions = append([]string(nil), DefaultExtensions...)
	}
	if c.Concurrency.Download == 0 {
		c.Concurrency.Download = 5
	}
	if c.Concurrency.Download < 1 || c.Concurrency.Download > MaxDownloadConcurrency {
		return fmt.Errorf("CONCURRENCY.download must be within 1..%d", MaxDownloadConcurrency)
	}
	if c.Concurrency.Prepare <= 0 {
		c.Concurrency.Prepare = 20
	}
	if c.Retry.Attempts == 0 {
		c.Retry.Attempts = 5
	}
	if c.Retry.Attempts < 1 {
		return errors.New("RETRY.attempts must be >= 1")
	}
	if c.Retry.Delay.Duration <= 0 {
		c.Retry.Delay.Duration = 3 * time.Second
	}
	if c.Pagination.PageSize <= 0 {
		c.Pagination.PageSize = 50
	}
	if c.Pagination.MaxPages <= 0 {
		c.Pagination.MaxPages = 200
	}
	if c.Pagination.Interval.Duration <= 0 {
		c.Pagination.Interval.Duration = 500 * time.Millisecond
	}
	if c.Timeouts.Probe.Duration <= 0 {
		c.Timeouts.Probe.Duration = 5 * time.Second
	}
	if c.Timeouts.Request.Duration <= 0 {
		c.Timeouts.Request.Duration = 10 * time.Second
	}
	if c.Timeouts.Download.Duration <= 0 {
		c.Timeouts.Download.Duration = 30 * time.Minute
	}
	switch c.Ledger.Type {
	case "":
		c.Ledger.Type = "json"
	case "json", "sqlite":
	default:
		return fmt.Errorf("unsupported ledger type: %s", c.Ledger.Type)
	}
	if c.Ledger.Path == "" {
		c.Ledger.Path = filepath.Join(c.OtherFilesDir, "file_hashes.json")
	}
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.Type != "sqlite" {
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}
	if c.Database.DSN == "" {
		c.Database.DSN = filepath.Join(c.OtherFilesDir, "archive.db")
	}
	if c.Ledger.Type == "sqlite" && c.SimpleMode {
		return errors.New("LEDGER.type=sqlite requires SIMPLE_MODE=false")
	}
	if c.LogFormat == "" {
		c.LogFormat = "pretty"
	}
	if c.LogLocale == "" {
		c.LogLocale = "zh-CN"
	}
	if c.LogColor == "" {
		c.LogColor = "auto"
	}
	return nil
}

// FetchDetailsEnabled 是否逐帖拉取详情（默认开启）。
func (p Pagination) FetchDetailsEnabled() bool { return boolOr(p.FetchDetails, true) }

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
