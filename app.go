package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"

	"go-creator-archiver/internal/archive"
	"go-creator-archiver/internal/config"
	"go-creator-archiver/internal/fetch"
	"go-creator-archiver/internal/ledger"
	"go-creator-archiver/internal/logx"
	"go-creator-archiver/internal/retry"
	"go-creator-archiver/internal/rules"
	"go-creator-archiver/internal/store"
)

// app 持有一次命令执行所需的配置与资源。
type app struct {
	configPath string
	rulesPath  string
	envPath    string

	cfg   *config.Config
	rules *rules.Rules

	store   *store.SQLite
	jsonLed *ledger.JSONLedger
}

// load 读取 .env、配置与规则并初始化日志；文件缺失时使用默认值。
func (a *app) load() error {
	if a.envPath != "" {
		if err := godotenv.Load(a.envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load env %s: %w", a.envPath, err)
		}
	}
	cfg, err := config.Load(a.configPath)
	missing := errors.Is(err, fs.ErrNotExist)
	switch {
	case missing:
		cfg = config.Default()
	case err != nil:
		return err
	}
	a.cfg = cfg
	logx.Init(cfg.LogLevel, cfg.LogFormat, cfg.LogLocale, cfg.LogColor)
	if missing {
		logx.Infof("未找到配置文件 %s，使用默认配置", a.configPath)
	}

	a.rules = rules.Builtin()
	if a.rulesPath != "" {
		r, err := rules.Load(a.rulesPath)
		switch {
		case err == nil:
			a.rules = r
		case errors.Is(err, fs.ErrNotExist):
			logx.Debugf("未找到规则文件 %s，使用内置预设", a.rulesPath)
		default:
			return err
		}
	}
	return nil
}

func (a *app) client() (*fetch.Client, error) {
	return fetch.New(fetch.Options{
		ProxyHTTP:     a.cfg.Proxy.HTTP,
		ProxyHTTPS:    a.cfg.Proxy.HTTPS,
		Timeout:       a.cfg.Timeouts.Request.Duration,
		StreamTimeout: a.cfg.Timeouts.Download.Duration,
		Retry:         retry.Policy{Attempts: a.cfg.Retry.Attempts, Delay: a.cfg.Retry.Delay.Duration},
	})
}

// open 打开数据库（非极简模式）与台账；调用方负责 close。
func (a *app) open() (ledger.Ledger, error) {
	if !a.cfg.SimpleMode {
		dir := filepath.Dir(a.cfg.Database.DSN)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
		st, err := store.OpenSQLite(a.cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		a.store = st
	}
	osfs := afero.NewOsFs()
	if a.cfg.Ledger.Type == "sqlite" {
		logx.Infof("台账存储：SQLite（%s）", a.cfg.Database.DSN)
		return ledger.NewBacked(osfs, a.store), nil
	}
	l, err := ledger.OpenJSON(osfs, a.cfg.Ledger.Path)
	if err != nil {
		return nil, err
	}
	if err := l.Lock(); err != nil {
		return nil, err
	}
	a.jsonLed = l
	logx.Infof("台账存储：%s（%d 条）", a.cfg.Ledger.Path, l.Len())
	return l, nil
}

func (a *app) close() {
	if a.jsonLed != nil {
		if err := a.jsonLed.Close(); err != nil {
			logx.Warnf("释放台账锁失败：%v", err)
		}
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}

func (a *app) runner(cl *fetch.Client, led ledger.Ledger, obs archive.Observer) *archive.Runner {
	return archive.New(a.cfg, a.store, cl, a.rules, led, archive.WithObserver(obs))
}
