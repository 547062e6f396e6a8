package installstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var Directories = []string{"cache", "database", "downloads", "user_data", "logs"}

const configFile = "config.json"

type Options struct {
	// Root 安装根目录，为空时使用 ~/OurLibrary
	Root       string
	AppVersion string
	Log        func(string)
	Now        func() time.Time
}

// Store 独占管理安装目录与配置文件。同一根目录只应有一个 Store
type Store struct {
	root       string
	appVersion string
	log        func(string)
	now        func() time.Time

	mu     sync.Mutex
	config *Config
}

type Layout struct {
	Root   string
	Config Config
}

func DefaultRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, DefaultAppName), nil
}

func New(opts Options) (*Store, error) {
	root := opts.Root
	if root == "" {
		var err error
		if root, err = DefaultRoot(); err != nil {
			return nil, err
		}
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	s := &Store{root: abs, appVersion: opts.AppVersion, log: opts.Log, now: opts.Now}
	if s.log == nil {
		s.log = func(string) {}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.appVersion == "" {
		s.appVersion = "1.0.0"
	}
	return s, nil
}

func (s *Store) Root() string {
	return s.root
}

func (s *Store) ConfigPath() string {
	return filepath.Join(s.root, "user_data", configFile)
}

// PrepareLayout 创建目录结构并加载或初始化配置，可重复调用。
// 只有在补充了缺省字段时才会写回配置文件
func (s *Store) PrepareLayout() (*Layout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.root); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(s.root, 0o755); err != nil {
			return nil, err
		}
		s.log(fmt.Sprintf("Created app directory: %s", s.root))
	}
	for _, dir := range Directories {
		full := filepath.Join(s.root, dir)
		if _, err := os.Stat(full); err == nil {
			continue
		}
		if err := os.MkdirAll(full, 0o755); err != nil {
			return nil, err
		}
		s.log(fmt.Sprintf("Created directory: %s", dir))
	}

	cfg, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	return &Layout{Root: s.root, Config: cfg.clone()}, nil
}

func (s *Store) loadLocked() (*Config, error) {
	path := s.ConfigPath()
	var cfg Config
	var present map[string]json.RawMessage
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &present); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrConfigCorrupt, path, err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrConfigCorrupt, path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		present = map[string]json.RawMessage{}
	default:
		return nil, err
	}

	if s.applyDefaults(&cfg, present) {
		if err := s.writeLocked(&cfg); err != nil {
			return nil, err
		}
		if len(data) == 0 {
			s.log(fmt.Sprintf("Created initial config: %s", path))
		} else {
			s.log(fmt.Sprintf("Updated config with default values: %s", path))
		}
	}
	s.config = &cfg
	return &cfg, nil
}

func missing(present map[string]json.RawMessage, key string) bool {
	v, ok := present[key]
	return !ok || string(v) == "null"
}

func (s *Store) applyDefaults(cfg *Config, present map[string]json.RawMessage) bool {
	updated := false
	setString := func(key string, field *string, value string) {
		if missing(present, key) {
			*field = value
			updated = true
		}
	}
	setString("app_name", &cfg.AppName, DefaultAppName)
	setString("version", &cfg.Version, s.appVersion)
	setString("database_path", &cfg.DatabasePath, DefaultDatabasePath)
	setString("cache_dir", &cfg.CacheDir, DefaultCacheDir)
	setString("downloads_dir", &cfg.DownloadsDir, DefaultDownloadsDir)
	setString("app_directory", &cfg.AppDirectory, s.root)
	if missing(present, "installation_complete") {
		cfg.InstallationComplete = false
		updated = true
	}
	if cfg.InstallationDate == "" {
		cfg.InstallationDate = s.now().UTC().Format(time.RFC3339)
		updated = true
	}
	if cfg.UserPreferences == nil {
		cfg.UserPreferences = defaultPreferences()
		updated = true
	}
	return updated
}

// writeLocked 先写临时文件再重命名，整份覆盖
func (s *Store) writeLocked(cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	path := s.ConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

func (s *Store) ensureLoadedLocked() (*Config, error) {
	if s.config != nil {
		return s.config, nil
	}
	return s.loadLocked()
}

// Config 返回当前配置的副本
func (s *Store) Config() (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, err := s.ensureLoadedLocked()
	if err != nil {
		return Config{}, err
	}
	return cfg.clone(), nil
}

// Reload 丢弃内存中的配置，重新从磁盘读取
func (s *Store) Reload() (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = nil
	cfg, err := s.loadLocked()
	if err != nil {
		return Config{}, err
	}
	return cfg.clone(), nil
}

// UpdateConfig 读-改-写整份配置，fn 返回错误时不写入
func (s *Store) UpdateConfig(fn func(*Config) error) (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, err := s.ensureLoadedLocked()
	if err != nil {
		return Config{}, err
	}
	next := cfg.clone()
	if err := fn(&next); err != nil {
		return Config{}, err
	}
	if err := s.writeLocked(&next); err != nil {
		return Config{}, err
	}
	s.config = &next
	return next.clone(), nil
}

func (s *Store) SetDistributionToken(token string) error {
	_, err := s.UpdateConfig(func(c *Config) error {
		c.DistributionToken = strings.TrimSpace(token)
		return nil
	})
	if err == nil {
		s.log("Distribution token saved")
	}
	return err
}

// ResolvePath 绝对路径原样返回，相对路径去掉 ./ 前缀后拼接到根目录
func (s *Store) ResolvePath(rel string) string {
	if rel == "" {
		return s.root
	}
	if filepath.IsAbs(rel) {
		return rel
	}
	rel = strings.TrimPrefix(rel, "./")
	rel = strings.TrimPrefix(rel, "/")
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

func (s *Store) DatabasePath() (string, error) {
	cfg, err := s.Config()
	if err != nil {
		return "", err
	}
	return s.ResolvePath(cfg.DatabasePath), nil
}

func (s *Store) DownloadsDir() (string, error) {
	cfg, err := s.Config()
	if err != nil {
		return "", err
	}
	return s.ResolvePath(cfg.DownloadsDir), nil
}

func (s *Store) CacheDir() (string, error) {
	cfg, err := s.Config()
	if err != nil {
		return "", err
	}
	return s.ResolvePath(cfg.CacheDir), nil
}
