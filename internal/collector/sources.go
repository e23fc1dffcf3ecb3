package collector

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Source 一个配置的新闻站点
type Source struct {
	Name   string `yaml:"name"`
	URL    string `yaml:"url"`
	Kind   Kind   `yaml:"extractor"`
	Scroll bool   `yaml:"scroll"`
	// Static 为 true 时不启动浏览器，直接抓静态 HTML
	Static bool `yaml:"static"`
}

// Validate 检查地址与抽取器种类
func (s Source) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("source name is required")
	}
	u, err := url.Parse(s.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("source %s: invalid url %q", s.Name, s.URL)
	}
	if _, err := ExtractorFor(s.Kind); err != nil {
		return fmt.Errorf("source %s: %w", s.Name, err)
	}
	return nil
}

// DefaultSources 未提供配置文件时使用的站点列表
func DefaultSources() []Source {
	return []Source{
		{Name: "treknews", URL: "https://treknews.net/category/news/", Kind: KindTrekNews, Scroll: true},
		{Name: "dailystartreknews", URL: "https://www.dailystartreknews.com/", Kind: KindDailyStarTrekNews},
	}
}

type sourcesFile struct {
	Sources []Source `yaml:"sources"`
}

// LoadSources 读取 YAML 站点列表；path 为空或文件不存在时返回默认列表
func LoadSources(path string) ([]Source, error) {
	if path == "" {
		return DefaultSources(), nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultSources(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}

	var f sourcesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse sources file: %w", err)
	}
	if len(f.Sources) == 0 {
		return nil, fmt.Errorf("sources file %s lists no sources", path)
	}

	seen := make(map[string]struct{}, len(f.Sources))
	for _, s := range f.Sources {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[s.Name]; dup {
			return nil, fmt.Errorf("duplicate source name %q", s.Name)
		}
		seen[s.Name] = struct{}{}
	}
	return f.Sources, nil
}
