// 包 rules 负责加载并提供站点预设（rules.yaml），
// 以预设名（如 kemono/coomer）组织站点源、接口前缀与正文图片选择器。
package rules

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rules 表示全部规则集合：键为预设名，值为具体规则。
type Rules struct {
	Presets map[string]Preset `yaml:",inline"`
}

// Preset 为单个站点的规则：
// - origin：文件相对路径拼接的基准源，如 https://kemono.su
// - api_base：发现接口前缀，如 https://kemono.su/api/v1
// - content_images：正文图片表达式，支持 "选择器@属性" 与 "||" 回退
// - fallback_marker：回退探测时判定页面属于该站点的关键字
type Preset struct {
	Origin         string `yaml:"origin"`
	APIBase        string `yaml:"api_base"`
	ContentImages  string `yaml:"content_images"`
	FallbackMarker string `yaml:"fallback_marker"`
}

// Builtin 返回内置预设（未提供 rules.yaml 时使用）。
func Builtin() *Rules {
	return &Rules{Presets: map[string]Preset{
		"kemono": {
			Origin:         "https://kemono.su",
			APIBase:        "https://kemono.su/api/v1",
			ContentImages:  "img@src",
			FallbackMarker: "kemono",
		},
		"coomer": {
			Origin:         "https://coomer.su",
			APIBase:        "https://coomer.su/api/v1",
			ContentImages:  "img@src",
			FallbackMarker: "coomer",
		},
	}}
}

func Load(path string) (*Rules, error) {
	// 从文件加载 YAML 到 Rules.Presets，并补齐缺省字段
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rules %s: %w", path, err)
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	var r Rules
	if err := yaml.Unmarshal(b, &r.Presets); err != nil {
		return nil, fmt.Errorf("unmarshal rules %s: %w", path, err)
	}
	for name, p := range r.Presets {
		np, err := p.normalize()
		if err != nil {
			return nil, fmt.Errorf("preset %s: %w", name, err)
		}
		r.Presets[name] = np
	}
	return &r, nil
}

// normalize 校验 origin，并推导 api_base/content_images/fallback_marker 的默认值。
func (p Preset) normalize() (Preset, error) {
	p.Origin = strings.TrimRight(strings.TrimSpace(p.Origin), "/")
	u, err := url.Parse(p.Origin)
	if err != nil || u.Host == "" {
		return p, fmt.Errorf("invalid origin %q", p.Origin)
	}
	if p.APIBase == "" {
		p.APIBase = p.Origin + "/api/v1"
	}
	p.APIBase = strings.TrimRight(p.APIBase, "/")
	if p.ContentImages == "" {
		p.ContentImages = "img@src"
	}
	if p.FallbackMarker == "" {
		p.FallbackMarker = strings.SplitN(u.Hostname(), ".", 2)[0]
	}
	return p, nil
}

// Host 返回 origin 的主机名（含端口）。
func (p Preset) Host() string {
	u, err := url.Parse(p.Origin)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

// GetPreset 按名称获取预设（不区分大小写）。
func (r *Rules) GetPreset(name string) (Preset, bool) {
	if r == nil || len(r.Presets) == 0 {
		return Preset{}, false
	}
	if p, ok := r.Presets[name]; ok {
		return p, true
	}
	// 不区分大小写匹配
	lower := strings.ToLower(name)
	for k, v := range r.Presets {
		if strings.ToLower(k) == lower {
			return v, true
		}
	}
	return Preset{}, false
}

// ForURL 按 URL 主机匹配预设；子域名（如 www.）同样命中。
func (r *Rules) ForURL(raw string) (Preset, bool) {
	if r == nil {
		return Preset{}, false
	}
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return Preset{}, false
	}
	host := strings.ToLower(u.Host)
	for _, p := range r.Presets {
		ph := p.Host()
		if ph == "" {
			continue
		}
		if host == ph || strings.HasSuffix(host, "."+ph) {
			return p, true
		}
	}
	return Preset{}, false
}
