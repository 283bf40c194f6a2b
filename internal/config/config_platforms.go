package config

// PlatformsConfig enumerates the per-platform plugin settings, one sub-struct
// per supported platform, following the same enabled/credentials-by-reference
// shape the teacher used for its per-integration channel configs.
type PlatformsConfig struct {
	WeChat      PlatformConfig `json:"wechat,omitempty"`
	Douyin      PlatformConfig `json:"douyin,omitempty"`
	Xiaohongshu PlatformConfig `json:"xiaohongshu,omitempty"`
	Kuaishou    PlatformConfig `json:"kuaishou,omitempty"`
	Weibo       PlatformConfig `json:"weibo,omitempty"`
	Bilibili    PlatformConfig `json:"bilibili,omitempty"`
}

// PlatformConfig is the per-platform block: whether the plugin is loaded,
// where its cookie files live, and any platform-specific overrides that
// don't warrant their own top-level section.
type PlatformConfig struct {
	Enabled        bool                `json:"enabled"`
	CookieDir      string              `json:"cookie_dir,omitempty"`
	Headless       *bool               `json:"headless,omitempty"` // nil = inherit BrokerConfig.Headless
	AllowedAccount FlexibleStringSlice `json:"allowed_accounts,omitempty"`
	BridgeURL      string              `json:"bridge_url,omitempty"` // companion script host, bridge-backed MESSAGE plugins only
}

// Enabled lists the platform names currently turned on, in a stable order.
func (p PlatformsConfig) Enabled() []string {
	names := []string{}
	pairs := []struct {
		name string
		cfg  PlatformConfig
	}{
		{"wechat", p.WeChat},
		{"douyin", p.Douyin},
		{"xiaohongshu", p.Xiaohongshu},
		{"kuaishou", p.Kuaishou},
		{"weibo", p.Weibo},
		{"bilibili", p.Bilibili},
	}
	for _, pair := range pairs {
		if pair.cfg.Enabled {
			names = append(names, pair.name)
		}
	}
	return names
}
