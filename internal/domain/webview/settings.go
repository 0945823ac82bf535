package webview

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"

	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/ajax"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/origin"
	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/domain/script"
)

var ErrUnsupportedSettingsFormat = errors.New("unsupported settings file format")

// UserScript is a user script as written in settings files.
type UserScript struct {
	GroupName     string `json:"groupName" yaml:"groupName" toml:"groupName"`
	Source        string `json:"source" yaml:"source" toml:"source"`
	InjectionTime string `json:"injectionTime,omitempty" yaml:"injectionTime,omitempty" toml:"injectionTime,omitempty"`
	// AllowedOriginRules nil runs the script everywhere.
	AllowedOriginRules []string `json:"allowedOriginRules,omitempty" yaml:"allowedOriginRules,omitempty" toml:"allowedOriginRules,omitempty"`
	ForMainFrameOnly   bool     `json:"forMainFrameOnly,omitempty" yaml:"forMainFrameOnly,omitempty" toml:"forMainFrameOnly,omitempty"`
	ContentWorld       string   `json:"contentWorld,omitempty" yaml:"contentWorld,omitempty" toml:"contentWorld,omitempty"`
}

// Script converts the settings entry into a user script.
func (u UserScript) Script() (script.InjectableScript, error) {
	rules, err := origin.ParseAll(u.AllowedOriginRules)
	if err != nil {
		return script.InjectableScript{}, fmt.Errorf("user script %s: %w", u.GroupName, err)
	}
	return script.InjectableScript{
		GroupName:          u.GroupName,
		Source:             u.Source,
		InjectionTime:      script.ParseInjectionTime(u.InjectionTime),
		ForMainFrameOnly:   u.ForMainFrameOnly,
		AllowedOriginRules: rules,
		ContentWorld:       script.World(u.ContentWorld),
	}, nil
}

// Settings are the per-page options that shape the injected scripts.
type Settings struct {
	JavaScriptBridgeEnabled bool `json:"javaScriptBridgeEnabled" yaml:"javaScriptBridgeEnabled" toml:"javaScriptBridgeEnabled"`
	// JavaScriptBridgeOriginAllowList nil installs the bridge on every
	// origin; an empty list installs it nowhere.
	JavaScriptBridgeOriginAllowList  []string `json:"javaScriptBridgeOriginAllowList" yaml:"javaScriptBridgeOriginAllowList" toml:"javaScriptBridgeOriginAllowList"`
	JavaScriptBridgeForMainFrameOnly bool     `json:"javaScriptBridgeForMainFrameOnly" yaml:"javaScriptBridgeForMainFrameOnly" toml:"javaScriptBridgeForMainFrameOnly"`

	// JavaScriptHandlersOriginAllowList gates the host handlers a page may
	// call, with the same nil and empty semantics.
	JavaScriptHandlersOriginAllowList  []string `json:"javaScriptHandlersOriginAllowList" yaml:"javaScriptHandlersOriginAllowList" toml:"javaScriptHandlersOriginAllowList"`
	JavaScriptHandlersForMainFrameOnly bool     `json:"javaScriptHandlersForMainFrameOnly" yaml:"javaScriptHandlersForMainFrameOnly" toml:"javaScriptHandlersForMainFrameOnly"`
	// PluginScriptsOriginAllowList restricts where the built-in scripts
	// other than the bridge itself are injected.
	PluginScriptsOriginAllowList  []string `json:"pluginScriptsOriginAllowList" yaml:"pluginScriptsOriginAllowList" toml:"pluginScriptsOriginAllowList"`
	PluginScriptsForMainFrameOnly bool     `json:"pluginScriptsForMainFrameOnly" yaml:"pluginScriptsForMainFrameOnly" toml:"pluginScriptsForMainFrameOnly"`

	UseShouldInterceptAjaxRequest  bool `json:"useShouldInterceptAjaxRequest" yaml:"useShouldInterceptAjaxRequest" toml:"useShouldInterceptAjaxRequest"`
	UseOnAjaxReadyStateChange      bool `json:"useOnAjaxReadyStateChange" yaml:"useOnAjaxReadyStateChange" toml:"useOnAjaxReadyStateChange"`
	UseOnAjaxProgress              bool `json:"useOnAjaxProgress" yaml:"useOnAjaxProgress" toml:"useOnAjaxProgress"`
	InterceptOnlyAsyncAjaxRequests bool `json:"interceptOnlyAsyncAjaxRequests" yaml:"interceptOnlyAsyncAjaxRequests" toml:"interceptOnlyAsyncAjaxRequests"`

	SupportZoom bool `json:"supportZoom" yaml:"supportZoom" toml:"supportZoom"`

	AjaxRules   []ajax.RuleSpec `json:"ajaxRules,omitempty" yaml:"ajaxRules,omitempty" toml:"ajaxRules,omitempty"`
	UserScripts []UserScript    `json:"userScripts,omitempty" yaml:"userScripts,omitempty" toml:"userScripts,omitempty"`
}

// DefaultSettings returns the settings of a page nothing was configured
// for.
func DefaultSettings() Settings {
	return Settings{
		JavaScriptBridgeEnabled:        true,
		InterceptOnlyAsyncAjaxRequests: true,
		SupportZoom:                    true,
	}
}

// BridgeOriginRules parses the bridge allow list.
func (s Settings) BridgeOriginRules() ([]origin.Rule, error) {
	rules, err := origin.ParseAll(s.JavaScriptBridgeOriginAllowList)
	if err != nil {
		return nil, fmt.Errorf("bridge origin allow list: %w", err)
	}
	return rules, nil
}

// HandlerOriginRules parses the handler allow list.
func (s Settings) HandlerOriginRules() ([]origin.Rule, error) {
	rules, err := origin.ParseAll(s.JavaScriptHandlersOriginAllowList)
	if err != nil {
		return nil, fmt.Errorf("handler origin allow list: %w", err)
	}
	return rules, nil
}

// PluginOriginRules parses the plugin script allow list.
func (s Settings) PluginOriginRules() ([]origin.Rule, error) {
	rules, err := origin.ParseAll(s.PluginScriptsOriginAllowList)
	if err != nil {
		return nil, fmt.Errorf("plugin scripts origin allow list: %w", err)
	}
	return rules, nil
}

// Validate checks every rule and user script of the settings.
func (s Settings) Validate() error {
	if _, err := s.BridgeOriginRules(); err != nil {
		return err
	}
	if _, err := s.HandlerOriginRules(); err != nil {
		return err
	}
	if _, err := s.PluginOriginRules(); err != nil {
		return err
	}
	for _, spec := range s.AjaxRules {
		if _, err := spec.Rule(); err != nil {
			return err
		}
	}
	for _, u := range s.UserScripts {
		if u.GroupName == "" {
			return fmt.Errorf("user script: %w", script.ErrEmptyGroup)
		}
		if _, err := u.Script(); err != nil {
			return err
		}
	}
	return nil
}

// LoadSettings reads settings from a YAML, TOML or JSON file, chosen by
// extension. Keys missing from the file keep their default.
func LoadSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read settings: %w", err)
	}
	return ParseSettings(filepath.Ext(path), data)
}

// ParseSettings decodes settings in the format named by ext.
func ParseSettings(ext string, data []byte) (Settings, error) {
	s := DefaultSettings()
	var err error
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "yaml", "yml":
		err = yaml.Unmarshal(data, &s)
	case "toml":
		err = toml.Unmarshal(data, &s)
	case "json":
		err = sonic.Unmarshal(data, &s)
	default:
		return Settings{}, fmt.Errorf("%w: %q", ErrUnsupportedSettingsFormat, ext)
	}
	if err != nil {
		return Settings{}, fmt.Errorf("failed to parse settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}
