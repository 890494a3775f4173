package provision

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Trigger 触发回退的失败类型
type Trigger string

const (
	// TriggerHTTPError 主请求拿到 >=400 的 HTTP 应答
	TriggerHTTPError Trigger = "http_error"
	// TriggerReset 主请求被设备重置连接
	TriggerReset Trigger = "reset"
)

const (
	ctJSON = "application/json"
	ctForm = "application/x-www-form-urlencoded"
	ctText = "text/plain"
)

// Strategy 一条回退请求。Path/Body/Label 中的 {action} 会被替换为实际动作。
type Strategy struct {
	Label       string `yaml:"label"`
	Method      string `yaml:"method"`
	Path        string `yaml:"path"`
	ContentType string `yaml:"content_type"`
	Body        string `yaml:"body"`
}

func (s Strategy) expand(action string) Strategy {
	r := strings.NewReplacer("{action}", action)
	s.Label = r.Replace(s.Label)
	s.Path = r.Replace(s.Path)
	s.Body = r.Replace(s.Body)
	if s.Method == "" {
		s.Method = http.MethodPost
	}
	s.Method = strings.ToUpper(s.Method)
	if s.Label == "" {
		s.Label = s.Method + " " + s.Path
	}
	return s
}

// payload GET 请求不带请求体
func (s Strategy) payload() []byte {
	if s.Method == http.MethodGet {
		return nil
	}
	return []byte(s.Body)
}

// FallbackTable 按触发类型与动作组织的回退级联表，顺序即尝试顺序
type FallbackTable struct {
	HTTPError map[string][]Strategy `yaml:"http_error"`
	Reset     map[string][]Strategy `yaml:"reset"`
	// ResetGeneric 用于 ResetActions 中未单独配置的动作
	ResetGeneric []Strategy `yaml:"reset_generic"`
	ResetActions []string   `yaml:"reset_actions"`
}

// DefaultFallbacks 内置回退表
func DefaultFallbacks() FallbackTable {
	return FallbackTable{
		HTTPError: map[string][]Strategy{
			"reboot": {
				{Label: "POST /reboot (empty JSON)", Method: http.MethodPost, Path: "/reboot", ContentType: ctJSON, Body: "{}"},
				{Label: "POST /control json cmd", Method: http.MethodPost, Path: "/control", ContentType: ctJSON, Body: `{"cmd":"reboot"}`},
				{Label: "POST /control json command", Method: http.MethodPost, Path: "/control", ContentType: ctJSON, Body: `{"command":"reboot"}`},
				{Label: "POST /control json action=restart", Method: http.MethodPost, Path: "/control", ContentType: ctJSON, Body: `{"action":"restart"}`},
				{Label: "POST /control form action=reboot", Method: http.MethodPost, Path: "/control", ContentType: ctForm, Body: "action=reboot"},
				{Label: "POST /control text reboot", Method: http.MethodPost, Path: "/control", ContentType: ctText, Body: "reboot"},
				{Label: "GET /reboot", Method: http.MethodGet, Path: "/reboot"},
			},
		},
		Reset: map[string][]Strategy{
			"startap": {
				{Label: "POST /startap (empty JSON)", Method: http.MethodPost, Path: "/startap", ContentType: ctJSON, Body: "{}"},
				{Label: "GET /startap", Method: http.MethodGet, Path: "/startap"},
				{Label: "POST /control json cmd=startap", Method: http.MethodPost, Path: "/control", ContentType: ctJSON, Body: `{"cmd":"startap"}`},
				{Label: "POST /control json action=startap", Method: http.MethodPost, Path: "/control", ContentType: ctJSON, Body: `{"action":"startap"}`},
				{Label: "POST /control form action=startap", Method: http.MethodPost, Path: "/control", ContentType: ctForm, Body: "action=startap"},
			},
		},
		ResetGeneric: []Strategy{
			{Label: "POST /{action} (empty JSON)", Method: http.MethodPost, Path: "/{action}", ContentType: ctJSON, Body: "{}"},
			{Label: "GET /{action}", Method: http.MethodGet, Path: "/{action}"},
			{Label: "POST /control form action={action}", Method: http.MethodPost, Path: "/control", ContentType: ctForm, Body: "action={action}"},
		},
		ResetActions: []string{"reboot", "startap", "disconnect", "stopap"},
	}
}

// Lookup 返回某动作在某触发类型下的回退序列，nil 表示不回退。
// 查表不区分大小写，{action} 按调用方原样展开。
func (t FallbackTable) Lookup(trigger Trigger, action string) []Strategy {
	key := strings.ToLower(action)
	var seq []Strategy
	switch trigger {
	case TriggerHTTPError:
		seq = t.HTTPError[key]
	case TriggerReset:
		if !t.resetEligible(key) {
			return nil
		}
		if specific, ok := t.Reset[key]; ok {
			seq = specific
		} else {
			seq = t.ResetGeneric
		}
	}
	if len(seq) == 0 {
		return nil
	}
	out := make([]Strategy, len(seq))
	for i, s := range seq {
		out[i] = s.expand(action)
	}
	return out
}

func (t FallbackTable) resetEligible(action string) bool {
	for _, a := range t.ResetActions {
		if strings.EqualFold(a, action) {
			return true
		}
	}
	return false
}

// LoadFallbacks 从 YAML 文件读取回退表并覆盖到内置表上：
// 文件中出现的动作整体替换，未出现的保持默认。
func LoadFallbacks(path string) (FallbackTable, error) {
	table := DefaultFallbacks()
	if path == "" {
		return table, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return table, fmt.Errorf("read fallbacks: %w", err)
	}
	var override FallbackTable
	if err := yaml.Unmarshal(raw, &override); err != nil {
		return table, fmt.Errorf("parse fallbacks %s: %w", path, err)
	}
	if err := override.validate(); err != nil {
		return table, fmt.Errorf("fallbacks %s: %w", path, err)
	}
	for action, seq := range override.HTTPError {
		table.HTTPError[strings.ToLower(action)] = seq
	}
	for action, seq := range override.Reset {
		table.Reset[strings.ToLower(action)] = seq
	}
	if len(override.ResetGeneric) > 0 {
		table.ResetGeneric = override.ResetGeneric
	}
	if len(override.ResetActions) > 0 {
		table.ResetActions = override.ResetActions
	}
	return table, nil
}

func (t FallbackTable) validate() error {
	check := func(where string, seq []Strategy) error {
		for i, s := range seq {
			if s.Path == "" {
				return fmt.Errorf("%s[%d]: path is required", where, i)
			}
			switch strings.ToUpper(s.Method) {
			case "", http.MethodGet, http.MethodPost:
			default:
				return fmt.Errorf("%s[%d]: unsupported method %q", where, i, s.Method)
			}
		}
		return nil
	}
	for action, seq := range t.HTTPError {
		if err := check("http_error."+action, seq); err != nil {
			return err
		}
	}
	for action, seq := range t.Reset {
		if err := check("reset."+action, seq); err != nil {
			return err
		}
	}
	return check("reset_generic", t.ResetGeneric)
}
