package provision

// Result 设备调用结果。
// OK 表示拿到了设备的最终 HTTP 应答（Code 为设备状态码，可能是非 2xx）；
// !OK 时 Code 为应返回给调用方的状态码（502/504 或设备的错误码），Detail 为诊断信息。
type Result struct {
	OK              bool   `json:"ok"`
	Code            int    `json:"code"`
	Body            string `json:"body,omitempty"`
	Detail          string `json:"detail,omitempty"`
	Fallback        string `json:"fallback,omitempty"`
	RebootAttempted bool   `json:"reboot_attempted,omitempty"`
	Attempts        int    `json:"attempts,omitempty"`
}

// Accepted 设备应答为 2xx
func (r Result) Accepted() bool {
	return r.OK && r.Code >= 200 && r.Code < 300
}

// ProbeResult 单个地址的探测结果
type ProbeResult struct {
	IP   string  `json:"ip"`
	OK   bool    `json:"ok"`
	Code *int    `json:"code"`
	Body *string `json:"body"`
}
