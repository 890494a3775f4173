package service

import (
	"time"

	"github.com/taoyao-code/esp-provision/internal/authz"
	"github.com/taoyao-code/esp-provision/internal/storage/models"
)

// DeviceView 设备记录的对外表示。
// api_token 与 pairing_code 仅对管理员、归属者或设备本身可见，其余情况为 null。
type DeviceView struct {
	ID               uint       `json:"id"`
	IP               string     `json:"ip"`
	APIHost          string     `json:"api_host"`
	SSID             string     `json:"ssid"`
	Firmware         string     `json:"firmware"`
	WifiEvent        string     `json:"wifi_event"`
	DisconnectReason string     `json:"disconnect_reason"`
	RSSI             *int       `json:"rssi"`
	ServerReachable  bool       `json:"server_reachable"`
	Claimed          bool       `json:"claimed"`
	ClaimedBy        *string    `json:"claimed_by"`
	ClaimedAt        *time.Time `json:"claimed_at"`
	LastSeen         time.Time  `json:"last_seen"`
	CreatedAt        time.Time  `json:"created_at"`
	PairingCode      *string    `json:"pairing_code"`
	APIToken         *string    `json:"api_token"`
}

// NewDeviceView authDevice 为以设备令牌认证的设备，可为 nil
func NewDeviceView(actor authz.Actor, d *models.DeviceInstance, authDevice *models.DeviceInstance) DeviceView {
	v := DeviceView{
		ID:               d.ID,
		IP:               d.IP,
		APIHost:          d.APIHost,
		SSID:             d.SSID,
		Firmware:         d.Firmware,
		WifiEvent:        d.WifiEvent,
		DisconnectReason: d.DisconnectReason,
		RSSI:             d.RSSI,
		ServerReachable:  d.ServerReachable,
		Claimed:          d.Claimed(),
		ClaimedBy:        d.ClaimedBy,
		ClaimedAt:        d.ClaimedAt,
		LastSeen:         d.LastSeen,
		CreatedAt:        d.CreatedAt,
	}
	if authz.TokenVisible(actor, d, authDevice) {
		token, code := d.APIToken, d.PairingCode
		v.APIToken = &token
		v.PairingCode = &code
	}
	return v
}

// NewDeviceViews 批量转换
func NewDeviceViews(actor authz.Actor, ds []models.DeviceInstance, authDevice *models.DeviceInstance) []DeviceView {
	out := make([]DeviceView, 0, len(ds))
	for i := range ds {
		out = append(out, NewDeviceView(actor, &ds[i], authDevice))
	}
	return out
}
