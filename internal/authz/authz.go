// Package authz 设备归属与操作授权规则。
// 规则均为纯函数，输入为操作者与设备记录，不做任何 I/O。
package authz

import (
	"crypto/subtle"
	"errors"

	"github.com/taoyao-code/esp-provision/internal/storage/models"
)

var (
	// ErrUnauthenticated 需要登录的操作缺少操作者身份
	ErrUnauthenticated = errors.New("authentication required")
	// ErrForbidden 操作者无权执行该操作
	ErrForbidden = errors.New("permission denied")
	// ErrPairingMismatch 配对码不匹配或设备未上报配对码
	ErrPairingMismatch = errors.New("pairing code mismatch")
)

// Actor 发起请求的操作者。零值表示匿名。
type Actor struct {
	UserID string
	Staff  bool
}

// Authenticated 是否为已登录用户
func (a Actor) Authenticated() bool { return a.UserID != "" }

// Owns 操作者是否为设备当前归属者
func (a Actor) Owns(d *models.DeviceInstance) bool {
	return a.Authenticated() && d != nil && d.ClaimedBy != nil && *d.ClaimedBy == a.UserID
}

// CanClaim 认领：需登录、配对码非空且完全一致；持有配对码即可接管他人已认领的设备
func CanClaim(a Actor, d *models.DeviceInstance, pairingCode string) error {
	if !a.Authenticated() {
		return ErrUnauthenticated
	}
	if d.PairingCode == "" || subtle.ConstantTimeCompare([]byte(pairingCode), []byte(d.PairingCode)) != 1 {
		return ErrPairingMismatch
	}
	return nil
}

// CanRelease 释放归属：管理员或当前归属者
func CanRelease(a Actor, d *models.DeviceInstance) error {
	return staffOrOwner(a, d)
}

// CanOperate 按设备 id 下发配置或控制：管理员或当前归属者
func CanOperate(a Actor, d *models.DeviceInstance) error {
	return staffOrOwner(a, d)
}

// CanOperateRawIP 按裸 IP 操作无法确认归属，仅限管理员
func CanOperateRawIP(a Actor) error {
	return staffOnly(a)
}

// CanManageToken 查看或重置设备令牌：管理员或当前归属者
func CanManageToken(a Actor, d *models.DeviceInstance) error {
	return staffOrOwner(a, d)
}

// CanPushAll 批量下发：仅限管理员
func CanPushAll(a Actor) error {
	return staffOnly(a)
}

// CanUpdateConfig 修改全局设备配置：仅限管理员
func CanUpdateConfig(a Actor) error {
	return staffOnly(a)
}

// TokenVisible 序列化设备记录时是否包含 api_token：
// 管理员、归属者或以该设备令牌认证的设备本身。
func TokenVisible(a Actor, d *models.DeviceInstance, device *models.DeviceInstance) bool {
	if a.Staff || a.Owns(d) {
		return true
	}
	return device != nil && d != nil && device.ID == d.ID
}

func staffOrOwner(a Actor, d *models.DeviceInstance) error {
	if !a.Authenticated() {
		return ErrUnauthenticated
	}
	if a.Staff || a.Owns(d) {
		return nil
	}
	return ErrForbidden
}

func staffOnly(a Actor) error {
	if !a.Authenticated() {
		return ErrUnauthenticated
	}
	if !a.Staff {
		return ErrForbidden
	}
	return nil
}
