package service

import (
	"errors"
)

// 账本错误类型
//
// InsufficientFunds / 上限类错误会展示给最终用户；UnknownConfigKey 只面向运维，必须直接暴露，
// 不能用 0 兜底；ExpirationRace 在内部透明重试，重试耗尽才返回给调用方
var (
	ErrInsufficientFunds      = errors.New("LadoCoin 余额不足")
	ErrInvalidAmount          = errors.New("金额不合法")
	ErrInvalidUser            = errors.New("用户ID不合法")
	ErrUnknownConfigKey       = errors.New("配置项不存在")
	ErrDailyCapExceeded       = errors.New("已达到每日奖励上限")
	ErrMonthlyCapExceeded     = errors.New("已达到每月奖励上限")
	ErrDuplicateAward         = errors.New("奖励已发放，不能重复领取")
	ErrConcurrentModification = errors.New("账户正在被其他操作修改，请重试")
	ErrExpirationRace         = errors.New("入账条目在提交前已过期")
	ErrReferralExists         = errors.New("该用户已有推荐人")
	ErrReferralNotFound       = errors.New("推荐关系不存在")
	ErrSelfReferral           = errors.New("不能推荐自己")
	ErrInvalidEvent           = errors.New("不支持的行为事件")
	ErrSystemKind             = errors.New("该入账类型只能由系统发放")
)

func isRetryable(err error) bool {
	return errors.Is(err, ErrExpirationRace) || errors.Is(err, ErrConcurrentModification)
}

func isCapError(err error) bool {
	return errors.Is(err, ErrDailyCapExceeded) || errors.Is(err, ErrMonthlyCapExceeded)
}

// errorReason 指标标签
func errorReason(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrUnknownConfigKey):
		return "unknown_config_key"
	case errors.Is(err, ErrDailyCapExceeded):
		return "daily_cap"
	case errors.Is(err, ErrMonthlyCapExceeded):
		return "monthly_cap"
	case errors.Is(err, ErrDuplicateAward):
		return "duplicate_award"
	case errors.Is(err, ErrConcurrentModification):
		return "concurrent_modification"
	case errors.Is(err, ErrExpirationRace):
		return "expiration_race"
	case errors.Is(err, ErrSystemKind):
		return "system_kind"
	default:
		return "internal"
	}
}
