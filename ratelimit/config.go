package ratelimit

import "time"

// Action names with built-in limits.
const (
	ActionLogin         = "login"
	ActionSignup        = "signup"
	ActionPasswordReset = "password_reset"
	ActionPayment       = "payment"
	ActionUpload        = "upload"
	ActionVerification  = "verification"
	ActionAPI           = "api"
)

// DefaultAction is used for any action without its own Config.
const DefaultAction = ActionAPI

// Config is the budget for one action: at most MaxAttempts within Window,
// after which the caller is blocked for BlockDuration.
type Config struct {
	Window        time.Duration
	MaxAttempts   int
	BlockDuration time.Duration
}

// DefaultConfigs returns the built-in per-action limits.
func DefaultConfigs() map[string]Config {
	return map[string]Config{
		ActionLogin:         {Window: 15 * time.Minute, MaxAttempts: 5, BlockDuration: 30 * time.Minute},
		ActionSignup:        {Window: time.Hour, MaxAttempts: 3, BlockDuration: time.Hour},
		ActionPasswordReset: {Window: time.Hour, MaxAttempts: 3, BlockDuration: time.Hour},
		ActionPayment:       {Window: 10 * time.Minute, MaxAttempts: 5, BlockDuration: 30 * time.Minute},
		ActionUpload:        {Window: time.Hour, MaxAttempts: 20, BlockDuration: time.Hour},
		ActionVerification:  {Window: 5 * time.Minute, MaxAttempts: 20, BlockDuration: 15 * time.Minute},
		ActionAPI:           {Window: time.Minute, MaxAttempts: 100, BlockDuration: 5 * time.Minute},
	}
}
