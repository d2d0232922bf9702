package models

// ModelUsage は モデルごとの日次利用カウンタ
type ModelUsage struct {
	Key         string `json:"key"`
	DisplayName string `json:"name"`
	Count       int    `json:"count"`
	DailyLimit  int    `json:"limit"`
}

// LimitReached reports whether the counter has hit the daily limit.
// A zero limit means unlimited.
func (u ModelUsage) LimitReached() bool {
	return u.DailyLimit > 0 && u.Count >= u.DailyLimit
}
