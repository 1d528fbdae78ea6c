package scan

import "time"

const (
	// initialReadRetryDelay は読み取り失敗後の初回待機時間。
	initialReadRetryDelay = 200 * time.Millisecond
	// maxReadRetryDelay は読み取り失敗後の最大待機時間。
	maxReadRetryDelay = 2 * time.Second
)

// readRetryDelay は連続失敗回数に基づいて次の読み取りまでの待機時間を計算する。
// 初回200ミリ秒、2倍ずつ増加、最大2秒。
func readRetryDelay(consecutiveFailures int) time.Duration {
	delay := initialReadRetryDelay
	for i := 1; i < consecutiveFailures; i++ {
		delay *= 2
		if delay > maxReadRetryDelay {
			return maxReadRetryDelay
		}
	}
	return delay
}
