package model

import "time"

// Now はミリ秒精度に丸めたUTCの現在時刻を返す。
// MongoDBの日時型がミリ秒精度のため、全ストアでこの精度に揃える。
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
