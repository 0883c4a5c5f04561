package ratelimit

import "fmt"

// Scope key layout: {scope}:{subjectOrGlobal}:{endpoint}. The governor
// appends :{windowIndex} when it touches Redis.

func TierScopeKey(subjectID, endpoint string) string {
	return fmt.Sprintf("tier:%s:%s", subjectID, endpoint)
}

func Global15MinScopeKey(endpoint string) string {
	return fmt.Sprintf("global15m:upstream:%s", endpoint)
}

func GlobalDailyScopeKey(endpoint string) string {
	return fmt.Sprintf("globalday:upstream:%s", endpoint)
}
