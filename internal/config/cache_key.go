package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// StudentSessionKey returns the cache key for a student's login session (JTI).
func (r *CacheKeyStruct) StudentSessionKey(studentID int) string {
	return fmt.Sprintf("login:%d", studentID)
}

// ModuleStartKey returns the cache key holding the authoritative started_at
// Unix timestamp for one module of one attempt. Advisory mirror only — the
// module_records row is the source of truth.
func (r *CacheKeyStruct) ModuleStartKey(attemptID string, moduleType string) string {
	return fmt.Sprintf("attempt:%s:module:%s:started_at", attemptID, moduleType)
}

var CacheKey = NewCacheKeyStruct()
