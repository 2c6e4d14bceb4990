package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ExamQuestionsKey holds the JSON-encoded canonical question list of an exam.
func (r *CacheKeyStruct) ExamQuestionsKey(examID string) string {
	return fmt.Sprintf("exam:%s:questions", examID)
}

// ExamMonitorChannel returns the Redis PubSub channel carrying attempt
// events for one exam.
func (r *CacheKeyStruct) ExamMonitorChannel(examID string) string {
	return fmt.Sprintf("exam:%s:monitor", examID)
}

// StartLimitKey counts start attempts from one client within a window.
func (r *CacheKeyStruct) StartLimitKey(clientIP string, window int64) string {
	return fmt.Sprintf("ratelimit:start:%s:%d", clientIP, window)
}

var CacheKey = NewCacheKeyStruct()
