package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// TestPaperKey returns the cache key for a test's question paper
func (r *CacheKeyStruct) TestPaperKey(testID string) string {
	return fmt.Sprintf("test:%s:paper", testID)
}

// TestAnswerKey returns the cache key for a test's answer key
func (r *CacheKeyStruct) TestAnswerKey(testID string) string {
	return fmt.Sprintf("test:%s:key", testID)
}

// LearnerActiveSessionKey returns the single-tab lock key for a learner taking a test
func (r *CacheKeyStruct) LearnerActiveSessionKey(testID string, learnerID int) string {
	return fmt.Sprintf("learner:%d:test:%s:active_session", learnerID, testID)
}

// SubmittedSessionKey marks a session id as already handed to the grading queue
func (r *CacheKeyStruct) SubmittedSessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s:submitted", sessionID)
}

// TestMonitorChannel returns the Redis PubSub channel name for a test monitor
func (r *CacheKeyStruct) TestMonitorChannel(testID string) string {
	return fmt.Sprintf("test:%s:monitor", testID)
}

var CacheKey = NewCacheKeyStruct()
