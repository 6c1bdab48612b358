package config

import (
	"fmt"

	"github.com/google/uuid"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// StudentStartLockKey returns the lock key held while a student's exam is being created.
func (r *CacheKeyStruct) StudentStartLockKey(studentID uuid.UUID) string {
	return fmt.Sprintf("student:%s:start_lock", studentID)
}

// SessionChannel returns the Redis PubSub channel carrying one session's events.
func (r *CacheKeyStruct) SessionChannel(sessionID uuid.UUID) string {
	return fmt.Sprintf("session:%s:events", sessionID)
}

// ClassMonitorChannel returns the Redis PubSub channel for a class-wide proctoring feed.
func (r *CacheKeyStruct) ClassMonitorChannel(class string) string {
	return fmt.Sprintf("class:%s:monitor", class)
}

var CacheKey = NewCacheKeyStruct()
