package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/circuscoach/backend/core"
	"github.com/circuscoach/backend/core/entitlement"
	"github.com/circuscoach/backend/core/user"
)

func CreateUser(t *testing.T, repo user.Repository, name, email string, isAdmin bool, createdAt ...time.Time) user.User {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	role := user.RoleUser
	if isAdmin {
		role = user.RoleAdmin
	}
	usr, err := repo.CreateUser(context.Background(), user.User{
		ID:        uuid.NewString(),
		Name:      name,
		Email:     email,
		Role:      role,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	})
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

// UpdateRecord loads the user's entitlement record, applies fn and saves it.
func UpdateRecord(t *testing.T, repo entitlement.Repository, userID string, fn func(rec *entitlement.Record)) entitlement.Record {
	ctx := context.Background()
	rec, err := repo.GetRecord(ctx, userID)
	if err != nil {
		t.Fatalf("UpdateRecord() failed: %v", err)
	}
	fn(&rec)
	rec, err = repo.SaveRecord(ctx, rec)
	if err != nil {
		t.Fatalf("UpdateRecord() failed: %v", err)
	}
	return rec
}

func Date(year int, month time.Month, day, hour, min int) time.Time {
	return time.Date(year, month, day, hour, min, 0, 0, time.UTC)
}

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Set(now time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Logger records log lines instead of printing them.
type Logger struct {
	mu    sync.Mutex
	Lines []string
}

var _ core.Logger = (*Logger)(nil)

func NewLogger() *Logger {
	return &Logger{}
}

func (l *Logger) log(level, msg string) {
	l.mu.Lock()
	l.Lines = append(l.Lines, level+": "+msg)
	l.mu.Unlock()
}

// Contains reports whether a line with the level holds substr.
func (l *Logger) Contains(level, substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.Lines {
		if strings.HasPrefix(line, level+": ") && strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

func (l *Logger) Debug(msg string, _ ...interface{}) { l.log("DEBUG", msg) }
func (l *Logger) Info(msg string, _ ...interface{})  { l.log("INFO", msg) }
func (l *Logger) Warn(msg string, _ ...interface{})  { l.log("WARN", msg) }
func (l *Logger) Error(msg string, _ ...interface{}) { l.log("ERROR", msg) }
func (l *Logger) Fatal(msg string, _ ...interface{}) { panic(fmt.Sprintf("FATAL: %s", msg)) }
