// Package moviemate holds the application-wide defaults shared by the config,
// channel and conversation packages.
package moviemate

import (
	"os"
	"path/filepath"
	"time"
)

const (
	DefaultAppName   = "moviemate"
	DefaultEnvPrefix = "MOVIEMATE"

	// Channel slot layout, relative to the working directory.
	DefaultConnectionDir = "connection"
	DefaultRequestSlot   = "request.txt"
	DefaultResponseSlot  = "response.txt"

	DefaultMaxAttempts = 3
	DefaultInterval    = 2 * time.Second
	DefaultLockTimeout = 30 * time.Second

	// Conversation store layout.
	DefaultConversationsDir = "conversations"
	DefaultPointerFile      = "currentchat.txt"
	DefaultConversationName = "chathistory_0.txt"
	DefaultDatabaseDSN      = "file:conversations/moviemate.db"

	// FallbackMessage is returned to the user whenever no real answer arrives.
	FallbackMessage = "I'm having trouble processing that. Could you try again?"
)

// DefaultConfigPath is the per-user configuration directory.
var DefaultConfigPath = defaultConfigPath()

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".config", DefaultAppName)
	}
	return filepath.Join(dir, DefaultAppName)
}
