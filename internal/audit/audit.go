// Package audit writes a structured JSON log of every processed turn,
// for monitoring and rule-set debugging.
package audit

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

// Entry is one logged turn.
type Entry struct {
	Timestamp     time.Time     `json:"timestamp"`
	TurnID        string        `json:"turn_id"`
	Conversation  string        `json:"conversation,omitempty"`
	UserInput     string        `json:"user_input"`
	BotResponse   string        `json:"bot_response"`
	RailTriggered bool          `json:"rail_triggered"`
	FlowsFired    []string      `json:"flows_fired,omitempty"`
	Decision      string        `json:"decision"`
	Provider      string        `json:"provider,omitempty"`
	Latency       time.Duration `json:"latency_ns"`
}

// Logger handles structured interaction logging
type Logger struct {
	mu       sync.Mutex
	file     *os.File
	encoder  *json.Encoder
	fallback *log.Logger
}

// NewLogger creates a new audit logger.
// If filePath is empty, entries go to stdout.
func NewLogger(filePath string) (*Logger, error) {
	var file *os.File
	var err error

	if filePath != "" {
		file, err = os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
	} else {
		file = os.Stdout
	}

	return &Logger{
		file:     file,
		encoder:  json.NewEncoder(file),
		fallback: log.New(os.Stderr, "[AUDIT] ", log.LstdFlags),
	}, nil
}

// Log writes an audit entry
func (l *Logger) Log(entry Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	if err := l.encoder.Encode(entry); err != nil {
		l.fallback.Printf("Failed to write audit entry: %v, entry: %+v", err, entry)
	}
}

// Close closes the audit log file
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil && l.file != os.Stdout {
		return l.file.Close()
	}
	return nil
}
