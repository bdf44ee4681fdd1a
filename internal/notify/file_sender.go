package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"greendrake/tutormatch/internal/models"
)

const notificationLogFile = "notifications.log"

// FileSender appends each notification as a JSON line to a log file.
type FileSender struct {
	mu       sync.Mutex
	filePath string
}

// NewFileSender ensures dir exists and logs into dir/notifications.log.
func NewFileSender(dir string) (*FileSender, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("notification log directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create notification log directory '%s': %w", dir, err)
	}
	return &FileSender{filePath: filepath.Join(dir, notificationLogFile)}, nil
}

// Path is the file notifications are written to.
func (s *FileSender) Path() string {
	return s.filePath
}

func (s *FileSender) Send(ctx context.Context, n models.Notification) error {
	line, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open notification log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(line); err != nil {
		return fmt.Errorf("failed to write notification to log file: %w", err)
	}
	return nil
}
