package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ternarybob/indago/internal/models"
)

// stageLog is the per-stage log file referenced by the lease record. It gives
// operators a plain-text trail for one (session, stage) run that survives the
// process, next to the structured application log.
type stageLog struct {
	path string
	file *os.File
}

func openStageLog(dir, sessionID string, stage models.Stage) (*stageLog, error) {
	if dir == "" {
		return &stageLog{}, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create stage log directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.log", sessionID, stage))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open stage log: %w", err)
	}
	return &stageLog{path: path, file: file}, nil
}

func (l *stageLog) Printf(format string, args ...any) {
	if l.file == nil {
		return
	}
	fmt.Fprintf(l.file, "%s %s\n", time.Now().UTC().Format(time.RFC3339), fmt.Sprintf(format, args...))
}

func (l *stageLog) Path() string {
	return l.path
}

func (l *stageLog) Close() {
	if l.file != nil {
		l.file.Close()
	}
}
