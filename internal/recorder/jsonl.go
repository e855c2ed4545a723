package recorder

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"leggedarb/internal/models"
)

// JSONL appends newline-delimited JSON to one file per session. The file is
// the ground truth for offline replay.
type JSONL struct {
	mu   sync.Mutex
	file *os.File
	w    *bufio.Writer
}

func NewJSONL(dir, sessionID string) (*JSONL, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	name := fmt.Sprintf("session_%s_%s.jsonl", time.Now().UTC().Format("20060102T150405Z"), sessionID)
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open session file: %w", err)
	}
	return &JSONL{file: f, w: bufio.NewWriter(f)}, nil
}

func (j *JSONL) Record(ev models.RecorderEvent) error {
	return j.writeLine(ev)
}

type cycleLine struct {
	Type  string              `json:"type"`
	Cycle *models.CycleRecord `json:"cycle"`
}

func (j *JSONL) RecordCycle(rec *models.CycleRecord) error {
	return j.writeLine(cycleLine{Type: "cycle_summary", Cycle: rec})
}

func (j *JSONL) writeLine(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal recorder line: %w", err)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.w.Write(raw); err != nil {
		return err
	}
	if err := j.w.WriteByte('\n'); err != nil {
		return err
	}
	// Flush per line so a crash keeps the tail of the run.
	return j.w.Flush()
}

func (j *JSONL) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.w.Flush(); err != nil {
		j.file.Close()
		return err
	}
	return j.file.Close()
}
