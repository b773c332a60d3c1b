package services

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/portside-dev/portside/internal/logger"
	"github.com/portside-dev/portside/internal/models"
	"github.com/portside-dev/portside/internal/recovery"
)

// subscriberBuffer bounds how far a slow subscriber can lag. On overflow
// the oldest buffered event is dropped; live tailing beats completeness.
const subscriberBuffer = 64

// MonitorService tails a coding assistant's session-log directory and fans
// parsed events out to subscribers. The directory layout is one
// subdirectory per project, each holding append-only *.jsonl session files.
//
// The watch loop is the only goroutine touching file offsets; subscriber
// bookkeeping has its own lock so Subscribe and Unsubscribe never wait on
// file IO.
type MonitorService struct {
	dir     string
	log     zerolog.Logger
	watcher *fsnotify.Watcher

	// offsets is owned by the watch loop (and the pre-loop initial scan).
	offsets map[string]int64

	subMu       sync.RWMutex
	subscribers map[string]chan models.AssistantEvent

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewMonitorService creates a monitor over dir. Nothing is watched until
// Start.
func NewMonitorService(dir string) *MonitorService {
	return &MonitorService{
		dir:         dir,
		log:         logger.WithComponent("monitor"),
		offsets:     make(map[string]int64),
		subscribers: make(map[string]chan models.AssistantEvent),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start begins watching. Existing log content is skipped: subscribers get
// events appended after this point, never history. A missing directory is
// not an error; it is watched into existence by its parent being created
// later, so we just log and idle.
func (s *MonitorService) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create log watcher: %w", err)
	}
	s.watcher = watcher

	if err := watcher.Add(s.dir); err != nil {
		s.log.Warn().Str("dir", s.dir).Err(err).Msg("⚠️ assistant log directory not watchable, monitor idle")
	} else {
		s.primeExisting()
	}

	recovery.SafeGo("monitor-watch", s.watchLoop)
	s.log.Info().Str("dir", s.dir).Msg("👀 assistant log monitor started")
	return nil
}

// primeExisting registers project subdirectories and records current file
// sizes so only future appends are reported.
func (s *MonitorService) primeExisting() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		path := filepath.Join(s.dir, entry.Name())
		if entry.IsDir() {
			if err := s.watcher.Add(path); err != nil {
				s.log.Debug().Str("dir", path).Err(err).Msg("failed to watch project dir")
				continue
			}
			s.primeDir(path)
		} else if isSessionLog(path) {
			s.primeFile(path)
		}
	}
}

func (s *MonitorService) primeDir(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() && isSessionLog(entry.Name()) {
			s.primeFile(filepath.Join(dir, entry.Name()))
		}
	}
}

func (s *MonitorService) primeFile(path string) {
	if info, err := os.Stat(path); err == nil {
		s.offsets[path] = info.Size()
	}
}

func (s *MonitorService) tailNewDir(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !isSessionLog(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if _, seen := s.offsets[path]; !seen {
			s.offsets[path] = 0
		}
		s.readTail(path)
	}
}

// Stop ends the watch loop and closes every subscriber channel. Safe to
// call more than once.
func (s *MonitorService) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.watcher != nil {
			_ = s.watcher.Close()
			<-s.doneCh
		}

		s.subMu.Lock()
		defer s.subMu.Unlock()
		for id, ch := range s.subscribers {
			close(ch)
			delete(s.subscribers, id)
		}
		s.log.Info().Msg("🛑 assistant log monitor stopped")
	})
}

// Subscribe registers a consumer and returns its event channel. The channel
// is closed on Unsubscribe or Stop. Subscribing twice with one id replaces
// the previous channel.
func (s *MonitorService) Subscribe(id string) <-chan models.AssistantEvent {
	ch := make(chan models.AssistantEvent, subscriberBuffer)

	s.subMu.Lock()
	if old, exists := s.subscribers[id]; exists {
		close(old)
	}
	s.subscribers[id] = ch
	s.subMu.Unlock()

	s.log.Debug().Str("subscriber", id).Msg("monitor subscriber added")
	return ch
}

// Unsubscribe removes a consumer and closes its channel. Unknown ids are a
// no-op so disconnect cleanup can call this unconditionally.
func (s *MonitorService) Unsubscribe(id string) {
	s.subMu.Lock()
	ch, exists := s.subscribers[id]
	if exists {
		delete(s.subscribers, id)
	}
	s.subMu.Unlock()

	if exists {
		close(ch)
		s.log.Debug().Str("subscriber", id).Msg("monitor subscriber removed")
	}
}

// SubscriberCount reports the number of live subscribers.
func (s *MonitorService) SubscriberCount() int {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	return len(s.subscribers)
}

func (s *MonitorService) watchLoop() {
	defer close(s.doneCh)

	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleEvent(event)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn().Err(err).Msg("⚠️ log watcher error")
		case <-s.stopCh:
			return
		}
	}
}

func (s *MonitorService) handleEvent(event fsnotify.Event) {
	switch {
	case event.Op.Has(fsnotify.Create):
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			// New project directory: watch it and tail any files that
			// appeared before the watch took effect. Those are new
			// content, not history, so they start at offset zero.
			if err := s.watcher.Add(event.Name); err == nil {
				s.tailNewDir(event.Name)
			}
			return
		}
		if isSessionLog(event.Name) {
			s.offsets[event.Name] = 0
			s.readTail(event.Name)
		}
	case event.Op.Has(fsnotify.Write):
		if isSessionLog(event.Name) {
			s.readTail(event.Name)
		}
	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		delete(s.offsets, event.Name)
	}
}

// readTail reads complete appended lines since the recorded offset. A
// partial final line stays unread until the next write completes it.
// Truncation (size below offset) restarts the file from zero.
func (s *MonitorService) readTail(path string) {
	offset := s.offsets[path]

	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Debug().Str("file", path).Err(err).Msg("failed to open session log")
		}
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return
	}
	if info.Size() < offset {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return
	}

	reader := bufio.NewReader(f)
	consumed := offset
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			break
		}
		consumed += int64(len(line))

		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			continue
		}
		for _, ev := range parseSessionLogLine(trimmed) {
			s.publish(ev)
		}
	}
	s.offsets[path] = consumed
}

// publish fans one event out to every subscriber, dropping the oldest
// buffered event of any subscriber that is full.
func (s *MonitorService) publish(ev models.AssistantEvent) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	for id, ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
				s.log.Debug().Str("subscriber", id).Msg("subscriber full, event dropped")
			}
		}
	}
}

func isSessionLog(path string) bool {
	return strings.HasSuffix(path, ".jsonl")
}

// parseSessionLogLine turns one JSONL entry into zero or more events.
// Malformed lines and meta entries produce nothing; one assistant entry can
// produce several events (a text block plus tool calls).
func parseSessionLogLine(line []byte) []models.AssistantEvent {
	var entry models.SessionLogEntry
	if err := json.Unmarshal(line, &entry); err != nil {
		return nil
	}
	return eventsFromEntry(&entry)
}

func eventsFromEntry(entry *models.SessionLogEntry) []models.AssistantEvent {
	if entry.IsMeta || entry.Message == nil {
		return nil
	}

	ts := parseLogTimestamp(entry.Timestamp)
	var events []models.AssistantEvent

	switch entry.Type {
	case "user":
		content, exists := entry.Message["content"]
		if !exists {
			break
		}
		switch c := content.(type) {
		case string:
			if c != "" {
				events = append(events, models.AssistantEvent{
					Kind:      models.EventUserInput,
					SessionID: entry.SessionID,
					Timestamp: ts,
					Text:      c,
				})
			}
		case []interface{}:
			for _, raw := range c {
				block, ok := raw.(map[string]interface{})
				if !ok {
					continue
				}
				switch block["type"] {
				case "text":
					if text, _ := block["text"].(string); text != "" {
						events = append(events, models.AssistantEvent{
							Kind:      models.EventUserInput,
							SessionID: entry.SessionID,
							Timestamp: ts,
							Text:      text,
						})
					}
				case "tool_result":
					ev := models.AssistantEvent{
						Kind:      models.EventToolResult,
						SessionID: entry.SessionID,
						Timestamp: ts,
						Text:      blockContentText(block["content"]),
					}
					ev.ToolUseID, _ = block["tool_use_id"].(string)
					ev.IsError, _ = block["is_error"].(bool)
					events = append(events, ev)
				}
			}
		}
		// Tool results for file-writing tools carry the touched path.
		if file := fileFromToolResult(entry.ToolUseResult); file != "" {
			events = append(events, models.AssistantEvent{
				Kind:      models.EventFileChange,
				SessionID: entry.SessionID,
				Timestamp: ts,
				File:      file,
			})
		}

	case "assistant":
		content, exists := entry.Message["content"]
		if !exists {
			break
		}
		blocks, ok := content.([]interface{})
		if !ok {
			break
		}
		for _, raw := range blocks {
			block, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			switch block["type"] {
			case "text":
				if text, _ := block["text"].(string); text != "" {
					events = append(events, models.AssistantEvent{
						Kind:      models.EventAssistantMessage,
						SessionID: entry.SessionID,
						Timestamp: ts,
						Text:      text,
					})
				}
			case "tool_use":
				ev := models.AssistantEvent{
					Kind:      models.EventToolCall,
					SessionID: entry.SessionID,
					Timestamp: ts,
				}
				ev.Tool, _ = block["name"].(string)
				ev.ToolUseID, _ = block["id"].(string)
				if input, ok := block["input"].(map[string]interface{}); ok {
					ev.ToolInput = input
				}
				events = append(events, ev)
			}
		}
	}

	return events
}

// blockContentText flattens a tool_result content value, which is either a
// plain string or a list of text blocks.
func blockContentText(content interface{}) string {
	switch c := content.(type) {
	case string:
		return c
	case []interface{}:
		var sb strings.Builder
		for _, raw := range c {
			if block, ok := raw.(map[string]interface{}); ok && block["type"] == "text" {
				if text, _ := block["text"].(string); text != "" {
					if sb.Len() > 0 {
						sb.WriteByte('\n')
					}
					sb.WriteString(text)
				}
			}
		}
		return sb.String()
	}
	return ""
}

func fileFromToolResult(result interface{}) string {
	m, ok := result.(map[string]interface{})
	if !ok {
		return ""
	}
	if file, _ := m["filePath"].(string); file != "" {
		return file
	}
	return ""
}

func parseLogTimestamp(raw string) time.Time {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	return time.Now()
}
