package journal

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/thinksuit/thinksuit/internal/ids"
	"github.com/thinksuit/thinksuit/pkg/models"
)

func testPaths(t *testing.T) ids.Paths {
	t.Helper()
	base := t.TempDir()
	return ids.Paths{
		StreamBase:   base + "/streams",
		MetadataBase: base + "/metadata",
		TraceBase:    base + "/traces",
	}
}

func TestAppendAndRead(t *testing.T) {
	paths := testPaths(t)
	w := NewWriter(paths, nil)
	sessionID := ids.New()

	events := []string{models.EventSessionInput, models.EventExecutionStart, models.EventSessionResponse}
	for _, event := range events {
		if err := w.Append(sessionID, models.Entry{Event: event}); err != nil {
			t.Fatalf("Append(%s) error = %v", event, err)
		}
	}

	entries, err := NewReader(paths).ReadEntries(sessionID)
	if err != nil {
		t.Fatalf("ReadEntries() error = %v", err)
	}
	if len(entries) != len(events) {
		t.Fatalf("read %d entries, want %d", len(entries), len(events))
	}
	for i, e := range entries {
		if e.Event != events[i] {
			t.Errorf("entry %d event = %q, want %q", i, e.Event, events[i])
		}
		if e.SessionID != sessionID {
			t.Errorf("entry %d sessionId = %q", i, e.SessionID)
		}
		if e.Time.IsZero() {
			t.Errorf("entry %d has zero time", i)
		}
	}
}

func TestReadMonotonicPrefix(t *testing.T) {
	paths := testPaths(t)
	w := NewWriter(paths, nil)
	r := NewReader(paths)
	sessionID := ids.New()

	if err := w.Append(sessionID, models.Entry{Event: models.EventSessionInput}); err != nil {
		t.Fatal(err)
	}
	first, err := r.ReadEntries(sessionID)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Append(sessionID, models.Entry{Event: models.EventSessionResponse}); err != nil {
		t.Fatal(err)
	}
	second, err := r.ReadEntries(sessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != len(first)+1 {
		t.Fatalf("second read has %d entries, want %d", len(second), len(first)+1)
	}
	for i := range first {
		if second[i].Event != first[i].Event {
			t.Errorf("prefix diverged at %d: %q vs %q", i, second[i].Event, first[i].Event)
		}
	}
}

func TestReadToleratesTornTrailingLine(t *testing.T) {
	paths := testPaths(t)
	w := NewWriter(paths, nil)
	sessionID := ids.New()
	if err := w.Append(sessionID, models.Entry{Event: models.EventSessionInput}); err != nil {
		t.Fatal(err)
	}

	path, err := paths.StreamPath(sessionID)
	if err != nil {
		t.Fatal(err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(`{"event":"session.resp`); err != nil {
		t.Fatal(err)
	}
	f.Close()

	entries, err := NewReader(paths).ReadEntries(sessionID)
	if err != nil {
		t.Fatalf("ReadEntries() error = %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("read %d entries, want 1 (torn line skipped)", len(entries))
	}
}

func TestReadUnknownSession(t *testing.T) {
	r := NewReader(testPaths(t))
	_, err := r.ReadEntries(ids.New())
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("error = %v, want ErrSessionNotFound", err)
	}
}

func TestReadEntriesFrom(t *testing.T) {
	paths := testPaths(t)
	w := NewWriter(paths, nil)
	r := NewReader(paths)
	sessionID := ids.New()
	for i := 0; i < 4; i++ {
		if err := w.Append(sessionID, models.Entry{Event: models.EventSessionHeartbeat}); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		from int
		want int
	}{
		{0, 4},
		{2, 2},
		{4, 0},
		{10, 0},
		{-1, 4},
	}
	for _, tt := range tests {
		got, err := r.ReadEntriesFrom(sessionID, tt.from)
		if err != nil {
			t.Fatalf("ReadEntriesFrom(%d) error = %v", tt.from, err)
		}
		if len(got) != tt.want {
			t.Errorf("ReadEntriesFrom(%d) = %d entries, want %d", tt.from, len(got), tt.want)
		}
	}
}

func TestNotifierObservesAppendOrder(t *testing.T) {
	w := NewWriter(testPaths(t), nil)
	sessionID := ids.New()

	var seen []string
	w.SetNotifier(func(id string, e models.Entry) {
		if id == sessionID {
			seen = append(seen, e.Event)
		}
	})

	events := []string{models.EventSessionInput, models.EventLLMRequest, models.EventSessionResponse}
	for _, event := range events {
		if err := w.Append(sessionID, models.Entry{Event: event}); err != nil {
			t.Fatal(err)
		}
	}
	if len(seen) != len(events) {
		t.Fatalf("notifier saw %d events, want %d", len(seen), len(events))
	}
	for i := range events {
		if seen[i] != events[i] {
			t.Errorf("notifier order[%d] = %q, want %q", i, seen[i], events[i])
		}
	}
}

func TestNotifierMatchesFileOrderUnderConcurrentAppends(t *testing.T) {
	paths := testPaths(t)
	w := NewWriter(paths, nil)
	sessionID := ids.New()

	var mu sync.Mutex
	var seen []string
	w.SetNotifier(func(id string, e models.Entry) {
		mu.Lock()
		seen = append(seen, e.Msg)
		mu.Unlock()
	})

	const writers = 8
	const perWriter = 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				err := w.Append(sessionID, models.Entry{
					Event: models.EventSessionHeartbeat,
					Msg:   fmt.Sprintf("w%d-%d", i, j),
				})
				if err != nil {
					t.Errorf("Append() error = %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	entries, err := NewReader(paths).ReadEntries(sessionID)
	if err != nil {
		t.Fatalf("ReadEntries() error = %v", err)
	}
	if len(entries) != writers*perWriter || len(seen) != writers*perWriter {
		t.Fatalf("file has %d entries, notifier saw %d, want %d", len(entries), len(seen), writers*perWriter)
	}
	for i, e := range entries {
		if seen[i] != e.Msg {
			t.Fatalf("notifier order diverged from file order at %d: %q vs %q", i, seen[i], e.Msg)
		}
	}
}

func TestTraceStreamSeparate(t *testing.T) {
	paths := testPaths(t)
	w := NewWriter(paths, nil)
	traceID := ids.New()

	notified := 0
	w.SetNotifier(func(string, models.Entry) { notified++ })

	err := w.AppendTrace(traceID, models.Entry{Event: models.EventTraceTransition, Data: map[string]any{"state": "DetectSignals"}})
	if err != nil {
		t.Fatalf("AppendTrace() error = %v", err)
	}
	if notified != 0 {
		t.Error("trace append reached the session notifier")
	}

	entries, err := NewReader(paths).ReadTrace(traceID)
	if err != nil {
		t.Fatalf("ReadTrace() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Event != models.EventTraceTransition {
		t.Errorf("trace entries = %+v", entries)
	}
}

func TestDeriveStatus(t *testing.T) {
	e := func(events ...string) []models.Entry {
		out := make([]models.Entry, len(events))
		for i, ev := range events {
			out[i] = models.Entry{Event: ev}
		}
		return out
	}
	tests := []struct {
		name    string
		entries []models.Entry
		want    models.SessionStatus
	}{
		{"empty", nil, models.StatusInitialized},
		{"input only", e(models.EventSessionInput), models.StatusBusy},
		{"completed turn", e(models.EventSessionInput, models.EventSessionResponse, models.EventExecutionComplete), models.StatusReady},
		{"failed turn", e(models.EventSessionInput, models.EventSessionError), models.StatusError},
		{"recovered after error", e(models.EventSessionError, models.EventSessionInput, models.EventSessionResponse), models.StatusReady},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveStatus(tt.entries); got != tt.want {
				t.Errorf("DeriveStatus() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildThread(t *testing.T) {
	entries := []models.Entry{
		{Event: models.EventSessionInput, Data: map[string]any{"input": "hello"}},
		{Event: models.EventLLMRequest, Data: map[string]any{"model": "m"}},
		{Event: models.EventSessionResponse, Data: map[string]any{"response": "hi there"}},
		{Event: models.EventSessionInput, Data: map[string]any{"input": "more"}},
		{Event: models.EventSessionInput}, // no data: skipped
	}
	thread := BuildThread(entries)
	want := []struct {
		role    models.Role
		content string
	}{
		{models.RoleUser, "hello"},
		{models.RoleAssistant, "hi there"},
		{models.RoleUser, "more"},
	}
	if len(thread) != len(want) {
		t.Fatalf("thread has %d messages, want %d", len(thread), len(want))
	}
	for i, w := range want {
		if thread[i].Role != w.role || thread[i].Content != w.content {
			t.Errorf("message %d = %+v, want %+v", i, thread[i], w)
		}
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	paths := testPaths(t)
	sessionID := ids.New()

	meta := &models.SessionMetadata{
		ID:     sessionID,
		Status: models.StatusReady,
		Fork:   &models.ForkInfo{SourceSessionID: ids.New(), ForkFromIndex: 3},
	}
	if err := WriteMetadata(paths, meta); err != nil {
		t.Fatalf("WriteMetadata() error = %v", err)
	}
	if meta.CreatedAt.IsZero() || meta.UpdatedAt.IsZero() {
		t.Error("timestamps not stamped")
	}

	got, err := ReadMetadata(paths, sessionID)
	if err != nil {
		t.Fatalf("ReadMetadata() error = %v", err)
	}
	if got.Status != models.StatusReady || got.Fork == nil || got.Fork.ForkFromIndex != 3 {
		t.Errorf("metadata = %+v", got)
	}

	if _, err := ReadMetadata(paths, ids.New()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("missing metadata error = %v, want ErrSessionNotFound", err)
	}
}
