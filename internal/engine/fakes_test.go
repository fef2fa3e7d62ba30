package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/you-humble/mediascribe/internal/domain"
	"github.com/you-humble/mediascribe/internal/media"
	"github.com/you-humble/mediascribe/internal/speech"
)

type fakeStore struct {
	mu sync.Mutex

	tasks  map[string]*domain.Task
	chunks map[string][]domain.Chunk

	texts      map[string]map[int]string
	textTotals map[string]int

	claims      int
	releases    []domain.TaskStatus
	progressLog []string

	failProgress bool
	failSaveText bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tasks:      make(map[string]*domain.Task),
		chunks:     make(map[string][]domain.Chunk),
		texts:      make(map[string]map[int]string),
		textTotals: make(map[string]int),
	}
}

func (s *fakeStore) addTask(t domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := t
	s.tasks[t.ID] = &cp
}

func (s *fakeStore) addChunk(c domain.Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks[c.TaskID] = append(s.chunks[c.TaskID], c)
}

func (s *fakeStore) task(id string) domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.tasks[id]
}

func (s *fakeStore) Task(ctx context.Context, id string) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	return *t, nil
}

func (s *fakeStore) Chunks(ctx context.Context, taskID string) ([]domain.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]domain.Chunk(nil), s.chunks[taskID]...)
	domain.SortChunks(out)
	return out, nil
}

func (s *fakeStore) PendingTaskIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, t := range s.tasks {
		if t.ResultRef == "" && len(s.chunks[id]) > 0 {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *fakeStore) TryClaim(ctx context.Context, id, sentinel, processingID string, lease time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return false, domain.ErrTaskNotFound
	}
	if t.ResultRef != "" {
		_, at, isClaim := domain.ParseClaimSentinel(t.ResultRef)
		if !isClaim {
			return false, nil
		}
		if lease <= 0 || time.Since(at) < lease {
			return false, nil
		}
	}
	t.ResultRef = sentinel
	t.ProcessingID = processingID
	s.claims++
	return true, nil
}

func (s *fakeStore) Release(ctx context.Context, id string, status domain.TaskStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.ErrTaskNotFound
	}
	if _, _, isClaim := domain.ParseClaimSentinel(t.ResultRef); !isClaim {
		return nil
	}
	t.ResultRef = ""
	t.Status = status
	t.Error = reason
	s.releases = append(s.releases, status)
	return nil
}

func (s *fakeStore) SetStatus(ctx context.Context, id string, status domain.TaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok {
		t.Status = status
	}
	return nil
}

func (s *fakeStore) SetProgress(ctx context.Context, id string, progress string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failProgress {
		return errors.New("progress store unavailable")
	}
	if t, ok := s.tasks[id]; ok {
		t.Progress = progress
	}
	s.progressLog = append(s.progressLog, progress)
	return nil
}

func (s *fakeStore) SetResult(ctx context.Context, id string, resultURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.ErrTaskNotFound
	}
	t.ResultRef = resultURL
	t.Status = domain.StatusCompleted
	t.Error = ""
	return nil
}

func (s *fakeStore) SaveSegmentText(ctx context.Context, id string, index, total int, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSaveText {
		return errors.New("text store unavailable")
	}
	if s.texts[id] == nil {
		s.texts[id] = make(map[int]string)
	}
	s.texts[id][index] = text
	s.textTotals[id] = total
	return nil
}

func (s *fakeStore) SegmentTexts(ctx context.Context, id string) (int, map[int]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]string, len(s.texts[id]))
	for k, v := range s.texts[id] {
		out[k] = v
	}
	return s.textTotals[id], out, nil
}

func (s *fakeStore) DeleteSegmentTexts(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.texts, id)
	delete(s.textTotals, id)
	return nil
}

func (s *fakeStore) DeleteChunks(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chunks, id)
	return nil
}

type fakeBlob struct {
	mu      sync.Mutex
	objects map[string][]byte

	failUploadPrefix string
}

func newFakeBlob() *fakeBlob {
	return &fakeBlob{objects: make(map[string][]byte)}
}

func (b *fakeBlob) put(name string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[name] = data
}

func (b *fakeBlob) has(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[name]
	return ok
}

func (b *fakeBlob) withPrefix(prefix string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var names []string
	for name := range b.objects {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	return names
}

func (b *fakeBlob) Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failUploadPrefix != "" && strings.HasPrefix(objectName, b.failUploadPrefix) {
		return "", errors.New("blob store unavailable")
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	b.objects[objectName] = data
	return "http://blob.local/" + objectName, nil
}

func (b *fakeBlob) Download(ctx context.Context, objectName, destPath string) error {
	b.mu.Lock()
	data, ok := b.objects[objectName]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("object not found: %s", objectName)
	}
	return os.WriteFile(destPath, data, 0o644)
}

func (b *fakeBlob) Delete(ctx context.Context, objectName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, objectName)
	return nil
}

type fakeTranscoder struct {
	noAudio       bool
	failPrimary   bool
	failCopy      bool
	failTranscode bool
	segmentCount  int

	mu          sync.Mutex
	concatCalls int
}

func (f *fakeTranscoder) HasAudioStream(ctx context.Context, path string) (bool, error) {
	return !f.noAudio, nil
}

func (f *fakeTranscoder) Concat(ctx context.Context, inputs []string, outPath string, sampleRate int) error {
	f.mu.Lock()
	f.concatCalls++
	f.mu.Unlock()

	var buf bytes.Buffer
	for _, in := range inputs {
		data, err := os.ReadFile(in)
		if err != nil {
			return err
		}
		buf.Write(data)
	}
	return os.WriteFile(outPath, buf.Bytes(), 0o644)
}

func (f *fakeTranscoder) Transcode(ctx context.Context, inputPath, outPath string, sampleRate int) error {
	if f.failTranscode {
		return errors.New("intermediate transcode failed")
	}
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}
	return os.WriteFile(outPath, data, 0o644)
}

func (f *fakeTranscoder) Segment(ctx context.Context, inputPath, outDir string, opts media.SegmentOptions) ([]string, error) {
	if opts.CopyCodec {
		if f.failCopy {
			return nil, errors.New("copy segmentation failed")
		}
	} else if f.failPrimary {
		return nil, errors.New("direct segmentation failed")
	}

	// Zero value means one segment; negative forces an empty result.
	n := f.segmentCount
	if n == 0 {
		n = 1
	} else if n < 0 {
		n = 0
	}

	paths := make([]string, n)
	for i := range n {
		p := filepath.Join(outDir, fmt.Sprintf("seg_%05d.wav", i))
		if err := os.WriteFile(p, fmt.Appendf(nil, "segment %d", i), 0o644); err != nil {
			return nil, err
		}
		paths[i] = p
	}
	return paths, nil
}

type fakeSpeech struct {
	mu    sync.Mutex
	calls []string

	fn func(ctx context.Context, req speech.Request) (string, error)
}

func (f *fakeSpeech) Transcribe(ctx context.Context, req speech.Request) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.FilePath)
	f.mu.Unlock()

	if f.fn != nil {
		return f.fn(ctx, req)
	}
	return "transcript of " + filepath.Base(req.FilePath), nil
}

func (f *fakeSpeech) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestEngine(t *testing.T, store TaskStore, blob BlobStore, tc Transcoder, stt SpeechClient) *Engine {
	t.Helper()
	return New(
		Config{
			WorkerID:        "test-worker",
			BaseDir:         t.TempDir(),
			Subject:         "tasks.transcription.created",
			PoolSize:        1,
			PollInterval:    time.Minute,
			Concurrency:     3,
			SegmentSeconds:  60,
			SampleRate:      16000,
			MaxAttempts:     1,
			DownloadTimeout: time.Second,
			SpeechTimeout:   200 * time.Millisecond,
		},
		nil,
		store,
		blob,
		tc,
		stt,
	)
}
