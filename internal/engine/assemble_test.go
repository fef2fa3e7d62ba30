package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/you-humble/mediascribe/internal/domain"
)

func TestAssembleBinaryConcatPreservesChunkOrder(t *testing.T) {
	blob := newFakeBlob()
	blob.put("chunks/t/0.webm", []byte("AAA"))
	blob.put("chunks/t/1.webm", []byte("BBB"))
	blob.put("chunks/t/2.webm", []byte("CCC"))

	chunks := []domain.Chunk{
		{TaskID: "t", MediaRef: "chunks/t/0.webm", Index: 0},
		{TaskID: "t", MediaRef: "chunks/t/1.webm", Index: 1},
		{TaskID: "t", MediaRef: "chunks/t/2.webm", Index: 2},
	}

	tc := &fakeTranscoder{}
	e := newTestEngine(t, newFakeStore(), blob, tc, &fakeSpeech{})

	workdir := t.TempDir()
	assembled, err := e.assemble(context.Background(), "t", chunks, workdir)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}

	data, err := os.ReadFile(assembled)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "AAABBBCCC" {
		t.Errorf("assembled = %q, want chunks appended in order", data)
	}
	if tc.concatCalls != 0 {
		t.Errorf("transcoder concat called %d times for raw-concatenable chunks", tc.concatCalls)
	}
}

func TestAssembleHeterogeneousChunksUseTranscoder(t *testing.T) {
	blob := newFakeBlob()
	blob.put("chunks/t/0.mp4", []byte("AAA"))
	blob.put("chunks/t/1.ogg", []byte("BBB"))

	chunks := []domain.Chunk{
		{TaskID: "t", MediaRef: "chunks/t/0.mp4", Index: 0},
		{TaskID: "t", MediaRef: "chunks/t/1.ogg", Index: 1},
	}

	tc := &fakeTranscoder{}
	e := newTestEngine(t, newFakeStore(), blob, tc, &fakeSpeech{})

	assembled, err := e.assemble(context.Background(), "t", chunks, t.TempDir())
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}

	if tc.concatCalls != 1 {
		t.Errorf("transcoder concat called %d times, want 1", tc.concatCalls)
	}
	if filepath.Ext(assembled) != ".wav" {
		t.Errorf("assembled file %q, want normalized .wav", assembled)
	}
}

func TestAssembleEmptyChunkFailsWithIndex(t *testing.T) {
	blob := newFakeBlob()
	blob.put("chunks/t/0.webm", []byte("AAA"))
	blob.put("chunks/t/1.webm", nil)

	chunks := []domain.Chunk{
		{TaskID: "t", MediaRef: "chunks/t/0.webm", Index: 0},
		{TaskID: "t", MediaRef: "chunks/t/1.webm", Index: 1},
	}

	e := newTestEngine(t, newFakeStore(), blob, &fakeTranscoder{}, &fakeSpeech{})

	_, err := e.assemble(context.Background(), "t", chunks, t.TempDir())
	var dlErr *domain.DownloadError
	if !errors.As(err, &dlErr) {
		t.Fatalf("err = %v, want DownloadError", err)
	}
	if dlErr.Index != 1 {
		t.Errorf("failing index = %d, want 1", dlErr.Index)
	}
}

func TestAssembleMissingChunkFailsWithIndex(t *testing.T) {
	blob := newFakeBlob()
	blob.put("chunks/t/0.webm", []byte("AAA"))

	chunks := []domain.Chunk{
		{TaskID: "t", MediaRef: "chunks/t/0.webm", Index: 0},
		{TaskID: "t", MediaRef: "chunks/t/missing.webm", Index: 1},
	}

	e := newTestEngine(t, newFakeStore(), blob, &fakeTranscoder{}, &fakeSpeech{})

	_, err := e.assemble(context.Background(), "t", chunks, t.TempDir())
	var dlErr *domain.DownloadError
	if !errors.As(err, &dlErr) {
		t.Fatalf("err = %v, want DownloadError", err)
	}
	if dlErr.Index != 1 {
		t.Errorf("failing index = %d, want 1", dlErr.Index)
	}
}

func TestAssembleRejectsMediaWithoutAudio(t *testing.T) {
	blob := newFakeBlob()
	blob.put("chunks/t/0.webm", []byte("AAA"))

	chunks := []domain.Chunk{{TaskID: "t", MediaRef: "chunks/t/0.webm", Index: 0}}

	e := newTestEngine(t, newFakeStore(), blob, &fakeTranscoder{noAudio: true}, &fakeSpeech{})

	_, err := e.assemble(context.Background(), "t", chunks, t.TempDir())
	if !errors.Is(err, domain.ErrNoAudioStream) {
		t.Fatalf("err = %v, want ErrNoAudioStream", err)
	}
}
