package domain

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

type TaskStatus string

const (
	StatusPending      TaskStatus = "pending"
	StatusDownloading  TaskStatus = "processing:downloading"
	StatusTranscribing TaskStatus = "processing:transcribing"
	StatusUploading    TaskStatus = "processing:uploading"
	StatusCompleted    TaskStatus = "completed"
	StatusFailed       TaskStatus = "failed"
)

func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s TaskStatus) Processing() bool {
	return strings.HasPrefix(string(s), "processing:")
}

type Task struct {
	ID string `json:"id"`

	Status TaskStatus `json:"status"`

	// Language is an ISO code hint for the speech service, or "auto".
	Language string `json:"language"`

	Progress  string `json:"progress"`
	ResultRef string `json:"result_ref"`

	// ProcessingID correlates all writes of one processing attempt.
	ProcessingID string `json:"processing_correlation_id"`

	Error     string    `json:"error"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Claimed reports whether the result reference currently holds a claim
// sentinel. An empty reference means unclaimed, any other non-sentinel
// value is a published transcript location.
func (t Task) Claimed() bool {
	_, _, ok := ParseClaimSentinel(t.ResultRef)
	return ok
}

type Chunk struct {
	TaskID   string `json:"task_id"`
	MediaRef string `json:"media_ref"`

	// Index is the uploader-assigned ordinal, -1 when absent.
	Index       int `json:"chunk_index"`
	TotalChunks int `json:"total_chunks"`

	CreatedAt time.Time `json:"created_at"`
}

// SortChunks orders chunks by explicit index when present, falling back
// to upload time for unnumbered chunks. Indexed chunks come first.
func SortChunks(chunks []Chunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		a, b := chunks[i], chunks[j]
		if a.Index >= 0 && b.Index >= 0 {
			return a.Index < b.Index
		}
		if a.Index >= 0 {
			return true
		}
		if b.Index >= 0 {
			return false
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

const sentinelScheme = "processing://"

// ClaimSentinel encodes a processing attempt into the result reference:
// processing://<workerID>/<unixNano>.
func ClaimSentinel(workerID string, at time.Time) string {
	return sentinelScheme + workerID + "/" + strconv.FormatInt(at.UnixNano(), 10)
}

func ParseClaimSentinel(ref string) (workerID string, at time.Time, ok bool) {
	rest, found := strings.CutPrefix(ref, sentinelScheme)
	if !found {
		return "", time.Time{}, false
	}
	idx := strings.LastIndexByte(rest, '/')
	if idx <= 0 {
		return "", time.Time{}, false
	}
	ns, err := strconv.ParseInt(rest[idx+1:], 10, 64)
	if err != nil {
		return "", time.Time{}, false
	}
	return rest[:idx], time.Unix(0, ns), true
}

// FormatProgress renders the persisted progress string, e.g. "3/5 segments".
func FormatProgress(done, total int) string {
	return fmt.Sprintf("%d/%d segments", done, total)
}

func ParseProgress(s string) (done, total int, ok bool) {
	rest, found := strings.CutSuffix(s, " segments")
	if !found {
		return 0, 0, false
	}
	dstr, tstr, found := strings.Cut(rest, "/")
	if !found {
		return 0, 0, false
	}
	done, err := strconv.Atoi(dstr)
	if err != nil {
		return 0, 0, false
	}
	total, err = strconv.Atoi(tstr)
	if err != nil || total < 0 || done < 0 || done > total {
		return 0, 0, false
	}
	return done, total, true
}

var (
	ErrTaskNotFound    = errors.New("task not found")
	ErrClaimConflict   = errors.New("task already claimed")
	ErrNoAudioStream   = errors.New("assembled media has no audio stream")
	ErrNoSegments      = errors.New("no segments produced")
	ErrEmptyTranscript = errors.New("merged transcript is empty")
)

// DownloadError identifies which chunk failed to download or verify.
type DownloadError struct {
	Index int
	Err   error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download chunk %d: %v", e.Index, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// SegmentationError carries both the primary and the fallback failure so
// neither cause is lost.
type SegmentationError struct {
	Primary  error
	Fallback error
}

func (e *SegmentationError) Error() string {
	return fmt.Sprintf("segmentation failed: primary: %v; fallback: %v", e.Primary, e.Fallback)
}

// TranscriptionError identifies which segment's speech call failed.
type TranscriptionError struct {
	Segment int
	Err     error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcribe segment %d: %v", e.Segment, e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// Phase names the pipeline stage for diagnostics reports.
type Phase string

const (
	PhaseDownload      Phase = "download"
	PhaseAssembly      Phase = "assembly"
	PhaseSegmentation  Phase = "segmentation"
	PhaseTranscription Phase = "transcription"
	PhasePublish       Phase = "publish"
)
