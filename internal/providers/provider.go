package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
)

// Family is an upstream API family. Bots select exactly one.
type Family string

const (
	TextCompletion  Family = "text_completion"
	ImageGeneration Family = "image_generation"
	VideoSearch     Family = "video_search"
	TextToSpeech    Family = "text_to_speech"
)

func (f Family) Valid() bool {
	switch f {
	case TextCompletion, ImageGeneration, VideoSearch, TextToSpeech:
		return true
	default:
		return false
	}
}

// NoResponse replaces an empty body from a successful upstream call.
const NoResponse = "No response generated"

// maxBodyBytes bounds every upstream response read.
const maxBodyBytes = 16 << 20

type Request struct {
	Model        string
	SystemPrompt string
	Prompt       string
}

type ResultKind int

const (
	KindText ResultKind = iota
	KindAudio
	KindPending
)

func (k ResultKind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindPending:
		return "pending"
	default:
		return "text"
	}
}

// Result is the normalized output of any family. Text is always a
// human-readable rendering; Audio is set only for KindAudio and JobID only
// for KindPending.
type Result struct {
	Kind       ResultKind
	Text       string
	Audio      []byte
	MimeType   string
	JobID      string
	TokensUsed int
}

func (r Result) IsAudio() bool { return r.Kind == KindAudio }

// Empty reports a successful call that produced nothing usable.
func (r Result) Empty() bool {
	if r.Kind == KindAudio {
		return len(r.Audio) == 0
	}
	return strings.TrimSpace(r.Text) == ""
}

type Provider interface {
	Family() Family
	Invoke(ctx context.Context, req Request) (Result, error)
}

var ErrNotConfigured = errors.New("provider is not configured")

// UpstreamError is any failed upstream call. StatusCode is zero for transport
// failures and timeouts. Error() never includes the wrapped error's text so
// upstream messages that echo credentials stay server-side.
type UpstreamError struct {
	Provider   Family
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.StatusCode > 0:
		return fmt.Sprintf("%s upstream returned status %d", e.Provider, e.StatusCode)
	case e.Timeout():
		return fmt.Sprintf("%s upstream timed out", e.Provider)
	case errors.Is(e.Err, ErrNotConfigured):
		return fmt.Sprintf("%s upstream is not configured", e.Provider)
	default:
		return fmt.Sprintf("%s upstream request failed", e.Provider)
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

func StatusError(f Family, status int, cause error) *UpstreamError {
	if cause == nil {
		cause = fmt.Errorf("status %d", status)
	}
	return &UpstreamError{Provider: f, StatusCode: status, Err: cause}
}

// AsUpstream keeps an existing UpstreamError and wraps anything else.
func AsUpstream(f Family, err error) *UpstreamError {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue
	}
	return &UpstreamError{Provider: f, Err: err}
}

// ReadBody reads a bounded response body.
func ReadBody(r io.Reader) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return b, nil
}
