package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// Request is the category-specific input of a job. Exactly one field is set.
type Request struct {
	Analyze *AnalyzeRequest
	Lrc     *LrcRequest
}

// AnalyzeRequest asks for tempo, key and stem analysis of one audio file.
type AnalyzeRequest struct {
	AudioPath  string `json:"audio_path"`
	Model      string `json:"model,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

// LrcRequest asks for line-level lyric timing of one audio file. When Lyrics
// is empty the executor transcribes the vocals itself.
type LrcRequest struct {
	AudioPath string        `json:"audio_path"`
	Lyrics    string        `json:"lyrics,omitempty"`
	Language  string        `json:"language,omitempty"`
	Offset    time.Duration `json:"offset,omitempty"`
}

// Result is the category-specific output of a completed job.
type Result struct {
	Analyze *AnalyzeResult
	Lrc     *LrcResult
}

// AnalyzeResult is the output of an analyze job.
type AnalyzeResult struct {
	DurationSeconds  float64   `json:"duration_seconds"`
	BPM              float64   `json:"bpm"`
	Key              string    `json:"key,omitempty"`
	Beats            []float64 `json:"beats,omitempty"`
	VocalsPath       string    `json:"vocals_path,omitempty"`
	InstrumentalPath string    `json:"instrumental_path,omitempty"`
}

// LrcResult is the output of an lrc job.
type LrcResult struct {
	Language string    `json:"language,omitempty"`
	Lines    []LrcLine `json:"lines"`
}

// LrcLine is one timed lyric line.
type LrcLine struct {
	Start time.Duration `json:"start"`
	Text  string        `json:"text"`
}

// NewAnalyzeRequest wraps r in a Request.
func NewAnalyzeRequest(r AnalyzeRequest) Request { return Request{Analyze: &r} }

// NewLrcRequest wraps r in a Request.
func NewLrcRequest(r LrcRequest) Request { return Request{Lrc: &r} }

// Clone returns a copy whose variant is not shared with r.
func (r Request) Clone() Request {
	var c Request
	if r.Analyze != nil {
		a := *r.Analyze
		c.Analyze = &a
	}
	if r.Lrc != nil {
		l := *r.Lrc
		c.Lrc = &l
	}
	return c
}

// Category returns the category implied by the populated variant, or "" when
// the request is empty or ambiguous.
func (r Request) Category() Category {
	switch {
	case r.Analyze != nil && r.Lrc == nil:
		return CategoryAnalyze
	case r.Lrc != nil && r.Analyze == nil:
		return CategoryLrc
	}
	return ""
}

var errAudioPathRequired = errors.New("audio_path is required")

// Validate checks the request is well-formed for its category.
func (r Request) Validate() error {
	switch r.Category() {
	case CategoryAnalyze:
		return r.Analyze.validate()
	case CategoryLrc:
		return r.Lrc.validate()
	}
	return errors.New("request must carry exactly one of analyze or lrc")
}

func (r *AnalyzeRequest) validate() error {
	if strings.TrimSpace(r.AudioPath) == "" {
		return errAudioPathRequired
	}
	if r.SampleRate < 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", r.SampleRate)
	}
	return nil
}

func (r *LrcRequest) validate() error {
	if strings.TrimSpace(r.AudioPath) == "" {
		return errAudioPathRequired
	}
	if ext := strings.ToLower(filepath.Ext(r.AudioPath)); ext == ".lrc" || ext == ".txt" {
		return fmt.Errorf("audio_path must point at audio, got %q", ext)
	}
	if r.Language != "" && len(r.Language) != 2 {
		return fmt.Errorf("language must be a two-letter code, got %q", r.Language)
	}
	if r.Offset < 0 {
		return fmt.Errorf("offset must not be negative, got %s", r.Offset)
	}
	return nil
}

// Clone returns a deep copy of r, including beat and line slices.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	var c Result
	if r.Analyze != nil {
		a := *r.Analyze
		a.Beats = slices.Clone(r.Analyze.Beats)
		c.Analyze = &a
	}
	if r.Lrc != nil {
		l := *r.Lrc
		l.Lines = slices.Clone(r.Lrc.Lines)
		c.Lrc = &l
	}
	return &c
}

// Category returns the category of the populated result variant.
func (r Result) Category() Category {
	switch {
	case r.Analyze != nil && r.Lrc == nil:
		return CategoryAnalyze
	case r.Lrc != nil && r.Analyze == nil:
		return CategoryLrc
	}
	return ""
}

// envelope is the self-describing wire form of Request and Result, so a
// stored blob can be decoded without consulting any other column.
type envelope struct {
	Type    Category        `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (r Request) MarshalJSON() ([]byte, error) {
	switch r.Category() {
	case CategoryAnalyze:
		return marshalEnvelope(CategoryAnalyze, r.Analyze)
	case CategoryLrc:
		return marshalEnvelope(CategoryLrc, r.Lrc)
	}
	return nil, errors.New("marshal request: no variant set")
}

func (r *Request) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("unmarshal request: %w", err)
	}
	*r = Request{}
	switch env.Type {
	case CategoryAnalyze:
		r.Analyze = new(AnalyzeRequest)
		return unmarshalPayload(env, r.Analyze)
	case CategoryLrc:
		r.Lrc = new(LrcRequest)
		return unmarshalPayload(env, r.Lrc)
	}
	return fmt.Errorf("unmarshal request: unknown type %q", env.Type)
}

func (r Result) MarshalJSON() ([]byte, error) {
	switch r.Category() {
	case CategoryAnalyze:
		return marshalEnvelope(CategoryAnalyze, r.Analyze)
	case CategoryLrc:
		return marshalEnvelope(CategoryLrc, r.Lrc)
	}
	return nil, errors.New("marshal result: no variant set")
}

func (r *Result) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("unmarshal result: %w", err)
	}
	*r = Result{}
	switch env.Type {
	case CategoryAnalyze:
		r.Analyze = new(AnalyzeResult)
		return unmarshalPayload(env, r.Analyze)
	case CategoryLrc:
		r.Lrc = new(LrcResult)
		return unmarshalPayload(env, r.Lrc)
	}
	return fmt.Errorf("unmarshal result: unknown type %q", env.Type)
}

func marshalEnvelope(t Category, v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: t, Payload: payload})
}

func unmarshalPayload(env envelope, v any) error {
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return fmt.Errorf("unmarshal %s: missing payload", env.Type)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", env.Type, err)
	}
	return nil
}
