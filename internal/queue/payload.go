package queue

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrBadPayload = errors.New("invalid job payload")

type PayloadKind string

const (
	// KindFileReference triggers pull-based extraction of registered
	// documents; an empty DocumentID means "process everything pending".
	KindFileReference PayloadKind = "file"

	// KindInlineContent carries content already extracted by the caller
	// (Drive sync pushes these).
	KindInlineContent PayloadKind = "inline"
)

const (
	OriginDrive = "drive"
	OriginLocal = "local"
)

type FileReference struct {
	DocumentID string `json:"documentId,omitempty"`
	SourceURL  string `json:"sourceUrl,omitempty"`
	MimeType   string `json:"mimeType,omitempty"`
}

type InlineContent struct {
	OwnerID        string `json:"ownerId"`
	FileName       string `json:"fileName"`
	Content        string `json:"content"`
	ExternalFileID string `json:"externalFileId,omitempty"`
	MimeType       string `json:"mimeType,omitempty"`
	Origin         string `json:"origin"`
	// StableSourceID pins the synthetic source id so repeated syncs merge
	// instead of producing a fresh index namespace.
	StableSourceID string `json:"stableSourceId,omitempty"`
}

// Payload is the tagged union dispatched by the worker. Exactly one variant
// is set, matching Kind.
type Payload struct {
	Kind    PayloadKind
	FileRef *FileReference
	Inline  *InlineContent
}

// Envelope is the wire shape of a job. The `data` field name is kept for
// compatibility with producers that predate the explicit kind tag: an
// envelope with data and no kind is an inline job, one with neither is a
// batch file-reference job.
type Envelope struct {
	JobID      string         `json:"jobId"`
	RetryCount int            `json:"retryCount,omitempty"`
	Kind       PayloadKind    `json:"kind,omitempty"`
	FileRef    *FileReference `json:"fileRef,omitempty"`
	Data       *InlineContent `json:"data,omitempty"`
}

func NewEnvelope(jobID string, payload Payload) Envelope {
	return Envelope{
		JobID:   jobID,
		Kind:    payload.Kind,
		FileRef: payload.FileRef,
		Data:    payload.Inline,
	}
}

// DecodeEnvelope parses a job body and resolves its payload variant once,
// so downstream code matches on Kind instead of probing optional fields.
func DecodeEnvelope(body []byte) (Envelope, Payload, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return env, Payload{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	payload, err := env.resolve()
	return env, payload, err
}

func (e *Envelope) resolve() (Payload, error) {
	switch e.Kind {
	case KindInlineContent:
		if e.Data == nil {
			return Payload{}, fmt.Errorf("%w: inline job without data", ErrBadPayload)
		}
	case KindFileReference:
		if e.FileRef == nil {
			e.FileRef = &FileReference{}
		}
	case "":
		// Legacy envelope: presence of data decides the variant.
		if e.Data != nil {
			e.Kind = KindInlineContent
		} else {
			e.Kind = KindFileReference
			e.FileRef = &FileReference{}
		}
	default:
		return Payload{}, fmt.Errorf("%w: unknown kind %q", ErrBadPayload, e.Kind)
	}

	if e.Kind == KindInlineContent {
		if e.Data.Content == "" {
			return Payload{}, fmt.Errorf("%w: inline job with empty content", ErrBadPayload)
		}
		if e.Data.Origin == "" {
			e.Data.Origin = OriginDrive
		}
	}

	return Payload{Kind: e.Kind, FileRef: e.FileRef, Inline: e.Data}, nil
}
