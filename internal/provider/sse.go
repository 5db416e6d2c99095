// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/go-logr/logr"
	"github.com/kaptinlin/jsonrepair"
)

// STREAMING: Robust SSE parsing with error handling

// MaxChunkSize is the maximum allowed size for a single SSE event (64KB).
const MaxChunkSize = 64 * 1024

// ErrChunkTooLarge is returned when one SSE event exceeds MaxChunkSize.
var ErrChunkTooLarge = errors.New("sse event exceeds maximum size")

// streamChunk is one OpenAI-compatible streaming delta.
type streamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
			Role    string `json:"role,omitempty"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *streamChunk) content() string {
	if len(c.Choices) > 0 {
		return c.Choices[0].Delta.Content
	}
	return ""
}

func (c *streamChunk) finishReason() string {
	if len(c.Choices) > 0 && c.Choices[0].FinishReason != nil {
		return *c.Choices[0].FinishReason
	}
	return ""
}

// =============================================================================
// SSE READER
// =============================================================================

// SSEReader parses Server-Sent Events from a stream.
type SSEReader struct {
	reader *bufio.Reader
}

// NewSSEReader creates a new SSE reader from an io.Reader.
func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{reader: bufio.NewReader(r)}
}

// ReadEvent reads the next SSE event. It returns the event type (usually
// empty), the joined data lines and io.EOF once the stream ends.
func (s *SSEReader) ReadEvent() (string, []byte, error) {
	var eventType string
	var dataLines [][]byte
	size := 0

	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				if len(dataLines) > 0 {
					return eventType, bytes.Join(dataLines, []byte("\n")), nil
				}
				return "", nil, io.EOF
			}
			return "", nil, err
		}

		line = bytes.TrimRight(line, "\r\n")

		// Empty line terminates an event
		if len(line) == 0 {
			if len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			continue
		}

		switch {
		case bytes.HasPrefix(line, []byte("event:")):
			eventType = string(bytes.TrimSpace(line[6:]))
		case bytes.HasPrefix(line, []byte("data:")):
			data := bytes.TrimSpace(line[5:])
			size += len(data)
			if size > MaxChunkSize {
				return "", nil, ErrChunkTooLarge
			}
			dataLines = append(dataLines, data)
		}
		// id:, retry: and ": comment" lines are ignored
	}
}

// =============================================================================
// STREAM PROCESSING
// =============================================================================

// decodeChunk parses one data payload. Payloads that are not valid JSON
// get one repair attempt before being rejected.
func decodeChunk(data []byte) (*streamChunk, error) {
	var chunk streamChunk
	err := json.Unmarshal(data, &chunk)
	if err == nil {
		return &chunk, nil
	}
	repaired, repairErr := jsonrepair.JSONRepair(string(data))
	if repairErr != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(repaired), &chunk); err != nil {
		return nil, err
	}
	return &chunk, nil
}

// processStream reads an OpenAI-compatible SSE body, calling fn for every
// content delta. It returns the usage block when the upstream sent one.
// Chunks that cannot be parsed are logged at V(1) and skipped; an in-band
// error object terminates the stream. A body that ends before [DONE] or a
// finish_reason is reported as io.ErrUnexpectedEOF.
func processStream(ctx context.Context, body io.Reader, log logr.Logger, fn func(Chunk) error) (*Usage, error) {
	reader := NewSSEReader(body)
	var usage *Usage
	var delivered strings.Builder
	finished := false
	dropped := 0

	fail := func(err error) (*Usage, error) {
		return usage, &StreamError{Partial: delivered.String(), Err: err}
	}

	for {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		_, data, err := reader.ReadEvent()
		if err != nil {
			if err == io.EOF {
				if finished {
					return usage, nil
				}
				log.Info("SSE_TRUNCATED", "received_bytes", delivered.Len(), "dropped_chunks", dropped)
				return fail(io.ErrUnexpectedEOF)
			}
			return fail(err)
		}

		if bytes.Equal(data, []byte("[DONE]")) {
			return usage, nil
		}

		chunk, err := decodeChunk(data)
		if err != nil {
			dropped++
			log.V(1).Info("SSE_CHUNK_DROPPED", "size", len(data), "error", err.Error())
			continue
		}
		if chunk.Error != nil && chunk.Error.Message != "" {
			return fail(errors.New(chunk.Error.Message))
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		if chunk.finishReason() != "" {
			finished = true
		}

		if text := chunk.content(); text != "" {
			delivered.WriteString(text)
			if err := fn(Chunk{Content: text}); err != nil {
				return fail(err)
			}
		}
	}
}
