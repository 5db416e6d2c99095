// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// JSON EXPORTER
// =============================================================================

// JSONExporter exports conversations to JSON. The session and messages
// are written in full regardless of options so that the document matches
// GET /sessions/{id}; only the metadata block honors IncludeMetadata.
type JSONExporter struct {
	options *Options
}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter(opts *Options) *JSONExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &JSONExporter{options: opts}
}

// jsonDocument is the exported JSON shape.
type jsonDocument struct {
	*Conversation
	Export *jsonMetadata `json:"export,omitempty"`
}

type jsonMetadata struct {
	Generator  string          `json:"generator"`
	ExportedAt time.Time       `json:"exportedAt"`
	Models     []string        `json:"models"`
	TotalCost  decimal.Decimal `json:"totalCost"`
}

// Export converts a conversation to indented JSON. Empty sessions are
// allowed.
func (e *JSONExporter) Export(conv *Conversation) ([]byte, error) {
	if conv == nil {
		return nil, errors.New("conversation is nil")
	}
	doc := jsonDocument{Conversation: conv}
	if e.options.IncludeMetadata {
		doc.Export = &jsonMetadata{
			Generator:  "neurochat",
			ExportedAt: e.options.now().UTC(),
			Models:     conv.Models(),
			TotalCost:  conv.TotalCost(),
		}
	}
	return json.MarshalIndent(doc, "", "  ")
}

// FileExtension returns the file extension for JSON.
func (e *JSONExporter) FileExtension() string {
	return ".json"
}

// MimeType returns the MIME type for JSON.
func (e *JSONExporter) MimeType() string {
	return "application/json"
}
