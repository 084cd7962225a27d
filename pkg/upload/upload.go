// Package upload enforces the file input boundary: a fixed number of upload
// slots, a MIME whitelist and per-type size ceilings. Rejected files never
// mutate upload state.
package upload

import (
	"fmt"
	"strings"

	"github.com/kareemblessed/CrammAI/pkg/core"
	"github.com/kareemblessed/CrammAI/pkg/core/types"
)

const (
	// MaxDocumentBytes caps documents and images.
	MaxDocumentBytes = 10 << 20
	// MaxAudioBytes caps audio uploads; recorded lectures run larger.
	MaxAudioBytes = 25 << 20
)

// accepted maps each allowed MIME type to its byte ceiling.
var accepted = map[string]int64{
	"application/pdf": MaxDocumentBytes,
	"text/plain":      MaxDocumentBytes,
	"image/png":       MaxDocumentBytes,
	"image/jpeg":      MaxDocumentBytes,
	"image/webp":      MaxDocumentBytes,
	"audio/mpeg":      MaxAudioBytes,
	"audio/wav":       MaxAudioBytes,
}

// Validate checks one file against the acceptance policy.
func Validate(f types.SourceFile) error {
	mime := strings.ToLower(strings.TrimSpace(f.MIMEType))
	limit, ok := accepted[mime]
	if !ok {
		return core.NewInvalidRequestError(fmt.Sprintf("%s: unsupported file type %q", f.Name, f.MIMEType))
	}
	if f.Size > limit {
		return core.NewInvalidRequestError(fmt.Sprintf("%s: file is too large (%d bytes, limit %d)", f.Name, f.Size, limit))
	}
	return nil
}

// Slots holds the fixed upload positions. Slot indices are stable: removing
// a slot does not shift the others.
type Slots struct {
	files [types.MaxUploadSlots]*types.SourceFile
}

// Set validates the file and places it into the given slot. On rejection
// the slot keeps its previous contents.
func (s *Slots) Set(index int, f types.SourceFile) error {
	if index < 0 || index >= types.MaxUploadSlots {
		return core.NewInvalidRequestError(fmt.Sprintf("upload slot %d out of range", index))
	}
	if err := Validate(f); err != nil {
		return err
	}
	copied := f
	s.files[index] = &copied
	return nil
}

// Remove empties the given slot.
func (s *Slots) Remove(index int) {
	if index < 0 || index >= types.MaxUploadSlots {
		return
	}
	s.files[index] = nil
}

// Get returns the file in the given slot, or nil.
func (s *Slots) Get(index int) *types.SourceFile {
	if index < 0 || index >= types.MaxUploadSlots {
		return nil
	}
	return s.files[index]
}

// Files returns the occupied slots in slot order.
func (s *Slots) Files() []types.SourceFile {
	var out []types.SourceFile
	for _, f := range s.files {
		if f != nil {
			out = append(out, *f)
		}
	}
	return out
}

// Count returns the number of occupied slots.
func (s *Slots) Count() int {
	n := 0
	for _, f := range s.files {
		if f != nil {
			n++
		}
	}
	return n
}

// Clear empties every slot.
func (s *Slots) Clear() {
	for i := range s.files {
		s.files[i] = nil
	}
}
