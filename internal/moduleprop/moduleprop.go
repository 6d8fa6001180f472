// Package moduleprop owns the on-device module.prop overlay: parsing it
// into its two sections, and atomically rewriting the description section
// to publish one of a small fixed set of operator-visible status hints.
package moduleprop

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// descriptionKey splits a module.prop file into its header (id, name,
// version, author, and everything before the description line) and the
// description line itself, which is the only line this daemon ever
// rewrites.
const descriptionKey = "description="

// Sections holds the two halves of a parsed module.prop: Header is every
// line up to and including the line immediately before `description=`;
// DescriptionPrefix is the literal `description=` key used to rebuild the
// line when writing a new hint; Trailer is every line after the
// description line, written back unchanged.
type Sections struct {
	Header            string
	DescriptionPrefix string
	OriginalValue     string
	Trailer           string
}

// Parse splits raw module.prop content at the description= key. The
// description line's value is discarded from Header; OriginalValue keeps
// it around for diagnostics but is never written back verbatim.
func Parse(content string) (Sections, error) {
	scanner := bufio.NewScanner(strings.NewReader(content))
	var header, trailer strings.Builder
	found := false
	var original string

	for scanner.Scan() {
		line := scanner.Text()
		if !found && strings.HasPrefix(line, descriptionKey) {
			found = true
			original = strings.TrimPrefix(line, descriptionKey)
			continue
		}
		if !found {
			header.WriteString(line)
			header.WriteByte('\n')
		} else {
			trailer.WriteString(line)
			trailer.WriteByte('\n')
		}
	}
	if err := scanner.Err(); err != nil {
		return Sections{}, fmt.Errorf("scanning module.prop: %w", err)
	}
	if !found {
		return Sections{}, fmt.Errorf("module.prop has no %s line", descriptionKey)
	}

	return Sections{
		Header:            header.String(),
		DescriptionPrefix: descriptionKey,
		OriginalValue:     original,
		Trailer:           trailer.String(),
	}, nil
}

// Status hints, verbatim strings matched by the management UI. Never
// reword these; they are an external contract, not display copy this
// module is free to phrase however it likes.
const (
	StatusLoaded           = "😋 Zygisksu is loaded"
	StatusCrashed          = "❌ Zygiskd has crashed"
	StatusUnknownRoot      = "❌ Unknown root implementation"
	StatusRootTooOld       = "❌ Root implementation version too old"
	StatusRootAbnormal     = "❌ Abnormal root implementation version"
	StatusMultipleRootImpl = "❌ Multiple root implementations installed"
)

// Overlay manages the writable module.prop that the watchdog bind-mounts
// over the original, rewriting only the description line on each status
// change.
type Overlay struct {
	path     string
	sections Sections
}

// NewOverlay parses the module.prop at path and returns an Overlay ready to
// receive WriteStatus calls. The caller is responsible for having already
// bind-mounted a writable copy at path before calling this.
func NewOverlay(path string) (*Overlay, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	sections, err := Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &Overlay{path: path, sections: sections}, nil
}

// WriteStatus rewrites the overlay's description line to hint, atomically:
// the new content is written to a temp file in the same directory and
// renamed over the original, so a reader never observes a half-written
// file.
func (o *Overlay) WriteStatus(hint string) error {
	content := o.sections.Header + o.sections.DescriptionPrefix + hint + "\n" + o.sections.Trailer

	dir := filepath.Dir(o.path)
	tmp, err := os.CreateTemp(dir, ".module.prop.tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return fmt.Errorf("writing status hint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing status hint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, o.path); err != nil {
		return fmt.Errorf("renaming %s over %s: %w", tmpName, o.path, err)
	}
	return nil
}
