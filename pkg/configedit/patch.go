// pkg/configedit/patch.go

package configedit

import (
	"strings"
)

// Edit enforces a single "Key Value" assignment in a whitespace separated
// config file such as sshd_config.
type Edit struct {
	Key   string
	Value string
}

// Line renders the edit the way it is written to the file.
func (e Edit) Line() string {
	return e.Key + " " + e.Value
}

// ConfigFileEdit is a target file, the assignments to enforce on it and the
// suffix of its one-time backup.
type ConfigFileEdit struct {
	Path         string
	Edits        []Edit
	BackupSuffix string
	// RewriteOnly only corrects keys the file already sets. Used for drop-ins
	// that must not override the main file but need not repeat it.
	RewriteOnly bool
}

// DefaultBackupSuffix is appended to the original path to derive the backup path.
const DefaultBackupSuffix = ".forge.bak"

// BackupPath returns where the pristine copy of e.Path lives.
func (e ConfigFileEdit) BackupPath() string {
	return BackupPath(e.Path, e.BackupSuffix)
}

// BackupPath derives the backup location for path.
func BackupPath(path, suffix string) string {
	if suffix == "" {
		suffix = DefaultBackupSuffix
	}
	return path + suffix
}

type parsedLine struct {
	key       string
	value     string
	commented bool
}

// parseLine splits a config line into key and value. Lines commented with
// '#' still yield their key so that "#PermitRootLogin yes" can be rewritten
// in place. Blank lines and prose comments return ok=false.
func parseLine(line string) (parsedLine, bool) {
	s := strings.TrimSpace(line)
	commented := false
	if strings.HasPrefix(s, "#") {
		commented = true
		s = strings.TrimSpace(strings.TrimLeft(s, "#"))
	}
	if s == "" {
		return parsedLine{}, false
	}
	fields := strings.Fields(s)
	key := fields[0]
	// "# This is the sshd server system-wide configuration file." is not a key.
	if commented && len(fields) > 2 {
		return parsedLine{}, false
	}
	return parsedLine{
		key:       key,
		value:     strings.TrimSpace(strings.TrimPrefix(s, key)),
		commented: commented,
	}, true
}

// isMatchBlock reports whether line opens a conditional block. Global
// settings must be placed before the first such block.
func isMatchBlock(line string) bool {
	p, ok := parseLine(line)
	return ok && !p.commented && strings.EqualFold(p.key, "Match")
}

// Satisfied reports whether content already carries every edit: at least one
// active line per key, and every active line for that key has the wanted value.
func Satisfied(content string, edits []Edit) bool {
	lines := splitLines(content)
	for _, e := range edits {
		found := false
		for _, l := range lines {
			if isMatchBlock(l) {
				break
			}
			p, ok := parseLine(l)
			if !ok || p.commented || !strings.EqualFold(p.key, e.Key) {
				continue
			}
			if p.value != e.Value {
				return false
			}
			found = true
		}
		if !found {
			return false
		}
	}
	return true
}

// Patch applies edits to content and returns the new content and whether it
// differs from the input. For each key, every active line is rewritten; if
// none is active the first commented occurrence is uncommented and rewritten;
// otherwise the line is appended before the first Match block, or at the end.
func Patch(content string, edits []Edit) (string, bool) {
	lines := splitLines(content)
	trailingNewline := content == "" || strings.HasSuffix(content, "\n")

	for _, e := range edits {
		lines = patchOne(lines, e)
	}

	out := strings.Join(lines, "\n")
	if trailingNewline && out != "" {
		out += "\n"
	}
	return out, out != content
}

func patchOne(lines []string, e Edit) []string {
	matchIdx := len(lines)
	for i, l := range lines {
		if isMatchBlock(l) {
			matchIdx = i
			break
		}
	}

	rewritten := false
	firstCommented := -1
	for i := 0; i < matchIdx; i++ {
		p, ok := parseLine(lines[i])
		if !ok || !strings.EqualFold(p.key, e.Key) {
			continue
		}
		if p.commented {
			if firstCommented < 0 {
				firstCommented = i
			}
			continue
		}
		lines[i] = e.Line()
		rewritten = true
	}
	if rewritten {
		return lines
	}
	if firstCommented >= 0 {
		lines[firstCommented] = e.Line()
		return lines
	}

	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:matchIdx]...)
	out = append(out, e.Line())
	return append(out, lines[matchIdx:]...)
}

// Consistent reports whether no active line contradicts an edit. Keys the
// content does not set are fine.
func Consistent(content string, edits []Edit) bool {
	lines := splitLines(content)
	for _, e := range edits {
		for _, l := range lines {
			if isMatchBlock(l) {
				break
			}
			p, ok := parseLine(l)
			if ok && !p.commented && strings.EqualFold(p.key, e.Key) && p.value != e.Value {
				return false
			}
		}
	}
	return true
}

// Rewrite sets every active line of an edited key to the wanted value and
// adds nothing. It returns the new content and whether it changed.
func Rewrite(content string, edits []Edit) (string, bool) {
	lines := splitLines(content)
	trailingNewline := strings.HasSuffix(content, "\n")
	for _, e := range edits {
		for i, l := range lines {
			if isMatchBlock(l) {
				break
			}
			p, ok := parseLine(l)
			if ok && !p.commented && strings.EqualFold(p.key, e.Key) {
				lines[i] = e.Line()
			}
		}
	}
	out := strings.Join(lines, "\n")
	if trailingNewline && out != "" {
		out += "\n"
	}
	return out, out != content
}

// satisfied dispatches on the edit mode.
func (e ConfigFileEdit) satisfied(content string) bool {
	if e.RewriteOnly {
		return Consistent(content, e.Edits)
	}
	return Satisfied(content, e.Edits)
}

func (e ConfigFileEdit) patch(content string) (string, bool) {
	if e.RewriteOnly {
		return Rewrite(content, e.Edits)
	}
	return Patch(content, e.Edits)
}

func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(content, "\n"), "\n")
}
