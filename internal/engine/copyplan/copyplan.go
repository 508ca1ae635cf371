// Package copyplan implements the copy-naming rule of spec.md §4.6: given
// an original task, derive the file name for its k-th duplicate. Grounded
// on original_source/src-tauri/src/lib.rs's create_copy_download, with
// spec.md's English "_copyN" naming substituted for the original's
// Chinese "副本" suffix (spec.md's explicit rule governs).
package copyplan

import (
	"path/filepath"
	"strconv"
	"strings"
)

// CopyFileName splits name on the rightmost '.': with an extension it
// returns "{stem}_copyK.{ext}"; without one, "{name}_copyK".
func CopyFileName(name string, k int) string {
	suffix := "_copy" + strconv.Itoa(k)

	ext := filepath.Ext(name)
	if ext == "" || ext == name {
		return name + suffix
	}
	stem := strings.TrimSuffix(name, ext)
	return stem + suffix + ext
}
