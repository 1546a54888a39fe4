// Package mount mounts block devices under the storage root and reads the
// kernel mount table.
package mount

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ParseMounts reads a /proc/mounts style table and returns devnode -> mount
// path for entries backed by a /dev node. When a devnode is mounted more
// than once the first entry wins.
func ParseMounts(r io.Reader) (map[string]string, error) {
	mounts := make(map[string]string)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		device := unescape(fields[0])
		if !strings.HasPrefix(device, "/dev/") {
			continue
		}
		if _, ok := mounts[device]; ok {
			continue
		}
		mounts[device] = unescape(fields[1])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading mount table: %w", err)
	}
	return mounts, nil
}

// unescape decodes the octal escapes the kernel uses for whitespace and
// backslashes in mount table fields, e.g. "\040" for a space.
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}

	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+4 <= len(s) {
			if n, err := strconv.ParseUint(s[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(n))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
