package mount

import (
	"strings"
	"testing"
)

func TestParseMounts(t *testing.T) {
	table := `sysfs /sys sysfs rw,nosuid,nodev,noexec,relatime 0 0
proc /proc proc rw,nosuid,nodev,noexec,relatime 0 0
/dev/nvme0n1p2 / ext4 rw,relatime 0 0
tmpfs /run tmpfs rw,nosuid,nodev 0 0
/dev/sdb1 /mnt/storage_pool/1234-ABCD vfat rw,nosuid,nodev,noexec 0 0
/dev/sdc1 /media/user/My\040Photos exfat rw 0 0
/dev/sdb1 /mnt/elsewhere vfat rw 0 0
short line
`

	got, err := ParseMounts(strings.NewReader(table))
	if err != nil {
		t.Fatalf("ParseMounts() error = %v", err)
	}

	want := map[string]string{
		"/dev/nvme0n1p2": "/",
		"/dev/sdb1":      "/mnt/storage_pool/1234-ABCD",
		"/dev/sdc1":      "/media/user/My Photos",
	}
	if len(got) != len(want) {
		t.Fatalf("ParseMounts() = %v, want %v", got, want)
	}
	for dev, path := range want {
		if got[dev] != path {
			t.Errorf("ParseMounts()[%q] = %q, want %q", dev, got[dev], path)
		}
	}
}

func TestUnescape(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`/plain`, `/plain`},
		{`/a\040b`, `/a b`},
		{`/tab\011x`, "/tab\tx"},
		{`/back\134slash`, `/back\slash`},
		{`/trailing\04`, `/trailing\04`},
		{`/bad\999`, `/bad\999`},
	}
	for _, tt := range tests {
		if got := unescape(tt.in); got != tt.want {
			t.Errorf("unescape(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
