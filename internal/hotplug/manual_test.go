package hotplug

import (
	"context"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devcat/internal/config"
	"devcat/internal/devcat"
)

func TestManualSource(t *testing.T) {
	seq := &devcat.Sequencer{}
	s := NewManualSource(seq)
	require.NoError(t, s.Start(context.Background()))

	plugged := s.Plug("/dev/sdb1", "BBBB")
	s.Plug("/dev/sda1", "")
	assert.Equal(t, plugged, <-s.Events())
	<-s.Events()

	events, err := s.Enumerate(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "/dev/sda1", events[0].Devnode)
	assert.Greater(t, events[0].Seq, plugged.Seq, "enumeration stamps fresh sequence numbers")

	removed := s.Unplug("/dev/sdb1", "BBBB")
	assert.Equal(t, devcat.EventRemoved, (<-s.Events()).Kind)
	assert.Greater(t, removed.Seq, plugged.Seq)

	events, err = s.Enumerate(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)

	s.Stop()
	s.Stop()
	_, ok := <-s.Events()
	assert.False(t, ok)
}

func TestFilter(t *testing.T) {
	f := filter{prefixes: []string{"/dev/sd", "/dev/mmcblk"}}
	assert.True(t, f.allows("/dev/sdb1"))
	assert.True(t, f.allows("/dev/mmcblk0p1"))
	assert.False(t, f.allows("/dev/nvme0n1p1"))
	assert.True(t, filter{}.allows("/dev/anything"))
}

func TestNewSourceFromConfig(t *testing.T) {
	seq := &devcat.Sequencer{}
	clock := clockwork.NewFakeClock()
	logger := devcat.NewNopLogger()

	tests := []struct {
		typ     string
		wantErr bool
	}{
		{typ: "udisks"},
		{typ: "inotify"},
		{typ: "none"},
		{typ: "udev", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			src, err := NewSourceFromConfig(config.HotplugConfig{Type: tt.typ}, seq, clock, logger)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, src)
		})
	}

	src, err := NewSourceFromConfig(config.HotplugConfig{Type: "none"}, seq, clock, logger)
	require.NoError(t, err)
	assert.IsType(t, &ManualSource{}, src)
}
