package clipboard

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateContent(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
		wantErr bool
		errIs   error
	}{
		{name: "valid small content", content: []byte("Hello, world!")},
		{name: "valid empty content", content: []byte{}},
		{name: "valid large content under limit", content: bytes.Repeat([]byte("a"), MaxReasonableSize)},
		{name: "content at max size", content: bytes.Repeat([]byte("a"), MaxClipboardSize)},
		{
			name:    "content exceeds max size",
			content: bytes.Repeat([]byte("a"), MaxClipboardSize+1),
			wantErr: true,
			errIs:   ErrContentTooLarge,
		},
		{name: "invalid UTF-8", content: []byte{0xff, 0xfe, 0xfd}, wantErr: true},
		{name: "valid UTF-8 with special characters", content: []byte("Hello 世界 🌍")},
		{name: "valid UTF-8 with newlines", content: []byte("Line 1\nLine 2\r\nLine 3")},
		{name: "null bytes in content", content: []byte("Hello\x00World")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateContent(tt.content)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
			if tt.errIs != nil {
				assert.True(t, errors.Is(err, tt.errIs))
			}
		})
	}
}

func TestNoopClipboard(t *testing.T) {
	c := NewNoopClipboard()
	assert.Equal(t, Capabilities{Read: true, Write: true}, c.Capabilities())
	assert.False(t, c.Capabilities().CanPoll())

	assert.NoError(t, c.Write("kept in memory"))
	got, err := c.Read()
	assert.NoError(t, err)
	assert.Equal(t, "kept in memory", got)

	assert.Error(t, c.Write(string([]byte{0xff})))
}
