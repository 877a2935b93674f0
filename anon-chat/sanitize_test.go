package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeMessage(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello there", "hello there"},
		{"tags stripped", "<b>hi</b> <i>you</i>", "hi you"},
		{"script dropped", `<script>alert("x")</script>ok`, "ok"},
		{"entities kept as text", "fish & chips", "fish & chips"},
		{"control characters", "a\x00b\x07c", "abc"},
		{"newlines kept", "line one\nline two", "line one\nline two"},
		{"surrounding space", "   padded  ", "padded"},
		{"only markup", "<br><hr>", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, SanitizeMessage(tt.in))
		})
	}
}

func TestSanitizeMessageTruncates(t *testing.T) {
	long := strings.Repeat("가", maxMessageLen+20)
	got := SanitizeMessage(long)
	require.Equal(t, maxMessageLen, len([]rune(got)))
}

func TestSanitizeRoomName(t *testing.T) {
	require.Equal(t, "Night owls", SanitizeRoomName("<em>Night owls</em>"))
	require.Equal(t, "Unnamed room", SanitizeRoomName("<img src=x>"))
	require.Len(t, []rune(SanitizeRoomName(strings.Repeat("x", 100))), maxRoomNameLen)
}
