package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveContentKind(t *testing.T) {
	cases := []struct {
		contentType string
		want        ContentKind
	}{
		{"chat/text:1.0", KindText},
		{"chat/text:2.0", KindText},
		{"chat/attachment:1.0", KindAttachment},
		{"chat/remote-attachment:1.0", KindRemoteAttachment},
		{"chat/reaction:1.0", KindReaction},
		{"chat/reply:1.0", KindReply},
		{"chat/group-updated:1.0", KindGroupUpdated},
		{"chat/transaction-reference:1.0", KindTransactionReference},
		{"chat/read-receipt:1.0", KindReadReceipt},
		{"vendor/custom:1.0", KindUnknown},
		{"", KindUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ResolveContentKind(tc.contentType), tc.contentType)
	}
}

func TestFromMeIsCaseInsensitive(t *testing.T) {
	msg := Message{SenderAddress: "0xAbCd"}
	assert.True(t, msg.FromMe("0xabcd"))
	assert.False(t, msg.FromMe("0xother"))
}
