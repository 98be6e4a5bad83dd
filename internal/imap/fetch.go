package imap

import (
	"bytes"
	"fmt"
	"io"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// RawMessage is a full RFC 822 message and its UID.
type RawMessage struct {
	UID  uint32
	Body []byte
}

// SearchUnseen returns the UIDs of messages without the \Seen flag in the selected mailbox.
func SearchUnseen(c *client.Client) ([]uint32, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search unseen messages: %w", err)
	}
	return uids, nil
}

// FetchRawMessages fetches the complete bodies for the given UIDs.
// BODY.PEEK is used so fetching does not set \Seen; callers mark messages explicitly.
func FetchRawMessages(c *client.Client, uids []uint32) ([]RawMessage, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}

	if len(uids) == 0 {
		return []RawMessage{}, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchUid}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)

	go func() {
		done <- c.UidFetch(seqSet, items, messages)
	}()

	result := make([]RawMessage, 0, len(uids))
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, body); err != nil {
			return nil, fmt.Errorf("failed to read message %d: %w", msg.Uid, err)
		}
		result = append(result, RawMessage{UID: msg.Uid, Body: buf.Bytes()})
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	return result, nil
}

// MarkSeen adds the \Seen flag to the given UIDs.
func MarkSeen(c *client.Client, uids []uint32) error {
	if len(uids) == 0 {
		return nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.SeenFlag}
	if err := c.UidStore(seqSet, item, flags, nil); err != nil {
		return fmt.Errorf("failed to mark messages seen: %w", err)
	}
	return nil
}
