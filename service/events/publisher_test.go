package events

import (
	"context"
	"errors"
	"testing"

	"github.com/Web3Novalabs/Nixo/service/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubjectFor(t *testing.T) {
	assert.Equal(t, "transfers.sess-1", SubjectFor("sess-1"))
	assert.Equal(t, "transfers.", SubjectFor(""))
}

func TestMockPublisherRecordsCopies(t *testing.T) {
	pub := NewMockPublisher()

	event := &transfer.Event{SessionID: "sess-1", Status: transfer.StatusGenerating}
	require.NoError(t, pub.PublishTransferEvent(context.Background(), event))

	// Mutating the original must not change the recorded event.
	event.Status = transfer.StatusError

	recorded := pub.Events()
	require.Len(t, recorded, 1)
	assert.Equal(t, transfer.StatusGenerating, recorded[0].Status)
}

func TestMockPublisherConfiguredError(t *testing.T) {
	pub := NewMockPublisher()
	pub.SetPublishError(errors.New("nats down"))

	err := pub.PublishTransferEvent(context.Background(), &transfer.Event{SessionID: "s"})
	require.Error(t, err)
	assert.Empty(t, pub.Events())

	require.NoError(t, pub.Close())
	assert.True(t, pub.Closed())
}
