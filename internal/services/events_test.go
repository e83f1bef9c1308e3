package services

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/mr14capture/internal/models"
)

func TestCloudEventSinkWritesLines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewCloudEventSink(&buf, "mr14-capture")
	c := NewReportCollection()
	c.Subscribe(sink.Observe)

	doc := newDoc("doc-1", models.Pending{})
	doc.BatchID = "batch-1"
	c.Append(doc)
	_, err := c.SetState("doc-1", models.Processing{})
	require.NoError(t, err)
	c.PublishProgress(Progress{BatchID: "batch-1", Settled: 1, Total: 1})

	var events []cloudevents.Event
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var ce cloudevents.Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ce))
		events = append(events, ce)
	}
	require.Len(t, events, 3)

	assert.Equal(t, EventTypePrefix+"added", events[0].Type())
	assert.Equal(t, "doc-1", events[0].Subject())
	assert.Equal(t, "mr14-capture", events[0].Source())
	assert.Equal(t, "batch-1", events[0].Extensions()["batchid"])

	assert.Equal(t, EventTypePrefix+"status_changed", events[1].Type())
	assert.Equal(t, "pending", events[1].Extensions()["fromstatus"])
	var data map[string]any
	require.NoError(t, events[1].DataAs(&data))
	assert.Equal(t, "processing", data["status"])

	assert.Equal(t, EventTypePrefix+"progress", events[2].Type())
	assert.Equal(t, "batch-1", events[2].Subject())
	var progress Progress
	require.NoError(t, events[2].DataAs(&progress))
	assert.Equal(t, Progress{BatchID: "batch-1", Settled: 1, Total: 1}, progress)
}

func TestToCloudEventIsValid(t *testing.T) {
	sink := NewCloudEventSink(&bytes.Buffer{}, "mr14-capture")
	ce, err := sink.ToCloudEvent(Event{Type: EventDeleted, Document: newDoc("x", models.Pending{}), Time: testNow})
	require.NoError(t, err)
	assert.NoError(t, ce.Validate())
	assert.True(t, testNow.Equal(ce.Time()))
	assert.NotEmpty(t, ce.ID())
}
