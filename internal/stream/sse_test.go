package stream

import (
	"bufio"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, input string) ([]Event, error) {
	t.Helper()
	p := NewParser(strings.NewReader(input), 1<<16)
	var events []Event
	for {
		ev, err := p.Next()
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}

func TestParser_Framing(t *testing.T) {
	input := ": ok\n\n" +
		"event: message\nid: [{\"offset\":1}]\ndata: {\"a\":1}\n\n" +
		"data: line one\ndata:line two\n\n" +
		"event: ping\ndata: x\r\n\r\n" +
		"retry: 5000\n\n" +
		"data: partial"

	events, err := collect(t, input)
	assert.ErrorIs(t, err, io.EOF)
	require.Len(t, events, 3)

	assert.Equal(t, Event{ID: `[{"offset":1}]`, Type: "message", Data: `{"a":1}`}, events[0])
	assert.Equal(t, "message", events[1].Type)
	assert.Equal(t, "line one\nline two", events[1].Data)
	assert.Equal(t, `[{"offset":1}]`, events[1].ID)
	assert.Equal(t, "ping", events[2].Type)
	assert.Equal(t, "x", events[2].Data)
}

func TestParser_EventWithoutDataIsNotDispatched(t *testing.T) {
	events, err := collect(t, "event: canary\nid: 7\n\ndata: y\n\n")
	assert.ErrorIs(t, err, io.EOF)
	require.Len(t, events, 1)
	assert.Equal(t, "message", events[0].Type)
	assert.Equal(t, "7", events[0].ID)
}

func TestParser_FieldWithoutColon(t *testing.T) {
	events, err := collect(t, "data\n\n")
	assert.ErrorIs(t, err, io.EOF)
	require.Len(t, events, 1)
	assert.Equal(t, "", events[0].Data)
}

func TestParser_OversizedLine(t *testing.T) {
	p := NewParser(strings.NewReader("data: "+strings.Repeat("x", 100)+"\n\n"), 32)
	_, err := p.Next()
	assert.ErrorIs(t, err, bufio.ErrTooLong)
}

func TestParser_OversizedMultiLineEvent(t *testing.T) {
	line := "data: " + strings.Repeat("x", 20) + "\n"
	p := NewParser(strings.NewReader(line+line+"\n"), 32)
	_, err := p.Next()
	assert.ErrorIs(t, err, ErrEventTooLarge)
}

func TestParser_EventAtLimit(t *testing.T) {
	p := NewParser(strings.NewReader("data: "+strings.Repeat("x", 31)+"\n\n"), 40)
	ev, err := p.Next()
	require.NoError(t, err)
	assert.Len(t, ev.Data, 31)
}
