package stream

import (
	"bufio"
	"errors"
	"io"
	"strings"

	"wikirelay/internal/constants"
)

// Event is one dispatched server-sent event.
type Event struct {
	ID   string
	Type string
	Data string
}

// ErrEventTooLarge is returned when the accumulated data of one event exceeds the parser's limit.
var ErrEventTooLarge = errors.New("sse event exceeds size limit")

// Parser reads text/event-stream framing. A partial event at EOF is discarded.
type Parser struct {
	scanner  *bufio.Scanner
	lastID   string
	maxBytes int
}

func NewParser(r io.Reader, maxEventBytes int) *Parser {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, min(4096, maxEventBytes)), maxEventBytes)
	return &Parser{scanner: scanner, maxBytes: maxEventBytes}
}

// LastEventID is the most recent id field seen, dispatched or not.
func (p *Parser) LastEventID() string {
	return p.lastID
}

// Next blocks until a complete event is available. It returns io.EOF when the stream ends cleanly.
func (p *Parser) Next() (Event, error) {
	var (
		eventType string
		data      strings.Builder
		hasData   bool
	)

	for p.scanner.Scan() {
		line := p.scanner.Text()

		if line == "" {
			if !hasData {
				eventType = ""
				continue
			}
			if eventType == "" {
				eventType = constants.EventTypeMessage
			}
			return Event{
				ID:   p.lastID,
				Type: eventType,
				Data: strings.TrimSuffix(data.String(), "\n"),
			}, nil
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, found := strings.Cut(line, ":")
		if found {
			value = strings.TrimPrefix(value, " ")
		}

		switch field {
		case "event":
			eventType = value
		case "data":
			data.WriteString(value)
			data.WriteByte('\n')
			hasData = true
			if data.Len() > p.maxBytes {
				return Event{}, ErrEventTooLarge
			}
		case "id":
			if !strings.ContainsRune(value, 0) {
				p.lastID = value
			}
		}
	}

	if err := p.scanner.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}
