package models

import (
	"bytes"
	"encoding/json"
)

// EnrichedRecordBuilder builds a Topic B payload on a copy of the decoded input object.
type EnrichedRecordBuilder struct {
	fields map[string]interface{}
}

func NewEnrichedRecordBuilder(input map[string]interface{}) *EnrichedRecordBuilder {
	fields := make(map[string]interface{}, len(input)+2)
	for k, v := range input {
		fields[k] = v
	}
	return &EnrichedRecordBuilder{fields: fields}
}

func (b *EnrichedRecordBuilder) With(key string, value interface{}) *EnrichedRecordBuilder {
	b.fields[key] = value
	return b
}

func (b *EnrichedRecordBuilder) Build() map[string]interface{} {
	return b.fields
}

// Marshal encodes the record without HTML escaping so non-ASCII and '&' survive verbatim.
func (b *EnrichedRecordBuilder) Marshal() ([]byte, error) {
	return MarshalJSON(b.fields)
}

func MarshalJSON(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// DecodeObject decodes a JSON object keeping numbers as json.Number so they re-encode verbatim.
func DecodeObject(data []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errNotObject
	}
	if dec.More() {
		return nil, errTrailingData
	}
	return obj, nil
}
