package scenario

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Response is the scenario document returned for a device
type Response struct {
	Templates   []Template `json:"templates"`
	WaitingInfo string     `json:"waitingInfo,omitempty"`
	MSeq        *Member    `json:"mSeq,omitempty"`
}

// Member identifies the owning member; its seq is the realtime topic root
type Member struct {
	Seq looseString `json:"seq"`
}

// Template is one playlist entry as published by the scenario API
type Template struct {
	Img             string           `json:"img"`
	Type            string           `json:"type"`
	Sort            *looseInt        `json:"sort,omitempty"`
	Time            *looseInt        `json:"time,omitempty"`
	TemplateStorage *TemplateStorage `json:"templateStorage,omitempty"`
}

// TemplateStorage carries display metadata
type TemplateStorage struct {
	Title string `json:"title,omitempty"`
}

// Notice is one entry of the notice list endpoint
type Notice struct {
	ID      looseString `json:"id"`
	Content string      `json:"content"`
	Sort    *looseInt   `json:"sort,omitempty"`
}

// looseString accepts JSON strings and numbers
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = looseString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*s = looseString(n.String())
	return nil
}

// looseInt accepts JSON numbers and numeric strings. Non-numeric strings decode as zero.
type looseInt int

func (i *looseInt) UnmarshalJSON(data []byte) error {
	var s looseString
	if err := s.UnmarshalJSON(data); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(string(s), 64)
	if err != nil {
		*i = 0
		return nil
	}
	*i = looseInt(f)
	return nil
}
