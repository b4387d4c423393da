package hub

import "github.com/gorilla/websocket"

// Message is one frame travelling through a channel. Binary payloads are
// opaque collaborative-edit blobs; text payloads are UTF-8 chat data.
type Message struct {
	Binary bool
	Data   []byte
}

// Binary returns a binary frame carrying data.
func Binary(data []byte) Message {
	return Message{Binary: true, Data: data}
}

// Text returns a text frame carrying s.
func Text(s string) Message {
	return Message{Data: []byte(s)}
}

// TextBytes returns a text frame carrying data without copying it.
func TextBytes(data []byte) Message {
	return Message{Data: data}
}

// Len returns the payload size in bytes.
func (m Message) Len() int {
	return len(m.Data)
}

func (m Message) frameType() int {
	if m.Binary {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

// Kind returns "binary" or "text".
func (m Message) Kind() string {
	if m.Binary {
		return "binary"
	}
	return "text"
}
