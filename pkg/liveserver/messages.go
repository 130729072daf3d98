package liveserver

// Message is one frame pushed to stream clients
type Message struct {
	Topic string      `json:"topic"`
	Data  interface{} `json:"data"`
}

// NewMessage builds a Message
func NewMessage(topic string, data interface{}) Message {
	return Message{Topic: topic, Data: data}
}

// Command is a control frame sent by a stream client
type Command struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
}

// Command actions
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// TopicWelcome carries the client id right after the upgrade
const TopicWelcome = "welcome"
