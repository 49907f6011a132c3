package gossip

// Kind tags the three cases of a gossip Message.
type Kind int

const (
	// KindMemList carries a membership snapshot and drives the protocol.
	KindMemList Kind = iota + 1
	// KindData carries a free-form informational string.
	KindData
	// KindError carries an error description.
	KindError
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindMemList:
		return "memlist"
	case KindData:
		return "data"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Message is the only entity exchanged between nodes.
type Message struct {
	Kind    Kind
	MemList Snapshot // set when Kind == KindMemList
	Text    string   // set when Kind is KindData or KindError
}

// MemListMessage wraps a snapshot.
func MemListMessage(s Snapshot) Message {
	return Message{Kind: KindMemList, MemList: s}
}

// DataMessage wraps an informational string.
func DataMessage(text string) Message {
	return Message{Kind: KindData, Text: text}
}

// ErrorMessage wraps an error description.
func ErrorMessage(text string) Message {
	return Message{Kind: KindError, Text: text}
}
