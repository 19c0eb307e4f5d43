package scanning

// StreamFrame is one message pushed over a client's registered channel.
// Zero or more frames carrying a Batch payload are followed by exactly one
// terminal frame with Done set; a failed session's terminal frame also
// carries Error.
type StreamFrame struct {
	RequestID string   `json:"requestId"`
	Kind      ScanKind `json:"type"`
	Batch     any      `json:"batch,omitempty"`
	Error     string   `json:"error,omitempty"`
	Done      bool     `json:"done,omitempty"`
}

// BatchFrame builds a frame carrying one emitted group of results.
func BatchFrame(requestID string, kind ScanKind, batch any) StreamFrame {
	return StreamFrame{RequestID: requestID, Kind: kind, Batch: batch}
}

// DoneFrame builds the terminal frame of a completed session.
func DoneFrame(requestID string, kind ScanKind) StreamFrame {
	return StreamFrame{RequestID: requestID, Kind: kind, Done: true}
}

// ErrorFrame builds the terminal frame of a failed session.
func ErrorFrame(requestID string, kind ScanKind, msg string) StreamFrame {
	return StreamFrame{RequestID: requestID, Kind: kind, Error: msg, Done: true}
}
