package ipc

// 命令名
const (
	CmdAttach      = "attach"
	CmdLoad        = "load"
	CmdLoadFile    = "load_file"
	CmdStart       = "start"
	CmdPause       = "pause"
	CmdStop        = "stop"
	CmdReset       = "reset"
	CmdNext        = "next"
	CmdPrevious    = "previous"
	CmdGoto        = "goto"
	CmdSettings    = "settings"
	CmdStatus      = "status"
	CmdSearch      = "search"
	CmdSelect      = "select"
	CmdLyrics      = "lyrics"
	CmdRecognize   = "recognize"
	CmdRecordStart = "record_start"
	CmdRecordChunk = "record_chunk"
	CmdRecordStop  = "record_stop"
	CmdNowPlaying  = "nowplaying"
	CmdTranslate   = "translate"
)

// 回复类型
const (
	TypeFrame      = "frame"
	TypeMessage    = "message"
	TypeCandidates = "candidates"
	TypeError      = "error"
)

// Request 客户端发来的一行 JSON
type Request struct {
	Cmd          string  `json:"cmd"`
	SessionID    string  `json:"session_id,omitempty"`
	Text         string  `json:"text,omitempty"`
	Path         string  `json:"path,omitempty"`
	Index        *int    `json:"index,omitempty"`
	LineDuration float64 `json:"line_duration,omitempty"` // 秒
	FontScale    float64 `json:"font_scale,omitempty"`
	Query        string  `json:"query,omitempty"`
	Title        string  `json:"title,omitempty"`
	Artist       string  `json:"artist,omitempty"`
	Data         string  `json:"data,omitempty"` // base64 编码的 PCM
	Target       string  `json:"target,omitempty"`
}

// Reply 发给客户端的一行 JSON
type Reply struct {
	Type       string `json:"type"`
	Cmd        string `json:"cmd,omitempty"`
	Frame      any    `json:"frame,omitempty"`
	Message    string `json:"message,omitempty"`
	Candidates any    `json:"candidates,omitempty"`
	Error      string `json:"error,omitempty"`
}

func FrameReply(frame any) Reply {
	return Reply{Type: TypeFrame, Frame: frame}
}

func MessageReply(cmd, message string) Reply {
	return Reply{Type: TypeMessage, Cmd: cmd, Message: message}
}

func CandidatesReply(candidates any) Reply {
	return Reply{Type: TypeCandidates, Cmd: CmdSearch, Candidates: candidates}
}

func ErrorReply(cmd string, err error) Reply {
	return Reply{Type: TypeError, Cmd: cmd, Error: err.Error()}
}
