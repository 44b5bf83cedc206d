package playback

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultLineDuration = 4 * time.Second
	MinLineDuration     = 2 * time.Second
	MaxLineDuration     = 10 * time.Second

	DefaultFontScale = 1.0
	MinFontScale     = 0.5
	MaxFontScale     = 2.0
)

// ErrEmptyInput 输入歌词为空（或只有空白字符）
var ErrEmptyInput = errors.New("lyrics input is empty")

// LyricSet 按顺序排列的歌词行，加载后不再修改
type LyricSet []string

// ParseLyricSet 按换行拆分文本，去掉每行首尾空白并丢弃空行
func ParseLyricSet(raw string) (LyricSet, error) {
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")

	var lines LyricSet
	for _, line := range strings.Split(normalized, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return nil, ErrEmptyInput
	}
	return lines, nil
}

// State 播放状态。所有操作都返回新的 State，不修改接收者
type State struct {
	Lyrics       LyricSet
	Playing      bool
	StartedAt    time.Time // 零值表示未开始
	Index        int
	LineDuration time.Duration
}

// NewState 创建初始状态：未播放，当前行为 0
func NewState(lineDuration time.Duration) State {
	return State{LineDuration: ClampLineDuration(lineDuration)}
}

// Load 加载新歌词。空输入返回 ErrEmptyInput，原状态保持不变
func (s State) Load(raw string) (State, error) {
	lines, err := ParseLyricSet(raw)
	if err != nil {
		return s, err
	}
	s.Lyrics = lines
	s.Index = 0
	return s, nil
}

// Start 从第 0 行开始播放
func (s State) Start(now time.Time) State {
	s.Playing = true
	s.StartedAt = now
	s.Index = 0
	return s
}

// Pause 暂停，开始时间保留
func (s State) Pause() State {
	s.Playing = false
	return s
}

// Stop 停止并回到第 0 行
func (s State) Stop() State {
	s.Playing = false
	s.Index = 0
	s.StartedAt = time.Time{}
	return s
}

// Reset 重新计时，不改变当前行
func (s State) Reset(now time.Time) State {
	if s.Playing {
		s.StartedAt = now
	} else {
		s.StartedAt = time.Time{}
	}
	return s
}

// Tick 根据已播放时长重新计算当前行。歌词播完时自动停止，停在最后一行
func (s State) Tick(now time.Time) State {
	if !s.Playing {
		return s
	}

	elapsed := now.Sub(s.StartedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	target := int(elapsed / s.lineDuration())

	if target < len(s.Lyrics) {
		s.Index = target
		return s
	}

	s.Playing = false
	s.Index = max(len(s.Lyrics)-1, 0)
	return s
}

// GoToLine 手动跳转。越界时忽略。
// 播放中不会暂停，下一次 Tick 会按时间覆盖这里的选择
func (s State) GoToLine(index int) State {
	if index < 0 || index >= len(s.Lyrics) {
		return s
	}
	s.Index = index
	return s
}

func (s State) Next() State {
	return s.GoToLine(s.Index + 1)
}

func (s State) Previous() State {
	return s.GoToLine(s.Index - 1)
}

// WithLineDuration 修改每行时长（会被限制在允许范围内）
func (s State) WithLineDuration(d time.Duration) State {
	s.LineDuration = ClampLineDuration(d)
	return s
}

// Elapsed 返回已播放时长和总时长
func (s State) Elapsed(now time.Time) (elapsed, total time.Duration) {
	total = time.Duration(len(s.Lyrics)) * s.lineDuration()
	if s.StartedAt.IsZero() {
		return 0, total
	}
	elapsed = now.Sub(s.StartedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	return elapsed, total
}

// ElapsedDisplay 以 H:MM:SS 格式返回已播放时长和总时长
func (s State) ElapsedDisplay(now time.Time) (string, string) {
	elapsed, total := s.Elapsed(now)
	return FormatClock(elapsed), FormatClock(total)
}

// Progress 返回 (当前行号, 总行数)，行号从 1 开始
func (s State) Progress() (int, int) {
	if len(s.Lyrics) == 0 {
		return 0, 0
	}
	return s.Index + 1, len(s.Lyrics)
}

// CurrentLine 当前行文本，没有歌词时返回 false
func (s State) CurrentLine() (string, bool) {
	if s.Index < 0 || s.Index >= len(s.Lyrics) {
		return "", false
	}
	return s.Lyrics[s.Index], true
}

// View 用于渲染的三行：上一行、当前行、下一行
type View struct {
	Previous    string
	HasPrevious bool
	Current     string
	Next        string
	HasNext     bool
}

func (s State) View() View {
	var v View
	current, ok := s.CurrentLine()
	if !ok {
		return v
	}
	v.Current = current
	if s.Index > 0 {
		v.Previous, v.HasPrevious = s.Lyrics[s.Index-1], true
	}
	if s.Index+1 < len(s.Lyrics) {
		v.Next, v.HasNext = s.Lyrics[s.Index+1], true
	}
	return v
}

func (s State) lineDuration() time.Duration {
	if s.LineDuration <= 0 {
		return DefaultLineDuration
	}
	return s.LineDuration
}

// FormatClock 把时长格式化为 H:MM:SS（不足一秒的部分舍去）
func FormatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	seconds := int64(d / time.Second)
	return fmt.Sprintf("%d:%02d:%02d", seconds/3600, seconds/60%60, seconds%60)
}

// ClampLineDuration 把每行时长限制在 [2s, 10s]，非正数使用默认值
func ClampLineDuration(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultLineDuration
	case d < MinLineDuration:
		return MinLineDuration
	case d > MaxLineDuration:
		return MaxLineDuration
	}
	return d
}

// ClampFontScale 把字体缩放限制在 [0.5, 2.0]，非正数使用默认值
func ClampFontScale(scale float64) float64 {
	switch {
	case scale <= 0:
		return DefaultFontScale
	case scale < MinFontScale:
		return MinFontScale
	case scale > MaxFontScale:
		return MaxFontScale
	}
	return scale
}
