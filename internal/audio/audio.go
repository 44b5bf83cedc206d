package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dhowden/tag"
)

// 录音统一为 16kHz 单声道 16 位 PCM
const (
	SampleRate     = 16000
	Channels       = 1
	BytesPerSample = 2

	// MaxUploadBytes 上传文件的大小上限
	MaxUploadBytes = 20 << 20
)

var ErrFileTooLarge = errors.New("audio file too large")

// PCMDuration 返回一段 PCM 数据对应的时长
func PCMDuration(n int) time.Duration {
	bytesPerSecond := SampleRate * Channels * BytesPerSample
	return time.Duration(n) * time.Second / time.Duration(bytesPerSecond)
}

// PCMBytes 返回指定时长对应的 PCM 字节数
func PCMBytes(d time.Duration) int {
	return int(d * SampleRate * Channels * BytesPerSample / time.Second)
}

// Buffer 收集实时录音的 PCM 分片，线程安全
type Buffer struct {
	mu     sync.Mutex
	chunks [][]byte
	size   int
}

// Append 追加一段 PCM 分片
func (b *Buffer) Append(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	c := make([]byte, len(chunk))
	copy(c, chunk)

	b.mu.Lock()
	b.chunks = append(b.chunks, c)
	b.size += len(c)
	b.mu.Unlock()
}

// Len 当前缓存的字节数
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Drain 合并所有分片并清空缓冲区
func (b *Buffer) Drain() []byte {
	b.mu.Lock()
	chunks, size := b.chunks, b.size
	b.chunks, b.size = nil, 0
	b.mu.Unlock()

	out := make([]byte, 0, size)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

// Reset 丢弃已缓存的数据
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.chunks, b.size = nil, 0
	b.mu.Unlock()
}

// WAV 给 16kHz 单声道 PCM 加上 44 字节的 RIFF 头
func WAV(pcm []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))

	byteRate := SampleRate * Channels * BytesPerSample
	blockAlign := Channels * BytesPerSample

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(Channels))
	binary.Write(&buf, binary.LittleEndian, uint32(SampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(BytesPerSample*8))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// Tags 音频文件自带的标签
type Tags struct {
	Title  string
	Artist string
	Album  string
}

// File 用户上传的音频文件
type File struct {
	Path   string
	Data   []byte
	Format string // 小写扩展名，例如 mp3、wav、flac
	Tags   Tags
}

// OpenFile 读取上传的音频文件并尽量解析其中的标签
func OpenFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat audio file: %w", err)
	}
	if info.Size() > MaxUploadBytes {
		return nil, fmt.Errorf("%s is %d bytes: %w", path, info.Size(), ErrFileTooLarge)
	}

	file := &File{
		Path:   path,
		Format: strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
	}

	// 没有标签不算错误
	if m, err := tag.ReadFrom(f); err == nil {
		file.Tags = Tags{
			Title:  strings.TrimSpace(m.Title()),
			Artist: strings.TrimSpace(m.Artist()),
			Album:  strings.TrimSpace(m.Album()),
		}
		if file.Format == "" {
			file.Format = strings.ToLower(string(m.FileType()))
		}
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind audio file: %w", err)
	}
	if file.Data, err = io.ReadAll(f); err != nil {
		return nil, fmt.Errorf("failed to read audio file: %w", err)
	}

	return file, nil
}

// HasTags 标题和演唱者都存在
func (f *File) HasTags() bool {
	return f.Tags.Title != "" && f.Tags.Artist != ""
}
