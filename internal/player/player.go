package player

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ErrNoPlayer 没有正在运行的 MPRIS 播放器
var ErrNoPlayer = errors.New("no music playing")

const metadataFormat = "{{artist}}\t{{title}}\t{{mpris:length}}"

// Track 桌面播放器当前播放的曲目
type Track struct {
	Title    string
	Artist   string
	Length   float64 // 秒，未知时为 0
	Position float64 // 秒
}

func (t Track) String() string {
	if t.Artist == "" {
		return t.Title
	}
	return t.Artist + " - " + t.Title
}

var run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// CurrentTrack 通过 playerctl 获取当前曲目
func CurrentTrack(ctx context.Context) (Track, error) {
	output, err := run(ctx, "playerctl", "metadata", "--format", metadataFormat)
	if err != nil {
		return Track{}, fmt.Errorf("playerctl metadata: %w", ErrNoPlayer)
	}

	track, err := parseMetadata(string(output))
	if err != nil {
		return Track{}, err
	}
	track.Position = CurrentPosition(ctx)
	return track, nil
}

// CurrentPosition 当前播放进度（秒），获取失败时返回 0
func CurrentPosition(ctx context.Context) float64 {
	out, err := run(ctx, "playerctl", "position")
	if err != nil {
		return 0
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0
	}
	return seconds
}

func parseMetadata(output string) (Track, error) {
	fields := strings.Split(strings.TrimRight(output, "\r\n"), "\t")
	if len(fields) < 2 || strings.TrimSpace(fields[1]) == "" {
		return Track{}, ErrNoPlayer
	}

	track := Track{
		Artist: strings.TrimSpace(fields[0]),
		Title:  strings.TrimSpace(fields[1]),
	}
	if len(fields) > 2 {
		// mpris:length 单位是微秒
		if us, err := strconv.ParseInt(strings.TrimSpace(fields[2]), 10, 64); err == nil && us > 0 {
			track.Length = float64(us) / 1e6
		}
	}
	return track, nil
}
