package lyrics

import (
	"bufio"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

type Line struct {
	Time float64
	Text string
}

var (
	lrcLineRe = regexp.MustCompile(`\[(\d{1,3}):(\d{2})(?:[.:](\d{1,3}))?\]`)
	lrcTagRe  = regexp.MustCompile(`^\[[a-zA-Z]+:[^\]]*\]$`)
)

// ParseLRC 解析带时间戳的LRC歌词，一行多个时间戳时展开为多行，按时间排序
func ParseLRC(lrc string) []Line {
	scanner := bufio.NewScanner(strings.NewReader(lrc))
	var result []Line

	for scanner.Scan() {
		line := scanner.Text()
		stamps := lrcLineRe.FindAllStringSubmatchIndex(line, -1)
		if len(stamps) == 0 || stamps[0][0] != 0 {
			continue
		}

		// 时间戳都在行首，最后一个之后是歌词
		end := 0
		var times []float64
		for _, loc := range stamps {
			if loc[0] != end {
				break
			}
			times = append(times, stampSeconds(line, loc))
			end = loc[1]
		}
		text := strings.TrimSpace(line[end:])
		for _, t := range times {
			result = append(result, Line{Time: t, Text: text})
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].Time < result[j].Time })
	return result
}

func stampSeconds(line string, loc []int) float64 {
	min, _ := strconv.Atoi(line[loc[2]:loc[3]])
	sec, _ := strconv.Atoi(line[loc[4]:loc[5]])
	ms := 0
	if loc[6] >= 0 {
		msStr := line[loc[6]:loc[7]]
		ms, _ = strconv.Atoi(msStr)
		// 根据毫秒字符串的长度来正确处理毫秒值
		switch len(msStr) {
		case 1:
			ms *= 100
		case 2:
			ms *= 10
		}
	}
	return float64(min*60+sec) + float64(ms)/1000
}

// PlainText 把LRC歌词转为纯文本（每行一句，去掉空行和元数据标签）。
// 没有时间戳的文本原样返回（仅去掉元数据标签）
func PlainText(raw string) string {
	if lines := ParseLRC(raw); len(lines) > 0 {
		texts := make([]string, 0, len(lines))
		for _, l := range lines {
			if l.Text != "" {
				texts = append(texts, l.Text)
			}
		}
		return strings.Join(texts, "\n")
	}

	var kept []string
	for _, line := range strings.Split(raw, "\n") {
		if lrcTagRe.MatchString(strings.TrimSpace(line)) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}
