package features

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// speakerLine matches "speaker: text" with a short speaker label.
var speakerLine = regexp.MustCompile(`^\s*([^:：\s][^:：]{0,19}?)\s*[:：]\s*(.*)$`)

type utterance struct {
	speaker string
	text    string
}

// parseUtterances splits a transcript into non-empty lines. Lines without a
// speaker label continue the previous speaker.
func parseUtterances(transcript string) []utterance {
	var out []utterance
	current := ""
	for _, line := range strings.Split(transcript, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := speakerLine.FindStringSubmatch(line); m != nil {
			current = strings.TrimSpace(m[1])
			out = append(out, utterance{speaker: current, text: strings.TrimSpace(m[2])})
			continue
		}
		out = append(out, utterance{speaker: current, text: line})
	}
	return out
}

type transcriptStats struct {
	turns      int
	utterances int
	speakers   int
	chars      int
}

func (s transcriptStats) avgUtteranceLength() float64 {
	if s.utterances == 0 {
		return 0
	}
	return float64(s.chars) / float64(s.utterances)
}

func statsOf(utterances []utterance) transcriptStats {
	stats := transcriptStats{utterances: len(utterances)}
	speakers := make(map[string]struct{})
	prev := ""
	for i, u := range utterances {
		stats.chars += utf8.RuneCountInString(u.text)
		if u.speaker != "" {
			speakers[u.speaker] = struct{}{}
		}
		// A turn is a maximal run of lines by the same speaker.
		if i == 0 || u.speaker != prev {
			stats.turns++
		}
		prev = u.speaker
	}
	stats.speakers = len(speakers)
	return stats
}
