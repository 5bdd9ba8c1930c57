package thread

import "strings"

// chunkLength leaves headroom under the platform's 2000-char ceiling for the
// zero-width pads and reopened code fences chunking may add.
const chunkLength = 1990

const codeFence = "```"

// Discord strips leading and trailing whitespace from messages; a zero-width
// space keeps intentional blank lines intact across chunk boundaries.
const zeroWidthSpace = "​"

// chunkLines splits s into chunks of at most maxLen characters, preferring
// to break at the last newline inside the window. A single overlong line is
// split mid-line.
func chunkLines(s string, maxLen int) []string {
	if len(s) <= maxLen {
		return []string{s}
	}
	var chunks []string
	for len(s) > 0 {
		if len(s) <= maxLen {
			chunks = append(chunks, s)
			break
		}
		window := s[:maxLen]
		cut := strings.LastIndexByte(window, '\n')
		if cut == -1 {
			chunks = append(chunks, window)
			s = s[maxLen:]
		} else {
			chunks = append(chunks, s[:cut])
			s = s[cut+1:]
		}
	}
	return chunks
}

// chunkMessage splits a message for sending, carrying open code fences
// across chunk boundaries so each chunk renders correctly on its own.
func chunkMessage(s string) []string {
	chunks := chunkLines(s, chunkLength)
	openFence := false
	for i, chunk := range chunks {
		if strings.HasPrefix(chunk, "\n") {
			chunk = zeroWidthSpace + chunk
		}
		if strings.HasSuffix(chunk, "\n") {
			chunk += zeroWidthSpace
		}
		if openFence {
			openFence = false
			chunk = codeFence + chunk
		}
		if strings.Count(chunk, codeFence)%2 != 0 {
			chunk += codeFence
			openFence = true
		}
		chunks[i] = chunk
	}
	return chunks
}
