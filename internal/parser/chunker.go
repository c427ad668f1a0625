package parser

import (
	"strings"
	"unicode"

	"github.com/raphaelgruber/docbatch/internal/models"
)

// ChunkConfig defines chunking parameters, in bytes.
type ChunkConfig struct {
	Threshold  int // content at or below this size is a single chunk
	TargetSize int // preferred size when splitting by sentence
	MinSize    int // smaller sections merge into the previous chunk
	MaxSize    int // larger sections are split by paragraph, then sentence
	Overlap    int // trailing context carried into the next chunk
}

// DefaultChunkConfig returns the defaults.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		Threshold:  1500,
		TargetSize: 750,
		MinSize:    200,
		MaxSize:    1000,
		Overlap:    100,
	}
}

// Chunk splits a parsed document into ordered chunks. Section boundaries are
// preferred, then paragraphs, then sentences. Empty sections produce nothing.
func Chunk(doc *Document, cfg ChunkConfig) []models.Chunk {
	body := strings.TrimSpace(doc.Body)
	if body == "" {
		return nil
	}
	if len(body) <= cfg.Threshold {
		return []models.Chunk{{Content: body}}
	}

	var chunks []models.Chunk
	if len(doc.Sections) > 0 {
		chunks = bySections(doc.Sections, cfg)
	} else {
		chunks = toChunks(byParagraphs(body, cfg), "")
	}
	for i := range chunks {
		chunks[i].Position = i
	}
	return withOverlap(chunks, cfg.Overlap)
}

func bySections(sections []Section, cfg ChunkConfig) []models.Chunk {
	var chunks []models.Chunk
	for _, s := range sections {
		content := strings.TrimSpace(s.Content)
		if content == "" {
			continue
		}
		if len(content) > cfg.MaxSize {
			chunks = append(chunks, toChunks(byParagraphs(content, cfg), s.Path)...)
			continue
		}
		if len(content) < cfg.MinSize && len(chunks) > 0 {
			last := &chunks[len(chunks)-1]
			last.Content += "\n\n" + content
			continue
		}
		chunks = append(chunks, models.Chunk{Content: content, HeadingPath: s.Path})
	}
	return chunks
}

func toChunks(texts []string, path string) []models.Chunk {
	out := make([]models.Chunk, 0, len(texts))
	for _, t := range texts {
		out = append(out, models.Chunk{Content: t, HeadingPath: path})
	}
	return out
}

// byParagraphs packs paragraphs up to MaxSize; an oversized paragraph is split by sentence.
func byParagraphs(content string, cfg ChunkConfig) []string {
	var (
		out []string
		buf strings.Builder
	)
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, strings.TrimSpace(buf.String()))
			buf.Reset()
		}
	}

	for _, para := range strings.Split(content, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len(para) > cfg.MaxSize {
			flush()
			out = append(out, bySentences(para, cfg.TargetSize)...)
			continue
		}
		if buf.Len() > 0 && buf.Len()+len(para)+2 > cfg.MaxSize {
			flush()
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(para)
	}
	flush()
	return out
}

func bySentences(text string, target int) []string {
	var (
		out []string
		buf strings.Builder
	)
	for _, s := range sentences(text) {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if buf.Len() > 0 && buf.Len()+len(s)+1 > target {
			out = append(out, buf.String())
			buf.Reset()
		}
		if buf.Len() > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(s)
	}
	if buf.Len() > 0 {
		out = append(out, buf.String())
	}
	return out
}

// sentences splits after '.', '!' or '?' followed by whitespace. A period
// right after a single capital letter ("J. Doe") does not end a sentence.
func sentences(text string) []string {
	var (
		out []string
		buf strings.Builder
	)
	runes := []rune(text)
	for i, r := range runes {
		buf.WriteRune(r)
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if r == '.' && isInitial(runes, i) {
			continue
		}
		out = append(out, buf.String())
		buf.Reset()
	}
	if buf.Len() > 0 {
		out = append(out, buf.String())
	}
	return out
}

func isInitial(runes []rune, dot int) bool {
	if dot < 1 || !unicode.IsUpper(runes[dot-1]) {
		return false
	}
	return dot == 1 || !unicode.IsLetter(runes[dot-2])
}

// withOverlap prefixes each chunk with the tail of the previous one, cut at a
// sentence boundary when possible and otherwise at a word boundary.
func withOverlap(chunks []models.Chunk, overlap int) []models.Chunk {
	if overlap <= 0 || len(chunks) < 2 {
		return chunks
	}
	out := make([]models.Chunk, len(chunks))
	copy(out, chunks)
	for i := 1; i < len(out); i++ {
		prev := chunks[i-1].Content
		if len(prev) <= overlap {
			continue
		}
		if tail := overlapTail(prev, overlap); tail != "" {
			out[i].Content = tail + " " + out[i].Content
		}
	}
	return out
}

func overlapTail(prev string, overlap int) string {
	tail := prev[len(prev)-overlap:]
	// Sentence boundary inside the window, excluding the final terminator.
	body := strings.TrimRight(tail, " \n.!?")
	if idx := strings.LastIndexAny(body, ".!?"); idx >= 0 && idx+1 < len(tail) {
		return strings.TrimSpace(tail[idx+1:])
	}
	if idx := strings.IndexAny(tail, " \n"); idx >= 0 {
		return strings.TrimSpace(tail[idx+1:])
	}
	return ""
}
