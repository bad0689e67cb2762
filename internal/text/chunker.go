package text

import (
	"fmt"
	"regexp"
	"strings"
)

// Chunk is a bounded substring of a source document. Adjacent chunks share
// an overlap region so retrieval keeps cross-boundary context.
type Chunk struct {
	ID       string
	Content  string
	Metadata ChunkMetadata
}

type ChunkMetadata struct {
	SourceID        string
	SourceName      string
	ChunkIndex      int
	StartChar       int
	EndChar         int
	EstimatedTokens int
}

type Options struct {
	MaxChunkSize int
	OverlapSize  int
	Separator    string
}

func DefaultOptions() Options {
	return Options{
		MaxChunkSize: 1000,
		OverlapSize:  200,
		Separator:    "\n\n",
	}
}

var (
	spaceRunRe   = regexp.MustCompile(`[ \t]+`)
	newlineRunRe = regexp.MustCompile(`\n{2,}`)
)

// Normalize collapses CR/LF variants and runs of spaces/tabs. Paragraph
// breaks (two or more newlines) are preserved as exactly one blank line so
// the separator survives normalization.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = spaceRunRe.ReplaceAllString(text, " ")
	text = strings.ReplaceAll(text, " \n", "\n")
	text = strings.ReplaceAll(text, "\n ", "\n")
	text = newlineRunRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// ChunkText splits text into overlapping chunks with position metadata.
// Chunk IDs are deterministic ("<sourceID>-chunk-<index>") so re-running the
// pipeline over the same source yields identical identities and upserts
// stay idempotent. Blank input yields an empty slice.
//
// A single segment longer than MaxChunkSize is never split further; the
// chunk simply exceeds the limit.
func ChunkText(text, sourceID, sourceName string, opts Options) []Chunk {
	def := DefaultOptions()
	if opts.MaxChunkSize <= 0 {
		opts.MaxChunkSize = def.MaxChunkSize
	}
	if opts.OverlapSize <= 0 {
		opts.OverlapSize = def.OverlapSize
	}
	if opts.Separator == "" {
		opts.Separator = def.Separator
	}

	clean := Normalize(text)
	if clean == "" {
		return nil
	}

	if len(clean) <= opts.MaxChunkSize {
		return []Chunk{makeChunk(clean, sourceID, sourceName, 0, 0)}
	}

	segments := strings.Split(clean, opts.Separator)

	var chunks []Chunk
	var buf strings.Builder
	chunkIndex := 0
	startChar := 0 // offset of the current buffer in clean
	cursor := 0    // scan position for segment offsets

	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}

		segStart := strings.Index(clean[cursor:], seg) + cursor
		cursor = segStart + len(seg)

		if buf.Len()+len(seg)+len(opts.Separator) > opts.MaxChunkSize {
			if strings.TrimSpace(buf.String()) != "" {
				chunks = append(chunks, makeChunk(buf.String(), sourceID, sourceName, chunkIndex, startChar))
				chunkIndex++
			}

			// Seed the next buffer with an overlap suffix of the flushed one.
			overlap := overlapSuffix(buf.String(), opts.OverlapSize)
			buf.Reset()
			if overlap != "" {
				buf.WriteString(overlap)
				buf.WriteString(opts.Separator)
			}
			buf.WriteString(seg)
			startChar = segStart - buf.Len() + len(seg)
			if startChar < 0 {
				startChar = 0
			}
		} else {
			if buf.Len() > 0 {
				buf.WriteString(opts.Separator)
			} else {
				startChar = segStart
			}
			buf.WriteString(seg)
		}
	}

	if strings.TrimSpace(buf.String()) != "" {
		chunks = append(chunks, makeChunk(buf.String(), sourceID, sourceName, chunkIndex, startChar))
	}

	return chunks
}

// overlapSuffix returns up to overlapSize trailing characters of text,
// cut at the nearest preceding word boundary when one exists within 50
// characters of the target cut point.
func overlapSuffix(text string, overlapSize int) string {
	if len(text) <= overlapSize {
		return text
	}

	target := len(text) - overlapSize
	window := target + 50
	if window > len(text) {
		window = len(text)
	}
	if sp := strings.IndexByte(text[target:window], ' '); sp >= 0 {
		return text[target+sp+1:]
	}
	return text[target:]
}

// MergeOverlappingChunks is a defensive post-pass against pathological
// separator placement. Adjacent chunks whose shared suffix/prefix exceeds
// 30% of the shorter chunk's length are merged, dropping the duplicated
// region. Indices and IDs are reassigned so they stay contiguous.
func MergeOverlappingChunks(chunks []Chunk) []Chunk {
	if len(chunks) <= 1 {
		return chunks
	}

	var merged []Chunk
	current := chunks[0]

	for _, next := range chunks[1:] {
		overlap := longestOverlap(current.Content, next.Content)

		shorter := len(current.Content)
		if len(next.Content) < shorter {
			shorter = len(next.Content)
		}

		if len(overlap) > shorter*3/10 {
			content := current.Content + "\n\n" + next.Content[len(overlap):]
			current.Content = content
			current.Metadata.EndChar = next.Metadata.EndChar
			current.Metadata.EstimatedTokens = estimateTokens(content)
			continue
		}

		merged = append(merged, current)
		current = next
	}
	merged = append(merged, current)

	for i := range merged {
		merged[i].Metadata.ChunkIndex = i
		merged[i].ID = chunkID(merged[i].Metadata.SourceID, i)
	}
	return merged
}

// longestOverlap finds the longest suffix of a that is also a prefix of b.
func longestOverlap(a, b string) string {
	max := len(a)
	if len(b) < max {
		max = len(b)
	}
	for i := max; i > 0; i-- {
		if a[len(a)-i:] == b[:i] {
			return a[len(a)-i:]
		}
	}
	return ""
}

func makeChunk(content, sourceID, sourceName string, index, startChar int) Chunk {
	content = strings.TrimSpace(content)
	return Chunk{
		ID:      chunkID(sourceID, index),
		Content: content,
		Metadata: ChunkMetadata{
			SourceID:        sourceID,
			SourceName:      sourceName,
			ChunkIndex:      index,
			StartChar:       startChar,
			EndChar:         startChar + len(content),
			EstimatedTokens: estimateTokens(content),
		},
	}
}

func chunkID(sourceID string, index int) string {
	return fmt.Sprintf("%s-chunk-%d", sourceID, index)
}

func estimateTokens(content string) int {
	return (len(content) + 3) / 4
}
