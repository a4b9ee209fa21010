package summarize

import (
	"fmt"

	"github.com/user/ticketdigest/internal/types"
)

// ChunkText splits body into windows of size runes, each overlapping the
// previous one by overlap runes. The result is deterministic and covers
// body exactly; an empty body yields no chunks.
func ChunkText(ticketID int, body string, size, overlap int) ([]types.Chunk, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}

	runes := []rune(body)
	if len(runes) == 0 {
		return nil, nil
	}

	var out []types.Chunk
	for start := 0; ; {
		end := min(start+size, len(runes))
		out = append(out, types.Chunk{
			Text:     string(runes[start:end]),
			TicketID: ticketID,
			Seq:      len(out),
			Start:    start,
			End:      end,
		})
		if end == len(runes) {
			return out, nil
		}
		start = end - overlap
	}
}

// Reassemble joins chunks produced by ChunkText back into the original
// text by dropping each chunk's overlap with its predecessor.
func Reassemble(chunks []types.Chunk) string {
	var out []rune
	end := 0
	for _, c := range chunks {
		runes := []rune(c.Text)
		skip := end - c.Start
		if skip < 0 {
			skip = 0
		}
		if skip < len(runes) {
			out = append(out, runes[skip:]...)
		}
		end = c.End
	}
	return string(out)
}
