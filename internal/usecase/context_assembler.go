package usecase

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/zeroatsteel/zero-agent/internal/domain"
)

// RagContextTopK is how many retrieved chunks are attached in steel mode.
const RagContextTopK = 3

// ContextAssembler builds the opening conversation of a run from prior
// history, attached files and, in steel mode, retrieved chunks.
type ContextAssembler struct {
	Files    domain.FileRepository
	Embedder domain.Embedder
	Vectors  domain.VectorStore
	// FileLimit caps the characters of attached file text.
	FileLimit int
}

// AssembleInput names what a run starts from.
type AssembleInput struct {
	Text    string
	History []domain.Message
	FileIDs []string
	Mode    string
}

// DecodeHistory decodes a base64 JSON message array. Malformed input yields nil.
func DecodeHistory(blob string) []domain.Message {
	blob = strings.TrimSpace(blob)
	if blob == "" {
		return nil
	}
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		if raw, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(blob, "=")); err != nil {
			return nil
		}
	}
	var msgs []domain.Message
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil
	}
	return msgs
}

// SplitIDs parses a comma separated id list, dropping blanks.
func SplitIDs(raw string) []string {
	var out []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// Assemble returns history, then one context message when there is any
// context, then the user's text. It never fails: unreadable files and
// retrieval errors only drop the corresponding context.
func (a ContextAssembler) Assemble(ctx context.Context, in AssembleInput) []domain.Message {
	msgs := make([]domain.Message, 0, len(in.History)+2)
	msgs = append(msgs, in.History...)

	var blocks []domain.ContentBlock
	fileText, images := a.fileContext(ctx, in.FileIDs)
	if fileText != "" {
		blocks = append(blocks, domain.ContentBlock{Type: domain.BlockText, Text: "Attached files context:\n" + fileText})
	}
	blocks = append(blocks, images...)
	if in.Mode == domain.ModeSteel {
		if rag := a.ragContext(ctx, in.Text); rag != "" {
			blocks = append(blocks, domain.ContentBlock{Type: domain.BlockText, Text: "RAG context:\n" + rag})
		}
	}
	if len(blocks) > 0 {
		msgs = append(msgs, domain.Message{Role: domain.RoleUserMsg, Content: blocks})
	}
	return append(msgs, domain.TextMessage(domain.RoleUserMsg, in.Text))
}

// fileContext concatenates text files in request order while they fit the
// budget. A file that would overflow is skipped; a later, smaller one may still fit.
func (a ContextAssembler) fileContext(ctx context.Context, ids []string) (string, []domain.ContentBlock) {
	if a.Files == nil || len(ids) == 0 {
		return "", nil
	}
	limit := max(1000, a.FileLimit)
	var (
		acc    strings.Builder
		used   int
		images []domain.ContentBlock
	)
	for _, id := range ids {
		f, err := a.Files.Get(ctx, id)
		if err != nil {
			slog.DebugContext(ctx, "attached file skipped", slog.String("file_id", id), slog.Any("error", err))
			continue
		}
		switch {
		case f.Type == domain.FileTypeImage && f.Data != "" && f.MIME != "":
			images = append(images, domain.ImageBlock(f.MIME, f.Data))
		case f.Text != "":
			chunk := "\n\n[" + f.Name + "]\n" + f.Text
			if n := utf8.RuneCountInString(chunk); used+n <= limit {
				acc.WriteString(chunk)
				used += n
			}
		}
	}
	return acc.String(), images
}

func (a ContextAssembler) ragContext(ctx context.Context, query string) string {
	if a.Embedder == nil || a.Vectors == nil {
		return ""
	}
	vecs, err := a.Embedder.Embed(ctx, []string{query})
	if err != nil || len(vecs) == 0 {
		slog.DebugContext(ctx, "rag context omitted", slog.Any("error", err))
		return ""
	}
	matches, err := a.Vectors.Search(ctx, vecs[0], RagContextTopK)
	if err != nil {
		slog.DebugContext(ctx, "rag context omitted", slog.Any("error", err))
		return ""
	}
	var sb strings.Builder
	for _, m := range matches {
		sb.WriteString("\n\n[" + m.Title + "]\n" + m.Text)
	}
	return sb.String()
}
