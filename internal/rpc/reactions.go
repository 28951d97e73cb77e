package rpc

import (
	"strings"

	"github.com/imrpcd/imrpcd/internal/model"
)

var namedReactions = map[string]model.ReactionKind{
	"love":     model.ReactionLove,
	"like":     model.ReactionLike,
	"dislike":  model.ReactionDislike,
	"laugh":    model.ReactionLaugh,
	"emphasis": model.ReactionEmphasis,
	"question": model.ReactionQuestion,
}

var reactionGlyph = map[model.ReactionKind]string{
	model.ReactionLove:     "❤️",
	model.ReactionLike:     "👍",
	model.ReactionDislike:  "👎",
	model.ReactionLaugh:    "😂",
	model.ReactionEmphasis: "‼️",
	model.ReactionQuestion: "❓",
}

// parseReaction maps a reactions.send "reaction" string to a named tapback
// kind, or treats it as a custom emoji pass-through when it names none.
func parseReaction(raw string) (model.ReactionKind, string) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if kind, ok := namedReactions[key]; ok {
		return kind, reactionGlyph[kind]
	}
	return model.ReactionCustom, raw
}
