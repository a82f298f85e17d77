package modes

import (
	"context"

	"github.com/fyrsmithlabs/loremaster/internal/generation"
	"github.com/fyrsmithlabs/loremaster/internal/lore"
	"github.com/fyrsmithlabs/loremaster/internal/rag"
	"github.com/fyrsmithlabs/loremaster/internal/session"
	"go.uber.org/zap"
)

// WorldArchitect generates world material and optionally imports it into
// the catalog.
type WorldArchitect struct{ base }

func (*WorldArchitect) Mode() session.Mode { return session.ModeWorldArchitect }

func (h *WorldArchitect) Handle(ctx context.Context, st *session.State, in Input) (Result, error) {
	requirements := in.String("requirements")
	if requirements == "" {
		return Result{"error": "Please provide requirements for world generation."}, nil
	}

	var existing string
	if u := h.entity(lore.KindUniverse, st.ActiveUniverseID); u != nil {
		if chunks := rag.Compose(u); len(chunks) > 0 {
			existing = chunks[0].Text
		}
	} else if st.ActiveUniverseID != "" {
		existing = "Universe ID: " + st.ActiveUniverseID
	}

	req, err := generation.WorldArchitectPrompt(requirements, existing)
	raw, err := h.generate(ctx, req, err)
	if err != nil {
		return nil, err
	}

	generated := generation.Decode[map[string]any](raw)
	if !generated.OK {
		return Result{"error": "Failed to parse world generation response"}, nil
	}
	out := Result(generated.Parsed)

	if in.Bool("import") && h.Catalog != nil {
		world := generation.Decode[lore.World](raw)
		if !world.OK {
			out["import_error"] = "generated world does not match the catalog schema"
			return out, nil
		}
		imported, err := h.Catalog.ImportWorld(ctx, world.Parsed, st.ActiveUniverseID)
		if err != nil {
			h.Logger.Warn("importing generated world failed", zap.Error(err))
			out["import_error"] = err.Error()
			return out, nil
		}
		if ids := imported[lore.KindUniverse]; len(ids) > 0 {
			st.ActiveUniverseID = ids[0]
		}
		if ids := imported[lore.KindCampaign]; len(ids) > 0 {
			st.ActiveCampaignID = ids[0]
		}
		out["imported"] = imported
	}
	return out, nil
}
